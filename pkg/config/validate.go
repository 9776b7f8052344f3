package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/plan"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Unwrap lets errors.Is match admission.ErrConfigInvalid.
func (e ValidationError) Unwrap() error {
	return admission.ErrConfigInvalid
}

// Validate validates the entire configuration and returns a ValidationError
// listing every failed rule, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateAdmission(&cfg.Admission)...)
	errs = append(errs, validatePlans(&cfg.Plans)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must be positive"})
	}

	return errs
}

func validateAdmission(cfg *AdmissionConfig) []FieldError {
	var errs []FieldError

	switch cfg.Store.Backend {
	case "memory":
	case "redis":
		if len(cfg.Store.Redis.Addrs) == 0 {
			errs = append(errs, FieldError{
				Field:   "admission.store.redis.addrs",
				Message: "at least one address is required for the redis backend",
			})
		}
		if cfg.Store.Redis.DB != 0 && len(cfg.Store.Redis.Addrs) > 1 {
			errs = append(errs, FieldError{
				Field:   "admission.store.redis.db",
				Message: "database selection is not supported by cluster clients",
			})
		}
	case "sqlite":
		if cfg.Store.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "admission.store.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "admission.store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'redis', or 'sqlite'", cfg.Store.Backend),
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "admission.timeout", Message: "must be positive"})
	}

	if err := cfg.DefaultRule.Rule().Validate(); err != nil {
		errs = append(errs, FieldError{Field: "admission.default_rule", Message: err.Error()})
	}
	for _, name := range sortedKeys(cfg.Rules) {
		if err := cfg.Rules[name].Validate(); err != nil {
			errs = append(errs, FieldError{Field: "admission.rules." + name, Message: err.Error()})
		}
	}

	for _, name := range sortedKeys(cfg.Operations) {
		if _, err := cfg.Operations[name].Operation(); err != nil {
			errs = append(errs, FieldError{Field: "admission.operations." + name, Message: err.Error()})
		}
	}

	return errs
}

func validatePlans(cfg *PlansConfig) []FieldError {
	var errs []FieldError

	if cfg.Watch && cfg.File == "" {
		errs = append(errs, FieldError{Field: "plans.watch", Message: "watch requires plans.file"})
	}
	if cfg.File != "" {
		// The file is validated when it is loaded.
		return errs
	}

	if _, err := cfg.FileSpec.Build(plan.DefaultCatalog()); err != nil {
		errs = append(errs, FieldError{Field: "plans", Message: err.Error()})
	}
	return errs
}

func validateQuota(cfg *QuotaConfig) []FieldError {
	var errs []FieldError

	if cfg.Grace < 0 {
		errs = append(errs, FieldError{Field: "quota.grace", Message: "must not be negative"})
	}
	if cfg.WarningThreshold <= 0 || cfg.CriticalThreshold > 1 || cfg.WarningThreshold >= cfg.CriticalThreshold {
		errs = append(errs, FieldError{
			Field: "quota.warning_threshold",
			Message: fmt.Sprintf("thresholds must satisfy 0 < warning < critical <= 1, got %.2f/%.2f",
				cfg.WarningThreshold, cfg.CriticalThreshold),
		})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.Buffer <= 0 {
		errs = append(errs, FieldError{Field: "audit.buffer", Message: "must be positive"})
	}
	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "audit.retention.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Retention.Schedule, err),
			})
		}
	}
	if cfg.Retention.EventDays < 0 {
		errs = append(errs, FieldError{Field: "audit.retention.event_days", Message: "must not be negative"})
	}
	if cfg.Retention.AlertDays < 0 {
		errs = append(errs, FieldError{Field: "audit.retention.alert_days", Message: "must not be negative"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: fmt.Sprintf("metrics path %q must start with '/'", cfg.Metrics.Path),
		})
	}

	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: fmt.Sprintf("sample ratio %v must be between 0.0 and 1.0", cfg.Tracing.SampleRatio),
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}

	return errs
}
