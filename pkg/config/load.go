package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at path, applies defaults
// and validates the result. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default and fills remaining defaults.
// It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides named GATEKEEPER_SECTION_FIELD (for example
// GATEKEEPER_SERVER_LISTEN_ADDRESS). Environment variables take precedence
// over the file.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to cfg.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Admission overrides
	a := &cfg.Admission
	envString("ADMISSION_STORE_BACKEND", &a.Store.Backend)
	envDuration("ADMISSION_TIMEOUT", &a.Timeout)
	envString("ADMISSION_KEY_PREFIX", &a.KeyPrefix)
	if val := os.Getenv(EnvPrefix + "ADMISSION_STORE_REDIS_ADDRS"); val != "" {
		var addrs []string
		for _, addr := range strings.Split(val, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				addrs = append(addrs, addr)
			}
		}
		a.Store.Redis.Addrs = addrs
	}
	envString("ADMISSION_STORE_REDIS_USERNAME", &a.Store.Redis.Username)
	envString("ADMISSION_STORE_REDIS_PASSWORD", &a.Store.Redis.Password)
	envInt("ADMISSION_STORE_REDIS_DB", &a.Store.Redis.DB)
	envInt("ADMISSION_STORE_REDIS_POOL_SIZE", &a.Store.Redis.PoolSize)
	envString("ADMISSION_STORE_SQLITE_PATH", &a.Store.SQLite.Path)

	// Plans overrides
	envString("PLANS_FILE", &cfg.Plans.File)
	envBool("PLANS_WATCH", &cfg.Plans.Watch)
	envString("PLANS_DEFAULT_TIER", &cfg.Plans.DefaultTier)

	// Quota overrides
	envDuration("QUOTA_GRACE", &cfg.Quota.Grace)
	envFloat("QUOTA_WARNING_THRESHOLD", &cfg.Quota.WarningThreshold)
	envFloat("QUOTA_CRITICAL_THRESHOLD", &cfg.Quota.CriticalThreshold)

	// Audit overrides
	envBool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	envString("AUDIT_BACKEND", &cfg.Audit.Backend)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	envString("AUDIT_RETENTION_SCHEDULE", &cfg.Audit.Retention.Schedule)
	envInt("AUDIT_RETENTION_EVENT_DAYS", &cfg.Audit.Retention.EventDays)
	envInt("AUDIT_RETENTION_ALERT_DAYS", &cfg.Audit.Retention.AlertDays)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}
