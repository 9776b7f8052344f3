package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/plan"
)

const sampleConfig = `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: "5s"

admission:
  store:
    backend: redis
    redis:
      addrs: ["redis-0:6379", "redis-1:6379"]
  timeout: 75ms
  default_rule:
    window: 1m
    max_requests: 100
  rules:
    seeds.create:
      window: 1m
      max_requests: 10
    serp.fetch:
      - {window: 1m, max_requests: 5}
      - {window: 1h, max_requests: 60}
  operations:
    seeds.create:
      quotas: [daily_seeds]
    serp.fetch:
      quotas: [monthly_serp_calls, daily_serp_calls]
    keywords.import:
      endpoint: keywords
      rule: {window: 10s, max_requests: 2}
      quotas: [max_keywords]
      amount: 50

plans:
  default_tier: free
  plans:
    starter:
      daily_seeds: 150
  tenants:
    acme:
      tier: professional
      overrides:
        max_keywords: -1

audit:
  enabled: false

telemetry:
  logging:
    level: debug
    format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("Expected listen address 0.0.0.0:9090, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read timeout 5s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("Expected default write timeout, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Admission.Timeout != 75*time.Millisecond {
		t.Errorf("Expected timeout 75ms, got %v", cfg.Admission.Timeout)
	}
	if len(cfg.Admission.Store.Redis.Addrs) != 2 {
		t.Errorf("Expected 2 redis addrs, got %v", cfg.Admission.Store.Redis.Addrs)
	}
	if r := cfg.Admission.Rules["seeds.create"]; len(r) != 1 || r[0].MaxRequests != 10 {
		t.Errorf("Expected single seeds.create rule with max 10, got %+v", r)
	}
	if r := cfg.Admission.Rules["serp.fetch"]; len(r) != 2 || r[1].Window != time.Hour || r[1].MaxRequests != 60 {
		t.Errorf("Expected layered serp.fetch rules, got %+v", r)
	}
	if cfg.Plans.DefaultTier != "free" {
		t.Errorf("Expected inline default tier free, got %q", cfg.Plans.DefaultTier)
	}
	if cfg.Audit.Enabled {
		t.Error("Expected audit disabled by file")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics enabled by default")
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "server: [unclosed")); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	_, err := LoadConfig(writeConfig(t, "admission:\n  store:\n    backend: etcd\n"))
	if !errors.Is(err, admission.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	t.Setenv("GATEKEEPER_SERVER_LISTEN_ADDRESS", "127.0.0.1:7070")
	t.Setenv("GATEKEEPER_ADMISSION_STORE_BACKEND", "sqlite")
	t.Setenv("GATEKEEPER_ADMISSION_STORE_REDIS_ADDRS", "a:6379, b:6379,,c:6379")
	t.Setenv("GATEKEEPER_ADMISSION_TIMEOUT", "20ms")
	t.Setenv("GATEKEEPER_AUDIT_ENABLED", "true")
	t.Setenv("GATEKEEPER_QUOTA_WARNING_THRESHOLD", "0.5")
	t.Setenv("GATEKEEPER_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("GATEKEEPER_SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7070" {
		t.Errorf("Expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Admission.Store.Backend != "sqlite" {
		t.Errorf("Expected sqlite backend, got %q", cfg.Admission.Store.Backend)
	}
	if got := strings.Join(cfg.Admission.Store.Redis.Addrs, ","); got != "a:6379,b:6379,c:6379" {
		t.Errorf("Expected trimmed addrs, got %q", got)
	}
	if cfg.Admission.Timeout != 20*time.Millisecond {
		t.Errorf("Expected 20ms timeout, got %v", cfg.Admission.Timeout)
	}
	if !cfg.Audit.Enabled {
		t.Error("Expected audit enabled by env")
	}
	if cfg.Quota.WarningThreshold != 0.5 {
		t.Errorf("Expected warning threshold 0.5, got %v", cfg.Quota.WarningThreshold)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Expected level warn, got %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected unparsable override to be ignored, got %v", cfg.Server.ReadTimeout)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	if cfg.Admission.Store.Backend != "memory" {
		t.Errorf("Expected memory backend, got %q", cfg.Admission.Store.Backend)
	}
	if cfg.Admission.Timeout != 50*time.Millisecond {
		t.Errorf("Expected 50ms store timeout, got %v", cfg.Admission.Timeout)
	}
	if cfg.Admission.DefaultRule.MaxRequests != DefaultRuleMaxRequests {
		t.Errorf("Expected default rule max %d, got %d", DefaultRuleMaxRequests, cfg.Admission.DefaultRule.MaxRequests)
	}
	if cfg.Audit.Retention.Schedule != "0 3 * * *" || cfg.Audit.Retention.AlertDays != 30 {
		t.Errorf("Unexpected retention defaults %+v", cfg.Audit.Retention)
	}
	if !cfg.Audit.Enabled || !cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected audit and metrics enabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "8080" }, "server.listen_address"},
		{"unknown backend", func(c *Config) { c.Admission.Store.Backend = "etcd" }, "admission.store.backend"},
		{"redis without addrs", func(c *Config) {
			c.Admission.Store.Backend = "redis"
			c.Admission.Store.Redis.Addrs = nil
		}, "admission.store.redis.addrs"},
		{"zero timeout", func(c *Config) { c.Admission.Timeout = 0 }, "admission.timeout"},
		{"bad rule", func(c *Config) {
			c.Admission.Rules = map[string]RuleSet{"seeds.create": {{Window: time.Minute}}}
		}, "admission.rules.seeds.create"},
		{"duplicate rule window", func(c *Config) {
			c.Admission.Rules = map[string]RuleSet{"serp.fetch": {
				{Window: time.Minute, MaxRequests: 5},
				{Window: time.Minute, MaxRequests: 10},
			}}
		}, "admission.rules.serp.fetch"},
		{"unknown quota kind", func(c *Config) {
			c.Admission.Operations = map[string]OperationConfig{"x": {Quotas: []string{"daily_widgets"}}}
		}, "admission.operations.x"},
		{"duplicate quota", func(c *Config) {
			c.Admission.Operations = map[string]OperationConfig{"x": {Quotas: []string{"daily_seeds", "daily_seeds"}}}
		}, "admission.operations.x"},
		{"unknown tier", func(c *Config) {
			c.Plans.Tenants = map[string]plan.TenantSpec{"acme": {Tier: "platinum"}}
		}, "plans"},
		{"watch without file", func(c *Config) { c.Plans.Watch = true }, "plans.watch"},
		{"inverted thresholds", func(c *Config) { c.Quota.WarningThreshold = 0.99 }, "quota.warning_threshold"},
		{"bad schedule", func(c *Config) { c.Audit.Retention.Schedule = "every day" }, "audit.retention.schedule"},
		{"bad audit backend", func(c *Config) { c.Audit.Backend = "s3" }, "audit.backend"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "trace" }, "telemetry.logging.level"},
		{"bad sampler", func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" }, "telemetry.tracing.sampler"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error on %s, got %v", tt.field, verr.Errors)
			}
			if !errors.Is(err, admission.ErrConfigInvalid) {
				t.Error("Expected ValidationError to match ErrConfigInvalid")
			}
		})
	}
}

func TestValidate_DisabledAuditSkipsChecks(t *testing.T) {
	cfg := Default()
	cfg.Audit.Enabled = false
	cfg.Audit.Backend = "s3"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected disabled audit to skip validation, got %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if single.Error() != "configuration validation failed: a: bad" {
		t.Errorf("Unexpected message %q", single.Error())
	}

	multi := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if !strings.Contains(multi.Error(), "2 errors") {
		t.Errorf("Expected error count in message, got %q", multi.Error())
	}
}
