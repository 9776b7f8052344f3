package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"keywordlab/gatekeeper/pkg/admission/plan"
)

// Config is the root configuration structure for the gatekeeper service.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Admission contains the counter store, rate rules and the operation
	// table used by the guard.
	Admission AdmissionConfig `yaml:"admission"`

	// Plans contains the plan catalog overlay and tenant subscriptions.
	Plans PlansConfig `yaml:"plans"`

	// Quota contains quota tracker settings.
	Quota QuotaConfig `yaml:"quota"`

	// Audit contains the decision log configuration.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains logging, metrics and health configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// AdmissionConfig contains configuration for the rate limiter and guard.
type AdmissionConfig struct {
	// Store selects and configures the shared counter store.
	Store StoreConfig `yaml:"store"`

	// Timeout bounds every store round trip. A timeout fails open.
	// Default: 50ms
	Timeout time.Duration `yaml:"timeout"`

	// KeyPrefix namespaces store keys.
	// Default: "gk"
	KeyPrefix string `yaml:"key_prefix"`

	// DefaultRule applies to endpoints without a rule.
	// Default: 100 requests per minute
	DefaultRule RuleConfig `yaml:"default_rule"`

	// Rules maps endpoint names to rate rules. An endpoint may list several
	// windows, all of which must have room for a request to pass.
	Rules map[string]RuleSet `yaml:"rules"`

	// Operations maps operation names to the checks the guard runs.
	Operations map[string]OperationConfig `yaml:"operations"`
}

// StoreConfig selects the counter store backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteStoreConfig `yaml:"sqlite"`
}

// RedisConfig contains Redis connection settings. More than one address
// selects a cluster client.
type RedisConfig struct {
	// Addrs lists host:port pairs.
	// Default: ["127.0.0.1:6379"]
	Addrs []string `yaml:"addrs"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// DialTimeout, ReadTimeout and WriteTimeout are client-level socket
	// timeouts. Defaults: 250ms, 100ms, 100ms
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PoolSize is the connection pool size. 0 uses the client default.
	PoolSize int `yaml:"pool_size"`
}

// SQLiteStoreConfig contains settings for the single-node SQLite store.
type SQLiteStoreConfig struct {
	// Path is the database file.
	// Default: "data/counters.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long writers wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// SweepInterval is how often expired rows are removed.
	// Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RuleConfig is the YAML form of a rate rule.
type RuleConfig struct {
	// Window is the rolling window length.
	Window time.Duration `yaml:"window"`

	// MaxRequests is the number of requests allowed per window.
	MaxRequests int64 `yaml:"max_requests"`
}

// RuleSet is one rule or a list of layered rules. Both of these decode:
//
//	serp.fetch: {window: 1m, max_requests: 10}
//	serp.fetch:
//	  - {window: 1m, max_requests: 10}
//	  - {window: 1h, max_requests: 200}
type RuleSet []RuleConfig

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *RuleSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var rules []RuleConfig
		if err := value.Decode(&rules); err != nil {
			return err
		}
		*s = rules
		return nil
	}

	var rule RuleConfig
	if err := value.Decode(&rule); err != nil {
		return err
	}
	*s = RuleSet{rule}
	return nil
}

// OperationConfig is the YAML form of a guarded operation.
type OperationConfig struct {
	// Endpoint selects the rate rule. Default: the operation name.
	Endpoint string `yaml:"endpoint"`

	// Rule overrides the endpoint's rate rules.
	Rule RuleSet `yaml:"rule"`

	// Quotas lists quota kinds checked in order.
	Quotas []string `yaml:"quotas"`

	// Amount is the number of units consumed per call. Default: 1
	Amount int64 `yaml:"amount"`
}

// PlansConfig contains the plan catalog overlay and tenant subscriptions.
// The inline fields have the same shape as a plans file.
type PlansConfig struct {
	plan.FileSpec `yaml:",inline"`

	// File is an optional YAML plans file. When set it replaces the inline
	// plans and tenants.
	File string `yaml:"file"`

	// Watch reloads File on change.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval coalesces bursts of file events.
	// Default: 250ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// QuotaConfig contains quota tracker settings.
type QuotaConfig struct {
	// Grace keeps periodic counters past the end of their period.
	// Default: 24h
	Grace time.Duration `yaml:"grace"`

	// WarningThreshold is the usage fraction that raises a warning alert.
	// Default: 0.8
	WarningThreshold float64 `yaml:"warning_threshold"`

	// CriticalThreshold is the usage fraction that raises a critical alert.
	// Default: 0.95
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// AuditConfig contains the decision log configuration.
type AuditConfig struct {
	// Enabled turns on decision and alert recording.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite audit database.
	SQLite AuditSQLiteConfig `yaml:"sqlite"`

	// Buffer is the async queue capacity. Entries beyond it are dropped.
	// Default: 1000
	Buffer int `yaml:"buffer"`

	// WriteTimeout bounds each write to the sink.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Retention configures scheduled pruning.
	Retention RetentionConfig `yaml:"retention"`
}

// AuditSQLiteConfig contains settings for the audit database.
type AuditSQLiteConfig struct {
	// Path is the database file.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long writers wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig configures scheduled pruning of the audit log.
type RetentionConfig struct {
	// Schedule is a five-field cron expression. Empty disables pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// EventDays is how long decisions are kept. 0 keeps them forever.
	// Default: 30
	EventDays int `yaml:"event_days"`

	// AlertDays is how long quota alerts are kept. 0 keeps them forever.
	// Default: 30
	AlertDays int `yaml:"alert_days"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health endpoint configuration.
	Health HealthConfig `yaml:"health"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes metric names.
	// Default: "gatekeeper"
	Namespace string `yaml:"namespace"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness probe path.
	// Default: "/healthz"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/readyz"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each readiness check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler is the sampling strategy: "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled by the "ratio" sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service.name resource attribute.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`
}
