package config

import (
	"time"

	"keywordlab/gatekeeper/pkg/admission/store"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Admission defaults
	DefaultStoreBackend       = "memory"
	DefaultAdmissionTimeout   = 50 * time.Millisecond
	DefaultRuleWindow         = time.Minute
	DefaultRuleMaxRequests    = 100
	DefaultRedisAddr          = "127.0.0.1:6379"
	DefaultRedisDialTimeout   = 250 * time.Millisecond
	DefaultRedisReadTimeout   = 100 * time.Millisecond
	DefaultRedisWriteTimeout  = 100 * time.Millisecond
	DefaultStoreSQLitePath    = "data/counters.db"
	DefaultStoreBusyTimeout   = 5 * time.Second
	DefaultStoreSweepInterval = time.Minute

	// Plans defaults
	DefaultPlansDebounce = 250 * time.Millisecond

	// Quota defaults
	DefaultQuotaGrace             = 24 * time.Hour
	DefaultQuotaWarningThreshold  = 0.8
	DefaultQuotaCriticalThreshold = 0.95

	// Audit defaults
	DefaultAuditEnabled        = true
	DefaultAuditBackend        = "sqlite"
	DefaultAuditSQLitePath     = "data/audit.db"
	DefaultAuditBusyTimeout    = 5 * time.Second
	DefaultAuditBuffer         = 1000
	DefaultAuditWriteTimeout   = 5 * time.Second
	DefaultAuditSchedule       = "0 3 * * *"
	DefaultAuditRetentionDays  = 30
	DefaultAuditAlertRetention = 30

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "gatekeeper"
	DefaultLivenessPath     = "/healthz"
	DefaultReadinessPath    = "/readyz"
	DefaultCheckTimeout     = 2 * time.Second
	DefaultTracingSampler   = "ratio"
	DefaultTracingRatio     = 0.1
	DefaultTracingTimeout   = 10 * time.Second
	DefaultServiceName      = "gatekeeper"
)

// Default returns a configuration with every default applied, including the
// boolean defaults that ApplyDefaults cannot distinguish from an explicit
// false. LoadConfig decodes YAML on top of it.
func Default() *Config {
	cfg := &Config{}
	cfg.Audit.Enabled = DefaultAuditEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Admission defaults
	a := &cfg.Admission
	if a.Store.Backend == "" {
		a.Store.Backend = DefaultStoreBackend
	}
	if a.Timeout == 0 {
		a.Timeout = DefaultAdmissionTimeout
	}
	if a.KeyPrefix == "" {
		a.KeyPrefix = store.DefaultPrefix
	}
	if a.DefaultRule.Window == 0 && a.DefaultRule.MaxRequests == 0 {
		a.DefaultRule = RuleConfig{Window: DefaultRuleWindow, MaxRequests: DefaultRuleMaxRequests}
	}

	r := &a.Store.Redis
	if len(r.Addrs) == 0 {
		r.Addrs = []string{DefaultRedisAddr}
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = DefaultRedisDialTimeout
	}
	if r.ReadTimeout == 0 {
		r.ReadTimeout = DefaultRedisReadTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultRedisWriteTimeout
	}

	s := &a.Store.SQLite
	if s.Path == "" {
		s.Path = DefaultStoreSQLitePath
	}
	if s.BusyTimeout == 0 {
		s.BusyTimeout = DefaultStoreBusyTimeout
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = DefaultStoreSweepInterval
	}

	// Plans defaults
	if cfg.Plans.DebounceInterval == 0 {
		cfg.Plans.DebounceInterval = DefaultPlansDebounce
	}

	// Quota defaults
	if cfg.Quota.Grace == 0 {
		cfg.Quota.Grace = DefaultQuotaGrace
	}
	if cfg.Quota.WarningThreshold == 0 {
		cfg.Quota.WarningThreshold = DefaultQuotaWarningThreshold
	}
	if cfg.Quota.CriticalThreshold == 0 {
		cfg.Quota.CriticalThreshold = DefaultQuotaCriticalThreshold
	}

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultAuditBusyTimeout
	}
	if cfg.Audit.Buffer == 0 {
		cfg.Audit.Buffer = DefaultAuditBuffer
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}
	if cfg.Audit.Retention.Schedule == "" {
		cfg.Audit.Retention.Schedule = DefaultAuditSchedule
	}
	if cfg.Audit.Retention.EventDays == 0 {
		cfg.Audit.Retention.EventDays = DefaultAuditRetentionDays
	}
	if cfg.Audit.Retention.AlertDays == 0 {
		cfg.Audit.Retention.AlertDays = DefaultAuditAlertRetention
	}

	// Telemetry defaults
	t := &cfg.Telemetry
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultCheckTimeout
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingRatio
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultServiceName
	}
}
