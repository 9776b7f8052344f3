package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"keywordlab/gatekeeper/pkg/admission/guard"
	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/admission/quota"
	"keywordlab/gatekeeper/pkg/admission/ratelimit"
	"keywordlab/gatekeeper/pkg/admission/store"
	"keywordlab/gatekeeper/pkg/audit"
	"keywordlab/gatekeeper/pkg/cli"
	"keywordlab/gatekeeper/pkg/config"
	"keywordlab/gatekeeper/pkg/telemetry/logging"
)

// loadConfig reads the file named by --config and applies environment
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	lc := logging.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		Writer:    w,
	}
	if verbose {
		lc.Level = "debug"
	}
	return logging.New(lc)
}

// openStore connects the configured counter store backend.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil

	case "redis":
		rs, err := store.NewRedisStore(store.RedisStoreConfig{
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		// Admission fails open, so an unreachable Redis must not stop startup.
		if err := rs.Load(ctx); err != nil {
			logger.Warn("failed to preload redis scripts", "addrs", cfg.Redis.Addrs, "error", err)
		}
		return rs, nil

	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStoreWithConfig(store.SQLiteStoreConfig{
			DBPath:        cfg.SQLite.Path,
			BusyTimeout:   cfg.SQLite.BusyTimeout,
			SweepInterval: cfg.SQLite.SweepInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openAuditSink opens the configured decision log backend.
func openAuditSink(cfg config.AuditConfig) (audit.Sink, error) {
	switch cfg.Backend {
	case "memory":
		return audit.NewMemorySink(), nil

	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		sink, err := audit.NewSQLiteSink(audit.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		return sink, nil

	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return nil
}

// hooks are the optional observers of the admission stack.
type hooks struct {
	Observer guard.Observer
	Recorder guard.Recorder
	Alerts   quota.AlertSink
	History  quota.AlertHistory
}

// admissionStack is the wired limiter, tracker and guard over one store.
type admissionStack struct {
	Holder  *plan.Holder
	Limiter *ratelimit.Limiter
	Tracker *quota.Tracker
	Guard   *guard.Guard
}

// buildAdmission wires the admission components from cfg on top of st.
func buildAdmission(cfg *config.Config, st store.Store, h hooks, logger *slog.Logger) (*admissionStack, error) {
	snap, err := cfg.Plans.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load plans: %w", err)
	}
	holder, err := plan.NewHolder(snap)
	if err != nil {
		return nil, fmt.Errorf("invalid plans: %w", err)
	}

	keys := store.NewKeys(cfg.Admission.KeyPrefix)

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:   st,
		Keys:    keys,
		Rules:   cfg.Admission.RateRules(),
		Default: cfg.Admission.DefaultRule.Rule(),
		Timeout: cfg.Admission.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	tracker, err := quota.NewTracker(quota.Config{
		Store:             st,
		Plans:             holder,
		Keys:              keys,
		Grace:             cfg.Quota.Grace,
		Timeout:           cfg.Admission.Timeout,
		WarningThreshold:  cfg.Quota.WarningThreshold,
		CriticalThreshold: cfg.Quota.CriticalThreshold,
		Alerts:            h.Alerts,
		AlertHistory:      h.History,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota tracker: %w", err)
	}

	operations, err := cfg.Admission.GuardOperations()
	if err != nil {
		return nil, fmt.Errorf("invalid operations: %w", err)
	}

	g, err := guard.New(guard.Config{
		Limiter:    limiter,
		Tracker:    tracker,
		Operations: operations,
		Observer:   h.Observer,
		Recorder:   h.Recorder,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create guard: %w", err)
	}

	return &admissionStack{
		Holder:  holder,
		Limiter: limiter,
		Tracker: tracker,
		Guard:   g,
	}, nil
}
