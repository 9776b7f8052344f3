package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/admission/quota"
	"keywordlab/gatekeeper/pkg/admission/store"
	"keywordlab/gatekeeper/pkg/audit"
	"keywordlab/gatekeeper/pkg/cli"
	"keywordlab/gatekeeper/pkg/config"
	"keywordlab/gatekeeper/pkg/server"
	"keywordlab/gatekeeper/pkg/telemetry/health"
	"keywordlab/gatekeeper/pkg/telemetry/metrics"
	"keywordlab/gatekeeper/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission server",
	Long: `Start the admission server with the specified configuration.

The server answers admission decisions on POST /v1/admit and usage queries on
GET /v1/usage and GET /v1/usage/report, and exposes health and Prometheus
endpoints.

Examples:
  # Start with default config
  gatekeeper run

  # Start with custom config
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Override listen address
  gatekeeper run --listen 0.0.0.0:8080

  # Validate config without starting server
  gatekeeper run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := newLogger(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		if _, err := buildAdmission(cfg, store.NewMemoryStore(), hooks{}, logger); err != nil {
			return cli.NewConfigError("", err.Error())
		}
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	return serve(ctx, cfg, logger, func(format string, a ...any) {
		fmt.Fprintf(out, format, a...)
	})
}

// serve wires the full service from cfg and blocks until ctx is done or a
// component fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, report func(format string, a ...any)) error {
	st, err := openStore(ctx, cfg.Admission.Store, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer st.Close()
	report("✓ Counter store ready (%s)\n", cfg.Admission.Store.Backend)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tracer.Shutdown(sctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()
	if tracer.Enabled() {
		report("✓ Tracing to %s\n", cfg.Telemetry.Tracing.Endpoint)
	}

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	h := hooks{Observer: collector}
	alerts := quota.AlertSinks{collector}

	if cfg.Audit.Enabled {
		sink, err := openAuditSink(cfg.Audit)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer sink.Close()

		recorder := audit.NewAsyncRecorder(sink, audit.AsyncConfig{
			Buffer:       cfg.Audit.Buffer,
			WriteTimeout: cfg.Audit.WriteTimeout,
			OnDrop:       collector.AuditDropped,
		})
		defer recorder.Close()

		h.Recorder = recorder
		h.History = audit.AlertHistory{Sink: sink}
		alerts = append(alerts, recorder)

		events, alertTTL := cfg.Audit.Retention.Retention()
		scheduler := audit.NewScheduler(sink, audit.RetentionConfig{
			Schedule:       cfg.Audit.Retention.Schedule,
			EventRetention: events,
			AlertRetention: alertTTL,
		})
		if err := scheduler.Start(ctx); err != nil {
			return cli.NewConfigError("audit.retention.schedule", err.Error())
		}
		defer scheduler.Stop()

		report("✓ Audit log enabled (%s)\n", cfg.Audit.Backend)
	}
	h.Alerts = alerts

	stack, err := buildAdmission(cfg, st, h, logger)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	report("✓ Admission ready (%d operations)\n", len(cfg.Admission.Operations))

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("store", health.PingCheck(st))

	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		metricsHandler = collector.Handler()
	}

	srv, err := server.NewServer(&cfg.Server, server.Options{
		Guard:     stack.Guard,
		Usage:     stack.Tracker,
		Health:    checker,
		Metrics:   metricsHandler,
		Tracer:    tracer,
		Telemetry: cfg.Telemetry,
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Plans.Watch && cfg.Plans.File != "" {
		watcher, err := plan.NewWatcher(plan.WatcherConfig{
			Path:             cfg.Plans.File,
			DebounceInterval: cfg.Plans.DebounceInterval,
		}, stack.Holder, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		g.Go(func() error {
			defer watcher.Stop()
			return watcher.Watch(gctx)
		})
		report("✓ Watching plans file %s\n", cfg.Plans.File)
	}

	g.Go(func() error {
		return srv.Start(gctx)
	})

	report("✓ Listening on %s\n", cfg.Server.ListenAddress)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}

	logger.Info("gatekeeper stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gatekeeper v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("admission configured",
		"store", cfg.Admission.Store.Backend,
		"rules", len(cfg.Admission.Rules),
		"operations", len(cfg.Admission.Operations),
		"timeout", cfg.Admission.Timeout,
	)
	if cfg.Plans.File != "" {
		slog.Debug("plans file", "path", cfg.Plans.File, "watch", cfg.Plans.Watch)
	}
}
