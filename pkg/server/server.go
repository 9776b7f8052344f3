package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/quota"
	"keywordlab/gatekeeper/pkg/config"
	"keywordlab/gatekeeper/pkg/middleware"
	"keywordlab/gatekeeper/pkg/telemetry/health"
	"keywordlab/gatekeeper/pkg/telemetry/tracing"
)

// Admitter makes admission decisions. *guard.Guard implements it.
type Admitter interface {
	AdmitAmount(ctx context.Context, caller admission.Caller, operation string, amount int64) admission.Verdict
}

// UsageReporter reads quota counters. *quota.Tracker implements it.
type UsageReporter interface {
	ReportUsage(ctx context.Context, tenantID string, kind admission.QuotaKind, at time.Time) (quota.Usage, error)
	UsageHistory(ctx context.Context, tenantID string, kind admission.QuotaKind, from, to time.Time) ([]quota.Usage, error)
	Report(ctx context.Context, tenantID string, from, to time.Time) (quota.Report, error)
}

// Options holds the components the server exposes.
type Options struct {
	// Guard serves POST /v1/admit. Required.
	Guard Admitter

	// Usage serves GET /v1/usage and GET /v1/usage/report. Required.
	Usage UsageReporter

	// Health serves the liveness and readiness probes. Optional.
	Health *health.Checker

	// Metrics serves the Prometheus endpoint. Optional.
	Metrics http.Handler

	// Tracer starts a span per request. Optional.
	Tracer *tracing.Tracer

	// Telemetry supplies the probe and metrics paths.
	Telemetry config.TelemetryConfig

	// Version, Commit and BuildTime are reported by GET /version.
	Version   string
	Commit    string
	BuildTime string

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Server is the gatekeeper HTTP server.
type Server struct {
	config       *config.ServerConfig
	opts         Options
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// NewServer creates a server. It does not start listening.
func NewServer(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if opts.Guard == nil {
		return nil, fmt.Errorf("server requires a guard")
	}
	if opts.Usage == nil {
		return nil, fmt.Errorf("server requires a usage reporter")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Server{
		config: cfg,
		opts:   opts,
	}, nil
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting gatekeeper server", "address", ln.Addr().String())

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		slog.Info("Initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("Gatekeeper server stopped")
	})

	return shutdownErr
}

// Handler returns the routed HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/admit", s.handleAdmit)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/usage/report", s.handleUsageReport)

	tel := s.opts.Telemetry
	if s.opts.Health != nil {
		mux.Handle(orDefault(tel.Health.LivenessPath, config.DefaultLivenessPath), s.opts.Health.LivenessHandler())
		mux.Handle(orDefault(tel.Health.ReadinessPath, config.DefaultReadinessPath), s.opts.Health.ReadinessHandler())
	}
	mux.Handle("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Metrics != nil {
		mux.Handle(orDefault(tel.Metrics.Path, config.DefaultMetricsPath), s.opts.Metrics)
	}

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(handler)
	if s.opts.Tracer != nil {
		handler = s.opts.Tracer.Middleware(handler)
	}
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the address the server is listening on, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
