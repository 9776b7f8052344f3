package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention defaults.
const (
	DefaultSchedule  = "0 3 * * *"
	DefaultRetention = 30 * 24 * time.Hour
)

// RetentionConfig configures a Scheduler.
type RetentionConfig struct {
	// Schedule is a standard five-field cron expression. Empty disables
	// scheduled pruning.
	Schedule string

	// EventRetention and AlertRetention are how long entries are kept.
	// Zero keeps entries forever.
	EventRetention time.Duration
	AlertRetention time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Scheduler prunes old audit entries on a cron schedule.
type Scheduler struct {
	sink    Sink
	config  RetentionConfig
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	logger  *slog.Logger
}

// NewScheduler creates a scheduler for sink. Call Start to begin pruning.
func NewScheduler(sink Sink, cfg RetentionConfig) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		sink:   sink,
		config: cfg,
		cron:   cron.New(),
		logger: slog.Default().With("component", "audit.scheduler"),
	}
}

// Prune deletes entries older than their retention and returns the number
// of rows removed.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	now := s.config.Now()
	var total int64

	if s.config.EventRetention > 0 {
		n, err := s.sink.DeleteEventsBefore(ctx, now.Add(-s.config.EventRetention))
		if err != nil {
			return total, fmt.Errorf("failed to prune decisions: %w", err)
		}
		total += n
	}
	if s.config.AlertRetention > 0 {
		n, err := s.sink.DeleteAlertsBefore(ctx, now.Add(-s.config.AlertRetention))
		if err != nil {
			return total, fmt.Errorf("failed to prune quota alerts: %w", err)
		}
		total += n
	}
	return total, nil
}

// Start schedules pruning and stops it when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("Audit prune schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Audit retention scheduler started",
		"schedule", s.config.Schedule,
		"event_retention", s.config.EventRetention,
		"alert_retention", s.config.AlertRetention,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	deleted, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("Scheduled audit pruning failed", "error", err)
		return
	}
	s.logger.Info("Scheduled audit pruning completed", "deleted_count", deleted)
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Audit retention scheduler stopped")
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled prune, or the zero time if none.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
