package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

// AsyncConfig configures an AsyncRecorder.
type AsyncConfig struct {
	// Buffer is the capacity of the pending queue. Default: 1000
	Buffer int

	// WriteTimeout bounds each sink write. Default: 5s
	WriteTimeout time.Duration

	// OnDrop is called for every entry dropped because the queue was full
	// or the recorder was closed. Optional.
	OnDrop func()
}

type entry struct {
	event *Event
	alert *Alert
}

// AsyncRecorder writes decisions and alerts to a Sink from a background
// worker. Recording never blocks the caller.
type AsyncRecorder struct {
	sink    Sink
	timeout time.Duration
	onDrop  func()
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan entry
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewAsyncRecorder starts a recorder draining into sink.
func NewAsyncRecorder(sink Sink, cfg AsyncConfig) *AsyncRecorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &AsyncRecorder{
		sink:    sink,
		timeout: cfg.WriteTimeout,
		onDrop:  cfg.OnDrop,
		logger:  slog.Default().With("component", "audit.recorder"),
		queue:   make(chan entry, cfg.Buffer),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// RecordDecision enqueues a decision event.
func (r *AsyncRecorder) RecordDecision(ctx context.Context, d admission.Decision) {
	r.enqueue(entry{event: NewEvent(d)})
}

// QuotaAlert enqueues a quota alert.
func (r *AsyncRecorder) QuotaAlert(ctx context.Context, a admission.QuotaAlert) {
	r.enqueue(entry{alert: NewAlert(a)})
}

// Dropped returns the number of entries dropped so far.
func (r *AsyncRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *AsyncRecorder) enqueue(e entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop("recorder closed")
		return
	}

	select {
	case r.queue <- e:
	default:
		r.drop("queue full")
	}
}

func (r *AsyncRecorder) drop(reason string) {
	n := r.dropped.Add(1)
	if r.onDrop != nil {
		r.onDrop()
	}
	// Log the first drop and then every thousandth.
	if n == 1 || n%1000 == 0 {
		r.logger.Warn("Dropping audit entry", "reason", reason, "dropped_total", n)
	}
}

// Close stops accepting entries, writes everything still queued and waits
// for the worker to exit. It is safe to call more than once.
func (r *AsyncRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Audit recorder stopped", "dropped_total", r.dropped.Load())
	return nil
}

func (r *AsyncRecorder) worker() {
	defer r.wg.Done()

	for e := range r.queue {
		r.write(e)
	}
}

func (r *AsyncRecorder) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch {
	case e.event != nil:
		err = r.sink.WriteEvent(ctx, e.event)
	case e.alert != nil:
		err = r.sink.WriteAlert(ctx, e.alert)
	}
	if err != nil {
		r.logger.Error("Failed to write audit entry", "error", err)
	}
}
