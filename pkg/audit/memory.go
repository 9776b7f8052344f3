package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySink keeps audit entries in memory. Intended for tests and for
// deployments that only need the metrics.
type MemorySink struct {
	mu     sync.RWMutex
	events []*Event
	alerts []*Alert
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// WriteEvent implements Sink.
func (s *MemorySink) WriteEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	c := *e
	s.events = append(s.events, &c)
	return nil
}

// WriteAlert implements Sink.
func (s *MemorySink) WriteAlert(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	c := *a
	s.alerts = append(s.alerts, &c)
	return nil
}

// Events implements Sink.
func (s *MemorySink) Events(ctx context.Context, q Query) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, e := range s.events {
		if !q.matches(e.TenantID, e.At) {
			continue
		}
		if q.Outcome != "" && e.Outcome != q.Outcome {
			continue
		}
		c := *e
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}

// Alerts implements Sink.
func (s *MemorySink) Alerts(ctx context.Context, q Query) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Alert
	for _, a := range s.alerts {
		if q.matches(a.TenantID, a.At) {
			c := *a
			out = append(out, &c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}

// DeleteEventsBefore implements Sink.
func (s *MemorySink) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if !e.At.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	deleted := int64(len(s.events) - len(kept))
	s.events = kept
	return deleted, nil
}

// DeleteAlertsBefore implements Sink.
func (s *MemorySink) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if !a.At.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	deleted := int64(len(s.alerts) - len(kept))
	s.alerts = kept
	return deleted, nil
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
