package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Unhealthy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	s.SetHealthy(false)

	if _, err := s.Reserve(ctx, "k", 1, 10, time.Time{}); !errors.Is(err, admission.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable from Reserve, got %v", err)
	}
	if _, err := s.SlidingWindow(ctx, "w", time.Now(), one(time.Second, 1), "m"); !errors.Is(err, admission.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable from SlidingWindow, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, admission.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable from Ping, got %v", err)
	}

	s.SetHealthy(true)
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Expected healthy ping, got %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMemoryStore_CounterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{Now: clock.Now})
	defer s.Close()

	ctx := context.Background()
	expireAt := clock.Now().Add(time.Hour)

	if _, err := s.Reserve(ctx, "k", 4, 10, expireAt); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if v, _ := s.Get(ctx, "k"); v != 4 {
		t.Errorf("Expected 4, got %d", v)
	}

	clock.Advance(time.Hour)

	if v, _ := s.Get(ctx, "k"); v != 0 {
		t.Errorf("Expected expired counter to read 0, got %d", v)
	}

	res, err := s.Reserve(ctx, "k", 10, 10, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Allowed || res.Used != 0 {
		t.Errorf("Expected fresh counter after expiry, got %+v", res)
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{Now: clock.Now})
	defer s.Close()

	ctx := context.Background()

	_, _ = s.Reserve(ctx, "short", 1, 10, clock.Now().Add(time.Minute))
	_, _ = s.Reserve(ctx, "forever", 1, 10, time.Time{})
	_, _ = s.SlidingWindow(ctx, "window", clock.Now(), one(time.Second, 5), "m")

	if s.Size() != 3 {
		t.Fatalf("Expected 3 keys, got %d", s.Size())
	}

	clock.Advance(2 * time.Minute)

	if deleted := s.Cleanup(); deleted != 2 {
		t.Errorf("Expected 2 keys deleted, got %d", deleted)
	}
	if s.Size() != 1 {
		t.Errorf("Expected 1 key left, got %d", s.Size())
	}
	if v, _ := s.Get(ctx, "forever"); v != 1 {
		t.Errorf("Expected non-expiring counter to survive, got %d", v)
	}
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
