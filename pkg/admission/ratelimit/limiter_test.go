package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// blockingStore never answers sliding window calls before ctx is done.
type blockingStore struct {
	store.Store
}

func (blockingStore) SlidingWindow(ctx context.Context, key string, now time.Time, limits []store.WindowLimit, member string) (store.WindowResult, error) {
	<-ctx.Done()
	return store.WindowResult{}, ctx.Err()
}

func newTestLimiter(t *testing.T, clock *fakeClock, rules map[string][]Rule) (*Limiter, *store.MemoryStore) {
	t.Helper()

	s := store.NewMemoryStoreWithConfig(store.MemoryStoreConfig{Now: clock.Now})
	t.Cleanup(func() { s.Close() })

	l, err := NewLimiter(Config{
		Store:   s,
		Rules:   rules,
		Default: Rule{Window: time.Minute, MaxRequests: 100},
		Now:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	return l, s
}

func TestLimiter_WindowScenario(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	l, _ := newTestLimiter(t, clock, map[string][]Rule{
		"seeds.create": {{Window: 60000 * time.Millisecond, MaxRequests: 10}},
	})

	ctx := context.Background()
	caller := admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "seeds.create"}

	for i := 0; i < 10; i++ {
		v := l.Check(ctx, caller, nil)
		if !v.Allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if want := int64(9 - i); v.Remaining != want {
			t.Errorf("Request %d: expected remaining %d, got %d", i+1, want, v.Remaining)
		}
		if v.Limit != 10 {
			t.Errorf("Expected limit 10, got %d", v.Limit)
		}
		if !v.ResetAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("Expected reset %v, got %v", t0.Add(time.Minute), v.ResetAt)
		}
	}

	v := l.Check(ctx, caller, nil)
	if v.Allowed {
		t.Fatal("Expected 11th request to be denied")
	}
	if v.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", v.Remaining)
	}
	if v.DeniedBy != admission.MechanismRate {
		t.Errorf("Expected denial by rate, got %q", v.DeniedBy)
	}
	if !v.ResetAt.Equal(t0.Add(60000 * time.Millisecond)) {
		t.Errorf("Expected reset %v, got %v", t0.Add(time.Minute), v.ResetAt)
	}
	if !errors.Is(v.Err(), admission.ErrRateLimitExceeded) {
		t.Errorf("Expected ErrRateLimitExceeded, got %v", v.Err())
	}

	// Still inside the window at exactly t0+60000ms.
	clock.Set(t0.Add(60000 * time.Millisecond))
	if v := l.Check(ctx, caller, nil); v.Allowed {
		t.Error("Expected request at the window boundary to be denied")
	}

	clock.Set(t0.Add(60001 * time.Millisecond))
	v = l.Check(ctx, caller, nil)
	if !v.Allowed {
		t.Fatal("Expected 12th request at t+60001ms to be allowed")
	}
}

func TestLimiter_DefaultRuleForUnknownEndpoint(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l, _ := newTestLimiter(t, clock, nil)

	if r := l.Rules("never.configured"); len(r) != 1 || r[0].MaxRequests != 100 {
		t.Errorf("Expected default rule with 100 requests, got %+v", r)
	}

	v := l.Check(context.Background(), admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "never.configured"}, nil)
	if !v.Allowed || v.Limit != 100 || v.Remaining != 99 {
		t.Errorf("Expected default rule verdict, got %+v", v)
	}
}

func TestLimiter_Override(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l, _ := newTestLimiter(t, clock, nil)

	ctx := context.Background()
	caller := admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "export"}
	override := []Rule{{Window: time.Second, MaxRequests: 1}}

	if v := l.Check(ctx, caller, override); !v.Allowed || v.Limit != 1 {
		t.Errorf("Expected first request allowed under override, got %+v", v)
	}
	if v := l.Check(ctx, caller, override); v.Allowed {
		t.Error("Expected second request denied under override")
	}

	v := l.Check(ctx, caller, []Rule{{Window: 0, MaxRequests: 1}})
	if !v.Allowed || !v.Unmetered {
		t.Errorf("Expected invalid override to be unmetered, got %+v", v)
	}
}

func TestLimiter_LayeredWindows(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	l, _ := newTestLimiter(t, clock, map[string][]Rule{
		"serp.fetch": {
			{Window: time.Minute, MaxRequests: 3},
			{Window: time.Hour, MaxRequests: 5},
		},
	})

	ctx := context.Background()
	caller := admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "serp.fetch"}

	for i := 0; i < 3; i++ {
		v := l.Check(ctx, caller, nil)
		if !v.Allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if want := int64(2 - i); v.Remaining != want || v.Limit != 3 {
			t.Errorf("Request %d: expected %d of 3 remaining, got %d of %d", i+1, want, v.Remaining, v.Limit)
		}
	}

	v := l.Check(ctx, caller, nil)
	if v.Allowed {
		t.Fatal("Expected burst window to deny the 4th request")
	}
	if v.Limit != 3 || !v.ResetAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Expected burst denial resetting at %v, got limit %d reset %v", t0.Add(time.Minute), v.Limit, v.ResetAt)
	}

	clock.Set(t0.Add(2 * time.Minute))
	for i := 0; i < 2; i++ {
		v := l.Check(ctx, caller, nil)
		if !v.Allowed {
			t.Fatalf("Expected request %d after the burst window to be allowed", i+1)
		}
		if want := int64(1 - i); v.Remaining != want || v.Limit != 5 {
			t.Errorf("Request %d: expected %d of 5 remaining, got %d of %d", i+1, want, v.Remaining, v.Limit)
		}
	}
	// The hourly window is now the tighter one.
	if got := l.Check(ctx, caller, nil); got.Allowed {
		t.Fatal("Expected hourly window to deny the 6th request")
	} else if got.Limit != 5 || !got.ResetAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("Expected hourly denial resetting at %v, got limit %d reset %v", t0.Add(time.Hour), got.Limit, got.ResetAt)
	}

	// Denied requests are not recorded, so the burst window reopens on time.
	clock.Set(t0.Add(time.Hour + time.Millisecond))
	if v := l.Check(ctx, caller, nil); !v.Allowed {
		t.Errorf("Expected request after the hourly window to be allowed, got %+v", v)
	}
}

func TestLimiter_LayeredDenialPicksLatestReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l, _ := newTestLimiter(t, clock, map[string][]Rule{
		"export": {
			{Window: time.Second, MaxRequests: 1},
			{Window: time.Minute, MaxRequests: 1},
		},
	})

	ctx := context.Background()
	caller := admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "export"}

	if v := l.Check(ctx, caller, nil); !v.Allowed || v.Remaining != 0 {
		t.Fatalf("Expected first request allowed with nothing left, got %+v", v)
	}
	v := l.Check(ctx, caller, nil)
	if v.Allowed {
		t.Fatal("Expected second request to be denied")
	}
	if want := clock.Now().Add(time.Minute); !v.ResetAt.Equal(want) {
		t.Errorf("Expected reset %v from the longer window, got %v", want, v.ResetAt)
	}
}

func TestLimiter_SameMillisecondRequestsAreDistinct(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	l, _ := newTestLimiter(t, clock, map[string][]Rule{
		"burst": {{Window: time.Second, MaxRequests: 5}},
	})

	ctx := context.Background()
	caller := admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "burst"}

	allowed := 0
	for i := 0; i < 8; i++ {
		if l.Check(ctx, caller, nil).Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("Expected 5 allowed, got %d", allowed)
	}
}

func TestLimiter_SeparatorsInIdentifiersStayIsolated(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	l, _ := newTestLimiter(t, clock, nil)

	ctx := context.Background()
	override := []Rule{{Window: time.Minute, MaxRequests: 1}}
	first := admission.Caller{TenantID: "t", UserID: "alice:seeds", Endpoint: "create"}
	second := admission.Caller{TenantID: "t", UserID: "alice", Endpoint: "seeds:create"}

	if v := l.Check(ctx, first, override); !v.Allowed {
		t.Fatalf("Expected first caller allowed, got %+v", v)
	}
	if v := l.Check(ctx, second, override); !v.Allowed {
		t.Errorf("Expected second caller to have its own window, got %+v", v)
	}
	if v := l.Check(ctx, first, override); v.Allowed {
		t.Error("Expected first caller denied on its second request")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l, _ := newTestLimiter(t, clock, map[string][]Rule{
		"serp.fetch": {{Window: time.Minute, MaxRequests: 25}},
	})

	ctx := context.Background()
	caller := admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "serp.fetch"}

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			if l.Check(ctx, caller, nil).Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if got := allowed.Load(); got != 25 {
		t.Errorf("Expected 25 allowed, got %d", got)
	}
}

func TestLimiter_FailOpenWhenStoreUnavailable(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l, s := newTestLimiter(t, clock, nil)
	s.SetHealthy(false)

	v := l.Check(context.Background(), admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "x"}, nil)
	if !v.Allowed {
		t.Fatal("Expected fail-open allow")
	}
	if !v.Degraded {
		t.Error("Expected degraded verdict")
	}
	if v.Remaining != admission.FailOpenRemaining {
		t.Errorf("Expected remaining %d, got %d", admission.FailOpenRemaining, v.Remaining)
	}
}

func TestLimiter_FailOpenWithinTimeout(t *testing.T) {
	l, err := NewLimiter(Config{
		Store:   blockingStore{},
		Default: Rule{Window: time.Minute, MaxRequests: 10},
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	start := time.Now()
	v := l.Check(context.Background(), admission.Caller{TenantID: "acme", UserID: "u1", Endpoint: "x"}, nil)
	elapsed := time.Since(start)

	if !v.Allowed || !v.Degraded {
		t.Errorf("Expected degraded allow, got %+v", v)
	}
	if elapsed > time.Second {
		t.Errorf("Expected check to return near the timeout, took %v", elapsed)
	}
}

func TestNewLimiter_Validation(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no store", Config{Default: Rule{Window: time.Second, MaxRequests: 1}}},
		{"no default", Config{Store: s}},
		{"bad rule", Config{Store: s, Default: Rule{Window: time.Second, MaxRequests: 1}, Rules: map[string][]Rule{"x": {{Window: time.Second}}}}},
		{"duplicate window", Config{Store: s, Default: Rule{Window: time.Second, MaxRequests: 1}, Rules: map[string][]Rule{"x": {{Window: time.Second, MaxRequests: 1}, {Window: time.Second, MaxRequests: 2}}}}},
		{"empty layers", Config{Store: s, Default: Rule{Window: time.Second, MaxRequests: 1}, Rules: map[string][]Rule{"x": {}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLimiter(tt.cfg); !errors.Is(err, admission.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}
