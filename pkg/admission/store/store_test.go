package store

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func one(window time.Duration, limit int64) []WindowLimit {
	return []WindowLimit{{Window: window, Limit: limit}}
}

// runStoreTests exercises the Store contract against a backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SlidingWindow", func(t *testing.T) {
		testSlidingWindow(t, newStore(t))
	})
	t.Run("SlidingWindowLayered", func(t *testing.T) {
		testSlidingWindowLayered(t, newStore(t))
	})
	t.Run("SlidingWindowKeysIndependent", func(t *testing.T) {
		testSlidingWindowKeysIndependent(t, newStore(t))
	})
	t.Run("ReserveAndRelease", func(t *testing.T) {
		testReserveAndRelease(t, newStore(t))
	})
	t.Run("ReserveHugeAmount", func(t *testing.T) {
		testReserveHugeAmount(t, newStore(t))
	})
	t.Run("ConcurrentReserve", func(t *testing.T) {
		testConcurrentReserve(t, newStore(t))
	})
	t.Run("ConcurrentSlidingWindow", func(t *testing.T) {
		testConcurrentSlidingWindow(t, newStore(t))
	})
}

func testSlidingWindow(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)
	window := time.Second
	key := NewKeys("").Window("t1", "u1", "seeds.create")

	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		res, err := s.SlidingWindow(ctx, key, now, one(window, 3), fmt.Sprintf("m-%d", i))
		if err != nil {
			t.Fatalf("SlidingWindow %d failed: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Expected request %d to be allowed", i)
		}
		if res.Layers[0].Count != int64(i) {
			t.Errorf("Expected count %d, got %d", i, res.Layers[0].Count)
		}
		if !res.Layers[0].Oldest.Equal(base) {
			t.Errorf("Expected oldest %v, got %v", base, res.Layers[0].Oldest)
		}
	}

	res, err := s.SlidingWindow(ctx, key, base.Add(500*time.Millisecond), one(window, 3), "m-3")
	if err != nil {
		t.Fatalf("SlidingWindow failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected fourth request to be denied")
	}
	if res.Layers[0].Count != 3 {
		t.Errorf("Expected count 3, got %d", res.Layers[0].Count)
	}
	if !res.Layers[0].Oldest.Equal(base) {
		t.Errorf("Expected oldest %v, got %v", base, res.Layers[0].Oldest)
	}

	// The first entry leaves the window once now-window passes it.
	res, err = s.SlidingWindow(ctx, key, base.Add(window+time.Millisecond), one(window, 3), "m-4")
	if err != nil {
		t.Fatalf("SlidingWindow failed: %v", err)
	}
	if !res.Allowed {
		t.Error("Expected request to be allowed after the oldest entry expired")
	}
	if res.Layers[0].Count != 2 {
		t.Errorf("Expected count 2, got %d", res.Layers[0].Count)
	}
}

func testSlidingWindowLayered(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)
	key := NewKeys("").Window("t1", "u1", "serp.fetch")
	limits := []WindowLimit{
		{Window: time.Second, Limit: 2},
		{Window: time.Minute, Limit: 3},
	}

	for i := 0; i < 2; i++ {
		res, err := s.SlidingWindow(ctx, key, base.Add(time.Duration(i)*10*time.Millisecond), limits, fmt.Sprintf("m-%d", i))
		if err != nil {
			t.Fatalf("SlidingWindow %d failed: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Expected request %d to be allowed", i)
		}
	}

	// The short window is full; the long one still has room.
	res, err := s.SlidingWindow(ctx, key, base.Add(20*time.Millisecond), limits, "m-2")
	if err != nil {
		t.Fatalf("SlidingWindow failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected burst window to deny")
	}
	if len(res.Layers) != 2 {
		t.Fatalf("Expected 2 layers, got %d", len(res.Layers))
	}
	if !res.Layers[0].Full(2) || res.Layers[1].Full(3) {
		t.Errorf("Expected only the first layer full, got %+v", res.Layers)
	}

	// A denied request must not be recorded in any layer.
	res, err = s.SlidingWindow(ctx, key, base.Add(2*time.Second), limits, "m-3")
	if err != nil {
		t.Fatalf("SlidingWindow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("Expected request after the burst window to be allowed")
	}
	if res.Layers[0].Count != 0 || res.Layers[1].Count != 2 {
		t.Errorf("Expected counts 0/2, got %d/%d", res.Layers[0].Count, res.Layers[1].Count)
	}
	if !res.Layers[1].Oldest.Equal(base) {
		t.Errorf("Expected oldest %v in the long window, got %v", base, res.Layers[1].Oldest)
	}

	res, err = s.SlidingWindow(ctx, key, base.Add(4*time.Second), limits, "m-4")
	if err != nil {
		t.Fatalf("SlidingWindow failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected long window to deny")
	}
	if res.Layers[0].Full(2) || !res.Layers[1].Full(3) {
		t.Errorf("Expected only the second layer full, got %+v", res.Layers)
	}

	if _, err := s.SlidingWindow(ctx, key, base, nil, "m-5"); err == nil {
		t.Error("Expected error for empty limits")
	}
}

func testSlidingWindowKeysIndependent(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()
	keys := NewKeys("")

	a := keys.Window("t1", "alice", "seeds.create")
	b := keys.Window("t1", "bob", "seeds.create")

	if res, err := s.SlidingWindow(ctx, a, now, one(time.Minute, 1), "a1"); err != nil || !res.Allowed {
		t.Fatalf("Expected first request for alice to be allowed, got %+v, %v", res, err)
	}
	if res, err := s.SlidingWindow(ctx, a, now, one(time.Minute, 1), "a2"); err != nil || res.Allowed {
		t.Fatalf("Expected second request for alice to be denied, got %+v, %v", res, err)
	}
	if res, err := s.SlidingWindow(ctx, b, now, one(time.Minute, 1), "b1"); err != nil || !res.Allowed {
		t.Fatalf("Expected first request for bob to be allowed, got %+v, %v", res, err)
	}
}

func testReserveAndRelease(t *testing.T, s Store) {
	ctx := context.Background()
	key := NewKeys("").Counter("t1", "daily_seeds", "2024-05-01")
	expireAt := time.Now().Add(time.Hour)

	res, err := s.Reserve(ctx, key, 3, 5, expireAt)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Allowed || res.Used != 0 {
		t.Errorf("Expected allowed with used 0, got %+v", res)
	}

	res, err = s.Reserve(ctx, key, 3, 5, expireAt)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected reservation past the ceiling to be denied")
	}
	if res.Used != 3 {
		t.Errorf("Expected used 3, got %d", res.Used)
	}

	res, err = s.Reserve(ctx, key, 2, 5, expireAt)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Allowed || res.Used != 3 {
		t.Errorf("Expected allowed with used 3, got %+v", res)
	}

	if v, _ := s.Get(ctx, key); v != 5 {
		t.Errorf("Expected value 5, got %d", v)
	}

	if err := s.Release(ctx, key, 2); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if v, _ := s.Get(ctx, key); v != 3 {
		t.Errorf("Expected value 3 after release, got %d", v)
	}

	if err := s.Release(ctx, key, 10); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if v, _ := s.Get(ctx, key); v != 0 {
		t.Errorf("Expected value floored at 0, got %d", v)
	}

	missing := NewKeys("").Counter("t1", "daily_seeds", "1999-01-01")
	if err := s.Release(ctx, missing, 1); err != nil {
		t.Errorf("Expected release of missing key to succeed, got %v", err)
	}
	if v, err := s.Get(ctx, missing); err != nil || v != 0 {
		t.Errorf("Expected 0 for missing key, got %d, %v", v, err)
	}
}

func testConcurrentReserve(t *testing.T, s Store) {
	ctx := context.Background()
	key := NewKeys("").Counter("t1", "daily_exports", "2024-05-01")
	expireAt := time.Now().Add(time.Hour)

	const (
		workers = 50
		ceiling = 20
	)

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			res, err := s.Reserve(ctx, key, 1, ceiling, expireAt)
			if err != nil {
				return err
			}
			if res.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	if got := allowed.Load(); got != ceiling {
		t.Errorf("Expected %d reservations allowed, got %d", ceiling, got)
	}
	if v, _ := s.Get(ctx, key); v != ceiling {
		t.Errorf("Expected counter %d, got %d", ceiling, v)
	}
}

func testConcurrentSlidingWindow(t *testing.T, s Store) {
	ctx := context.Background()
	key := NewKeys("").Window("t1", "u1", "serp.fetch")
	now := time.Now()

	const (
		workers = 40
		limit   = 10
	)

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		member := fmt.Sprintf("m-%d", i)
		g.Go(func() error {
			res, err := s.SlidingWindow(ctx, key, now, one(time.Minute, limit), member)
			if err != nil {
				return err
			}
			if res.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("SlidingWindow failed: %v", err)
	}

	if got := allowed.Load(); got != limit {
		t.Errorf("Expected %d requests allowed, got %d", limit, got)
	}
}

func testReserveHugeAmount(t *testing.T, s Store) {
	ctx := context.Background()
	key := NewKeys("").Counter("t1", "daily_seeds", "2024-05-02")
	expireAt := time.Now().Add(time.Hour)

	if res, err := s.Reserve(ctx, key, 5, 10, expireAt); err != nil || !res.Allowed {
		t.Fatalf("Expected first reservation to be allowed, got %+v, %v", res, err)
	}

	res, err := s.Reserve(ctx, key, math.MaxInt64-2, 10, expireAt)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected reservation near MaxInt64 to be denied")
	}
	if res.Used != 5 {
		t.Errorf("Expected used 5, got %d", res.Used)
	}

	res, err = s.Reserve(ctx, key, 6, 10, expireAt)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected reservation past the ceiling to stay denied")
	}
	if v, _ := s.Get(ctx, key); v != 5 {
		t.Errorf("Expected value 5, got %d", v)
	}
}
