package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

// MemoryStore implements Store using in-process maps.
// It is suitable for tests and single-process development only: state is
// not shared between processes and is lost when the process exits.
//
// MemoryStore is thread-safe; a single mutex makes every operation atomic.
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string]*windowState
	counters map[string]*counterState

	now     func() time.Time
	healthy atomic.Bool

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

type windowState struct {
	entries  []windowEntry
	expireAt time.Time
}

type windowEntry struct {
	at     time.Time
	member string
}

type counterState struct {
	value    int64
	expireAt time.Time
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often expired keys are swept.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Now overrides the clock used for key expiry. Default: time.Now
	Now func() time.Time
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &MemoryStore{
		windows:         make(map[string]*windowState),
		counters:        make(map[string]*counterState),
		now:             cfg.Now,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}
	s.healthy.Store(true)

	go s.cleanupLoop()

	return s
}

// SetHealthy toggles simulated availability. While unhealthy every call
// fails with admission.ErrStoreUnavailable.
func (s *MemoryStore) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// SlidingWindow implements Store.
func (s *MemoryStore) SlidingWindow(ctx context.Context, key string, now time.Time, limits []WindowLimit, member string) (WindowResult, error) {
	if err := s.check(ctx); err != nil {
		return WindowResult{}, err
	}
	if err := validateLimits(key, limits); err != nil {
		return WindowResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.windows[key]
	if state != nil && s.expiredLocked(state.expireAt) {
		state = nil
	}
	if state == nil {
		state = &windowState{}
		s.windows[key] = state
	}

	// Trim members older than the longest window.
	longest := longestWindow(limits)
	trimBefore := now.Add(-longest)
	kept := state.entries[:0]
	for _, e := range state.entries {
		if !e.at.Before(trimBefore) {
			kept = append(kept, e)
		}
	}
	state.entries = kept

	res := WindowResult{Allowed: true, Layers: make([]LayerResult, len(limits))}
	for i, l := range limits {
		start := now.Add(-l.Window)
		first := sort.Search(len(state.entries), func(j int) bool {
			return !state.entries[j].at.Before(start)
		})
		layer := LayerResult{Count: int64(len(state.entries) - first), Oldest: now}
		if first < len(state.entries) {
			layer.Oldest = state.entries[first].at
		}
		res.Layers[i] = layer
		if layer.Full(l.Limit) {
			res.Allowed = false
		}
	}
	if !res.Allowed {
		return res, nil
	}

	// Insert keeping the slice ordered by timestamp.
	idx := sort.Search(len(state.entries), func(i int) bool {
		return state.entries[i].at.After(now)
	})
	state.entries = append(state.entries, windowEntry{})
	copy(state.entries[idx+1:], state.entries[idx:])
	state.entries[idx] = windowEntry{at: now, member: member}
	state.expireAt = s.now().Add(longest + time.Millisecond)

	return res, nil
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(ctx context.Context, key string, amount, ceiling int64, expireAt time.Time) (CounterResult, error) {
	if err := s.check(ctx); err != nil {
		return CounterResult{}, err
	}
	if key == "" {
		return CounterResult{}, fmt.Errorf("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c != nil && s.expiredLocked(c.expireAt) {
		delete(s.counters, key)
		c = nil
	}

	var used int64
	if c != nil {
		used = c.value
	}
	if amount > ceiling-used {
		return CounterResult{Allowed: false, Used: used}, nil
	}

	if c == nil {
		c = &counterState{}
		s.counters[key] = c
	}
	c.value += amount
	c.expireAt = expireAt

	return CounterResult{Allowed: true, Used: used}, nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, key string, amount int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c == nil || s.expiredLocked(c.expireAt) {
		return nil
	}
	c.value -= amount
	if c.value < 0 {
		c.value = 0
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c == nil || s.expiredLocked(c.expireAt) {
		return 0, nil
	}
	return c.value, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// Size returns the number of live keys. Useful for monitoring and tests.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows) + len(s.counters)
}

// Cleanup removes expired keys and returns how many were deleted.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, w := range s.windows {
		if s.expiredLocked(w.expireAt) {
			delete(s.windows, key)
			deleted++
		}
	}
	for key, c := range s.counters {
		if s.expiredLocked(c.expireAt) {
			delete(s.counters, key)
			deleted++
		}
	}
	return deleted
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.healthy.Load() {
		return admission.ErrStoreUnavailable
	}
	return nil
}

// expiredLocked reports whether a key with the given expiry is gone.
// Caller must hold mu.
func (s *MemoryStore) expiredLocked(expireAt time.Time) bool {
	return !expireAt.IsZero() && !s.now().Before(expireAt)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.done:
			return
		}
	}
}
