package store

import (
	"context"
	"fmt"
	"time"
)

// Store is the shared counter store behind the rate limiter and the quota
// tracker. Every method must be atomic with respect to concurrent callers in
// other processes; implementations must not rely on in-process locks for
// cross-process correctness.
type Store interface {
	// SlidingWindow checks one ordered set of request timestamps against
	// every limit at once. It trims members older than the longest window,
	// counts the survivors inside each limit's window and, only if every
	// count is below its limit, inserts member at now and sets the key to
	// expire after the longest window. The whole call is one atomic step.
	SlidingWindow(ctx context.Context, key string, now time.Time, limits []WindowLimit, member string) (WindowResult, error)

	// Reserve adds amount to the counter at key only if the result would not
	// exceed ceiling. On success the counter expires at expireAt (zero means
	// never). The read and the increment happen as one atomic operation.
	Reserve(ctx context.Context, key string, amount, ceiling int64, expireAt time.Time) (CounterResult, error)

	// Release subtracts amount from the counter at key, never going below
	// zero. Missing keys are left alone.
	Release(ctx context.Context, key string, amount int64) error

	// Get returns the current value of the counter at key, or 0 if absent.
	Get(ctx context.Context, key string) (int64, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// WindowLimit is one layer of a sliding window check.
type WindowLimit struct {
	Window time.Duration
	Limit  int64
}

// WindowResult is the outcome of a SlidingWindow call.
type WindowResult struct {
	// Allowed indicates a member was inserted.
	Allowed bool

	// Layers holds one entry per limit, in the order they were given.
	Layers []LayerResult
}

// LayerResult describes one limit's window before the insert.
type LayerResult struct {
	// Count is the number of members inside the window.
	Count int64

	// Oldest is the timestamp of the oldest member inside the window, or
	// now when the window is empty.
	Oldest time.Time
}

// Full reports whether the layer has no room left under limit.
func (l LayerResult) Full(limit int64) bool {
	return l.Count >= limit
}

func longestWindow(limits []WindowLimit) time.Duration {
	var longest time.Duration
	for _, l := range limits {
		longest = max(longest, l.Window)
	}
	return longest
}

func validateLimits(key string, limits []WindowLimit) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(limits) == 0 {
		return fmt.Errorf("at least one window limit is required")
	}
	return nil
}

// CounterResult is the outcome of a Reserve call.
type CounterResult struct {
	// Allowed indicates the amount was added.
	Allowed bool

	// Used is the counter value before this call.
	Used int64
}
