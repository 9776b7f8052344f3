package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"keywordlab/gatekeeper/pkg/admission"
)

// slidingWindowScript trims, counts every layer and conditionally inserts
// in one step.
//
//	KEYS[1]  sorted set of request timestamps (score = unix ms)
//	ARGV[1]  now (unix ms)
//	ARGV[2]  member
//	ARGV[3]  longest window (ms)
//	ARGV[4+] window (ms) and limit pairs
//
// Returns {allowed, count_1, oldest_ms_1, count_2, oldest_ms_2, ...}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local longest = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - longest))

local allowed = 1
local out = {0}
for i = 4, #ARGV, 2 do
	local start = now - tonumber(ARGV[i])
	local limit = tonumber(ARGV[i + 1])
	local count = redis.call('ZCOUNT', KEYS[1], start, '+inf')
	local oldest = now
	local first = redis.call('ZRANGEBYSCORE', KEYS[1], start, '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
	if first[2] then
		oldest = tonumber(first[2])
	end
	if count >= limit then
		allowed = 0
	end
	table.insert(out, count)
	table.insert(out, oldest)
end

if allowed == 1 then
	redis.call('ZADD', KEYS[1], now, ARGV[2])
	redis.call('PEXPIRE', KEYS[1], longest + 1)
end
out[1] = allowed
return out
`)

// reserveScript increments a counter only if the result stays within ceiling.
//
//	KEYS[1]  counter
//	ARGV[1]  amount
//	ARGV[2]  ceiling
//	ARGV[3]  expire at (unix ms, 0 = never)
//
// Returns {allowed, used_before}.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local ceiling = tonumber(ARGV[2])

if amount > ceiling - used then
	return {0, used}
end

redis.call('INCRBY', KEYS[1], amount)
local expireAt = tonumber(ARGV[3])
if expireAt > 0 then
	redis.call('PEXPIREAT', KEYS[1], expireAt)
end
return {1, used}
`)

// releaseScript decrements a counter without going below zero and without
// touching its expiry.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local v = redis.call('DECRBY', KEYS[1], ARGV[1])
if v < 0 then
	redis.call('INCRBY', KEYS[1], -v)
	return 0
end
return v
`)

// RedisStore implements Store on Redis. Atomicity comes from Lua scripts,
// which Redis executes without interleaving other commands, so the store is
// safe to share between any number of processes and hosts.
type RedisStore struct {
	client redis.UniversalClient
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	// Addrs lists Redis endpoints. A single address creates a plain client,
	// several addresses create a cluster client.
	Addrs []string

	// Username and Password authenticate against Redis ACLs.
	Username string
	Password string

	// DB selects the database (ignored for clusters).
	DB int

	// DialTimeout, ReadTimeout and WriteTimeout bound network operations.
	// Defaults: 250ms / 100ms / 100ms
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the number of connections per node. Default: go-redis default.
	PoolSize int
}

// NewRedisStore connects to Redis with the given configuration.
// The connection is not verified; call Ping to check reachability.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 250 * time.Millisecond
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 100 * time.Millisecond
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Load preloads the Lua scripts so later calls only send script hashes.
// Calling it is optional.
func (r *RedisStore) Load(ctx context.Context) error {
	for _, script := range []*redis.Script{slidingWindowScript, reserveScript, releaseScript} {
		if err := script.Load(ctx, r.client).Err(); err != nil {
			return wrapRedisErr("script load", err)
		}
	}
	return nil
}

// SlidingWindow implements Store.
func (r *RedisStore) SlidingWindow(ctx context.Context, key string, now time.Time, limits []WindowLimit, member string) (WindowResult, error) {
	if err := validateLimits(key, limits); err != nil {
		return WindowResult{}, err
	}

	args := make([]any, 0, 3+2*len(limits))
	args = append(args, now.UnixMilli(), member, longestWindow(limits).Milliseconds())
	for _, l := range limits {
		args = append(args, l.Window.Milliseconds(), l.Limit)
	}

	res, err := slidingWindowScript.Run(ctx, r.client, []string{key}, args...).Int64Slice()
	if err != nil {
		return WindowResult{}, wrapRedisErr("sliding window", err)
	}
	if len(res) != 1+2*len(limits) {
		return WindowResult{}, fmt.Errorf("sliding window: unexpected reply length %d", len(res))
	}

	out := WindowResult{Allowed: res[0] == 1, Layers: make([]LayerResult, len(limits))}
	for i := range limits {
		out.Layers[i] = LayerResult{
			Count:  res[1+2*i],
			Oldest: time.UnixMilli(res[2+2*i]),
		}
	}
	return out, nil
}

// Reserve implements Store.
func (r *RedisStore) Reserve(ctx context.Context, key string, amount, ceiling int64, expireAt time.Time) (CounterResult, error) {
	var expireMs int64
	if !expireAt.IsZero() {
		expireMs = expireAt.UnixMilli()
	}

	res, err := reserveScript.Run(ctx, r.client, []string{key}, amount, ceiling, expireMs).Int64Slice()
	if err != nil {
		return CounterResult{}, wrapRedisErr("reserve", err)
	}
	if len(res) != 2 {
		return CounterResult{}, fmt.Errorf("reserve: unexpected reply length %d", len(res))
	}

	return CounterResult{Allowed: res[0] == 1, Used: res[1]}, nil
}

// Release implements Store.
func (r *RedisStore) Release(ctx context.Context, key string, amount int64) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, amount).Err(); err != nil {
		return wrapRedisErr("release", err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapRedisErr("get", err)
	}
	return v, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapRedisErr("ping", err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// wrapRedisErr marks transport failures as store unavailability while
// keeping context errors recognizable.
func wrapRedisErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis %s: %w: %w", op, admission.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("redis %s: %w: %v", op, admission.ErrStoreUnavailable, err)
}
