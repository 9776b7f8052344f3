package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/store"
)

// DefaultTimeout bounds each store round trip.
const DefaultTimeout = 50 * time.Millisecond

// Rule limits requests per (tenant, user, endpoint) inside a rolling window.
type Rule struct {
	// Window is the length of the rolling window. Millisecond precision.
	Window time.Duration

	// MaxRequests is the number of requests allowed inside Window.
	MaxRequests int64
}

// Validate checks that the rule can be enforced.
func (r Rule) Validate() error {
	if r.Window < time.Millisecond {
		return fmt.Errorf("%w: window must be at least 1ms, got %v", admission.ErrConfigInvalid, r.Window)
	}
	if r.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", admission.ErrConfigInvalid, r.MaxRequests)
	}
	return nil
}

// ValidateRules checks a layered rule set. Every layer must be valid and no
// two layers may share a window.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", admission.ErrConfigInvalid)
	}
	seen := make(map[time.Duration]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Window] {
			return fmt.Errorf("%w: window %v listed twice", admission.ErrConfigInvalid, r.Window)
		}
		seen[r.Window] = true
	}
	return nil
}

// Config configures a Limiter.
type Config struct {
	// Store holds the window state. Required.
	Store store.Store

	// Keys builds store keys. Default: store.NewKeys("")
	Keys store.Keys

	// Rules maps endpoint names to their windows. An endpoint with several
	// rules, for example a per-minute burst cap and an hourly cap, is
	// admitted only when every window has room.
	Rules map[string][]Rule

	// Default applies to endpoints missing from Rules. Required.
	Default Rule

	// Timeout bounds each store call. Default: 50ms
	Timeout time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	// Logger receives degraded-mode events. Default: slog.Default()
	Logger *slog.Logger
}

// Limiter is a sliding-window rate limiter backed by a shared store.
// It holds no counts itself and is safe for concurrent use; the store
// provides atomicity across processes.
type Limiter struct {
	store   store.Store
	keys    store.Keys
	rules   map[string][]Rule
	def     []Rule
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewLimiter validates cfg and creates a limiter.
func NewLimiter(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: rate limiter requires a store", admission.ErrConfigInvalid)
	}
	if err := cfg.Default.Validate(); err != nil {
		return nil, fmt.Errorf("default rule: %w", err)
	}

	rules := make(map[string][]Rule, len(cfg.Rules))
	for endpoint, layers := range cfg.Rules {
		if err := ValidateRules(layers); err != nil {
			return nil, fmt.Errorf("rule %q: %w", endpoint, err)
		}
		rules[endpoint] = slices.Clone(layers)
	}

	if cfg.Keys.Prefix == "" {
		cfg.Keys = store.NewKeys("")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Limiter{
		store:   cfg.Store,
		keys:    cfg.Keys,
		rules:   rules,
		def:     []Rule{cfg.Default},
		timeout: cfg.Timeout,
		now:     cfg.Now,
		logger:  cfg.Logger.With("component", "admission.ratelimit"),
	}, nil
}

// Rules returns the windows that apply to endpoint. Unknown endpoints get
// the default rule.
func (l *Limiter) Rules(endpoint string) []Rule {
	if r, ok := l.rules[endpoint]; ok {
		return r
	}
	return l.def
}

// Check records a request for caller and reports whether it fits in every
// window of the endpoint. A non-empty override replaces the endpoint's rules.
//
// A denial is returned as a verdict, never an error. If the store cannot be
// reached within the timeout the request is allowed with Degraded set.
func (l *Limiter) Check(ctx context.Context, caller admission.Caller, override []Rule) admission.Verdict {
	rules := l.Rules(caller.Endpoint)
	if len(override) > 0 {
		if err := ValidateRules(override); err != nil {
			l.logger.Error("Invalid rule override, request unmetered",
				"event", "unmetered",
				"tenant_id", caller.TenantID,
				"endpoint", caller.Endpoint,
				"error", err,
			)
			return admission.Unmetered(fmt.Sprintf("invalid rate rule override: %v", err))
		}
		rules = override
	}

	limits := make([]store.WindowLimit, len(rules))
	for i, r := range rules {
		limits[i] = store.WindowLimit{Window: r.Window, Limit: r.MaxRequests}
	}

	now := l.now()
	key := l.keys.Window(caller.TenantID, caller.UserID, caller.Endpoint)
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := l.store.SlidingWindow(ctx, key, now, limits, member)
	if err == nil && len(res.Layers) != len(rules) {
		err = fmt.Errorf("store returned %d window layers for %d rules", len(res.Layers), len(rules))
	}
	if err != nil {
		l.logger.Warn("Rate limit check degraded, allowing request",
			"event", "degraded",
			"tenant_id", caller.TenantID,
			"user_id", caller.UserID,
			"endpoint", caller.Endpoint,
			"error", err,
		)
		v := admission.FailOpen(admission.MechanismRate, err.Error())
		v.Limit = tightest(rules).MaxRequests
		return v
	}

	if !res.Allowed {
		return denial(rules, res.Layers)
	}
	return allowance(rules, res.Layers, now)
}

// denial reports the full window that stays closed the longest.
func denial(rules []Rule, layers []store.LayerResult) admission.Verdict {
	var v admission.Verdict
	for i, r := range rules {
		if !layers[i].Full(r.MaxRequests) {
			continue
		}
		resetAt := layers[i].Oldest.Add(r.Window)
		if v.DeniedBy == "" || resetAt.After(v.ResetAt) {
			v = admission.Verdict{
				Allowed:   false,
				Limit:     r.MaxRequests,
				Remaining: 0,
				ResetAt:   resetAt,
				DeniedBy:  admission.MechanismRate,
				Reason:    fmt.Sprintf("rate limit of %d requests per %v exceeded", r.MaxRequests, r.Window),
			}
		}
	}
	if v.DeniedBy == "" {
		r := tightest(rules)
		v = admission.Verdict{
			Limit:    r.MaxRequests,
			ResetAt:  layers[0].Oldest.Add(r.Window),
			DeniedBy: admission.MechanismRate,
			Reason:   fmt.Sprintf("rate limit of %d requests per %v exceeded", r.MaxRequests, r.Window),
		}
	}
	return v
}

// allowance reports the window with the least room left after this request,
// breaking ties by the earliest reset.
func allowance(rules []Rule, layers []store.LayerResult, now time.Time) admission.Verdict {
	var v admission.Verdict
	for i, r := range rules {
		remaining := max(r.MaxRequests-layers[i].Count-1, 0)
		resetAt := now.Add(r.Window)
		if i == 0 || remaining < v.Remaining || (remaining == v.Remaining && resetAt.Before(v.ResetAt)) {
			v = admission.Verdict{
				Allowed:   true,
				Limit:     r.MaxRequests,
				Remaining: remaining,
				ResetAt:   resetAt,
			}
		}
	}
	return v
}

// tightest returns the rule with the fewest requests allowed.
func tightest(rules []Rule) Rule {
	best := rules[0]
	for _, r := range rules[1:] {
		if r.MaxRequests < best.MaxRequests {
			best = r
		}
	}
	return best
}
