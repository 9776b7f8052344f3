package guard

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/ratelimit"
)

// Operation describes what an admission call for one named operation checks.
type Operation struct {
	// Endpoint selects the rate rule. Default: the caller's endpoint, then
	// the operation name.
	Endpoint string

	// Rules replace the endpoint's rate windows when set.
	Rules []ratelimit.Rule

	// Quotas are checked in order after the rate limit passes.
	Quotas []admission.QuotaKind

	// Amount is the number of quota units one call consumes. Default: 1
	Amount int64
}

// RateChecker is the rate limiting half of an admission call.
type RateChecker interface {
	Check(ctx context.Context, caller admission.Caller, override []ratelimit.Rule) admission.Verdict
}

// QuotaChecker is the quota half of an admission call.
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, tenantID string, kind admission.QuotaKind, amount int64) admission.Verdict
	Release(ctx context.Context, r *admission.Reservation) error
}

// Observer receives per-mechanism and per-call results for monitoring.
type Observer interface {
	ObserveCheck(mechanism admission.Mechanism, v admission.Verdict, elapsed time.Duration)
	ObserveDecision(operation string, v admission.Verdict)
}

// Recorder receives every decision for the audit log. Implementations must
// not block.
type Recorder interface {
	RecordDecision(ctx context.Context, d admission.Decision)
}

// Config configures a Guard.
type Config struct {
	// Limiter is required.
	Limiter RateChecker

	// Tracker is required when any operation names quotas.
	Tracker QuotaChecker

	// Operations maps operation names to their checks. Unknown operations
	// are rate limited with the default rule and carry no quotas.
	Operations map[string]Operation

	// Observer and Recorder are optional.
	Observer Observer
	Recorder Recorder

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Guard is the single admission entry point. It is safe for concurrent use.
type Guard struct {
	limiter    RateChecker
	tracker    QuotaChecker
	operations map[string]Operation
	observer   Observer
	recorder   Recorder
	now        func() time.Time
	logger     *slog.Logger
}

// New validates cfg and creates a guard.
func New(cfg Config) (*Guard, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("%w: guard requires a rate limiter", admission.ErrConfigInvalid)
	}

	ops := make(map[string]Operation, len(cfg.Operations))
	for name, op := range cfg.Operations {
		if err := validateOperation(op); err != nil {
			return nil, fmt.Errorf("operation %q: %w", name, err)
		}
		if len(op.Quotas) > 0 && cfg.Tracker == nil {
			return nil, fmt.Errorf("%w: operation %q names quotas but no tracker is configured",
				admission.ErrConfigInvalid, name)
		}
		ops[name] = op
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Guard{
		limiter:    cfg.Limiter,
		tracker:    cfg.Tracker,
		operations: ops,
		observer:   cfg.Observer,
		recorder:   cfg.Recorder,
		now:        cfg.Now,
		logger:     cfg.Logger.With("component", "admission.guard"),
	}, nil
}

func validateOperation(op Operation) error {
	if len(op.Rules) > 0 {
		if err := ratelimit.ValidateRules(op.Rules); err != nil {
			return err
		}
	}
	if op.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", admission.ErrConfigInvalid)
	}
	seen := make(map[admission.QuotaKind]bool, len(op.Quotas))
	for _, k := range op.Quotas {
		if !k.Valid() {
			return fmt.Errorf("%w: %q", admission.ErrUnknownQuotaKind, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: quota %s listed twice", admission.ErrConfigInvalid, k)
		}
		seen[k] = true
	}
	return nil
}

// Operation returns the configuration of name.
func (g *Guard) Operation(name string) (Operation, bool) {
	op, ok := g.operations[name]
	return op, ok
}

// Admit decides whether caller may perform operation. It runs the rate
// limiter first; a rate denial returns before any quota is touched. Quotas
// then run in their configured order and the first denial rolls back the
// reservations made earlier in the call. When everything allows, the most
// restrictive verdict is returned so advisory headers reflect the tightest
// constraint.
func (g *Guard) Admit(ctx context.Context, caller admission.Caller, operation string) admission.Verdict {
	return g.AdmitAmount(ctx, caller, operation, 0)
}

// AdmitAmount is Admit with an explicit number of quota units. An amount of
// zero uses the operation's configured amount.
func (g *Guard) AdmitAmount(ctx context.Context, caller admission.Caller, operation string, amount int64) admission.Verdict {
	op, ok := g.operations[operation]
	if !ok {
		g.logger.Debug("Unknown operation, applying default rate rule", "operation", operation)
	}

	if amount <= 0 {
		amount = op.Amount
	}
	if amount <= 0 {
		amount = 1
	}

	switch {
	case op.Endpoint != "":
		caller.Endpoint = op.Endpoint
	case caller.Endpoint == "":
		caller.Endpoint = operation
	}

	v := g.admit(ctx, caller, op, amount)

	if g.observer != nil {
		g.observer.ObserveDecision(operation, v)
	}
	if g.recorder != nil {
		g.recorder.RecordDecision(ctx, admission.Decision{
			At:        g.now(),
			Caller:    caller,
			Operation: operation,
			Amount:    amount,
			Verdict:   v,
		})
	}
	return v
}

func (g *Guard) admit(ctx context.Context, caller admission.Caller, op Operation, amount int64) admission.Verdict {
	start := time.Now()
	rate := g.limiter.Check(ctx, caller, op.Rules)
	g.observeCheck(admission.MechanismRate, rate, time.Since(start))

	if !rate.Allowed {
		return rate
	}

	verdicts := make([]admission.Verdict, 0, len(op.Quotas)+1)
	verdicts = append(verdicts, rate)

	for _, kind := range op.Quotas {
		start = time.Now()
		v := g.tracker.CheckAndReserve(ctx, caller.TenantID, kind, amount)
		g.observeCheck(admission.MechanismQuota, v, time.Since(start))

		if !v.Allowed {
			g.rollback(ctx, verdicts)
			return v
		}
		verdicts = append(verdicts, v)
	}

	return mostRestrictive(verdicts)
}

// rollback releases the reservations held by verdicts, newest first.
func (g *Guard) rollback(ctx context.Context, verdicts []admission.Verdict) {
	// Release even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	for i := len(verdicts) - 1; i >= 0; i-- {
		r := verdicts[i].Reservation
		if r == nil {
			continue
		}
		if err := g.tracker.Release(ctx, r); err != nil {
			g.logger.Error("Failed to roll back quota reservation",
				"key", r.Key,
				"quota_kind", r.Kind,
				"amount", r.Amount,
				"error", err,
			)
		}
	}
}

func (g *Guard) observeCheck(m admission.Mechanism, v admission.Verdict, elapsed time.Duration) {
	if g.observer != nil {
		g.observer.ObserveCheck(m, v, elapsed)
	}
}

// mostRestrictive picks the allow verdict with the least remaining capacity,
// breaking ties by the earliest reset. Degraded and unmetered flags from any
// input carry over together with their reasons.
func mostRestrictive(verdicts []admission.Verdict) admission.Verdict {
	best := verdicts[0]
	for _, v := range verdicts[1:] {
		if v.Remaining < best.Remaining ||
			(v.Remaining == best.Remaining && resetsEarlier(v.ResetAt, best.ResetAt)) {
			best = v
		}
	}

	var reasons []string
	if best.Reason != "" {
		reasons = append(reasons, best.Reason)
	}
	for _, v := range verdicts {
		if !v.Degraded && !v.Unmetered {
			continue
		}
		best.Degraded = best.Degraded || v.Degraded
		best.Unmetered = best.Unmetered || v.Unmetered
		if v.Reason != "" && !slices.Contains(reasons, v.Reason) {
			reasons = append(reasons, v.Reason)
		}
	}

	best.Reason = strings.Join(reasons, "; ")
	best.Reservation = nil
	return best
}

// resetsEarlier orders reset times with the zero time (never) last.
func resetsEarlier(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}
