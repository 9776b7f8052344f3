package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/admission/store"
)

// Defaults for Config.
const (
	DefaultTimeout           = 50 * time.Millisecond
	DefaultGrace             = 24 * time.Hour
	DefaultWarningThreshold  = 0.8
	DefaultCriticalThreshold = 0.95
)

// AlertSink receives quota threshold alerts. Implementations must not block.
type AlertSink interface {
	QuotaAlert(ctx context.Context, alert admission.QuotaAlert)
}

// AlertSinks fans one alert out to several sinks.
type AlertSinks []AlertSink

// QuotaAlert implements AlertSink.
func (s AlertSinks) QuotaAlert(ctx context.Context, alert admission.QuotaAlert) {
	for _, sink := range s {
		if sink != nil {
			sink.QuotaAlert(ctx, alert)
		}
	}
}

// Config configures a Tracker.
type Config struct {
	// Store holds the usage counters. Required.
	Store store.Store

	// Plans resolves the ceilings of a tenant. Required.
	Plans plan.Source

	// Keys builds store keys. Default: store.NewKeys("")
	Keys store.Keys

	// Grace keeps periodic counters alive past the end of their period.
	// Default: 24h
	Grace time.Duration

	// Timeout bounds each store call. Default: 50ms
	Timeout time.Duration

	// WarningThreshold and CriticalThreshold are fractions of the ceiling
	// at which alerts fire. Defaults: 0.8 and 0.95
	WarningThreshold  float64
	CriticalThreshold float64

	// Alerts receives threshold alerts. Optional.
	Alerts AlertSink

	// AlertHistory supplies recorded alerts to usage reports. Optional.
	AlertHistory AlertHistory

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	// Logger receives degraded and unmetered events. Default: slog.Default()
	Logger *slog.Logger
}

// Usage is a read-only view of one quota counter.
type Usage struct {
	TenantID  string              `json:"tenant_id"`
	Kind      admission.QuotaKind `json:"kind"`
	Period    string              `json:"period"`
	Used      int64               `json:"used"`
	Limit     int64               `json:"limit"`
	Remaining int64               `json:"remaining"`
	ResetAt   time.Time           `json:"reset_at,omitzero"`
	Unlimited bool                `json:"unlimited,omitempty"`
}

// Tracker enforces per-period quota ceilings.
// It is safe for concurrent use; the store provides atomicity.
type Tracker struct {
	store    store.Store
	plans    plan.Source
	keys     store.Keys
	grace    time.Duration
	timeout  time.Duration
	warning  float64
	critical float64
	alerts   AlertSink
	history  AlertHistory
	now      func() time.Time
	logger   *slog.Logger
}

// NewTracker validates cfg and creates a tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: quota tracker requires a store", admission.ErrConfigInvalid)
	}
	if cfg.Plans == nil {
		return nil, fmt.Errorf("%w: quota tracker requires a plan source", admission.ErrConfigInvalid)
	}
	if cfg.Keys.Prefix == "" {
		cfg.Keys = store.NewKeys("")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WarningThreshold == 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = DefaultCriticalThreshold
	}
	if cfg.WarningThreshold <= 0 || cfg.CriticalThreshold > 1 || cfg.WarningThreshold >= cfg.CriticalThreshold {
		return nil, fmt.Errorf("%w: alert thresholds must satisfy 0 < warning < critical <= 1, got %.2f/%.2f",
			admission.ErrConfigInvalid, cfg.WarningThreshold, cfg.CriticalThreshold)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Tracker{
		store:    cfg.Store,
		plans:    cfg.Plans,
		keys:     cfg.Keys,
		grace:    cfg.Grace,
		timeout:  cfg.Timeout,
		warning:  cfg.WarningThreshold,
		critical: cfg.CriticalThreshold,
		alerts:   cfg.Alerts,
		history:  cfg.AlertHistory,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "admission.quota"),
	}, nil
}

// CheckAndReserve consumes amount units of kind for tenant if the result
// stays within the tenant's ceiling. Units are only consumed on the allow
// path; the returned verdict carries a Reservation that Release can undo.
//
// Configuration gaps (unknown kind, tenant or plan) produce an unmetered
// allow. Store failures produce a degraded allow.
func (t *Tracker) CheckAndReserve(ctx context.Context, tenantID string, kind admission.QuotaKind, amount int64) admission.Verdict {
	if amount <= 0 {
		amount = 1
	}

	ceiling, ok := t.ceiling(ctx, tenantID, kind)
	if !ok {
		return admission.Unmetered(fmt.Sprintf("no quota ceiling resolved for %s", kind))
	}
	if ceiling == plan.Unlimited {
		return admission.Verdict{
			Allowed:   true,
			Limit:     plan.Unlimited,
			Remaining: admission.FailOpenRemaining,
			QuotaKind: kind,
			Reason:    "unlimited",
		}
	}

	now := t.now().UTC()
	p := kind.Periodicity()
	period := PeriodKey(p, now)
	key := t.keys.Counter(tenantID, string(kind), period)
	resetAt := NextReset(p, now)

	var expireAt time.Time
	if !resetAt.IsZero() {
		expireAt = resetAt.Add(t.grace)
	}

	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if amount > ceiling {
		// Can never fit; read usage only to report what is left.
		used, err := t.store.Get(sctx, key)
		if err != nil {
			used = ceiling
		}
		return denied(kind, ceiling, used, resetAt)
	}

	res, err := t.store.Reserve(sctx, key, amount, ceiling, expireAt)
	if err != nil {
		// The reservation may or may not have landed; reconcile from logs.
		t.logger.Warn("Quota check degraded, allowing request",
			"event", "degraded",
			"tenant_id", tenantID,
			"quota_kind", kind,
			"period", period,
			"amount", amount,
			"error", err,
		)
		v := admission.FailOpen(admission.MechanismQuota, err.Error())
		v.Limit = ceiling
		v.QuotaKind = kind
		return v
	}

	if !res.Allowed {
		return denied(kind, ceiling, res.Used, resetAt)
	}

	after := res.Used + amount
	t.maybeAlert(ctx, admission.QuotaAlert{
		TenantID: tenantID,
		Kind:     kind,
		Period:   period,
		Used:     after,
		Limit:    ceiling,
		At:       now,
	}, res.Used)

	return admission.Verdict{
		Allowed:   true,
		Limit:     ceiling,
		Remaining: ceiling - after,
		ResetAt:   resetAt,
		QuotaKind: kind,
		Reservation: &admission.Reservation{
			Key:    key,
			Kind:   kind,
			Amount: amount,
		},
	}
}

func denied(kind admission.QuotaKind, ceiling, used int64, resetAt time.Time) admission.Verdict {
	remaining := ceiling - used
	if remaining < 0 {
		remaining = 0
	}
	return admission.Verdict{
		Allowed:   false,
		Limit:     ceiling,
		Remaining: remaining,
		ResetAt:   resetAt,
		DeniedBy:  admission.MechanismQuota,
		QuotaKind: kind,
		Reason:    fmt.Sprintf("%s quota of %d exhausted", kind, ceiling),
	}
}

// Release hands back the units of a reservation. A nil reservation is a no-op.
func (t *Tracker) Release(ctx context.Context, r *admission.Reservation) error {
	if r == nil || r.Amount <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.store.Release(ctx, r.Key, r.Amount); err != nil {
		t.logger.Warn("Quota release failed, usage overcounted",
			"event", "degraded",
			"key", r.Key,
			"quota_kind", r.Kind,
			"amount", r.Amount,
			"error", err,
		)
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	return nil
}

// ReportUsage returns the counter of kind for the period containing at.
// It never mutates state.
func (t *Tracker) ReportUsage(ctx context.Context, tenantID string, kind admission.QuotaKind, at time.Time) (Usage, error) {
	if !kind.Valid() {
		return Usage{}, fmt.Errorf("%w: %q", admission.ErrUnknownQuotaKind, kind)
	}

	eff, err := t.plans.Effective(ctx, tenantID)
	if err != nil {
		return Usage{}, err
	}

	ceiling, ok := eff.Limits.Ceiling(kind)
	if !ok {
		return Usage{}, fmt.Errorf("%w: tier %q has no ceiling for %s", admission.ErrConfigInvalid, eff.Tier, kind)
	}

	p := kind.Periodicity()
	return t.usageAt(ctx, tenantID, kind, ceiling, PeriodKey(p, at), NextReset(p, at))
}

// UsageHistory returns one Usage per period overlapping [from, to], oldest
// first. Cumulative kinds return their single running total. At most
// MaxHistoryPeriods periods may be requested.
func (t *Tracker) UsageHistory(ctx context.Context, tenantID string, kind admission.QuotaKind, from, to time.Time) ([]Usage, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", admission.ErrUnknownQuotaKind, kind)
	}

	p := kind.Periodicity()
	if p == admission.Cumulative {
		u, err := t.ReportUsage(ctx, tenantID, kind, to)
		if err != nil {
			return nil, err
		}
		return []Usage{u}, nil
	}

	starts, err := periodStarts(p, from, to)
	if err != nil {
		return nil, err
	}

	eff, err := t.plans.Effective(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ceiling, ok := eff.Limits.Ceiling(kind)
	if !ok {
		return nil, fmt.Errorf("%w: tier %q has no ceiling for %s", admission.ErrConfigInvalid, eff.Tier, kind)
	}

	history := make([]Usage, 0, len(starts))
	for _, start := range starts {
		u, err := t.usageAt(ctx, tenantID, kind, ceiling, PeriodKey(p, start), NextReset(p, start))
		if err != nil {
			return nil, err
		}
		history = append(history, u)
	}
	return history, nil
}

func (t *Tracker) usageAt(ctx context.Context, tenantID string, kind admission.QuotaKind, ceiling int64, period string, resetAt time.Time) (Usage, error) {
	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	used, err := t.store.Get(sctx, t.keys.Counter(tenantID, string(kind), period))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage: %w", err)
	}

	u := Usage{
		TenantID: tenantID,
		Kind:     kind,
		Period:   period,
		Used:     used,
		Limit:    ceiling,
		ResetAt:  resetAt,
	}
	switch {
	case ceiling == plan.Unlimited:
		u.Unlimited = true
		u.Remaining = admission.FailOpenRemaining
	case used < ceiling:
		u.Remaining = ceiling - used
	}
	return u, nil
}

// ceiling resolves the effective ceiling, logging configuration gaps.
func (t *Tracker) ceiling(ctx context.Context, tenantID string, kind admission.QuotaKind) (int64, bool) {
	if !kind.Valid() {
		t.logger.Error("Unknown quota kind, request unmetered",
			"event", "unmetered",
			"tenant_id", tenantID,
			"quota_kind", kind,
		)
		return 0, false
	}

	eff, err := t.plans.Effective(ctx, tenantID)
	if err != nil {
		t.logger.Error("Plan lookup failed, request unmetered",
			"event", "unmetered",
			"tenant_id", tenantID,
			"quota_kind", kind,
			"error", err,
		)
		return 0, false
	}

	c, ok := eff.Limits.Ceiling(kind)
	if !ok {
		t.logger.Error("Plan has no ceiling for quota kind, request unmetered",
			"event", "unmetered",
			"tenant_id", tenantID,
			"tier", eff.Tier,
			"quota_kind", kind,
		)
		return 0, false
	}
	return c, true
}

// maybeAlert emits the highest threshold crossed by moving from before to
// alert.Used. Nothing is emitted when no threshold was crossed.
func (t *Tracker) maybeAlert(ctx context.Context, alert admission.QuotaAlert, before int64) {
	if t.alerts == nil || alert.Limit <= 0 {
		return
	}

	for _, th := range []struct {
		severity admission.Severity
		fraction float64
	}{
		{admission.SeverityCritical, t.critical},
		{admission.SeverityWarning, t.warning},
	} {
		mark := th.fraction * float64(alert.Limit)
		if float64(before) < mark && float64(alert.Used) >= mark {
			alert.Severity = th.severity
			alert.Threshold = th.fraction
			t.alerts.QuotaAlert(ctx, alert)
			return
		}
	}
}
