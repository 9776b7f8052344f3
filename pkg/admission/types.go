package admission

import (
	"fmt"
	"time"
)

// FailOpenRemaining is reported as the remaining capacity when a check could
// not consult the counter store and the request was allowed anyway.
const FailOpenRemaining int64 = 1<<31 - 1

// Caller identifies who is making a request and through which endpoint.
// It is rebuilt for every request from the upstream auth layer.
type Caller struct {
	// TenantID is the organization that owns the subscription.
	TenantID string

	// UserID is the member of the tenant issuing the request.
	UserID string

	// Endpoint is the originating endpoint name (e.g. "seeds.create").
	Endpoint string
}

// Mechanism names the admission mechanism that produced a verdict.
type Mechanism string

const (
	// MechanismRate is the sliding-window rate limiter.
	MechanismRate Mechanism = "rate"

	// MechanismQuota is the period quota tracker.
	MechanismQuota Mechanism = "quota"
)

// Periodicity describes when a quota counter starts over.
type Periodicity int

const (
	// Daily counters roll over at 00:00 UTC.
	Daily Periodicity = iota

	// Monthly counters roll over on the first day of the UTC month.
	Monthly

	// Cumulative counters never roll over.
	Cumulative
)

// String returns the periodicity name.
func (p Periodicity) String() string {
	switch p {
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	case Cumulative:
		return "cumulative"
	default:
		return fmt.Sprintf("periodicity(%d)", int(p))
	}
}

// QuotaKind is a metered resource with a fixed periodicity.
type QuotaKind string

const (
	// DailySeeds counts seed keyword expansions per UTC day.
	DailySeeds QuotaKind = "daily_seeds"

	// DailySerpCalls counts SERP fetches per UTC day.
	DailySerpCalls QuotaKind = "daily_serp_calls"

	// DailyExports counts exports per UTC day.
	DailyExports QuotaKind = "daily_exports"

	// MonthlySerpCalls counts SERP fetches per UTC month.
	MonthlySerpCalls QuotaKind = "monthly_serp_calls"

	// MaxKeywords caps the number of stored keywords.
	MaxKeywords QuotaKind = "max_keywords"

	// MaxClusters caps the number of stored clusters.
	MaxClusters QuotaKind = "max_clusters"

	// MaxBriefs caps the number of generated briefs.
	MaxBriefs QuotaKind = "max_briefs"
)

var kindPeriodicity = map[QuotaKind]Periodicity{
	DailySeeds:       Daily,
	DailySerpCalls:   Daily,
	DailyExports:     Daily,
	MonthlySerpCalls: Monthly,
	MaxKeywords:      Cumulative,
	MaxClusters:      Cumulative,
	MaxBriefs:        Cumulative,
}

// QuotaKinds returns every known quota kind in a stable order.
func QuotaKinds() []QuotaKind {
	return []QuotaKind{
		DailySeeds,
		DailySerpCalls,
		DailyExports,
		MonthlySerpCalls,
		MaxKeywords,
		MaxClusters,
		MaxBriefs,
	}
}

// Valid reports whether k is a known quota kind.
func (k QuotaKind) Valid() bool {
	_, ok := kindPeriodicity[k]
	return ok
}

// Periodicity returns the kind's rollover period. Unknown kinds report Daily;
// callers should check Valid first.
func (k QuotaKind) Periodicity() Periodicity {
	return kindPeriodicity[k]
}

// ParseQuotaKind converts a configuration string into a QuotaKind.
func ParseQuotaKind(s string) (QuotaKind, error) {
	k := QuotaKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownQuotaKind, s)
	}
	return k, nil
}

// Reservation records quota units consumed by a successful check so that a
// later denial in the same admission call can hand them back.
type Reservation struct {
	// Key is the counter key the units were added to.
	Key string

	// Kind is the quota kind of the counter.
	Kind QuotaKind

	// Amount is the number of units reserved.
	Amount int64
}

// Verdict is the outcome of an admission check.
// It is populated on both the allow and the deny path so advisory headers
// can always be emitted.
type Verdict struct {
	// Allowed indicates if the request may proceed.
	Allowed bool

	// Limit is the ceiling of the constraint that produced this verdict.
	Limit int64

	// Remaining is the capacity left after this request. Never negative.
	Remaining int64

	// ResetAt is when the limiting constraint relaxes. Zero for cumulative quotas.
	ResetAt time.Time

	// DeniedBy names the mechanism that denied the request (empty when allowed).
	DeniedBy Mechanism

	// QuotaKind is the quota kind that denied the request, or the tightest
	// quota on an allowed verdict.
	QuotaKind QuotaKind

	// Degraded is set when the counter store could not be consulted and the
	// request was allowed by the fail-open policy.
	Degraded bool

	// Unmetered is set when no limit could be resolved for the request
	// (unknown tenant, plan or quota kind) and it was allowed without metering.
	Unmetered bool

	// Reason is a short human readable explanation.
	Reason string

	// Reservation is set when quota units were consumed.
	Reservation *Reservation
}

// RetryAfter returns how long a denied caller should wait before retrying.
func (v Verdict) RetryAfter(now time.Time) time.Duration {
	if v.Allowed || v.ResetAt.IsZero() {
		return 0
	}
	if d := v.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Err returns a *LimitError for a denied verdict and nil otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	base := ErrRateLimitExceeded
	if v.DeniedBy == MechanismQuota {
		base = ErrQuotaExceeded
	}
	return &LimitError{
		Mechanism: v.DeniedBy,
		QuotaKind: v.QuotaKind,
		Limit:     v.Limit,
		Remaining: v.Remaining,
		ResetAt:   v.ResetAt,
		Err:       base,
	}
}

// FailOpen returns the verdict used when a mechanism could not reach the
// counter store.
func FailOpen(mechanism Mechanism, reason string) Verdict {
	return Verdict{
		Allowed:   true,
		Remaining: FailOpenRemaining,
		Degraded:  true,
		Reason:    fmt.Sprintf("%s check degraded: %s", mechanism, reason),
	}
}

// Unmetered returns the verdict used when no limit applies to a request
// because configuration could not be resolved.
func Unmetered(reason string) Verdict {
	return Verdict{
		Allowed:   true,
		Remaining: FailOpenRemaining,
		Unmetered: true,
		Reason:    reason,
	}
}

// Outcome classifies a verdict for metrics and the audit log.
type Outcome string

const (
	OutcomeAllowed   Outcome = "allowed"
	OutcomeDenied    Outcome = "denied"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeUnmetered Outcome = "unmetered"
)

// Outcome returns the verdict's classification. A denial always reports
// OutcomeDenied; degraded takes precedence over unmetered.
func (v Verdict) Outcome() Outcome {
	switch {
	case !v.Allowed:
		return OutcomeDenied
	case v.Degraded:
		return OutcomeDegraded
	case v.Unmetered:
		return OutcomeUnmetered
	default:
		return OutcomeAllowed
	}
}

// Decision is one admission call as recorded after the fact.
type Decision struct {
	At        time.Time
	Caller    Caller
	Operation string
	Amount    int64
	Verdict   Verdict
}
