package admission

import (
	"errors"
	"fmt"
	"time"
)

// Error types for policy denials, infrastructure failures and configuration gaps.
var (
	// ErrRateLimitExceeded is returned when a rate limit denies a request.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrQuotaExceeded is returned when a quota ceiling denies a request.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable is returned when the counter store cannot be reached.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrUnknownQuotaKind is returned for quota kinds outside the enumeration.
	ErrUnknownQuotaKind = errors.New("unknown quota kind")

	// ErrUnknownPlan is returned when a tenant references a plan that does not exist.
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrTenantNotFound is returned when a tenant has no subscription.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrConfigInvalid is returned when admission configuration is invalid.
	ErrConfigInvalid = errors.New("invalid admission configuration")
)

// LimitError carries the details of a policy denial so callers can back off.
type LimitError struct {
	// Mechanism is the mechanism that denied the request.
	Mechanism Mechanism

	// QuotaKind is set for quota denials.
	QuotaKind QuotaKind

	// Limit is the configured ceiling.
	Limit int64

	// Remaining is the capacity left (usually 0).
	Remaining int64

	// ResetAt is when the constraint relaxes.
	ResetAt time.Time

	// Err is ErrRateLimitExceeded or ErrQuotaExceeded.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	if e.Mechanism == MechanismQuota {
		return fmt.Sprintf("%v: %s limit=%d remaining=%d reset_at=%s",
			e.Err, e.QuotaKind, e.Limit, e.Remaining, formatReset(e.ResetAt))
	}
	return fmt.Sprintf("%v: limit=%d remaining=%d reset_at=%s",
		e.Err, e.Limit, e.Remaining, formatReset(e.ResetAt))
}

// Unwrap returns the underlying sentinel error.
func (e *LimitError) Unwrap() error {
	return e.Err
}

func formatReset(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
