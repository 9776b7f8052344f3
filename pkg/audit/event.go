package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"keywordlab/gatekeeper/pkg/admission"
)

// ErrSinkClosed is returned by sinks after Close.
var ErrSinkClosed = errors.New("audit sink closed")

// Event is one recorded admission decision.
type Event struct {
	ID        string
	At        time.Time
	TenantID  string
	UserID    string
	Endpoint  string
	Operation string
	Amount    int64

	Outcome   admission.Outcome
	DeniedBy  admission.Mechanism
	QuotaKind admission.QuotaKind
	Limit     int64
	Remaining int64

	// ResetAt is zero for cumulative quotas.
	ResetAt time.Time
	Reason  string
}

// NewEvent builds an event from a decision.
func NewEvent(d admission.Decision) *Event {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	return &Event{
		ID:        uuid.New().String(),
		At:        at.UTC(),
		TenantID:  d.Caller.TenantID,
		UserID:    d.Caller.UserID,
		Endpoint:  d.Caller.Endpoint,
		Operation: d.Operation,
		Amount:    d.Amount,
		Outcome:   d.Verdict.Outcome(),
		DeniedBy:  d.Verdict.DeniedBy,
		QuotaKind: d.Verdict.QuotaKind,
		Limit:     d.Verdict.Limit,
		Remaining: d.Verdict.Remaining,
		ResetAt:   d.Verdict.ResetAt,
		Reason:    d.Verdict.Reason,
	}
}

// Alert is one recorded quota threshold crossing.
type Alert struct {
	ID        string
	At        time.Time
	TenantID  string
	Kind      admission.QuotaKind
	Period    string
	Severity  admission.Severity
	Threshold float64
	Used      int64
	Limit     int64
}

// NewAlert builds an alert record.
func NewAlert(a admission.QuotaAlert) *Alert {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	return &Alert{
		ID:        uuid.New().String(),
		At:        at.UTC(),
		TenantID:  a.TenantID,
		Kind:      a.Kind,
		Period:    a.Period,
		Severity:  a.Severity,
		Threshold: a.Threshold,
		Used:      a.Used,
		Limit:     a.Limit,
	}
}

// QuotaAlert converts the record back into the alert it was built from.
func (a *Alert) QuotaAlert() admission.QuotaAlert {
	return admission.QuotaAlert{
		TenantID:  a.TenantID,
		Kind:      a.Kind,
		Period:    a.Period,
		Severity:  a.Severity,
		Threshold: a.Threshold,
		Used:      a.Used,
		Limit:     a.Limit,
		At:        a.At,
	}
}

// Query filters events and alerts. Zero fields match everything.
// Results are ordered newest first.
type Query struct {
	TenantID string

	// Outcome filters events only.
	Outcome admission.Outcome

	// From is inclusive, To is exclusive.
	From time.Time
	To   time.Time

	// Limit caps the number of results. Default: 100
	Limit int
}

// DefaultQueryLimit applies when Query.Limit is zero.
const DefaultQueryLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

func (q Query) matches(tenantID string, at time.Time) bool {
	if q.TenantID != "" && tenantID != q.TenantID {
		return false
	}
	if !q.From.IsZero() && at.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !at.Before(q.To) {
		return false
	}
	return true
}
