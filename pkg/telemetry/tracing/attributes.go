package tracing

import (
	"keywordlab/gatekeeper/pkg/admission"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPStatus = attribute.Key("http.response.status_code")

	AttrTenantID  = attribute.Key("gatekeeper.tenant_id")
	AttrUserID    = attribute.Key("gatekeeper.user_id")
	AttrOperation = attribute.Key("gatekeeper.operation")
	AttrAmount    = attribute.Key("gatekeeper.amount")
	AttrOutcome   = attribute.Key("gatekeeper.outcome")
	AttrDeniedBy  = attribute.Key("gatekeeper.denied_by")
	AttrQuotaKind = attribute.Key("gatekeeper.quota_kind")
	AttrLimit     = attribute.Key("gatekeeper.limit")
	AttrRemaining = attribute.Key("gatekeeper.remaining")
)

// SetCallerAttributes records who is being admitted.
func SetCallerAttributes(span trace.Span, c admission.Caller, operation string, amount int64) {
	attrs := []attribute.KeyValue{
		AttrTenantID.String(c.TenantID),
		AttrOperation.String(operation),
		AttrAmount.Int64(amount),
	}
	if c.UserID != "" {
		attrs = append(attrs, AttrUserID.String(c.UserID))
	}
	span.SetAttributes(attrs...)
}

// SetVerdictAttributes records an admission verdict. Degraded and unmetered
// verdicts also add an event carrying the reason.
func SetVerdictAttributes(span trace.Span, v admission.Verdict) {
	outcome := v.Outcome()
	attrs := []attribute.KeyValue{
		AttrOutcome.String(string(outcome)),
		AttrLimit.Int64(v.Limit),
		AttrRemaining.Int64(v.Remaining),
	}
	if !v.Allowed {
		attrs = append(attrs, AttrDeniedBy.String(string(v.DeniedBy)))
		if v.QuotaKind != "" {
			attrs = append(attrs, AttrQuotaKind.String(string(v.QuotaKind)))
		}
	}
	span.SetAttributes(attrs...)

	if outcome == admission.OutcomeDegraded || outcome == admission.OutcomeUnmetered {
		span.AddEvent("admission."+string(outcome), trace.WithAttributes(attribute.String("reason", v.Reason)))
	}
}
