package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/telemetry/logging"
	"keywordlab/gatekeeper/pkg/telemetry/tracing"
)

// Identity headers read when no caller was placed on the context.
const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

// Admitter is the subset of guard.Guard used by the middleware.
type Admitter interface {
	AdmitAmount(ctx context.Context, caller admission.Caller, operation string, amount int64) admission.Verdict
}

// OperationFunc maps a request to the admission operation it performs and
// the quota units it consumes. An empty operation skips admission; an
// amount of zero uses the operation's configured amount.
type OperationFunc func(r *http.Request) (operation string, amount int64)

// ByPattern names the operation after the matched ServeMux pattern, falling
// back to the request path.
func ByPattern(r *http.Request) (string, int64) {
	if r.Pattern != "" {
		return r.Pattern, 0
	}
	return r.URL.Path, 0
}

// Admission runs every request through the guard before calling next.
//
// The caller comes from the context (see WithCaller) or from the
// X-Tenant-ID and X-User-ID headers. Requests without a tenant pass through
// untouched. Every admitted response carries X-RateLimit-* headers; a
// denial is answered with 429 and never reaches next.
func Admission(g Admitter, resolve OperationFunc) func(http.Handler) http.Handler {
	if resolve == nil {
		resolve = ByPattern
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := GetCaller(r.Context())
			if !ok {
				caller = admission.Caller{
					TenantID: r.Header.Get(TenantHeader),
					UserID:   r.Header.Get(UserHeader),
				}
			}
			if caller.TenantID == "" {
				next.ServeHTTP(w, r)
				return
			}

			operation, amount := resolve(r)
			if operation == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := logging.WithTenant(r.Context(), caller.TenantID)
			if caller.UserID != "" {
				ctx = logging.WithUser(ctx, caller.UserID)
			}

			span := tracing.SpanFromContext(ctx)
			tracing.SetCallerAttributes(span, caller, operation, amount)

			v := g.AdmitAmount(ctx, caller, operation, amount)
			tracing.SetVerdictAttributes(span, v)
			if !v.Allowed {
				slog.InfoContext(ctx, "Request denied",
					"operation", operation,
					"denied_by", v.DeniedBy,
					"quota_kind", v.QuotaKind,
					"reason", v.Reason,
				)
				WriteDenial(w, v, time.Now())
				return
			}

			SetLimitHeaders(w.Header(), v)
			ctx = context.WithValue(ctx, VerdictKey, v)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
