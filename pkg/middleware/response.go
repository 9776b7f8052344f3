package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

// Advisory response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request. The admission fields are set only
// for denials.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`

	DeniedBy   admission.Mechanism `json:"denied_by,omitempty"`
	QuotaKind  admission.QuotaKind `json:"quota_kind,omitempty"`
	Limit      int64               `json:"limit,omitempty"`
	Remaining  *int64              `json:"remaining,omitempty"`
	ResetAt    *time.Time          `json:"reset_at,omitempty"`
	RetryAfter int64               `json:"retry_after_seconds,omitempty"`
}

// SetLimitHeaders writes the X-RateLimit-* headers for v. The reset header
// is omitted for constraints that never reset.
func SetLimitHeaders(h http.Header, v admission.Verdict) {
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(v.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(v.Remaining, 10))
	if !v.ResetAt.IsZero() {
		h.Set(HeaderRateLimitReset, strconv.FormatInt(v.ResetAt.Unix(), 10))
	}
}

// WriteDenial writes a 429 response for a denied verdict, including the
// Retry-After header when the constraint resets.
func WriteDenial(w http.ResponseWriter, v admission.Verdict, now time.Time) {
	SetLimitHeaders(w.Header(), v)

	detail := ErrorDetail{
		Type:      errorType(v),
		Message:   v.Err().Error(),
		DeniedBy:  v.DeniedBy,
		QuotaKind: v.QuotaKind,
		Limit:     v.Limit,
		Remaining: &v.Remaining,
	}
	if !v.ResetAt.IsZero() {
		reset := v.ResetAt.UTC()
		detail.ResetAt = &reset
	}
	detail.RetryAfter = SetRetryAfter(w.Header(), v, now)

	writeJSON(w, http.StatusTooManyRequests, ErrorBody{Error: detail})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Type: errType, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorType(v admission.Verdict) string {
	if v.DeniedBy == admission.MechanismQuota {
		return "quota_exceeded"
	}
	return "rate_limit_exceeded"
}

// SetRetryAfter writes the Retry-After header for a denied verdict and
// returns the value in seconds. Seconds are rounded up so clients never
// retry before the reset. Nothing is written when the constraint never resets.
func SetRetryAfter(h http.Header, v admission.Verdict, now time.Time) int64 {
	d := v.RetryAfter(now)
	if d <= 0 {
		return 0
	}
	secs := int64(math.Ceil(d.Seconds()))
	h.Set(HeaderRetryAfter, strconv.FormatInt(secs, 10))
	return secs
}
