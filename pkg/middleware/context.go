package middleware

import (
	"context"

	"keywordlab/gatekeeper/pkg/admission"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"

	// CallerKey stores an admission.Caller placed by an upstream auth layer.
	CallerKey contextKey = "caller"

	// VerdictKey stores the admission verdict for the request.
	VerdictKey contextKey = "verdict"
)

// WithCaller attaches an authenticated caller to ctx. The Admission
// middleware prefers it over identity headers.
func WithCaller(ctx context.Context, caller admission.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller returns the caller stored on ctx.
func GetCaller(ctx context.Context) (admission.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(admission.Caller)
	return caller, ok
}

// GetVerdict returns the admission verdict stored on ctx by Admission.
func GetVerdict(ctx context.Context) (admission.Verdict, bool) {
	v, ok := ctx.Value(VerdictKey).(admission.Verdict)
	return v, ok
}
