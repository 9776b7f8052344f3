package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// TenantKey is the context key for tenant identifiers.
	TenantKey contextKey = "tenant_id"

	// UserKey is the context key for user identifiers.
	UserKey contextKey = "user_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithTenant adds a tenant identifier to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantKey, tenantID)
}

// GetTenant retrieves the tenant identifier from the context.
func GetTenant(ctx context.Context) string {
	return stringValue(ctx, TenantKey)
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserKey, userID)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	return stringValue(ctx, UserKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextFields returns the identifiers on ctx as log attributes.
func contextFields(ctx context.Context) []slog.Attr {
	var fields []slog.Attr
	for _, key := range []contextKey{RequestIDKey, TenantKey, UserKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, slog.String(string(key), v))
		}
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields, slog.String("trace_id", sc.TraceID().String()))
		}
	}
	return fields
}
