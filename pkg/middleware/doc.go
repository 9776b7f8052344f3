// Package middleware provides the HTTP middleware of the gatekeeper service.
//
// # Middleware Chain
//
//	handler = Recovery(RequestID(Logging(Admission(guard, resolve)(mux))))
//
// Admission sits innermost so denials are logged with the request ID.
//
// # Admission
//
// Admission resolves the caller from the context (WithCaller, for an
// upstream auth layer) or from the X-Tenant-ID and X-User-ID headers, asks
// the guard, and either forwards the request or answers 429:
//
//	HTTP/1.1 429 Too Many Requests
//	X-RateLimit-Limit: 10
//	X-RateLimit-Remaining: 0
//	X-RateLimit-Reset: 1767312000
//	Retry-After: 3600
//
//	{"error": {"type": "quota_exceeded", "message": "...", "denied_by": "quota",
//	  "quota_kind": "daily_seeds", "limit": 10, "remaining": 0,
//	  "reset_at": "2026-01-02T00:00:00Z", "retry_after_seconds": 3600}}
//
// X-RateLimit-* headers describe the most restrictive constraint and are set
// on every admitted response too. X-RateLimit-Reset and Retry-After are
// omitted for cumulative quotas, which never reset.
package middleware
