// Package server provides the gatekeeper HTTP server.
//
// # Routes
//
//	POST /v1/admit          decide one admission call
//	GET  /v1/usage          read quota counters
//	GET  /v1/usage/report   summarize every quota kind with alerts
//	GET  /healthz           liveness
//	GET  /readyz            readiness (counter store ping)
//	GET  /metrics           Prometheus metrics
//	GET  /version           build information
//
// Probe and metrics paths follow the telemetry config.
//
// # Decision API
//
//	POST /v1/admit
//	{"tenant_id": "acme", "user_id": "u1", "operation": "serp.fetch", "amount": 1}
//
//	HTTP/1.1 200 OK
//	X-RateLimit-Limit: 50
//	X-RateLimit-Remaining: 49
//	X-RateLimit-Reset: 1767312000
//
//	{"allowed": true, "outcome": "allowed", "limit": 50, "remaining": 49,
//	 "reset_at": "2026-01-02T00:00:00Z", "quota_kind": "daily_serp_calls"}
//
// A denial returns the same body with status 429 and a Retry-After header.
// A degraded or unmetered allow is still 200; its outcome says which.
//
// # Usage API
//
//	GET /v1/usage?tenant=acme&kind=daily_seeds
//	GET /v1/usage?tenant=acme&kind=daily_seeds&from=2026-01-01&to=2026-01-31
//
// Without a range the current period is returned; with one, every period
// overlapping it, oldest first.
//
//	GET /v1/usage/report?tenant=acme&from=2026-01-01&to=2026-01-31
//
// The report covers every quota kind of the tenant's plan over the days from
// through to (default: the last seven days), with total, average, max, min
// and trend per kind, and the threshold alerts raised in the range. A store
// outage or timeout answers 503.
//
// # Lifecycle
//
//	srv, err := server.NewServer(&cfg.Server, server.Options{Guard: g, Usage: tracker})
//	err = srv.Start(ctx) // returns after ctx is done and shutdown completes
package server
