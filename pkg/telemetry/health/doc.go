// Package health provides liveness and readiness probes for the gatekeeper.
//
// # Endpoints
//
//   - /healthz: liveness, 200 while the process is running
//   - /readyz: readiness, 200 when every registered check passes, 503 otherwise
//   - /version: build information
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("store", health.PingCheck(counterStore))
//
//	mux.HandleFunc("GET /healthz", checker.LivenessHandler())
//	mux.HandleFunc("GET /readyz", checker.ReadinessHandler())
//
// Readiness checks run concurrently, each under its own timeout. A check that
// ignores its context is abandoned once the timeout passes and reported as
// unhealthy.
package health
