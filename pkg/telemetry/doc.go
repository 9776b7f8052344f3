// Package telemetry groups the observability packages used by Gatekeeper.
//
// # Components
//
//   - logging: structured slog logging with request-scoped fields
//   - metrics: Prometheus collectors for admission decisions and audit drops
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness checks, including the counter store ping
//
// Each component is configured from config.TelemetryConfig and wired by the
// run command. None of them sit on the admission decision path: a failing
// exporter or a full metrics registry never changes a verdict.
package telemetry
