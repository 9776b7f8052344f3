// Package metrics provides Prometheus metrics for the gatekeeper.
//
// # Overview
//
// A Collector owns a private registry and the admission and audit metric
// families. It plugs into the rest of the service through three hooks:
//
//   - guard.Observer: ObserveCheck per mechanism, ObserveDecision per call
//   - quota.AlertSink: QuotaAlert per threshold crossing
//   - audit.AsyncConfig.OnDrop: AuditDropped per discarded audit entry
//
// # Metrics
//
// With the default "gatekeeper" namespace:
//
//	gatekeeper_admission_decisions_total{operation,outcome}
//	gatekeeper_admission_denials_total{mechanism,quota_kind}
//	gatekeeper_admission_degraded_total{mechanism}
//	gatekeeper_admission_unmetered_total{reason}
//	gatekeeper_admission_check_duration_seconds{mechanism}
//	gatekeeper_admission_quota_alerts_total{severity}
//	gatekeeper_audit_events_dropped_total
//
// Outcome is one of allowed, denied, degraded or unmetered. A rate denial
// carries quota_kind="none".
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle("/metrics", collector.Handler())
//
// When the metrics config is disabled every recording method is a no-op and
// the handler serves an empty registry.
package metrics
