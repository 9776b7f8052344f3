package metrics

import (
	"keywordlab/gatekeeper/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// checkDurationBuckets cover one store round trip, which is capped by the
// admission timeout (50ms by default).
var checkDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1}

// AdmissionMetrics tracks admission decisions.
//
// Metrics:
//   - <ns>_admission_decisions_total: decisions by operation and outcome
//   - <ns>_admission_denials_total: denials by mechanism and quota kind
//   - <ns>_admission_degraded_total: fail-open checks by mechanism
//   - <ns>_admission_unmetered_total: checks allowed without a resolved limit
//   - <ns>_admission_check_duration_seconds: per-mechanism check latency
//   - <ns>_admission_quota_alerts_total: threshold crossings by severity
type AdmissionMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	denialsTotal     *prometheus.CounterVec
	degradedTotal    *prometheus.CounterVec
	unmeteredTotal   *prometheus.CounterVec
	checkDuration    *prometheus.HistogramVec
	quotaAlertsTotal *prometheus.CounterVec
}

// NewAdmissionMetrics creates and registers admission metrics with the provided registry.
func NewAdmissionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AdmissionMetrics {
	am := &AdmissionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"operation", "outcome"},
		),

		denialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "denials_total",
				Help:      "Total number of denied admission calls",
			},
			[]string{"mechanism", "quota_kind"},
		),

		degradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "degraded_total",
				Help:      "Total number of checks allowed because the counter store was unavailable",
			},
			[]string{"mechanism"},
		),

		unmeteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "unmetered_total",
				Help:      "Total number of checks allowed because no limit could be resolved",
			},
			[]string{"reason"},
		),

		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "check_duration_seconds",
				Help:      "Duration of a single admission mechanism check in seconds",
				Buckets:   checkDurationBuckets,
			},
			[]string{"mechanism"},
		),

		quotaAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "quota_alerts_total",
				Help:      "Total number of quota threshold alerts",
			},
			[]string{"severity"},
		),
	}

	registry.MustRegister(
		am.decisionsTotal,
		am.denialsTotal,
		am.degradedTotal,
		am.unmeteredTotal,
		am.checkDuration,
		am.quotaAlertsTotal,
	)

	return am
}

// AuditMetrics tracks the decision log.
type AuditMetrics struct {
	droppedTotal prometheus.Counter
}

// NewAuditMetrics creates and registers audit metrics with the provided registry.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total number of audit entries dropped because the buffer was full",
		}),
	}

	registry.MustRegister(am.droppedTotal)

	return am
}
