package metrics

import (
	"context"
	"sync"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// maxReasonLabels bounds the distinct values of the unmetered reason label.
const maxReasonLabels = 200

// Collector owns the gatekeeper's Prometheus metrics.
//
// It satisfies guard.Observer and quota.AlertSink, so it can be handed
// directly to the guard and the quota tracker.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	admission *AdmissionMetrics
	audit     *AuditMetrics

	// Unmetered reasons are free text; cap them before they become labels.
	reasons *CardinalityLimiter
}

// NewCollector creates a collector registered on registry. If registry is
// nil a private registry is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	g, _ := guard.New(guard.Config{..., Observer: collector})
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		admission: NewAdmissionMetrics(cfg, registry),
		audit:     NewAuditMetrics(cfg, registry),
		reasons:   NewCardinalityLimiter(maxReasonLabels),
	}
}

// ObserveCheck records the result of one mechanism check.
func (c *Collector) ObserveCheck(mechanism admission.Mechanism, v admission.Verdict, elapsed time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.admission.checkDuration.WithLabelValues(string(mechanism)).Observe(elapsed.Seconds())
	if v.Degraded {
		c.admission.degradedTotal.WithLabelValues(string(mechanism)).Inc()
	}
	if v.Unmetered {
		reason := v.Reason
		if !c.reasons.Allow(reason) {
			reason = "other"
		}
		c.admission.unmeteredTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveDecision records the combined verdict of one admission call.
func (c *Collector) ObserveDecision(operation string, v admission.Verdict) {
	if !c.config.Enabled {
		return
	}

	c.admission.decisionsTotal.WithLabelValues(operation, string(v.Outcome())).Inc()
	if !v.Allowed {
		kind := string(v.QuotaKind)
		if kind == "" {
			kind = "none"
		}
		c.admission.denialsTotal.WithLabelValues(string(v.DeniedBy), kind).Inc()
	}
}

// QuotaAlert counts a threshold crossing.
func (c *Collector) QuotaAlert(_ context.Context, alert admission.QuotaAlert) {
	if !c.config.Enabled {
		return
	}

	c.admission.quotaAlertsTotal.WithLabelValues(string(alert.Severity)).Inc()
}

// AuditDropped counts an audit entry discarded because the recorder's
// buffer was full. It is meant for audit.AsyncConfig.OnDrop.
func (c *Collector) AuditDropped() {
	if !c.config.Enabled {
		return
	}

	c.audit.droppedTotal.Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values it admits.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already known or there is still room for it.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
