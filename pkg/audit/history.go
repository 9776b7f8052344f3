package audit

import (
	"context"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

// AlertHistory serves a sink's recorded alerts to usage reports.
// It implements quota.AlertHistory.
type AlertHistory struct {
	Sink Sink
}

// QuotaAlerts returns the alerts of tenantID recorded in [from, to), newest
// first.
func (h AlertHistory) QuotaAlerts(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]admission.QuotaAlert, error) {
	rows, err := h.Sink.Alerts(ctx, Query{TenantID: tenantID, From: from, To: to, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]admission.QuotaAlert, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.QuotaAlert())
	}
	return out, nil
}
