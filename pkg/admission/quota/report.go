package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

// MaxReportAlerts caps the alerts attached to one report.
const MaxReportAlerts = 500

// AlertHistory lists the threshold alerts recorded for a tenant in
// [from, to), newest first.
type AlertHistory interface {
	QuotaAlerts(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]admission.QuotaAlert, error)
}

// Trend is the direction of usage across a report range.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// KindReport summarizes one quota kind over a report range.
type KindReport struct {
	Kind    admission.QuotaKind `json:"kind"`
	Periods []Usage             `json:"periods"`
	Total   int64               `json:"total"`
	Average float64             `json:"average"`
	Max     int64               `json:"max"`
	Min     int64               `json:"min"`
	Trend   Trend               `json:"trend"`
}

// ReportAlert is a threshold alert as it appears in a report.
type ReportAlert struct {
	Kind      admission.QuotaKind `json:"kind"`
	Period    string              `json:"period"`
	Severity  admission.Severity  `json:"severity"`
	Threshold float64             `json:"threshold"`
	Used      int64               `json:"used"`
	Limit     int64               `json:"limit"`
	Percent   float64             `json:"percent"`
	At        time.Time           `json:"at"`
}

// Report is a tenant's usage of every quota kind over a date range, with
// the alerts raised in that range.
type Report struct {
	TenantID string        `json:"tenant_id"`
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	Kinds    []KindReport  `json:"kinds"`
	Alerts   []ReportAlert `json:"alerts"`

	// AlertsUnavailable is set when the alert history could not be read.
	AlertsUnavailable bool `json:"alerts_unavailable,omitempty"`
}

// Report builds the usage report of tenantID for the days from through to,
// both inclusive. Kinds the tenant's plan leaves out are skipped. Alerts
// come from the configured AlertHistory; a failing history marks the report
// instead of failing it.
func (t *Tracker) Report(ctx context.Context, tenantID string, from, to time.Time) (Report, error) {
	if to.Before(from) {
		return Report{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	start := PeriodStart(admission.Daily, from)
	end := NextReset(admission.Daily, to)

	rep := Report{
		TenantID: tenantID,
		From:     start,
		To:       end,
		Kinds:    []KindReport{},
		Alerts:   []ReportAlert{},
	}

	for _, kind := range admission.QuotaKinds() {
		periods, err := t.UsageHistory(ctx, tenantID, kind, from, to)
		if err != nil {
			if errors.Is(err, admission.ErrConfigInvalid) {
				continue
			}
			return Report{}, err
		}
		rep.Kinds = append(rep.Kinds, summarize(kind, periods))
	}

	if t.history == nil {
		return rep, nil
	}
	alerts, err := t.history.QuotaAlerts(ctx, tenantID, start, end, MaxReportAlerts)
	if err != nil {
		t.logger.Warn("Alert history unavailable, report has no alerts",
			"tenant_id", tenantID,
			"error", err,
		)
		rep.AlertsUnavailable = true
		return rep, nil
	}
	for _, a := range alerts {
		rep.Alerts = append(rep.Alerts, ReportAlert{
			Kind:      a.Kind,
			Period:    a.Period,
			Severity:  a.Severity,
			Threshold: a.Threshold,
			Used:      a.Used,
			Limit:     a.Limit,
			Percent:   a.Percent(),
			At:        a.At,
		})
	}
	return rep, nil
}

// summarize computes totals and the trend of periods, oldest first. The
// trend compares the last period with the first.
func summarize(kind admission.QuotaKind, periods []Usage) KindReport {
	r := KindReport{Kind: kind, Periods: periods, Trend: TrendStable}
	if len(periods) == 0 {
		return r
	}

	r.Min, r.Max = periods[0].Used, periods[0].Used
	for _, u := range periods {
		r.Total += u.Used
		r.Min = min(r.Min, u.Used)
		r.Max = max(r.Max, u.Used)
	}
	r.Average = float64(r.Total) / float64(len(periods))

	first, last := periods[0].Used, periods[len(periods)-1].Used
	switch {
	case last > first:
		r.Trend = TrendIncreasing
	case last < first:
		r.Trend = TrendDecreasing
	}
	return r
}
