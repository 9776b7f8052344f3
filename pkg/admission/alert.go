package admission

import "time"

// Severity grades a quota alert.
type Severity string

const (
	// SeverityWarning is raised when usage first reaches the warning threshold.
	SeverityWarning Severity = "warning"

	// SeverityCritical is raised when usage first reaches the critical threshold.
	SeverityCritical Severity = "critical"
)

// QuotaAlert reports that a tenant's usage crossed a threshold of a ceiling.
type QuotaAlert struct {
	TenantID  string
	Kind      QuotaKind
	Period    string
	Severity  Severity
	Threshold float64
	Used      int64
	Limit     int64
	At        time.Time
}

// Percent returns usage as a percentage of the ceiling.
func (a QuotaAlert) Percent() float64 {
	if a.Limit <= 0 {
		return 0
	}
	return float64(a.Used) / float64(a.Limit) * 100
}
