package quota

import (
	"errors"
	"fmt"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
)

// CumulativePeriod is the period key of counters that never roll over.
const CumulativePeriod = "total"

// ErrInvalidRange is returned for usage history ranges that cannot be served.
var ErrInvalidRange = errors.New("invalid usage range")

// MaxHistoryPeriods bounds UsageHistory queries.
const MaxHistoryPeriods = 366

const (
	dailyLayout   = "2006-01-02"
	monthlyLayout = "2006-01"
)

// PeriodKey returns the counter period key for at under periodicity p.
// Daily keys are UTC dates, monthly keys UTC year-months.
func PeriodKey(p admission.Periodicity, at time.Time) string {
	switch p {
	case admission.Daily:
		return at.UTC().Format(dailyLayout)
	case admission.Monthly:
		return at.UTC().Format(monthlyLayout)
	default:
		return CumulativePeriod
	}
}

// PeriodStart returns the first instant of the period containing at.
// Cumulative periods have no start and return the zero time.
func PeriodStart(p admission.Periodicity, at time.Time) time.Time {
	at = at.UTC()
	switch p {
	case admission.Daily:
		return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	case admission.Monthly:
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// NextReset returns the start of the period after the one containing at,
// or the zero time for cumulative periods.
func NextReset(p admission.Periodicity, at time.Time) time.Time {
	start := PeriodStart(p, at)
	switch p {
	case admission.Daily:
		return start.AddDate(0, 0, 1)
	case admission.Monthly:
		return start.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

// periodStarts lists the start of every period overlapping [from, to].
func periodStarts(p admission.Periodicity, from, to time.Time) ([]time.Time, error) {
	if p == admission.Cumulative {
		return nil, fmt.Errorf("%w: cumulative quotas have no periods", ErrInvalidRange)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	var starts []time.Time
	for cur := PeriodStart(p, from); !cur.After(to); cur = NextReset(p, cur) {
		if len(starts) == MaxHistoryPeriods {
			return nil, fmt.Errorf("%w: spans more than %d periods", ErrInvalidRange, MaxHistoryPeriods)
		}
		starts = append(starts, cur)
	}
	return starts, nil
}
