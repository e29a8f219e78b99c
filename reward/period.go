package reward

import (
	"time"
)

// =============================================================================
// PERIOD KEY - Month bucket for accrual dedup and budget resets
// =============================================================================

// PeriodKey identifies a calendar month ("2026-08"). Attendance facts carry
// the period they were finalized for, and budget resets are recorded once
// per (program, period).
type PeriodKey string

const periodKeyLayout = "2006-01"

func MonthKey(t time.Time) PeriodKey {
	return PeriodKey(t.UTC().Format(periodKeyLayout))
}

func CurrentMonthKey() PeriodKey {
	return MonthKey(time.Now())
}

// Valid reports whether k parses as a year-month key.
func (k PeriodKey) Valid() bool {
	_, err := time.Parse(periodKeyLayout, string(k))
	return err == nil
}

// Start returns the first instant of the period, or the zero time for an
// invalid key.
func (k PeriodKey) Start() time.Time {
	t, err := time.Parse(periodKeyLayout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Next returns the key of the following month.
func (k PeriodKey) Next() PeriodKey {
	return MonthKey(k.Start().AddDate(0, 1, 0))
}

func (k PeriodKey) String() string { return string(k) }
