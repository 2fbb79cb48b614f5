package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Billing window normalized to full calendar days
// =============================================================================

// Period is a billing window. Consolidation always operates on full calendar
// days: [Start 00:00:00, End 23:59:59.999999999].
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalizes the given dates to full-day boundaries.
// Returns ErrInvalidPeriod when end precedes start.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: startOfDay(start), End: endOfDay(end)}
	if p.End.Before(p.Start) {
		return Period{}, fmt.Errorf("%w: %s after %s",
			ErrInvalidPeriod, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return p, nil
}

// Contains reports whether t falls within the period (inclusive).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
