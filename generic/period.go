package generic

import "time"

// =============================================================================
// PERIOD - The settlement window earnings are aggregated over
// =============================================================================

// Period is a closed time interval [Start, End].
//
// Examples:
//   - Bi-weekly batch on 2025-03-15: [2025-03-01 00:00, 2025-03-14 23:59:59.999999999]
//   - Monthly batch on 2025-02-01:   [2025-02-01 00:00, 2025-02-28 23:59:59.999999999]
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end time.Time) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start.UTC(), End: end.UTC()}, nil
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// IsZero reports whether the period was never set.
func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// Days returns the number of calendar days the period touches.
func (p Period) Days() int {
	return int(DateOf(p.End).Sub(DateOf(p.Start)).Hours()/24) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.UTC().Format(time.RFC3339) + ", " + p.End.UTC().Format(time.RFC3339) + "]"
}

// TrailingDays returns the n whole days before date: [date-n 00:00, date 00:00).
func TrailingDays(date time.Time, n int) Period {
	end := DateOf(date)
	return Period{Start: end.AddDate(0, 0, -n), End: end.Add(-time.Nanosecond)}
}

// CalendarMonth returns the calendar month that contains date.
func CalendarMonth(date time.Time) Period {
	d := DateOf(date)
	return Period{
		Start: StartOfMonth(d.Year(), d.Month()),
		End:   EndOfDay(EndOfMonth(d.Year(), d.Month())),
	}
}
