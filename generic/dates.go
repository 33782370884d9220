package generic

import "time"

// =============================================================================
// CALENDAR DATES - UTC midnight values used for anchors and schedules
// =============================================================================
// All dates in the engine are time.Time values at 00:00:00 UTC. Timestamps
// (order completion, tip settlement) keep their full precision and are only
// compared against Period boundaries.

// Date returns the UTC calendar date for year/month/day.
// Out-of-range days normalize the way time.Date does; use ClampDay when a
// day-of-month anchor must stay inside the month.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return Date(u.Year(), u.Month(), u.Day())
}

// Today returns the current UTC date.
func Today() time.Time { return DateOf(time.Now()) }

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return Date(year, month+1, 1).AddDate(0, 0, -1).Day()
}

// ClampDay returns the date for day-of-month anchor in year/month, clamped
// to the month's last day. Anchor 31 in April is April 30, anchor 30 in a
// non-leap February is February 28. Anchors below 1 clamp to the 1st.
func ClampDay(year int, month time.Month, anchor int) time.Time {
	last := DaysIn(year, month)
	switch {
	case anchor < 1:
		anchor = 1
	case anchor > last:
		anchor = last
	}
	return Date(year, month, anchor)
}

// NextMonth returns year/month of the calendar month following year/month.
func NextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }
func EndOfMonth(year int, month time.Month) time.Time   { return Date(year, month, DaysIn(year, month)) }

// EndOfDay returns the last representable instant of t's UTC date.
func EndOfDay(t time.Time) time.Time {
	return DateOf(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// ParseDate parses YYYY-MM-DD into a UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}
