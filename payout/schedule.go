package payout

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// SCHEDULE DATES
// =============================================================================
// A date preference is a list of day-of-month anchors. Bi-weekly writers
// may list several ("5,20"), monthly writers list one ("28"). Anything that
// does not parse falls back to the documented default instead of failing
// the batch.

var defaultBiWeeklyAnchors = []int{1, 15}

const defaultMonthlyAnchor = 1

// ParseAnchors returns the sorted, de-duplicated anchors of preference and
// whether the default list was substituted. Unknown schedule types are
// treated as monthly.
func ParseAnchors(preference string, scheduleType ScheduleType) ([]int, bool) {
	if scheduleType == ScheduleBiWeekly {
		anchors, ok := parseAnchorList(preference)
		if !ok {
			return slices.Clone(defaultBiWeeklyAnchors), true
		}
		return anchors, false
	}

	day, ok := parseAnchor(preference)
	if !ok {
		return []int{defaultMonthlyAnchor}, true
	}
	return []int{day}, false
}

func parseAnchorList(preference string) ([]int, bool) {
	if strings.TrimSpace(preference) == "" {
		return nil, false
	}
	var anchors []int
	for _, tok := range strings.Split(preference, ",") {
		day, ok := parseAnchor(tok)
		if !ok {
			return nil, false
		}
		anchors = append(anchors, day)
	}
	slices.Sort(anchors)
	return slices.Compact(anchors), true
}

func parseAnchor(tok string) (int, bool) {
	day, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil || day < 1 || day > 31 {
		return 0, false
	}
	return day, true
}

// NextPaymentDate returns the first payment date on or after ref.
//
// The smallest anchor whose day, clamped to the month's length, is not
// before ref's day wins. Otherwise the first anchor of the next month is
// used, clamped to that month. The result is a UTC calendar date.
//
//	NextPaymentDate("5,20", ScheduleBiWeekly, 2025-03-22) = 2025-04-05
//	NextPaymentDate("",     ScheduleMonthly,  2025-03-01) = 2025-03-01
//	NextPaymentDate("31",   ScheduleMonthly,  2025-02-10) = 2025-02-28
func NextPaymentDate(preference string, scheduleType ScheduleType, ref time.Time) time.Time {
	anchors, _ := ParseAnchors(preference, scheduleType)
	return nextAnchorDate(anchors, generic.DateOf(ref))
}

func nextAnchorDate(anchors []int, ref time.Time) time.Time {
	year, month := ref.Year(), ref.Month()
	for _, a := range anchors {
		if d := generic.ClampDay(year, month, a); d.Day() >= ref.Day() {
			return d
		}
	}
	ny, nm := generic.NextMonth(year, month)
	return generic.ClampDay(ny, nm, anchors[0])
}

// IsPaymentDate reports whether date is itself a payment date.
func IsPaymentDate(preference string, scheduleType ScheduleType, date time.Time) bool {
	d := generic.DateOf(date)
	return NextPaymentDate(preference, scheduleType, d).Equal(d)
}

// =============================================================================
// SETTLEMENT WINDOWS
// =============================================================================

// biWeeklyWindowDays is the trailing window of a bi-weekly batch.
const biWeeklyWindowDays = 14

// SettlementWindow returns the interval a batch on scheduledDate covers.
// Bi-weekly batches cover the 14 whole days before the scheduled date.
// Monthly batches cover the calendar month containing it. Unknown types
// are treated as monthly.
func SettlementWindow(scheduleType ScheduleType, scheduledDate time.Time) generic.Period {
	if scheduleType == ScheduleBiWeekly {
		return generic.TrailingDays(scheduledDate, biWeeklyWindowDays)
	}
	return generic.CalendarMonth(scheduledDate)
}
