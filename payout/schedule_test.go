package payout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// NEXT PAYMENT DATE
// =============================================================================

func TestNextPaymentDate(t *testing.T) {
	d := generic.Date
	cases := []struct {
		name       string
		preference string
		schedule   payout.ScheduleType
		ref        time.Time
		want       time.Time
	}{
		{"bi-weekly past last anchor rolls to next month", "5,20", payout.ScheduleBiWeekly, d(2025, time.March, 22), d(2025, time.April, 5)},
		{"bi-weekly between anchors", "5,20", payout.ScheduleBiWeekly, d(2025, time.March, 6), d(2025, time.March, 20)},
		{"bi-weekly on an anchor is that day", "5,20", payout.ScheduleBiWeekly, d(2025, time.March, 20), d(2025, time.March, 20)},
		{"bi-weekly unsorted with duplicates", "20, 5,20", payout.ScheduleBiWeekly, d(2025, time.March, 1), d(2025, time.March, 5)},
		{"bi-weekly empty uses 1 and 15", "", payout.ScheduleBiWeekly, d(2025, time.March, 2), d(2025, time.March, 15)},
		{"bi-weekly malformed uses 1 and 15", "5,x", payout.ScheduleBiWeekly, d(2025, time.March, 16), d(2025, time.April, 1)},
		{"monthly empty on the 1st is same day", "", payout.ScheduleMonthly, d(2025, time.March, 1), d(2025, time.March, 1)},
		{"monthly 31 clamps in February", "31", payout.ScheduleMonthly, d(2025, time.February, 10), d(2025, time.February, 28)},
		{"monthly 30 clamps in leap February", "30", payout.ScheduleMonthly, d(2024, time.February, 29), d(2024, time.February, 29)},
		{"monthly past anchor rolls over the year", "10", payout.ScheduleMonthly, d(2025, time.December, 11), d(2026, time.January, 10)},
		{"monthly 31 in a long month", "31", payout.ScheduleMonthly, d(2025, time.March, 31), d(2025, time.March, 31)},
		{"monthly rollover clamps next month", "30", payout.ScheduleMonthly, d(2025, time.January, 31), d(2025, time.February, 28)},
		{"monthly out of range uses 1", "32", payout.ScheduleMonthly, d(2025, time.March, 2), d(2025, time.April, 1)},
		{"monthly list is malformed", "1,15", payout.ScheduleMonthly, d(2025, time.March, 2), d(2025, time.April, 1)},
		{"unknown schedule type is monthly", "12", payout.ScheduleType("weekly"), d(2025, time.March, 13), d(2025, time.April, 12)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := payout.NextPaymentDate(tc.preference, tc.schedule, tc.ref)
			assert.Equal(t, tc.want, got, "got %s", generic.FormatDate(got))
		})
	}
}

func TestNextPaymentDate_RollsIntoShortMonth(t *testing.T) {
	// GIVEN: A monthly writer paid on the 31st, asked after Jan 31
	// WHEN: The next date falls in February
	// THEN: It is clamped to February 28, never March 3

	got := payout.NextPaymentDate("31", payout.ScheduleMonthly, time.Date(2025, time.February, 1, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, generic.Date(2025, time.February, 28), got)
}

func TestNextPaymentDate_IgnoresTimeOfDay(t *testing.T) {
	ref := time.Date(2025, time.March, 20, 23, 59, 0, 0, time.UTC)
	got := payout.NextPaymentDate("5,20", payout.ScheduleBiWeekly, ref)
	assert.Equal(t, generic.Date(2025, time.March, 20), got)
}

func TestParseAnchors(t *testing.T) {
	anchors, defaulted := payout.ParseAnchors(" 20 ,5 ", payout.ScheduleBiWeekly)
	assert.Equal(t, []int{5, 20}, anchors)
	assert.False(t, defaulted)

	anchors, defaulted = payout.ParseAnchors("0", payout.ScheduleBiWeekly)
	assert.Equal(t, []int{1, 15}, anchors)
	assert.True(t, defaulted)

	anchors, defaulted = payout.ParseAnchors("abc", payout.ScheduleMonthly)
	assert.Equal(t, []int{1}, anchors)
	assert.True(t, defaulted)

	anchors, defaulted = payout.ParseAnchors("28", payout.ScheduleMonthly)
	assert.Equal(t, []int{28}, anchors)
	assert.False(t, defaulted)
}

func TestIsPaymentDate(t *testing.T) {
	assert.True(t, payout.IsPaymentDate("5,20", payout.ScheduleBiWeekly, generic.Date(2025, time.March, 5)))
	assert.False(t, payout.IsPaymentDate("5,20", payout.ScheduleBiWeekly, generic.Date(2025, time.March, 6)))
	assert.True(t, payout.IsPaymentDate("31", payout.ScheduleMonthly, generic.Date(2025, time.April, 30)))
}

// =============================================================================
// SETTLEMENT WINDOWS
// =============================================================================

func TestSettlementWindow(t *testing.T) {
	bw := payout.SettlementWindow(payout.ScheduleBiWeekly, generic.Date(2025, time.March, 15))
	assert.Equal(t, generic.Date(2025, time.March, 1), bw.Start)
	assert.Equal(t, generic.Date(2025, time.March, 15).Add(-time.Nanosecond), bw.End)

	m := payout.SettlementWindow(payout.ScheduleMonthly, generic.Date(2025, time.February, 1))
	assert.Equal(t, generic.Date(2025, time.February, 1), m.Start)
	assert.Equal(t, generic.EndOfDay(generic.Date(2025, time.February, 28)), m.End)

	unknown := payout.SettlementWindow(payout.ScheduleType("weekly"), generic.Date(2025, time.February, 1))
	assert.Equal(t, m, unknown)
}

// uncoveredMarchDays lists the March 2025 days whose records no batch on
// the anchors' payment dates picks up: a record dated d is picked up by a
// batch on D when d <= D and d lies in D's settlement window.
func uncoveredMarchDays(preference string, st payout.ScheduleType) []int {
	var dates []time.Time
	for d := payout.NextPaymentDate(preference, st, generic.Date(2025, time.February, 1)); d.Before(generic.Date(2025, time.June, 1)); {
		dates = append(dates, d)
		d = payout.NextPaymentDate(preference, st, d.AddDate(0, 0, 1))
	}

	var out []int
	for day := 1; day <= 31; day++ {
		record := time.Date(2025, time.March, day, 12, 0, 0, 0, time.UTC)
		covered := false
		for _, d := range dates {
			if !generic.DateOf(record).After(d) && payout.SettlementWindow(st, d).Contains(record) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, day)
		}
	}
	return out
}

func TestSettlementWindow_KnownGaps(t *testing.T) {
	// GIVEN: Default anchors and the window definitions in use
	// WHEN: Walking every March day against every payment date around it
	// THEN: Bi-weekly {1,15} never picks up the 15th-17th (the April 1
	//       window starts on the 18th), and monthly {1} only picks up the
	//       1st: its window is the month of the run, mostly still ahead
	//
	// Changing either window definition must update this test.

	assert.Equal(t, []int{15, 16, 17}, uncoveredMarchDays("1,15", payout.ScheduleBiWeekly))

	monthly := uncoveredMarchDays("1", payout.ScheduleMonthly)
	assert.Len(t, monthly, 30)
	assert.Equal(t, 2, monthly[0])
	assert.Equal(t, 31, monthly[len(monthly)-1])

	// Anchors spaced exactly 14 days apart leave no bi-weekly gap in March.
	assert.Empty(t, uncoveredMarchDays("1,15,29", payout.ScheduleBiWeekly))
}

func TestParseScheduleType(t *testing.T) {
	st, err := payout.ParseScheduleType("BiWeekly")
	assert.NoError(t, err)
	assert.Equal(t, payout.ScheduleBiWeekly, st)

	st, err = payout.ParseScheduleType(" monthly ")
	assert.NoError(t, err)
	assert.Equal(t, payout.ScheduleMonthly, st)

	_, err = payout.ParseScheduleType("weekly")
	assert.ErrorIs(t, err, payout.ErrUnknownScheduleType)
}
