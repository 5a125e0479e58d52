package scheduler

import (
	"time"

	"github.com/ignite/sqp-sync/internal/domain"
)

// LastCompletedBoundary returns the end date of the most recent fully
// completed period strictly before now. Weekly periods follow the Amazon
// reporting calendar and end on Saturday; the other granularities end on
// calendar boundaries.
func LastCompletedBoundary(now time.Time, pt domain.PeriodType) time.Time {
	now = domain.DateOnly(now)
	switch pt {
	case domain.PeriodWeekly:
		back := (int(now.Weekday()) - int(time.Saturday) + 7) % 7
		if back == 0 {
			// A week ending today is not complete yet.
			back = 7
		}
		return now.AddDate(0, 0, -back)
	case domain.PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	case domain.PeriodQuarterly:
		qStart := time.Month((int(now.Month())-1)/3*3 + 1)
		return time.Date(now.Year(), qStart, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	case domain.PeriodYearly:
		return time.Date(now.Year()-1, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	return now.AddDate(0, 0, -1)
}

// nextWindow computes the range still to be synced: the day after the last
// synced period end (or the lookback horizon when nothing has been synced
// yet) through the most recent completed boundary. ok is false when the
// store is already caught up.
func nextWindow(now time.Time, pt domain.PeriodType, lastEnd time.Time, haveLast bool, lookbackDays int) (domain.Window, bool) {
	end := LastCompletedBoundary(now, pt)

	var start time.Time
	if haveLast {
		start = domain.DateOnly(lastEnd).AddDate(0, 0, 1)
	} else {
		start = domain.DateOnly(now).AddDate(0, 0, -lookbackDays)
	}

	if start.After(end) {
		return domain.Window{}, false
	}
	return domain.NewWindow(start, end, pt), true
}
