// Package recur computes the next occurrence timestamp for a recurring
// task, the one piece of domain logic the Recurring Regenerator owns.
package recur

import (
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// NextOccurrence advances from by one step of rule, in UTC. Daily and
// weekly are exact calendar-day arithmetic. Monthly adds one calendar
// month and, when the source day-of-month doesn't exist in the target
// month (e.g. Jan 31 -> Feb), clamps to the last day of that month rather
// than overflowing into the month after (time.AddDate's behavior).
func NextOccurrence(from time.Time, rule domain.RecurrenceRule) time.Time {
	from = from.UTC()
	switch rule {
	case domain.RecurrenceDaily:
		return from.AddDate(0, 0, 1)
	case domain.RecurrenceWeekly:
		return from.AddDate(0, 0, 7)
	case domain.RecurrenceMonthly:
		return addCalendarMonth(from)
	default:
		return from
	}
}

// addCalendarMonth adds one month to t, clamping the day to the last day
// of the target month when the source day doesn't exist there.
func addCalendarMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	targetMonth := month + 1
	targetYear := year
	if targetMonth > time.December {
		targetMonth = time.January
		targetYear++
	}

	lastDay := lastDayOfMonth(targetYear, targetMonth)
	if day > lastDay {
		day = lastDay
	}

	return time.Date(targetYear, targetMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// lastDayOfMonth returns the number of days in the given month/year,
// accounting for leap years via time.Date's normalization: day 0 of the
// following month is the last day of this one.
func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}
