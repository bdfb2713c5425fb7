// Package recurrence computes occurrence times for schedule cadences.
//
// All computations are performed in UTC. Interval cadences advance by a
// fixed duration from the previous fire time; monthly cadences advance by
// one calendar month with an end-of-month clamp.
package recurrence

import (
	"time"

	"schedengine/internal/models"
)

// Interval returns the fixed step for interval-based policies. The weeks
// parameter applies only to weekly cadences (1, 2 or 4; values below 1 are
// treated as 1). The second return is false for policies that are not
// fixed-interval (none, monthly).
func Interval(p models.RepeatPolicy, weeks int) (time.Duration, bool) {
	switch p {
	case models.RepeatEvery5m:
		return 5 * time.Minute, true
	case models.RepeatEvery15m:
		return 15 * time.Minute, true
	case models.RepeatEvery30m:
		return 30 * time.Minute, true
	case models.RepeatEvery45m:
		return 45 * time.Minute, true
	case models.RepeatEvery1h:
		return time.Hour, true
	case models.RepeatEvery3h:
		return 3 * time.Hour, true
	case models.RepeatEvery6h:
		return 6 * time.Hour, true
	case models.RepeatEvery12h:
		return 12 * time.Hour, true
	case models.RepeatDaily:
		return 24 * time.Hour, true
	case models.RepeatWeekly:
		if weeks < 1 {
			weeks = 1
		}
		return time.Duration(weeks) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Next returns the occurrence after prev for the given policy. The second
// return is false when the policy yields no further occurrences (one-shot).
func Next(p models.RepeatPolicy, weeks int, prev time.Time) (time.Time, bool) {
	prev = prev.UTC()
	switch p {
	case models.RepeatNone:
		return time.Time{}, false
	case models.RepeatMonthly:
		return AddCalendarMonth(prev), true
	default:
		d, ok := Interval(p, weeks)
		if !ok {
			return time.Time{}, false
		}
		return prev.Add(d), true
	}
}

// AddCalendarMonth advances t by one calendar month, preserving the
// day-of-month and clamping to the last valid day of the target month when
// the source day does not exist there (Jan 31 -> Feb 28/29).
func AddCalendarMonth(t time.Time) time.Time {
	t = t.UTC()
	year, month, day := t.Date()
	last := daysIn(year, month+1)
	if day > last {
		day = last
	}
	return time.Date(year, month+1, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// daysIn returns the number of days in the given month. time.Date normalizes
// out-of-range months, so month may exceed December.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NextDailyAt returns the next hh:mm UTC at or after now.
func NextDailyAt(hour, minute int, now time.Time) time.Time {
	now = now.UTC()
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if at.Before(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

// FirstPromptRun computes the first fire time for a time-of-day anchored
// schedule created at now.
func FirstPromptRun(p models.RepeatPolicy, hour, minute int, now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case models.RepeatNone, models.RepeatDaily:
		return NextDailyAt(hour, minute, now)
	case models.RepeatEvery5m, models.RepeatEvery15m, models.RepeatEvery30m, models.RepeatEvery45m:
		d, _ := Interval(p, 0)
		return nextMinuteSlot(int(d/time.Minute), minute, now)
	case models.RepeatWeekly:
		anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !anchor.Before(now) {
			return anchor
		}
		return anchor.Add(7 * 24 * time.Hour)
	case models.RepeatMonthly:
		anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !anchor.Before(now) {
			return anchor
		}
		return AddCalendarMonth(anchor)
	default:
		// Sub-day hourly cadences step from today's hh:mm anchor.
		d, ok := Interval(p, 0)
		if !ok {
			return NextDailyAt(hour, minute, now)
		}
		anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		return nextFromAnchor(anchor, d, now)
	}
}

// FirstPaymentRun computes the first fire time for an absolute-start
// schedule. A start that has slipped into the past is rolled forward by
// whole intervals so the first occurrence is never before now.
func FirstPaymentRun(p models.RepeatPolicy, weeks int, start, now time.Time) time.Time {
	start = start.UTC()
	now = now.UTC()
	if !start.Before(now) {
		return start
	}
	switch p {
	case models.RepeatNone:
		return now
	case models.RepeatMonthly:
		t := start
		for t.Before(now) {
			t = AddCalendarMonth(t)
		}
		return t
	default:
		d, ok := Interval(p, weeks)
		if !ok {
			return now
		}
		return nextFromAnchor(start, d, now)
	}
}

// nextMinuteSlot returns the earliest instant at or after now whose minute
// is congruent to startMinute modulo step, with seconds zeroed.
func nextMinuteSlot(step, startMinute int, now time.Time) time.Time {
	base := now.Truncate(time.Minute)
	add := (startMinute - base.Minute()) % step
	if add < 0 {
		add += step
	}
	slot := base.Add(time.Duration(add) * time.Minute)
	if slot.Before(now) {
		slot = slot.Add(time.Duration(step) * time.Minute)
	}
	return slot
}

// nextFromAnchor returns the earliest anchor + k*step (k >= 0) at or after
// now.
func nextFromAnchor(anchor time.Time, step time.Duration, now time.Time) time.Time {
	if !anchor.Before(now) {
		return anchor
	}
	elapsed := now.Sub(anchor)
	steps := elapsed / step
	t := anchor.Add(steps * step)
	if t.Before(now) {
		t = t.Add(step)
	}
	return t
}
