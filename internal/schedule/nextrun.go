package schedule

import (
	"time"

	"scriptd/internal/script"
)

// nextRunMaxSteps bounds the candidate search. Day-granularity stepping plus
// weekday jumps stays far below this for any valid schedule; exhausting it
// means the schedule can never fire.
const nextRunMaxSteps = 400

// NextRun computes the next firing instant for a schedule.
//
//	lastRun  - the script's most recent run (zero if it never ran)
//	created  - the script's creation instant (anchor when it never ran)
//	now      - the current instant
//
// Candidates are the one-time start (if enabled and not yet elapsed) and the
// next periodic instant (if repetition is enabled); the earliest one wins.
// When both are enabled and the one-time start is still ahead, repetition is
// gated until the start instant has passed. The weekday filter applies to
// periodic candidates only.
func NextRun(sch script.Schedule, lastRun, created, now time.Time) (time.Time, bool) {
	var (
		next time.Time
		ok   bool
	)

	if sch.StartEnabled && sch.StartAt != nil && !sch.StartAt.Before(now) {
		next, ok = *sch.StartAt, true
	}

	if p, pok := nextPeriodic(sch, lastRun, created, now); pok {
		if !ok || p.Before(next) {
			next, ok = p, true
		}
	}

	return next, ok
}

func nextPeriodic(sch script.Schedule, lastRun, created, now time.Time) (time.Time, bool) {
	step := sch.Interval()
	if step <= 0 {
		return time.Time{}, false
	}

	// Anchor: max(last_run or creation, now).
	base := lastRun
	if base.IsZero() {
		base = created
	}
	if base.IsZero() || base.Before(now) {
		base = now
	}

	// Periodic firings must land strictly after now, and strictly after a
	// pending one-time start when one exists.
	floor := now
	if sch.StartEnabled && sch.StartAt != nil && sch.StartAt.After(floor) {
		floor = *sch.StartAt
	}

	t := base.Add(step)
	for i := 0; i < nextRunMaxSteps; i++ {
		if !t.After(floor) {
			// Jump to the first multiple of step past the floor instead of
			// crawling there one interval at a time.
			k := floor.Sub(base)/step + 1
			t = base.Add(k * step)
			continue
		}
		if sch.WeekdayAllowed(t) {
			return t, true
		}
		if step < 24*time.Hour {
			// Sub-day steps: skip ahead to the next day boundary, keeping the
			// phase anchored at base.
			dayStart := startOfNextDay(t)
			k := ceilDiv(dayStart.Sub(base), step)
			t = base.Add(k * step)
			continue
		}
		t = t.Add(step)
	}
	return time.Time{}, false
}

func startOfNextDay(t time.Time) time.Time {
	lt := t.Local()
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location()).AddDate(0, 0, 1)
}

func ceilDiv(d, step time.Duration) time.Duration {
	k := d / step
	if d%step != 0 {
		k++
	}
	return k
}
