package schedule

import (
	"testing"
	"time"

	"scriptd/internal/script"
)

func ptr(t time.Time) *time.Time { return &t }

// 2024-01-01 was a Monday; a fixed local anchor keeps weekday math stable.
func monday(hour int) time.Time {
	return time.Date(2024, 1, 1, hour, 0, 0, 0, time.Local)
}

func TestNextRunNothingEnabled(t *testing.T) {
	t.Parallel()
	now := monday(10)
	if _, ok := NextRun(script.Schedule{}, time.Time{}, now.Add(-time.Hour), now); ok {
		t.Fatal("expected no next run for an empty schedule")
	}
}

func TestNextRunOneTimeStart(t *testing.T) {
	t.Parallel()
	now := monday(10)

	tests := []struct {
		name    string
		startAt time.Time
		want    time.Time
		ok      bool
	}{
		{name: "future start", startAt: now.Add(2 * time.Hour), want: now.Add(2 * time.Hour), ok: true},
		{name: "start exactly now", startAt: now, want: now, ok: true},
		{name: "elapsed start", startAt: now.Add(-time.Minute), ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sch := script.Schedule{StartEnabled: true, StartAt: ptr(tt.startAt)}
			got, ok := NextRun(sch, time.Time{}, now.Add(-24*time.Hour), now)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunPeriodicAnchorsAtNow(t *testing.T) {
	t.Parallel()
	now := monday(10)
	sch := script.Schedule{RepeatEnabled: true, IntervalValue: 30, IntervalUnit: script.UnitMinutes}

	// Never ran: created long ago, anchor is now.
	got, ok := NextRun(sch, time.Time{}, now.Add(-48*time.Hour), now)
	if !ok {
		t.Fatal("expected a periodic next run")
	}
	if want := now.Add(30 * time.Minute); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}

	// A stale last run must not produce an instant in the past either.
	got, ok = NextRun(sch, now.Add(-3*time.Hour), now.Add(-48*time.Hour), now)
	if !ok {
		t.Fatal("expected a periodic next run")
	}
	if want := now.Add(30 * time.Minute); !got.Equal(want) {
		t.Fatalf("next after stale last run = %v, want %v", got, want)
	}
}

func TestNextRunCombinedStartAndRepeat(t *testing.T) {
	t.Parallel()
	now := monday(10)
	start := now.Add(time.Hour)
	sch := script.Schedule{
		StartEnabled:  true,
		StartAt:       ptr(start),
		RepeatEnabled: true,
		IntervalValue: 2,
		IntervalUnit:  script.UnitHours,
	}

	// Before the one-time start fires, it is the next candidate; repetition
	// stays gated behind it.
	got, ok := NextRun(sch, time.Time{}, now.Add(-time.Hour), now)
	if !ok {
		t.Fatal("expected a next run")
	}
	if !got.Equal(start) {
		t.Fatalf("next = %v, want start %v", got, start)
	}

	// After the start has fired, repetition takes over, anchored at the
	// recompute instant.
	after := start.Add(time.Second)
	got, ok = NextRun(sch, start, now.Add(-time.Hour), after)
	if !ok {
		t.Fatal("expected a next run after the start fired")
	}
	if want := after.Add(2 * time.Hour); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestNextRunWeekdayFilterDaily(t *testing.T) {
	t.Parallel()
	now := monday(10) // ISO weekday 0
	sch := script.Schedule{
		RepeatEnabled: true,
		IntervalValue: 1,
		IntervalUnit:  script.UnitDays,
		Weekdays:      []int{5, 6}, // Saturday, Sunday
	}
	got, ok := NextRun(sch, time.Time{}, now.Add(-time.Hour), now)
	if !ok {
		t.Fatal("expected a next run")
	}
	if want := now.AddDate(0, 0, 5); !got.Equal(want) { // Saturday 10:00
		t.Fatalf("next = %v, want %v", got, want)
	}
	if wd := script.ISOWeekday(got); wd != 5 {
		t.Fatalf("next run weekday = %d, want 5", wd)
	}
}

func TestNextRunWeekdayFilterSubDay(t *testing.T) {
	t.Parallel()
	// Thursday noon, every 6 hours, weekend only: the first allowed instant
	// is Saturday midnight (phase stays anchored at the base).
	now := monday(12).AddDate(0, 0, 3)
	sch := script.Schedule{
		RepeatEnabled: true,
		IntervalValue: 6,
		IntervalUnit:  script.UnitHours,
		Weekdays:      []int{5, 6},
	}
	got, ok := NextRun(sch, time.Time{}, now.Add(-time.Hour), now)
	if !ok {
		t.Fatal("expected a next run")
	}
	want := time.Date(2024, 1, 6, 0, 0, 0, 0, time.Local) // Saturday 00:00
	if !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestNextRunWeekdayFilterIgnoresOneTimeStart(t *testing.T) {
	t.Parallel()
	now := monday(10)
	start := now.Add(time.Hour) // still a Monday
	sch := script.Schedule{
		StartEnabled: true,
		StartAt:      ptr(start),
		Weekdays:     []int{5, 6},
	}
	got, ok := NextRun(sch, time.Time{}, now.Add(-time.Hour), now)
	if !ok {
		t.Fatal("expected the one-time start to be scheduled")
	}
	if !got.Equal(start) {
		t.Fatalf("next = %v, want %v", got, start)
	}
}

func TestNextRunEmptyWeekdaySetAllowsEveryDay(t *testing.T) {
	t.Parallel()
	now := monday(10)
	sch := script.Schedule{RepeatEnabled: true, IntervalValue: 1, IntervalUnit: script.UnitDays}
	got, ok := NextRun(sch, time.Time{}, now.Add(-time.Hour), now)
	if !ok {
		t.Fatal("expected a next run")
	}
	if want := now.AddDate(0, 0, 1); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}
