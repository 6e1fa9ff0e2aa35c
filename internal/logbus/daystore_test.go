package logbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scriptd/pkg/logx"
)

func newTestStore(t *testing.T) *DayStore {
	t.Helper()
	ds, err := NewDayStore(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("NewDayStore: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func TestDayStoreAppendAndQuery(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)

	day := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	events := []Event{
		{ScriptName: "backup", Level: LevelInfo, Message: "started", Time: day},
		{ScriptName: "backup", Level: LevelError, Message: "disk full", Time: day.Add(time.Minute)},
		{ScriptName: "cleanup", Level: LevelInfo, Message: "done", Time: day.Add(2 * time.Minute)},
	}
	for _, e := range events {
		if err := ds.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := ds.Query(day, QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	// Stored order is append order.
	if got[0].Message != "started" || got[2].Message != "done" {
		t.Fatalf("order wrong: %+v", got)
	}

	byName, err := ds.Query(day, QueryFilter{ScriptName: "backup"})
	if err != nil {
		t.Fatalf("Query by name: %v", err)
	}
	if len(byName) != 2 {
		t.Fatalf("backup events = %d, want 2", len(byName))
	}

	byLevel, err := ds.Query(day, QueryFilter{Level: LevelError})
	if err != nil {
		t.Fatalf("Query by level: %v", err)
	}
	if len(byLevel) != 1 || byLevel[0].Message != "disk full" {
		t.Fatalf("error events = %+v", byLevel)
	}
}

func TestDayStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	day := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	ds, err := NewDayStore(dir, logx.Nop())
	if err != nil {
		t.Fatalf("NewDayStore: %v", err)
	}
	if err := ds.Append(Event{ScriptName: "s", Level: LevelInfo, Message: "before restart", Time: day}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDayStore(dir, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Query(day, QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Message != "before restart" {
		t.Fatalf("events after reopen = %+v", got)
	}
}

func TestDayStoreSplitsByDay(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)

	day1 := time.Date(2024, 3, 15, 23, 59, 0, 0, time.Local)
	day2 := time.Date(2024, 3, 16, 0, 1, 0, 0, time.Local)
	if err := ds.Append(Event{ScriptName: "s", Level: LevelInfo, Message: "late", Time: day1}); err != nil {
		t.Fatal(err)
	}
	if err := ds.Append(Event{ScriptName: "s", Level: LevelInfo, Message: "early", Time: day2}); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		day  time.Time
		want string
	}{{day1, "late"}, {day2, "early"}} {
		got, err := ds.Query(tc.day, QueryFilter{})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].Message != tc.want {
			t.Fatalf("Query(%s) = %+v, want one %q event", tc.day.Format("2006-01-02"), got, tc.want)
		}
	}

	dates, err := ds.Dates()
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("dates = %d, want 2", len(dates))
	}
	if !dates[0].After(dates[1]) {
		t.Fatal("dates not newest first")
	}
}

func TestDayStoreQueryMissingDay(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	got, err := ds.Query(time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local), QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("events = %d, want 0", len(got))
	}
}

func TestDayStoreSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ds, err := NewDayStore(dir, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	day := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	if err := ds.Append(Event{ScriptName: "s", Level: LevelInfo, Message: "good", Time: day}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, day.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("garbage without separators\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	got, err := ds.Query(day, QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Message != "good" {
		t.Fatalf("events = %+v, want only the well-formed line", got)
	}
}

func TestDayStorePrune(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ds, err := NewDayStore(dir, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	old := time.Now().AddDate(0, 0, -10)
	recent := time.Now()
	for _, ts := range []time.Time{old, recent} {
		if err := ds.Append(Event{ScriptName: "s", Level: LevelInfo, Message: "x", Time: ts}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := ds.Prune(7)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	dates, err := ds.Dates()
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 1 {
		t.Fatalf("dates after prune = %d, want 1", len(dates))
	}

	// Retention 0 disables pruning.
	if removed, err := ds.Prune(0); err != nil || removed != 0 {
		t.Fatalf("Prune(0) = %d, %v", removed, err)
	}
}

func TestRecorderAppendsAndPublishes(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	bus := NewBus()
	rec := NewRecorder(bus, ds, logx.Nop())

	ch, unsub := bus.Subscribe(4, 0)
	defer unsub()

	rec.Write(1, "backup", LevelInfo, "hello")

	e := <-ch
	if e.ScriptID != 1 || e.ScriptName != "backup" || e.Message != "hello" {
		t.Fatalf("published event = %+v", e)
	}

	stored, err := ds.Query(e.Time, QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(stored) != 1 || stored[0].Message != "hello" {
		t.Fatalf("stored events = %+v", stored)
	}
}
