package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestClaimIsExclusivePerScript(t *testing.T) {
	t.Parallel()
	r := New(10)

	first, err := r.Claim(1, "backup", TriggerManual)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Status != StatusRunning {
		t.Fatalf("status = %s, want %s", first.Status, StatusRunning)
	}

	if _, err := r.Claim(1, "backup", TriggerScheduled); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second claim error = %v, want ErrAlreadyRunning", err)
	}

	// A different script is unaffected.
	if _, err := r.Claim(2, "cleanup", TriggerManual); err != nil {
		t.Fatalf("claim for other script: %v", err)
	}

	r.Release(first.ID, StatusSuccess, nil)
	if _, err := r.Claim(1, "backup", TriggerManual); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestClaimConcurrent(t *testing.T) {
	t.Parallel()
	r := New(10)

	const goroutines = 32
	var wins int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if _, err := r.Claim(7, "job", TriggerScheduled); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("concurrent claims won = %d, want exactly 1", wins)
	}
	if !r.Running(7) {
		t.Fatal("expected script 7 to be running")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	r := New(10)

	e, err := r.Claim(1, "job", TriggerManual)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	code := 0
	r.Release(e.ID, StatusSuccess, &code)
	// A late second release must not overwrite the recorded outcome.
	stopCode := -15
	r.Release(e.ID, StatusFailed, &stopCode)

	got, ok := r.Get(e.ID)
	if !ok {
		t.Fatal("execution missing after release")
	}
	if got.Status != StatusSuccess {
		t.Fatalf("status = %s, want %s", got.Status, StatusSuccess)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", got.ExitCode)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("finished_at not set")
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	t.Parallel()
	r := New(3)

	var last Execution
	for i := int64(1); i <= 5; i++ {
		e, err := r.Claim(i, "job", TriggerScheduled)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		r.Release(e.ID, StatusSuccess, nil)
		last = e
	}

	hist := r.History(0)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].ID != last.ID {
		t.Fatal("history not newest first")
	}
	// Evicted executions are no longer resolvable by id.
	if len(r.Active()) != 0 {
		t.Fatal("no executions should be live")
	}

	if got := r.History(1); len(got) != 1 || got[0].ID != last.ID {
		t.Fatalf("History(1) = %v", got)
	}
}

func TestRunningExecutionLookup(t *testing.T) {
	t.Parallel()
	r := New(10)

	if _, ok := r.RunningExecution(1); ok {
		t.Fatal("unexpected live execution")
	}
	e, err := r.Claim(1, "job", TriggerManual)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	live, ok := r.RunningExecution(1)
	if !ok || live.ID != e.ID {
		t.Fatalf("RunningExecution = %+v, ok=%v", live, ok)
	}
}
