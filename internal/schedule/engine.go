package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"scriptd/internal/logbus"
	"scriptd/internal/registry"
	"scriptd/internal/runner"
	"scriptd/internal/script"
	"scriptd/pkg/logx"
)

type Config struct {
	// StoreRetry is the fixed interval between attempts to reach the script
	// store when the initial load fails. The engine never crash-loops on a
	// missing store; it backs off and retries.
	StoreRetry time.Duration
}

func (c Config) storeRetry() time.Duration {
	if c.StoreRetry > 0 {
		return c.StoreRetry
	}
	return 10 * time.Second
}

// Engine owns one cancellable timer task per scheduled script and turns due
// instants into runner starts.
//
// Per-script state machine: Disabled -> Idle (next_run armed) -> Firing ->
// back to Idle or Disabled. Disable cancels the pending timer only; it never
// force-stops an in-flight run (that is runner.Stop's job).
type Engine struct {
	cfg    Config
	store  script.Store
	run    *runner.Runner
	reg    *registry.Registry
	rec    *logbus.Recorder
	log    logx.Logger
	spawn  runner.Spawner
	runCtx context.Context

	mu      sync.Mutex
	tasks   map[int64]*task
	stopped bool
}

// task is one armed trigger. Tasks are enumerable (PendingTask) rather than
// ambient timer state.
type task struct {
	scriptID int64
	name     string
	at       time.Time
	timer    *time.Timer
}

// PendingTask is the introspection view of an armed trigger.
type PendingTask struct {
	ScriptID   int64     `json:"script_id"`
	ScriptName string    `json:"script_name"`
	At         time.Time `json:"at"`
}

func NewEngine(cfg Config, store script.Store, run *runner.Runner, reg *registry.Registry, rec *logbus.Recorder, spawn runner.Spawner, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:   cfg,
		store: store,
		run:   run,
		reg:   reg,
		rec:   rec,
		log:   log,
		spawn: spawn,
		tasks: map[int64]*task{},
	}
	run.SetOnExit(e.onRunExit)
	return e
}

// Start loads the active scripts and arms their triggers. A store that is
// unreachable at startup is surfaced once as an error to the operator; the
// supervised retry loop keeps attempting on a fixed interval afterwards.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx = ctx
	if err := e.syncAll(ctx); err != nil {
		e.log.Error("initial schedule load failed; retrying",
			logx.Err(err), logx.Duration("interval", e.cfg.storeRetry()))
		e.spawn.Go0("schedule.retry", func(ctx context.Context) {
			ticker := time.NewTicker(e.cfg.storeRetry())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := e.syncAll(ctx); err != nil {
						e.log.Error("schedule load retry failed", logx.Err(err))
						continue
					}
					e.log.Info("schedule load recovered")
					return
				}
			}
		})
		return fmt.Errorf("schedule: initial load: %w", err)
	}
	return nil
}

// Stop cancels every pending timer. In-flight runs keep going; the runner's
// shutdown path owns them.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, t := range e.tasks {
		t.timer.Stop()
		delete(e.tasks, id)
	}
}

// syncAll applies the startup catch-up policy and arms triggers for every
// active script:
//   - repeat-enabled scripts are armed
//   - future one-time starts are armed
//   - an elapsed one-time start with no repetition deactivates the script
//   - an active script with no scheduling at all is deactivated
func (e *Engine) syncAll(ctx context.Context) error {
	scripts, err := e.store.List(ctx, true)
	if err != nil {
		return err
	}
	for _, sc := range scripts {
		e.applySchedule(ctx, sc, false)
	}
	e.log.Info("schedules loaded", logx.Int("active", len(scripts)), logx.Int("armed", len(e.Pending())))
	return nil
}

// Enable turns scheduling on for a script and arms its trigger.
func (e *Engine) Enable(ctx context.Context, id int64) error {
	if err := e.store.SetActive(ctx, id, true); err != nil {
		return err
	}
	return e.OnConfigChanged(ctx, id)
}

// Disable cancels the pending trigger and clears next_run. An in-flight run
// is NOT stopped.
func (e *Engine) Disable(ctx context.Context, id int64) error {
	if err := e.store.SetActive(ctx, id, false); err != nil {
		return err
	}
	e.cancelTask(id)
	if err := e.store.UpdateState(ctx, id, script.StateUpdate{ClearNextRun: true}); err != nil {
		return err
	}
	return nil
}

// OnConfigChanged re-reads one script and re-arms (or cancels) its trigger.
func (e *Engine) OnConfigChanged(ctx context.Context, id int64) error {
	sc, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			e.cancelTask(id)
			return nil
		}
		return err
	}
	if !sc.IsActive {
		e.cancelTask(id)
		return e.store.UpdateState(ctx, id, script.StateUpdate{ClearNextRun: true})
	}
	e.applySchedule(ctx, sc, false)
	return nil
}

// RunNow starts a manual execution, racing safely with scheduled firings
// through the registry claim.
func (e *Engine) RunNow(ctx context.Context, id int64) (registry.Execution, error) {
	sc, err := e.store.Get(ctx, id)
	if err != nil {
		return registry.Execution{}, err
	}
	return e.run.Start(ctx, sc, registry.TriggerManual)
}

// Status assembles the live execution state of one script.
func (e *Engine) Status(ctx context.Context, id int64) (script.ExecutionState, error) {
	sc, err := e.store.Get(ctx, id)
	if err != nil {
		return script.ExecutionState{}, err
	}
	return script.ExecutionState{
		ScriptID:   sc.ID,
		ScriptName: sc.Name,
		IsActive:   sc.IsActive,
		IsRunning:  e.reg.Running(sc.ID),
		LastRun:    sc.LastRun,
		NextRun:    sc.NextRun,
	}, nil
}

// States returns the execution state of every active script.
func (e *Engine) States(ctx context.Context) ([]script.ExecutionState, error) {
	scripts, err := e.store.List(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]script.ExecutionState, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, script.ExecutionState{
			ScriptID:   sc.ID,
			ScriptName: sc.Name,
			IsActive:   sc.IsActive,
			IsRunning:  e.reg.Running(sc.ID),
			LastRun:    sc.LastRun,
			NextRun:    sc.NextRun,
		})
	}
	return out, nil
}

// Pending enumerates all armed triggers, soonest first.
func (e *Engine) Pending() []PendingTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, PendingTask{ScriptID: t.scriptID, ScriptName: t.name, At: t.at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// applySchedule computes next_run for sc, persists it, and arms the timer.
// With afterRun set, a script that has nothing ahead of it anymore is
// deactivated (one-shot semantics after a fired one-time start or manual run
// of an unscheduled script).
func (e *Engine) applySchedule(ctx context.Context, sc *script.Script, afterRun bool) {
	now := time.Now()

	if !sc.Schedule.StartEnabled && !sc.Schedule.RepeatEnabled {
		e.cancelTask(sc.ID)
		_ = e.store.UpdateState(ctx, sc.ID, script.StateUpdate{ClearNextRun: true})
		if sc.IsActive {
			e.deactivate(ctx, sc, "Script deactivated: no schedule configured")
		}
		return
	}

	var lastRun time.Time
	if sc.LastRun != nil {
		lastRun = *sc.LastRun
	}

	next, ok := NextRun(sc.Schedule, lastRun, sc.CreatedAt, now)
	if !ok {
		e.cancelTask(sc.ID)
		_ = e.store.UpdateState(ctx, sc.ID, script.StateUpdate{ClearNextRun: true})
		if afterRun {
			e.deactivate(ctx, sc, "Script deactivated after execution (no repetition configured)")
		} else if sc.Schedule.StartEnabled && !sc.Schedule.RepeatEnabled {
			// Startup catch-up: the one-time start elapsed while we were down.
			e.deactivate(ctx, sc, fmt.Sprintf("Script deactivated: scheduled start %s already elapsed", sc.Schedule.StartAt.Format(time.RFC3339)))
		}
		return
	}

	if err := e.store.UpdateState(ctx, sc.ID, script.StateUpdate{NextRun: &next}); err != nil {
		e.log.Warn("next_run update failed", logx.Int64("script_id", sc.ID), logx.Err(err))
	}
	e.arm(sc, next)
}

func (e *Engine) deactivate(ctx context.Context, sc *script.Script, msg string) {
	if err := e.store.SetActive(ctx, sc.ID, false); err != nil {
		e.log.Warn("deactivate failed", logx.Int64("script_id", sc.ID), logx.Err(err))
		return
	}
	e.rec.Write(sc.ID, sc.Name, logbus.LevelInfo, msg)
}

func (e *Engine) arm(sc *script.Script, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if old, ok := e.tasks[sc.ID]; ok {
		old.timer.Stop()
	}
	id := sc.ID
	t := &task{scriptID: id, name: sc.Name, at: at}
	t.timer = time.AfterFunc(time.Until(at), func() { e.fire(id) })
	e.tasks[id] = t
	e.log.Debug("trigger armed", logx.Int64("script_id", id), logx.String("script", sc.Name), logx.Time("at", at))
}

func (e *Engine) cancelTask(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[id]; ok {
		t.timer.Stop()
		delete(e.tasks, id)
	}
}

// fire runs on the timer goroutine; the actual work moves onto a supervised
// goroutine immediately so a slow launch never delays other scripts.
func (e *Engine) fire(id int64) {
	e.mu.Lock()
	delete(e.tasks, id)
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}
	e.spawn.Go0("schedule.fire", func(ctx context.Context) {
		e.fireNow(ctx, id)
	})
}

func (e *Engine) fireNow(ctx context.Context, id int64) {
	sc, err := e.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, script.ErrNotFound) {
			e.log.Error("firing aborted: script fetch failed", logx.Int64("script_id", id), logx.Err(err))
		}
		return
	}
	if !sc.IsActive {
		return
	}

	now := time.Now()
	trigger := firingTrigger(sc, now)

	// Config may have changed since the timer was armed; re-check the weekday
	// filter at fire time for periodic firings.
	if trigger == registry.TriggerScheduled && !sc.Schedule.WeekdayAllowed(now) {
		e.rec.Write(sc.ID, sc.Name, logbus.LevelInfo,
			fmt.Sprintf("Skipped: not scheduled for today (weekday=%d)", script.ISOWeekday(now)))
		e.applySchedule(ctx, sc, false)
		return
	}

	_, err = e.run.Start(ctx, sc, trigger)
	switch {
	case errors.Is(err, registry.ErrAlreadyRunning):
		// Skipped, not retried early; the next computation proceeds from now.
		e.rec.Write(sc.ID, sc.Name, logbus.LevelInfo, "Skipped: script is already running")
	case err != nil:
		// Launch failures are already on the log bus; scheduling continues.
		e.log.Warn("scheduled launch failed", logx.String("script", sc.Name), logx.Err(err))
	}

	// Recompute immediately after firing so the following trigger is armed
	// while the run is still in flight.
	started := err == nil
	if fresh, err := e.store.Get(ctx, id); err == nil {
		e.applySchedule(ctx, fresh, started)
	}
}

// firingTrigger distinguishes a one-time start firing from a periodic one.
func firingTrigger(sc *script.Script, now time.Time) registry.Trigger {
	if sc.Schedule.StartEnabled && sc.Schedule.StartAt != nil && !sc.Schedule.StartAt.After(now) {
		if sc.LastRun == nil || sc.LastRun.Before(*sc.Schedule.StartAt) {
			return registry.TriggerScheduledStart
		}
	}
	return registry.TriggerScheduled
}

// onRunExit recomputes the schedule once a run has fully released its claim.
// Runs on the runner's exit path for every trigger kind, including manual.
func (e *Engine) onRunExit(scriptID int64) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	sc, err := e.store.Get(ctx, scriptID)
	if err != nil {
		if !errors.Is(err, script.ErrNotFound) {
			e.log.Warn("post-run reschedule failed", logx.Int64("script_id", scriptID), logx.Err(err))
		}
		return
	}
	if !sc.IsActive {
		return
	}
	e.applySchedule(ctx, sc, true)
}
