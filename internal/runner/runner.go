// Package runner launches registered scripts as child processes and turns
// their output into log events.
//
// A run claims the execution registry before anything touches the OS, streams
// stdout and stderr line by line (two streams, per-stream ordering only), and
// releases the claim exactly once when the process is gone, whatever the exit
// path. Stop escalates SIGTERM to SIGKILL after a bounded grace period.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"scriptd/internal/logbus"
	"scriptd/internal/registry"
	"scriptd/internal/script"
	"scriptd/pkg/logx"
)

var ErrNotRunning = errors.New("no running execution for this script")

// exit code recorded for user-initiated stops (SIGTERM convention).
const stopExitCode = -15

type Config struct {
	// Interpreter runs scripts as "<interpreter> <path>".
	// Empty means the script path is executed directly.
	Interpreter string
	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

func (c Config) stopGrace() time.Duration {
	if c.StopGrace > 0 {
		return c.StopGrace
	}
	return 5 * time.Second
}

// Spawner lets the caller own goroutines created by the runner
// (normally the app supervisor).
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Runner struct {
	cfg   Config
	reg   *registry.Registry
	store script.Store
	rec   *logbus.Recorder
	log   logx.Logger
	spawn Spawner

	mu     sync.Mutex
	procs  map[string]*process // keyed by execution id
	onExit func(scriptID int64)
}

type process struct {
	exec registry.Execution
	cmd  *exec.Cmd

	// closed when the process has fully exited and been released
	done chan struct{}

	stopMu        sync.Mutex
	stopRequested bool
}

func New(cfg Config, reg *registry.Registry, store script.Store, rec *logbus.Recorder, spawn Spawner, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:   cfg,
		reg:   reg,
		store: store,
		rec:   rec,
		log:   log,
		spawn: spawn,
		procs: map[string]*process{},
	}
}

// SetOnExit installs a hook called after every run has been released
// (the schedule engine uses it to recompute next_run).
func (r *Runner) SetOnExit(fn func(scriptID int64)) {
	r.mu.Lock()
	r.onExit = fn
	r.mu.Unlock()
}

// Start claims the script and launches it. It returns as soon as the process
// is up; streaming and wait happen on supervised goroutines.
//
// A launch failure is an ERROR log event and a released (failed) execution,
// but last_run is still recorded and scheduling proceeds undeterred.
func (r *Runner) Start(ctx context.Context, sc *script.Script, trigger registry.Trigger) (registry.Execution, error) {
	ex, err := r.reg.Claim(sc.ID, sc.Name, trigger)
	if err != nil {
		return registry.Execution{}, err
	}

	now := time.Now()
	if err := r.store.UpdateState(ctx, sc.ID, script.StateUpdate{LastRun: &now}); err != nil {
		r.log.Warn("last_run update failed", logx.Int64("script_id", sc.ID), logx.Err(err))
	}
	r.rec.Write(sc.ID, sc.Name, logbus.LevelInfo, fmt.Sprintf("Execution started (trigger=%s)", trigger))

	cmd := r.buildCmd(sc.Path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failLaunch(ex, sc, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failLaunch(ex, sc, err)
	}

	if err := cmd.Start(); err != nil {
		return r.failLaunch(ex, sc, err)
	}

	p := &process{exec: ex, cmd: cmd, done: make(chan struct{})}
	r.mu.Lock()
	r.procs[ex.ID] = p
	r.mu.Unlock()

	var streams sync.WaitGroup
	streams.Add(2)
	r.spawn.Go0("runner.stdout", func(context.Context) {
		defer streams.Done()
		r.streamLines(stdout, sc, logbus.LevelStdout)
	})
	r.spawn.Go0("runner.stderr", func(context.Context) {
		defer streams.Done()
		r.streamLines(stderr, sc, logbus.LevelStderr)
	})
	r.spawn.Go0("runner.wait", func(context.Context) {
		r.wait(p, sc, &streams)
	})
	// Terminate the child if the daemon itself is shutting down.
	r.spawn.Go0("runner.ctxwatch", func(ctx context.Context) {
		select {
		case <-p.done:
		case <-ctx.Done():
			_ = r.stopProcess(p, sc)
		}
	})

	return ex, nil
}

func (r *Runner) buildCmd(path string) *exec.Cmd {
	var cmd *exec.Cmd
	if r.cfg.Interpreter != "" {
		cmd = exec.Command(r.cfg.Interpreter, path)
	} else {
		cmd = exec.Command(path)
	}
	cmd.Env = os.Environ()
	return cmd
}

func (r *Runner) failLaunch(ex registry.Execution, sc *script.Script, cause error) (registry.Execution, error) {
	r.rec.Write(sc.ID, sc.Name, logbus.LevelError, fmt.Sprintf("Execution failed: %v", cause))
	r.reg.Release(ex.ID, registry.StatusFailed, nil)
	r.notifyExit(sc.ID)
	return registry.Execution{}, fmt.Errorf("launch %s: %w", sc.Name, cause)
}

func (r *Runner) streamLines(src io.Reader, sc *script.Script, fallback logbus.Level) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.rec.Write(sc.ID, sc.Name, logbus.Classify(line, fallback), line)
	}
	if err := scanner.Err(); err != nil {
		r.log.Debug("output stream ended with error",
			logx.String("script", sc.Name), logx.Err(err))
	}
}

func (r *Runner) wait(p *process, sc *script.Script, streams *sync.WaitGroup) {
	// Drain both pipes before Wait closes them.
	streams.Wait()
	err := p.cmd.Wait()

	duration := time.Since(p.exec.StartedAt)

	p.stopMu.Lock()
	stopped := p.stopRequested
	p.stopMu.Unlock()

	var (
		code   int
		status registry.Status
	)
	switch {
	case stopped:
		code = stopExitCode
		status = registry.StatusFailed
	case err == nil:
		code = 0
		status = registry.StatusSuccess
	default:
		code = exitCode(p.cmd, err)
		status = registry.StatusFailed
	}

	if stopped {
		r.rec.Write(sc.ID, sc.Name, logbus.LevelInfo, "Execution stopped by user")
	} else {
		r.rec.Write(sc.ID, sc.Name, logbus.LevelInfo,
			fmt.Sprintf("Execution finished (exit_code=%d, duration=%.2fs)", code, duration.Seconds()))
	}

	r.reg.Release(p.exec.ID, status, &code)

	r.mu.Lock()
	delete(r.procs, p.exec.ID)
	r.mu.Unlock()
	close(p.done)

	r.notifyExit(sc.ID)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func (r *Runner) notifyExit(scriptID int64) {
	r.mu.Lock()
	fn := r.onExit
	r.mu.Unlock()
	if fn != nil {
		fn(scriptID)
	}
}

// Stop terminates the live execution of scriptID: SIGTERM, then SIGKILL after
// the grace period. Idempotent: a script without a live execution gets
// ErrNotRunning.
func (r *Runner) Stop(scriptID int64) error {
	ex, ok := r.reg.RunningExecution(scriptID)
	if !ok {
		return ErrNotRunning
	}
	r.mu.Lock()
	p := r.procs[ex.ID]
	r.mu.Unlock()
	if p == nil {
		return ErrNotRunning
	}
	sc := &script.Script{ID: ex.ScriptID, Name: ex.ScriptName}
	return r.stopProcess(p, sc)
}

func (r *Runner) stopProcess(p *process, sc *script.Script) error {
	p.stopMu.Lock()
	already := p.stopRequested
	p.stopRequested = true
	p.stopMu.Unlock()

	if !already {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.log.Warn("SIGTERM failed", logx.String("script", sc.Name), logx.Err(err))
		}
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(r.cfg.stopGrace()):
	}

	r.log.Warn("grace period elapsed, killing process",
		logx.String("script", sc.Name), logx.Duration("grace", r.cfg.stopGrace()))
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", sc.Name, err)
	}
	<-p.done
	return nil
}

// StopAll stops every live execution, used during shutdown.
func (r *Runner) StopAll() {
	for _, ex := range r.reg.Active() {
		if err := r.Stop(ex.ScriptID); err != nil && !errors.Is(err, ErrNotRunning) {
			r.log.Warn("stop failed during shutdown",
				logx.String("script", ex.ScriptName), logx.Err(err))
		}
	}
}
