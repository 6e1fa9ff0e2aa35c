// Package registry arbitrates which script may run.
//
// Claim is the single serialization point: at most one live execution per
// script id, no matter whether the caller is a scheduled firing or a manual
// run request. The registry decides who MAY run, never whether to run.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrAlreadyRunning = errors.New("script is already running")

type Trigger string

const (
	TriggerManual         Trigger = "manual"
	TriggerScheduled      Trigger = "scheduled"
	TriggerScheduledStart Trigger = "scheduled_start"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Execution is one run of one script.
type Execution struct {
	ID         string    `json:"id"`
	ScriptID   int64     `json:"script_id"`
	ScriptName string    `json:"script_name"`
	Trigger    Trigger   `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Status     Status    `json:"status"`
	// ExitCode is nil while running and for launches that never produced a
	// process.
	ExitCode *int `json:"exit_code,omitempty"`
}

func (e Execution) Done() bool { return e.Status != StatusRunning }

// Registry tracks live executions and a bounded in-memory history of
// finished ones.
type Registry struct {
	mu      sync.Mutex
	running map[int64]*Execution // keyed by script id
	byID    map[string]*Execution
	history []*Execution
	keep    int
}

func New(historySize int) *Registry {
	if historySize <= 0 {
		historySize = 100
	}
	return &Registry{
		running: map[int64]*Execution{},
		byID:    map[string]*Execution{},
		keep:    historySize,
	}
}

// Claim atomically reserves the right to run scriptID. The second of two
// concurrent claims gets ErrAlreadyRunning.
func (r *Registry) Claim(scriptID int64, scriptName string, trigger Trigger) (Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.running[scriptID]; busy {
		return Execution{}, ErrAlreadyRunning
	}
	e := &Execution{
		ID:         uuid.NewString(),
		ScriptID:   scriptID,
		ScriptName: scriptName,
		Trigger:    trigger,
		StartedAt:  time.Now(),
		Status:     StatusRunning,
	}
	r.running[scriptID] = e
	r.byID[e.ID] = e
	return *e, nil
}

// Release ends the execution. Calling it again for the same id is a no-op.
func (r *Registry) Release(execID string, status Status, exitCode *int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[execID]
	if !ok || e.Done() {
		return
	}
	e.FinishedAt = time.Now()
	e.Status = status
	e.ExitCode = exitCode

	delete(r.running, e.ScriptID)
	r.history = append(r.history, e)
	if len(r.history) > r.keep {
		drop := r.history[0]
		r.history = r.history[1:]
		delete(r.byID, drop.ID)
	}
}

// Running reports whether scriptID has a live execution.
func (r *Registry) Running(scriptID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[scriptID]
	return ok
}

// RunningExecution returns the live execution for scriptID, if any.
func (r *Registry) RunningExecution(scriptID int64) (Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.running[scriptID]
	if !ok {
		return Execution{}, false
	}
	return *e, true
}

// Get looks an execution up by id (live or recent history).
func (r *Registry) Get(execID string) (Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[execID]
	if !ok {
		return Execution{}, false
	}
	return *e, true
}

// Active returns all live executions ordered by start time.
func (r *Registry) Active() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution, 0, len(r.running))
	for _, e := range r.running {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// History returns finished executions, newest first, up to limit.
func (r *Registry) History(limit int) []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Execution, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *r.history[i])
	}
	return out
}
