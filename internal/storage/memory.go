package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"scriptd/internal/script"
)

// Memory is a process-local script.Store. Definitions do not survive a
// restart; tests and ephemeral setups use it.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	scripts map[int64]*script.Script
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, scripts: map[int64]*script.Script{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Get(_ context.Context, id int64) (*script.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.scripts[id]
	if !ok {
		return nil, script.ErrNotFound
	}
	return cloneScript(sc), nil
}

func (m *Memory) GetByName(_ context.Context, name string) (*script.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sc := range m.scripts {
		if sc.Name == name {
			return cloneScript(sc), nil
		}
	}
	return nil, script.ErrNotFound
}

func (m *Memory) List(_ context.Context, activeOnly bool) ([]*script.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*script.Script, 0, len(m.scripts))
	for _, sc := range m.scripts {
		if activeOnly && !sc.IsActive {
			continue
		}
		out = append(out, cloneScript(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Create(_ context.Context, sc *script.Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.scripts {
		if existing.Name == sc.Name {
			return script.ErrDuplicateName
		}
	}
	now := time.Now()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	sc.ID = m.nextID
	m.nextID++
	m.scripts[sc.ID] = cloneScript(sc)
	return nil
}

func (m *Memory) Update(_ context.Context, sc *script.Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[sc.ID]; !ok {
		return script.ErrNotFound
	}
	for id, existing := range m.scripts {
		if id != sc.ID && existing.Name == sc.Name {
			return script.ErrDuplicateName
		}
	}
	sc.UpdatedAt = time.Now()
	m.scripts[sc.ID] = cloneScript(sc)
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[id]; !ok {
		return script.ErrNotFound
	}
	delete(m.scripts, id)
	return nil
}

func (m *Memory) SetActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scripts[id]
	if !ok {
		return script.ErrNotFound
	}
	sc.IsActive = active
	sc.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateState(_ context.Context, id int64, u script.StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scripts[id]
	if !ok {
		return script.ErrNotFound
	}
	if u.LastRun != nil {
		t := *u.LastRun
		sc.LastRun = &t
	}
	switch {
	case u.ClearNextRun:
		sc.NextRun = nil
	case u.NextRun != nil:
		t := *u.NextRun
		sc.NextRun = &t
	}
	sc.UpdatedAt = time.Now()
	return nil
}

func cloneScript(sc *script.Script) *script.Script {
	cp := *sc
	cp.Schedule.Weekdays = append([]int(nil), sc.Schedule.Weekdays...)
	cp.Schedule.StartAt = cloneTime(sc.Schedule.StartAt)
	cp.LastRun = cloneTime(sc.LastRun)
	cp.NextRun = cloneTime(sc.NextRun)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
