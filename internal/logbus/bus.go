package logbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus is an in-memory fanout of script log events.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels; a full buffer drops the newest event
//     for that subscriber only.
//   - It does not own any background goroutines.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

type subscriber struct {
	ch chan Event
	// scriptID filters delivery; 0 means all scripts.
	scriptID int64
}

func NewBus() *Bus {
	return &Bus{subs: map[uint64]*subscriber{}}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.scriptID != 0 && s.scriptID != e.ScriptID {
			continue
		}
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a listener. scriptID 0 subscribes to all scripts.
// The returned unsubscribe func is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int, scriptID int64) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{ch: make(chan Event, buffer), scriptID: scriptID}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Subscribers reports the current listener count (operational signal only).
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
