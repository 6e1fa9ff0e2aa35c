package logbus

import (
	"time"

	"scriptd/pkg/logx"
)

// Recorder is the single write path for script log events: durable append
// first, then live fanout. A failing append is reported on the daemon log
// but never blocks delivery to subscribers.
type Recorder struct {
	bus   *Bus
	store *DayStore
	log   logx.Logger
}

func NewRecorder(bus *Bus, store *DayStore, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log}
}

func (r *Recorder) Bus() *Bus       { return r.bus }
func (r *Recorder) Store() *DayStore { return r.store }

func (r *Recorder) Write(scriptID int64, scriptName string, level Level, message string) {
	e := Event{
		ScriptID:   scriptID,
		ScriptName: scriptName,
		Level:      level,
		Message:    message,
		Time:       time.Now(),
	}
	if r.store != nil {
		if err := r.store.Append(e); err != nil {
			r.log.Error("durable log append failed",
				logx.String("script", scriptName), logx.Err(err))
		}
	}
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
