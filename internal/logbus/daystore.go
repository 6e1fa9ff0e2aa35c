package logbus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"scriptd/pkg/logx"
)

const dayFormat = "2006-01-02"

// DayStore appends events to one file per calendar day (local time),
// named YYYY-MM-DD.log. Files are append-only and written one line at a
// time without userspace buffering, so concurrent readers never observe a
// partial event.
type DayStore struct {
	dir string
	log logx.Logger

	mu      sync.Mutex
	file    *os.File
	fileDay string
}

func NewDayStore(dir string, log logx.Logger) (*DayStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("logbus: day store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DayStore{dir: dir, log: log}, nil
}

func (d *DayStore) Dir() string { return d.dir }

func (d *DayStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		d.fileDay = ""
		return err
	}
	return nil
}

// Append writes one event to the day file for the event's local date.
func (d *DayStore) Append(e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	day := e.Time.Local().Format(dayFormat)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil || d.fileDay != day {
		if d.file != nil {
			_ = d.file.Close()
			d.file = nil
		}
		f, err := os.OpenFile(d.path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("logbus: open day file: %w", err)
		}
		d.file = f
		d.fileDay = day
	}

	if _, err := d.file.WriteString(e.FormatLine() + "\n"); err != nil {
		return fmt.Errorf("logbus: append: %w", err)
	}
	return nil
}

// QueryFilter narrows a historic query. Zero values match everything.
type QueryFilter struct {
	ScriptName string
	Level      Level
}

// Query reads one day's events in stored (ascending) order.
// Malformed lines are skipped. A missing day file yields an empty result.
func (d *DayStore) Query(day time.Time, f QueryFilter) ([]Event, error) {
	file, err := os.Open(d.path(day.Format(dayFormat)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []Event
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		e, err := ParseLine(sc.Text())
		if err != nil {
			continue
		}
		if f.ScriptName != "" && e.ScriptName != f.ScriptName {
			continue
		}
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// Dates lists days that have a log file, newest first.
func (d *DayStore) Dates() ([]time.Time, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, "*.log"))
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(matches))
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), ".log")
		day, err := time.ParseInLocation(dayFormat, stem, time.Local)
		if err != nil {
			continue
		}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

// Prune removes day files older than retentionDays. retentionDays <= 0
// disables pruning. Returns the number of files removed.
func (d *DayStore) Prune(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	days, err := d.Dates()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, day := range days {
		if !day.Before(cutoff) {
			continue
		}
		path := d.path(day.Format(dayFormat))
		if err := os.Remove(path); err != nil {
			d.log.Warn("log prune failed", logx.String("path", path), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (d *DayStore) path(day string) string {
	return filepath.Join(d.dir, day+".log")
}
