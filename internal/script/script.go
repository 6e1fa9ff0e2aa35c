package script

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("script not found")
	ErrDuplicateName = errors.New("script name already exists")
)

// IntervalUnit is the unit of a repeat interval.
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "seconds"
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
)

// Duration returns the length of one unit step.
func (u IntervalUnit) Duration() (time.Duration, bool) {
	switch u {
	case UnitSeconds:
		return time.Second, true
	case UnitMinutes:
		return time.Minute, true
	case UnitHours:
		return time.Hour, true
	case UnitDays:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

func ParseIntervalUnit(raw string) (IntervalUnit, error) {
	u := IntervalUnit(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := u.Duration(); !ok {
		return "", fmt.Errorf("invalid interval unit %q", raw)
	}
	return u, nil
}

// Schedule holds a script's trigger configuration.
//
// One-time start and repetition are independent toggles. Both disabled means
// the script can only be run manually. When both are enabled, repetition does
// not begin firing until the one-time start has elapsed at least once.
type Schedule struct {
	StartEnabled bool       `json:"scheduled_start_enabled"`
	StartAt      *time.Time `json:"scheduled_start_datetime,omitempty"`

	RepeatEnabled bool         `json:"repeat_enabled"`
	IntervalValue int          `json:"interval_value,omitempty"`
	IntervalUnit  IntervalUnit `json:"interval_unit,omitempty"`

	// Weekdays restricts periodic firings, ISO numbering 0=Monday..6=Sunday.
	// Empty (or all seven) means unrestricted.
	Weekdays []int `json:"weekdays,omitempty"`
}

// Validate checks schedule invariants: interval >= 1 with a known unit when
// repetition is enabled, an instant when one-time start is enabled, and
// weekday values within 0..6.
func (s Schedule) Validate() error {
	if s.RepeatEnabled {
		if s.IntervalValue < 1 {
			return errors.New("interval_value must be >= 1")
		}
		if _, ok := s.IntervalUnit.Duration(); !ok {
			return fmt.Errorf("invalid interval unit %q", s.IntervalUnit)
		}
	}
	if s.StartEnabled && s.StartAt == nil {
		return errors.New("scheduled_start_datetime is required when scheduled start is enabled")
	}
	for _, d := range s.Weekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("weekday %d out of range 0..6", d)
		}
	}
	return nil
}

// Interval returns the repeat step, or 0 when repetition is disabled or invalid.
func (s Schedule) Interval() time.Duration {
	if !s.RepeatEnabled || s.IntervalValue < 1 {
		return 0
	}
	unit, ok := s.IntervalUnit.Duration()
	if !ok {
		return 0
	}
	return time.Duration(s.IntervalValue) * unit
}

// WeekdayAllowed reports whether t's weekday passes the filter.
// An empty or full set allows everything.
func (s Schedule) WeekdayAllowed(t time.Time) bool {
	if len(s.Weekdays) == 0 || len(s.Weekdays) >= 7 {
		return true
	}
	iso := ISOWeekday(t)
	for _, d := range s.Weekdays {
		if d == iso {
			return true
		}
	}
	return false
}

// ISOWeekday maps Go's Sunday-based weekday to ISO numbering 0=Monday..6=Sunday.
func ISOWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Script is a registered external script plus its trigger configuration.
type Script struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`

	// IsActive gates scheduling only; inactive scripts can still be run manually.
	IsActive bool `json:"is_active"`

	Schedule Schedule `json:"schedule"`

	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Script) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("path is required")
	}
	return s.Schedule.Validate()
}

// ExecutionState is the live scheduling view of one script.
type ExecutionState struct {
	ScriptID   int64      `json:"script_id"`
	ScriptName string     `json:"script_name"`
	IsActive   bool       `json:"is_active"`
	IsRunning  bool       `json:"is_running"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

// StateUpdate is a partial update of a script's persisted execution state.
// Nil pointer fields are left untouched; ClearNextRun wins over NextRun.
type StateUpdate struct {
	LastRun      *time.Time
	NextRun      *time.Time
	ClearNextRun bool
	IsRunning    *bool
}

func (u StateUpdate) IsZero() bool {
	return u.LastRun == nil && u.NextRun == nil && !u.ClearNextRun && u.IsRunning == nil
}
