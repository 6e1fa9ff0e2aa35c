package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig    `json:"server"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Logs     LogsConfig      `json:"logs"`
	Runner   RunnerConfig    `json:"runner"`
	Schedule ScheduleConfig  `json:"schedule,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type ServerConfig struct {
	// Listen is the HTTP bind address, e.g. ":8000". Empty disables the
	// REST/WebSocket layer (the daemon then only runs schedules).
	Listen string `json:"listen"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the script store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/scripts.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// LogsConfig controls the script log bus and its durable per-day files.
type LogsConfig struct {
	Dir string `json:"dir"`
	// RetentionDays prunes day files older than this many days. 0 keeps
	// everything.
	RetentionDays int `json:"retention_days,omitempty"`
	// SubscriberBuffer is the per-subscriber queue size; the newest event is
	// dropped for a subscriber whose queue is full.
	SubscriberBuffer int `json:"subscriber_buffer,omitempty"`
}

// RunnerConfig controls process launch and stop behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type RunnerConfig struct {
	// Interpreter runs scripts as "<interpreter> <path>"; empty executes the
	// script path directly.
	Interpreter string `json:"interpreter,omitempty"`
	// StopGrace is the SIGTERM-to-SIGKILL window. Default "5s".
	StopGrace string `json:"stop_grace,omitempty"`
	// HistorySize bounds the in-memory record of finished executions.
	HistorySize int `json:"history_size,omitempty"`
}

type ScheduleConfig struct {
	// StoreRetry is the fixed interval between retries when the script store
	// is unreachable at startup. Default "10s".
	StoreRetry string `json:"store_retry,omitempty"`
}

// NotifierConfig controls the optional Telegram sink for ERROR log events.
// Disabled unless a token and chat id are set.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"` // default "ERROR"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
}

// Validate checks cross-field invariants and duration syntax. Defaults are
// applied by the consumers, not here.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Logs.Dir) == "" {
		return errors.New("logs.dir is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("runner.stop_grace", c.Runner.StopGrace); err != nil {
		return err
	}
	if _, err := ParseDurationField("schedule.store_retry", c.Schedule.StoreRetry); err != nil {
		return err
	}
	if n := c.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return errors.New("notifier.token is required when the notifier is enabled")
		}
		if n.ChatID == 0 {
			return errors.New("notifier.chat_id is required when the notifier is enabled")
		}
	}
	return nil
}
