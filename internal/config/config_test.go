package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
server:
  listen: ":9000"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/scripts.db
  busy_timeout: 2s
logs:
  dir: ./logs
  retention_days: 14
  subscriber_buffer: 200
runner:
  interpreter: python3
  stop_grace: 10s
  history_size: 50
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./data/scripts.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Logs.RetentionDays != 14 || cfg.Logs.SubscriberBuffer != 200 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
	if cfg.Runner.Interpreter != "python3" || cfg.Runner.StopGrace != "10s" {
		t.Fatalf("runner = %+v", cfg.Runner)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "storage": {"path": "./scripts.db"},
  "logs": {"dir": "./logs"}
}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "./scripts.db" || cfg.Logs.Dir != "./logs" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logs:
  dir: ./logs
  retention: 14
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Storage: StorageConfig{Driver: "sqlite", Path: "./db"},
			Logs:    LogsConfig{Dir: "./logs"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory driver needs no path", mutate: func(c *Config) {
			c.Storage = StorageConfig{Driver: "memory"}
		}},
		{name: "missing logs dir", mutate: func(c *Config) { c.Logs.Dir = " " }, wantErr: true},
		{name: "missing sqlite path", mutate: func(c *Config) { c.Storage.Path = "" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "oracle" }, wantErr: true},
		{name: "bad stop_grace", mutate: func(c *Config) { c.Runner.StopGrace = "soon" }, wantErr: true},
		{name: "bad busy_timeout", mutate: func(c *Config) { c.Storage.BusyTimeout = "2 seconds" }, wantErr: true},
		{name: "notifier enabled without token", mutate: func(c *Config) {
			c.Notifier = &NotifierConfig{Enabled: true, ChatID: 42}
		}, wantErr: true},
		{name: "notifier enabled without chat", mutate: func(c *Config) {
			c.Notifier = &NotifierConfig{Enabled: true, Token: "t"}
		}, wantErr: true},
		{name: "notifier disabled needs nothing", mutate: func(c *Config) {
			c.Notifier = &NotifierConfig{}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "later"); err == nil {
		t.Fatal("expected error")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", Example())
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse(Example): %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate(Example): %v", err)
	}
}
