package logx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.With(String("comp", "test")).Info("hello file", Int("n", 7))

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	m := lines[0]
	if m["message"] != "hello file" || m["comp"] != "test" {
		t.Fatalf("line = %v", m)
	}
	if n, ok := m["n"].(float64); !ok || n != 7 {
		t.Fatalf("n = %v", m["n"])
	}
	if m["level"] != "info" {
		t.Fatalf("level = %v", m["level"])
	}
}

func TestApplyChangesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Debug("visible")
	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("filtered")
	log.Warn("still visible")

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2 (debug after Apply must be filtered)", len(lines))
	}
	if lines[1]["message"] != "still visible" {
		t.Fatalf("last line = %v", lines[1])
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	log.Info("into the void", String("k", "v"))
	Nop().Error("also silent", Err(os.ErrNotExist))
}

func TestParseLevelAliases(t *testing.T) {
	t.Parallel()
	if got := parseLevel("WARNING", LevelInfo); got != LevelWarn {
		t.Fatalf("warning alias = %v", got)
	}
	if got := parseLevel("err", LevelInfo); got != LevelError {
		t.Fatalf("err alias = %v", got)
	}
	if got := parseLevel("nonsense", LevelInfo); got != LevelInfo {
		t.Fatalf("fallback = %v", got)
	}
}
