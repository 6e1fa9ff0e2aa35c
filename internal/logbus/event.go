package logbus

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a script log line.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	// LevelStdout is the fallback for stdout lines without a level tag.
	LevelStdout Level = "STDOUT"
	// LevelStderr is the fallback for stderr lines without a level tag.
	LevelStderr Level = "STDERR"
)

func ParseLevel(raw string) (Level, bool) {
	switch Level(strings.ToUpper(strings.TrimSpace(raw))) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarning:
		return LevelWarning, true
	case LevelError:
		return LevelError, true
	case LevelStdout:
		return LevelStdout, true
	case LevelStderr:
		return LevelStderr, true
	default:
		return "", false
	}
}

// Event is one log line from one script.
type Event struct {
	ScriptID   int64     `json:"script_id"`
	ScriptName string    `json:"script_name"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	Time       time.Time `json:"timestamp"`
}

// classifyTags is checked in order; first substring hit wins.
var classifyTags = []struct {
	tag   string
	level Level
}{
	{"[DEBUG]", LevelDebug},
	{"[WARNING]", LevelWarning},
	{"[ERROR]", LevelError},
	{"[INFO]", LevelInfo},
}

// Classify derives a level from an embedded tag in a raw output line.
// Lines without a recognized tag get the fallback (stream default).
func Classify(line string, fallback Level) Level {
	for _, t := range classifyTags {
		if strings.Contains(line, t.tag) {
			return t.level
		}
	}
	return fallback
}

const lineTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatLine renders the durable one-line representation.
func (e Event) FormatLine() string {
	msg := strings.NewReplacer("\n", " ", "\r", " ").Replace(e.Message)
	return fmt.Sprintf("%s|%s|%s|%s", e.Time.Format(lineTimeFormat), e.ScriptName, e.Level, msg)
}

// ParseLine parses a durable line back into an Event. Script ids are not part
// of the durable format, so parsed events carry id 0.
func ParseLine(line string) (Event, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\n"), "|", 4)
	if len(parts) != 4 {
		return Event{}, fmt.Errorf("invalid log line format: %q", line)
	}
	ts, err := time.Parse(lineTimeFormat, parts[0])
	if err != nil {
		// Older writers used varying sub-second precision.
		ts, err = time.Parse(time.RFC3339Nano, parts[0])
		if err != nil {
			return Event{}, fmt.Errorf("invalid log line timestamp: %q", parts[0])
		}
	}
	return Event{
		Time:       ts,
		ScriptName: parts[1],
		Level:      Level(parts[2]),
		Message:    parts[3],
	}, nil
}
