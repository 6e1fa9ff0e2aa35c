package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"scriptd/internal/logbus"
	"scriptd/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestMinLevelFilter(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := NewWithSender(Config{ChatID: 1, RatePerSec: 100}, sender, logx.Nop())

	// Default min level is ERROR.
	svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelInfo, Message: "quiet"})
	svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelWarning, Message: "still quiet"})
	svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelError, Message: "loud"})

	got := sender.messages()
	if len(got) != 1 {
		t.Fatalf("sent = %v, want only the ERROR event", got)
	}
	if !strings.Contains(got[0], "[ERROR] s") || !strings.Contains(got[0], "loud") {
		t.Fatalf("message = %q", got[0])
	}
}

func TestMinLevelWarning(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := NewWithSender(Config{ChatID: 1, MinLevel: logbus.LevelWarning, RatePerSec: 100}, sender, logx.Nop())

	svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelStdout, Message: "a"})
	svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelWarning, Message: "b"})
	svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelError, Message: "c"})

	if got := sender.messages(); len(got) != 2 {
		t.Fatalf("sent = %v, want WARNING and ERROR", got)
	}
}

func TestRateLimitDropsFlood(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := NewWithSender(Config{ChatID: 1, RatePerSec: 2}, sender, logx.Nop())

	for i := 0; i < 50; i++ {
		svc.handle(logbus.Event{ScriptName: "s", Level: logbus.LevelError, Message: "flood"})
	}
	// Burst allowance is RatePerSec; the rest of the flood is dropped.
	if got := sender.messages(); len(got) > 4 {
		t.Fatalf("sent %d messages, rate limit did not hold", len(got))
	}
	if len(sender.messages()) == 0 {
		t.Fatal("rate limit dropped everything")
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := NewWithSender(Config{ChatID: 1, RatePerSec: 100}, sender, logx.Nop())

	bus := logbus.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx, bus)
	}()

	// Wait until the subscription is registered.
	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(logbus.Event{ScriptID: 1, ScriptName: "s", Level: logbus.LevelError, Message: "from bus"})

	deadline = time.Now().Add(2 * time.Second)
	for len(sender.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sender.messages(); len(got) != 1 || !strings.Contains(got[0], "from bus") {
		t.Fatalf("sent = %v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	if bus.Subscribers() != 0 {
		t.Fatal("Run left its subscription behind")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
