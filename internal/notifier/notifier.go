// Package notifier forwards script log events to a Telegram chat.
//
// It is one more subscriber on the log bus: bounded queue, min-level filter,
// rate limited. Anything it cannot deliver is dropped; the durable day files
// remain the complete record.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"scriptd/internal/logbus"
	"scriptd/pkg/logx"
)

type Config struct {
	Token      string
	ChatID     int64
	MinLevel   logbus.Level // default ERROR
	RatePerSec int          // default 1
	QueueSize  int          // default 64
}

// Sender is the transport seam (telebot in production, a fake in tests).
type Sender interface {
	Send(chatID int64, text string) error
}

type telebotSender struct{ bot *tele.Bot }

func (s *telebotSender) Send(chatID int64, text string) error {
	_, err := s.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

type Service struct {
	cfg     Config
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notifier: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notifier: chat_id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return NewWithSender(cfg, &telebotSender{bot: bot}, log), nil
}

func NewWithSender(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MinLevel == "" {
		cfg.MinLevel = logbus.LevelError
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Run consumes the bus until ctx is done.
func (s *Service) Run(ctx context.Context, bus *logbus.Bus) error {
	ch, unsub := bus.Subscribe(s.cfg.QueueSize, 0)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(e)
		}
	}
}

func (s *Service) handle(e logbus.Event) {
	if levelRank(e.Level) < levelRank(s.cfg.MinLevel) {
		return
	}
	// Rate limiting drops rather than queues: a flooding script must not
	// build an unbounded Telegram backlog.
	if !s.limiter.Allow() {
		return
	}
	if err := s.sender.Send(s.cfg.ChatID, format(e)); err != nil {
		s.log.Warn("telegram notify failed", logx.String("script", e.ScriptName), logx.Err(err))
	}
}

func format(e logbus.Event) string {
	return fmt.Sprintf("[%s] %s\n%s", e.Level, e.ScriptName, e.Message)
}

func levelRank(l logbus.Level) int {
	switch l {
	case logbus.LevelDebug:
		return 0
	case logbus.LevelStdout, logbus.LevelStderr, logbus.LevelInfo:
		return 1
	case logbus.LevelWarning:
		return 2
	case logbus.LevelError:
		return 3
	default:
		return 1
	}
}
