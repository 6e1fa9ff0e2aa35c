// Package app assembles the daemon: config, logging, storage, the log bus,
// the runner/registry pair, the schedule engine, the HTTP layer, and the
// optional Telegram notifier, all under one supervisor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"scriptd/internal/config"
	"scriptd/internal/logbus"
	"scriptd/internal/notifier"
	"scriptd/internal/registry"
	"scriptd/internal/runner"
	"scriptd/internal/runtime/supervisor"
	"scriptd/internal/schedule"
	"scriptd/internal/script"
	"scriptd/internal/server"
	"scriptd/internal/storage"
	"scriptd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    script.Store
	bus      *logbus.Bus
	dayStore *logbus.DayStore
	rec      *logbus.Recorder
	reg      *registry.Registry
	run      *runner.Runner
	engine   *schedule.Engine
	srv      *server.Server
	cron     *cron.Cron
}

// New loads config and initializes logging. Everything else is wired in
// Start, once the supervisor (which owns all background goroutines) exists.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	return &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open script store: %w", err)
	}
	a.store = store

	dayStore, err := logbus.NewDayStore(cfg.Logs.Dir, a.log.With(logx.String("comp", "logs")))
	if err != nil {
		return fmt.Errorf("open log dir: %w", err)
	}
	a.dayStore = dayStore
	a.bus = logbus.NewBus()
	a.rec = logbus.NewRecorder(a.bus, dayStore, a.log.With(logx.String("comp", "logs")))

	a.reg = registry.New(cfg.Runner.HistorySize)

	stopGrace, err := config.ParseDurationOrDefault("runner.stop_grace", cfg.Runner.StopGrace, 5*time.Second)
	if err != nil {
		return err
	}
	a.run = runner.New(runner.Config{
		Interpreter: cfg.Runner.Interpreter,
		StopGrace:   stopGrace,
	}, a.reg, store, a.rec, a.sup, a.log.With(logx.String("comp", "runner")))

	storeRetry, err := config.ParseDurationOrDefault("schedule.store_retry", cfg.Schedule.StoreRetry, 10*time.Second)
	if err != nil {
		return err
	}
	a.engine = schedule.NewEngine(schedule.Config{StoreRetry: storeRetry},
		store, a.run, a.reg, a.rec, a.sup, a.log.With(logx.String("comp", "schedule")))
	if err := a.engine.Start(a.sup.Context()); err != nil {
		// Engine keeps retrying the store in the background; not fatal.
		a.log.Warn("schedule engine started degraded", logx.Err(err))
	}

	if cfg.Server.Listen != "" {
		a.srv = server.New(server.Config{
			Listen:           cfg.Server.Listen,
			SubscriberBuffer: cfg.Logs.SubscriberBuffer,
		}, store, a.engine, a.run, a.reg, a.rec, a.log.With(logx.String("comp", "http")))
		a.sup.Go("http.serve", func(context.Context) error {
			a.log.Info("http listening", logx.String("addr", cfg.Server.Listen))
			return a.srv.Start()
		})
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		svc, err := notifier.New(notifier.Config{
			Token:      n.Token,
			ChatID:     n.ChatID,
			MinLevel:   logbus.Level(n.MinLevel),
			RatePerSec: n.RatePerSec,
			QueueSize:  n.QueueSize,
		}, a.log.With(logx.String("comp", "notifier")))
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
		a.sup.Go("notifier.run", func(c context.Context) error {
			return svc.Run(c, a.bus)
		})
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc("@daily", a.pruneLogs); err != nil {
		return err
	}
	a.cron.Start()
	a.pruneLogs()

	a.watchConfig()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// pruneLogs removes day files past the retention window. Retention is read
// from the live config so hot-reloaded values apply at the next run.
func (a *App) pruneLogs() {
	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Logs.RetentionDays <= 0 {
		return
	}
	removed, err := a.dayStore.Prune(cfg.Logs.RetentionDays)
	if err != nil {
		a.log.Warn("log prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		a.log.Info("log files pruned", logx.Int("removed", removed), logx.Int("retention_days", cfg.Logs.RetentionDays))
	}
}

// watchConfig applies hot-reloadable settings (logging only; storage, server
// and notifier changes need a restart).
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded")
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	if a.srv != nil {
		shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.srv.Shutdown(shutCtx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
		cancel()
	}

	a.engine.Stop()
	a.run.StopAll()

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	if err := a.sup.Wait(10 * time.Second); err != nil {
		a.log.Warn("shutdown incomplete", logx.Err(err))
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	if err := a.dayStore.Close(); err != nil {
		a.log.Warn("log store close", logx.Err(err))
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
