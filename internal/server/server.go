// Package server is the HTTP command layer: thin CRUD over script records,
// run/stop/status commands, historic log queries, and the WebSocket log feed.
// All scheduling decisions live in internal/schedule; handlers only translate
// HTTP to core calls.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"scriptd/internal/logbus"
	"scriptd/internal/registry"
	"scriptd/internal/runner"
	"scriptd/internal/schedule"
	"scriptd/internal/script"
	"scriptd/pkg/logx"
)

type Config struct {
	Listen string
	// SubscriberBuffer sizes each WebSocket client's event queue.
	SubscriberBuffer int
}

func (c Config) subscriberBuffer() int {
	if c.SubscriberBuffer > 0 {
		return c.SubscriberBuffer
	}
	return 100
}

type Server struct {
	cfg    Config
	store  script.Store
	engine *schedule.Engine
	run    *runner.Runner
	reg    *registry.Registry
	rec    *logbus.Recorder
	log    logx.Logger

	e *echo.Echo
}

func New(cfg Config, store script.Store, engine *schedule.Engine, run *runner.Runner, reg *registry.Registry, rec *logbus.Recorder, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		engine: engine,
		run:    run,
		reg:    reg,
		rec:    rec,
		log:    log,
	}
	s.e = s.router()
	return s
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(requestLogger(s.log))

	api := e.Group("/api")

	api.GET("/scripts", s.listScripts)
	api.POST("/scripts", s.createScript)
	api.GET("/scripts/:id", s.getScript)
	api.PUT("/scripts/:id", s.updateScript)
	api.DELETE("/scripts/:id", s.deleteScript)

	api.POST("/scripts/:id/enable", s.enableScript)
	api.POST("/scripts/:id/disable", s.disableScript)
	api.POST("/scripts/:id/run", s.runScript)
	api.POST("/scripts/:id/stop", s.stopScript)
	api.GET("/scripts/:id/status", s.scriptStatus)

	api.GET("/executions", s.listExecutions)
	api.GET("/executions/:id", s.getExecution)
	api.GET("/schedule/pending", s.pendingTasks)

	api.GET("/logs", s.queryLogs)
	api.GET("/logs/dates", s.logDates)

	e.GET("/ws/logs", s.wsLogs)
	e.GET("/ws/logs/:id", s.wsLogs)

	return e
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.e.Start(s.cfg.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the routed handler for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func requestLogger(log logx.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			res := c.Response()
			log.Debug("http request",
				logx.String("method", req.Method),
				logx.String("path", req.URL.Path),
				logx.Int("status", res.Status),
				logx.Duration("took", time.Since(start)),
				logx.String("remote", c.RealIP()),
			)
			return nil
		}
	}
}
