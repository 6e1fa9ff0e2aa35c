package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"scriptd/internal/logbus"
)

// listExecutions returns running executions plus recent history, newest first.
func (s *Server) listExecutions(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	out := s.reg.Active()
	out = append(out, s.reg.History(limit)...)
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getExecution(c echo.Context) error {
	ex, ok := s.reg.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}
	return c.JSON(http.StatusOK, ex)
}

func (s *Server) pendingTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Pending())
}

// queryLogs reads one day's historic events. Defaults to today.
func (s *Server) queryLogs(c echo.Context) error {
	day := time.Now()
	if raw := c.QueryParam("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		day = parsed
	}

	filter := logbus.QueryFilter{ScriptName: c.QueryParam("script_name")}
	if raw := c.QueryParam("level"); raw != "" {
		level, ok := logbus.ParseLevel(raw)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid level")
		}
		filter.Level = level
	}

	events, err := s.rec.Store().Query(day, filter)
	if err != nil {
		return err
	}
	if events == nil {
		events = []logbus.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) logDates(c echo.Context) error {
	days, err := s.rec.Store().Dates()
	if err != nil {
		return err
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format("2006-01-02"))
	}
	return c.JSON(http.StatusOK, out)
}
