package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"scriptd/internal/registry"
	"scriptd/internal/runner"
	"scriptd/internal/script"
	"scriptd/pkg/logx"
)

// scriptRequest is the create/update payload. Pointer fields distinguish
// "absent" from zero on update; create fills defaults.
type scriptRequest struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`

	StartEnabled bool       `json:"scheduled_start_enabled"`
	StartAt      *time.Time `json:"scheduled_start_datetime"`

	RepeatEnabled bool   `json:"repeat_enabled"`
	IntervalValue int    `json:"interval_value"`
	IntervalUnit  string `json:"interval_unit"`
	Weekdays      []int  `json:"weekdays"`
}

func (r scriptRequest) apply(sc *script.Script) error {
	sc.Name = r.Name
	sc.Path = r.Path
	sc.Description = r.Description
	if r.IsActive != nil {
		sc.IsActive = *r.IsActive
	}
	sc.Schedule = script.Schedule{
		StartEnabled:  r.StartEnabled,
		StartAt:       r.StartAt,
		RepeatEnabled: r.RepeatEnabled,
		IntervalValue: r.IntervalValue,
		Weekdays:      r.Weekdays,
	}
	if r.RepeatEnabled {
		unit, err := script.ParseIntervalUnit(r.IntervalUnit)
		if err != nil {
			return err
		}
		sc.Schedule.IntervalUnit = unit
	}
	return sc.Validate()
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid script id")
	}
	return id, nil
}

// coreErr maps core sentinel errors onto HTTP status codes.
func coreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, script.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "script not found")
	case errors.Is(err, script.ErrDuplicateName):
		return echo.NewHTTPError(http.StatusConflict, "script name already exists")
	case errors.Is(err, registry.ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, "script is already running")
	case errors.Is(err, runner.ErrNotRunning):
		return echo.NewHTTPError(http.StatusNotFound, "script is not running")
	default:
		return err
	}
}

func (s *Server) listScripts(c echo.Context) error {
	activeOnly, _ := strconv.ParseBool(c.QueryParam("active"))
	scripts, err := s.store.List(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scripts)
}

func (s *Server) getScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sc, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return coreErr(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (s *Server) createScript(c echo.Context) error {
	var req scriptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sc := &script.Script{IsActive: true}
	if err := req.apply(sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := s.store.Create(ctx, sc); err != nil {
		return coreErr(err)
	}
	if err := s.engine.OnConfigChanged(ctx, sc.ID); err != nil {
		s.log.Warn("arm after create failed", logx.Int64("script_id", sc.ID), logx.Err(err))
	}
	// re-read so next_run set by the engine is reflected
	if fresh, err := s.store.Get(ctx, sc.ID); err == nil {
		sc = fresh
	}
	s.log.Info("script created", logx.Int64("script_id", sc.ID), logx.String("name", sc.Name))
	return c.JSON(http.StatusCreated, sc)
}

func (s *Server) updateScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req scriptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return coreErr(err)
	}
	if err := req.apply(sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.Update(ctx, sc); err != nil {
		return coreErr(err)
	}
	if err := s.engine.OnConfigChanged(ctx, id); err != nil {
		s.log.Warn("rearm after update failed", logx.Int64("script_id", id), logx.Err(err))
	}
	if fresh, err := s.store.Get(ctx, id); err == nil {
		sc = fresh
	}
	return c.JSON(http.StatusOK, sc)
}

func (s *Server) deleteScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := s.store.Delete(ctx, id); err != nil {
		return coreErr(err)
	}
	if err := s.engine.OnConfigChanged(ctx, id); err != nil {
		s.log.Warn("disarm after delete failed", logx.Int64("script_id", id), logx.Err(err))
	}
	s.log.Info("script deleted", logx.Int64("script_id", id))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) enableScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.Enable(c.Request().Context(), id); err != nil {
		return coreErr(err)
	}
	return s.scriptStatusByID(c, id)
}

func (s *Server) disableScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.engine.Disable(c.Request().Context(), id); err != nil {
		return coreErr(err)
	}
	return s.scriptStatusByID(c, id)
}

func (s *Server) runScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ex, err := s.engine.RunNow(c.Request().Context(), id)
	if err != nil {
		return coreErr(err)
	}
	return c.JSON(http.StatusCreated, ex)
}

func (s *Server) stopScript(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := s.store.Get(c.Request().Context(), id); err != nil {
		return coreErr(err)
	}
	if err := s.run.Stop(id); err != nil {
		return coreErr(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) scriptStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	return s.scriptStatusByID(c, id)
}

func (s *Server) scriptStatusByID(c echo.Context, id int64) error {
	st, err := s.engine.Status(c.Request().Context(), id)
	if err != nil {
		return coreErr(err)
	}
	return c.JSON(http.StatusOK, st)
}
