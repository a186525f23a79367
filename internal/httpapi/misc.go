package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type sqlRequest struct {
	SQL        string  `json:"sql"`
	Params     []any   `json:"params"`
	ReadOnly   *bool   `json:"read_only"`
	TimeoutSec float64 `json:"timeout_sec"`
	MaxRows    int     `json:"max_rows"`
}

// postSQL passes a request straight through to the single-writer SQL
// gateway; read-only unless the caller explicitly opts out.
func (s *Server) postSQL(c echo.Context) error {
	var req sqlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SQL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sql is required")
	}
	readOnly := true
	if req.ReadOnly != nil {
		readOnly = *req.ReadOnly
	}
	result, err := s.svc.SQL.Execute(c.Request().Context(), req.SQL, req.Params, readOnly, req.TimeoutSec, req.MaxRows)
	if err != nil {
		// Execute returns an error for request-shape problems (empty SQL, a
		// write statement submitted read-only) and for a context cancelled
		// before the request is queued; queue timeouts and cancellation
		// after queuing come back as a Result with OK=false instead.
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type taskStateUpsertRequest struct {
	TaskID string `json:"task_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

func (s *Server) taskStateUpsert(c echo.Context) error {
	var req taskStateUpsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TaskID == "" || req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id and key are required")
	}
	if err := s.svc.Store.UpsertTaskState(c.Request().Context(), req.TaskID, req.Key, req.Value, time.Now()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type taskStateGetRequest struct {
	TaskID string `json:"task_id"`
	Key    string `json:"key"`
}

func (s *Server) taskStateGet(c echo.Context) error {
	var req taskStateGetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	value, ok, err := s.svc.Store.GetTaskState(c.Request().Context(), req.TaskID, req.Key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"value": value, "ok": ok})
}

type taskSeenMarkRequest struct {
	TaskID       string `json:"task_id"`
	Provider     string `json:"provider"`
	ItemKey      string `json:"item_key"`
	MetadataJSON string `json:"metadata_json"`
}

func (s *Server) taskSeenMark(c echo.Context) error {
	var req taskSeenMarkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TaskID == "" || req.Provider == "" || req.ItemKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id, provider and item_key are required")
	}
	firstSeen, err := s.svc.Store.MarkSeenItem(c.Request().Context(), req.TaskID, req.Provider, req.ItemKey, req.MetadataJSON, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"first_seen": firstSeen})
}

type taskSeenHasRequest struct {
	TaskID   string `json:"task_id"`
	Provider string `json:"provider"`
	ItemKey  string `json:"item_key"`
}

func (s *Server) taskSeenHas(c echo.Context) error {
	var req taskSeenHasRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	seen, err := s.svc.Store.HasSeenItem(c.Request().Context(), req.TaskID, req.Provider, req.ItemKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"seen": seen})
}
