package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"zubot/internal/store"
)

type taskProfileRequest struct {
	TaskID         string `json:"task_id"`
	Kind           string `json:"kind"`
	EntrypointPath string `json:"entrypoint_path"`
	Module         string `json:"module"`
	QueueGroup     string `json:"queue_group"`
	TimeoutSec     int    `json:"timeout_sec"`
	RetryPolicy    string `json:"retry_policy"`
	Enabled        bool   `json:"enabled"`
}

func (s *Server) listTasks(c echo.Context) error {
	tasks, err := s.svc.Store.ListTaskProfiles(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c echo.Context) error {
	p, err := s.svc.Store.GetTaskProfile(c.Request().Context(), c.Param("task_id"))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) upsertTask(c echo.Context) error {
	var req taskProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TaskID == "" || req.Kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id and kind are required")
	}
	if req.Kind != store.KindScript && req.Kind != store.KindAgentic && req.Kind != store.KindInteractiveWrapper {
		return echo.NewHTTPError(http.StatusBadRequest, "unrecognized kind")
	}
	profile := store.TaskProfile{
		TaskID: req.TaskID, Kind: req.Kind, EntrypointPath: req.EntrypointPath,
		Module: req.Module, QueueGroup: req.QueueGroup, TimeoutSec: req.TimeoutSec,
		RetryPolicy: req.RetryPolicy, Enabled: req.Enabled,
	}
	if err := s.svc.Store.UpsertTaskProfile(c.Request().Context(), profile, time.Now()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) deleteTask(c echo.Context) error {
	// task_profile has ON DELETE CASCADE on run/schedule, so this is a plain
	// delete; there is no waiting_for_user-across-schedule race to resolve
	// here the way schedule deletion has (Open Question (a) is schedule-scoped).
	if err := s.svc.Store.DeleteTaskProfile(c.Request().Context(), c.Param("task_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
