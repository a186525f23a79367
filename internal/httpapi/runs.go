package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"zubot/internal/central"
	"zubot/internal/eventbus"
	"zubot/internal/store"
)

// listRuns returns active runs plus a bounded queued preview, per
// SPEC_FULL.md §6.2 "Active runs + queued preview".
func (s *Server) listRuns(c echo.Context) error {
	ctx := c.Request().Context()
	profiles, err := s.svc.Store.ListTaskProfiles(ctx)
	if err != nil {
		return err
	}
	active := []store.Run{}
	for _, p := range profiles {
		runs, err := s.svc.Store.ListActiveRunsByProfile(ctx, p.TaskID)
		if err != nil {
			return err
		}
		active = append(active, runs...)
	}
	queued, err := s.svc.Store.ListQueuedRuns(ctx, 50)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"active": active, "queued_preview": queued})
}

func (s *Server) listWaitingRuns(c echo.Context) error {
	runs, err := s.svc.Store.ListWaitingForUserRuns(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

type triggerRequest struct {
	PayloadJSON json.RawMessage `json:"payload"`
}

func (s *Server) triggerTask(c echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")

	profile, err := s.svc.Store.GetTaskProfile(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if !profile.Enabled {
		return echo.NewHTTPError(http.StatusConflict, "task profile is disabled")
	}

	var req triggerRequest
	_ = c.Bind(&req)
	payload := "{}"
	if len(req.PayloadJSON) > 0 {
		payload = string(req.PayloadJSON)
	}

	// Manual triggers carry no schedule_id/planned_fire_at and join the
	// dispatcher's FIFO queue exactly like any other run (Open Question (b)).
	runID, err := s.svc.Store.EnqueueRun(ctx, taskID, nil, nil, payload, time.Now())
	if err != nil {
		return err
	}
	s.svc.Publish(eventbus.Event{Type: eventbus.RunQueued, Data: map[string]any{"run_id": runID, "profile_id": taskID}})
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

type agenticEnqueueRequest struct {
	TaskID       string          `json:"task_id"`
	Instructions string          `json:"instructions"`
	PayloadJSON  json.RawMessage `json:"payload"`
}

func (s *Server) enqueueAgentic(c echo.Context) error {
	ctx := c.Request().Context()
	var req agenticEnqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TaskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}

	profile, err := s.svc.Store.GetTaskProfile(ctx, req.TaskID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if profile.Kind != store.KindAgentic {
		return echo.NewHTTPError(http.StatusBadRequest, "task profile is not kind=agentic")
	}

	payload := req.PayloadJSON
	if len(payload) == 0 {
		b, _ := json.Marshal(map[string]string{"instructions": req.Instructions})
		payload = b
	}

	runID, err := s.svc.Store.EnqueueRun(ctx, req.TaskID, nil, nil, string(payload), time.Now())
	if err != nil {
		return err
	}
	s.svc.Publish(eventbus.Event{Type: eventbus.RunQueued, Data: map[string]any{"run_id": runID, "profile_id": req.TaskID}})
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) killRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := s.svc.Store.GetRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}

	switch run.Status {
	case store.RunQueued:
		now := time.Now()
		if err := s.svc.Store.TransitionRun(ctx, runID, store.RunBlocked, run.Summary, store.ErrKilled, &now); err != nil {
			return err
		}
		if err := s.svc.Store.ArchiveToHistory(ctx, runID); err != nil {
			return err
		}
		s.svc.Publish(eventbus.Event{Type: eventbus.RunBlocked, Data: map[string]any{"run_id": runID}})
		return c.JSON(http.StatusOK, map[string]string{"status": store.RunBlocked})
	case store.RunRunning:
		if !s.svc.Dispatcher.Kill(runID) {
			return echo.NewHTTPError(http.StatusConflict, "run is not currently tracked by this dispatcher instance")
		}
		return c.JSON(http.StatusAccepted, map[string]string{"status": "killing"})
	default:
		return echo.NewHTTPError(http.StatusConflict, "run is not queued or running")
	}
}

type resumeRequest struct {
	Response json.RawMessage `json:"response"`
}

func (s *Server) resumeRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	run, err := s.svc.Store.GetRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	if run.Status != store.RunWaitingForUser {
		return echo.NewHTTPError(http.StatusConflict, "run is not waiting_for_user")
	}

	env, ok := central.ParseInteractiveEnvelope(run.Summary)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "run has no interactive envelope to resume")
	}
	if time.Now().After(env.ExpiresAt) {
		return echo.NewHTTPError(http.StatusConflict, "interactive request has already expired")
	}

	payload, err := env.WithResponse(req.Response)
	if err != nil {
		return err
	}
	resumed, err := s.svc.Store.ResumeWaitingRun(ctx, runID, payload, time.Now())
	if err != nil {
		return err
	}
	if !resumed {
		return echo.NewHTTPError(http.StatusConflict, "run is no longer waiting_for_user")
	}
	s.svc.Publish(eventbus.Event{Type: eventbus.RunResumed, Data: map[string]any{"run_id": runID}})
	return c.JSON(http.StatusAccepted, map[string]string{"status": store.RunQueued})
}
