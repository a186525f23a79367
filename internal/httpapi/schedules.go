package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"zubot/internal/eventbus"
	"zubot/internal/store"
)

type scheduleRequest struct {
	ProfileID           string   `json:"profile_id"`
	Enabled             bool     `json:"enabled"`
	Mode                string   `json:"mode"`
	RunFrequencyMinutes int      `json:"run_frequency_minutes"`
	TimesOfDay          []string `json:"times_of_day"`
	Timezone            string   `json:"timezone"`
	DaysOfWeek          []string `json:"days_of_week"`
	MisfirePolicy       string   `json:"misfire_policy"`
	ExecutionOrder      int      `json:"execution_order"`
}

func (s *Server) listSchedules(c echo.Context) error {
	list, err := s.svc.Store.ListSchedules(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getSchedule(c echo.Context) error {
	sc, err := s.svc.Store.GetSchedule(c.Request().Context(), c.Param("schedule_id"))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrScheduleNotFound
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

func (s *Server) createSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ProfileID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "profile_id is required")
	}
	if req.Mode != store.ModeFrequency && req.Mode != store.ModeCalendar {
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be frequency or calendar")
	}
	misfire := req.MisfirePolicy
	if misfire == "" {
		misfire = store.MisfireQueueLatest
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	sc := store.Schedule{
		ProfileID: req.ProfileID, Enabled: req.Enabled, Mode: req.Mode,
		RunFrequencyMinutes: req.RunFrequencyMinutes, TimesOfDay: req.TimesOfDay,
		Timezone: tz, DaysOfWeek: req.DaysOfWeek, MisfirePolicy: misfire,
		ExecutionOrder: req.ExecutionOrder,
	}
	id, err := s.svc.Store.CreateSchedule(c.Request().Context(), sc, time.Now())
	if err != nil {
		return err
	}
	sc.ScheduleID = id
	return c.JSON(http.StatusCreated, sc)
}

// deleteSchedule resolves Open Question (a): any run left waiting_for_user
// on this schedule becomes terminal blocked/overlap_lost before the schedule
// row (and its FK-nulled runs) disappear, so a resume request afterward
// finds a definitive answer instead of a dangling hold.
func (s *Server) deleteSchedule(c echo.Context) error {
	ctx := c.Request().Context()
	scheduleID := c.Param("schedule_id")

	waiting, err := s.svc.Store.ListWaitingForUserRunsByScheduleID(ctx, scheduleID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, r := range waiting {
		if err := s.svc.Store.TransitionRun(ctx, r.RunID, store.RunBlocked, r.Summary, store.ErrOverlapLost, &now); err != nil {
			return err
		}
		if err := s.svc.Store.ArchiveToHistory(ctx, r.RunID); err != nil {
			return err
		}
		s.svc.Publish(eventbus.Event{Type: eventbus.RunBlocked, Data: map[string]any{"run_id": r.RunID}})
	}

	if err := s.svc.Store.DeleteSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
