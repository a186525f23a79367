// Package httpapi implements the Control API: thin JSON CRUD glue over the
// central service's components, grounded on mohammad-safakhou-newser's echo
// wiring (single echo.HTTPErrorHandler, middleware.Recover(), /healthz).
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"zubot/internal/central"
	logx "zubot/pkg/logx"
)

// Server builds and owns the echo instance for the Control API.
type Server struct {
	echo *echo.Echo
	svc  *central.Service
	log  logx.Logger
}

// New builds a Server wired to svc. Call Start to bind and serve.
func New(svc *central.Service, log logx.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, svc: svc, log: log}

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, msg := classify(err)
		if !c.Response().Committed {
			method, path := "", ""
			if c.Request() != nil {
				method, path = c.Request().Method, c.Request().URL.Path
			}
			log.Warn("http request failed", logx.Int("status", code), logx.String("method", method), logx.String("path", path), logx.Err(err))
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api/central")
	api.GET("/status", s.getStatus)
	api.POST("/start", s.postStart)
	api.POST("/stop", s.postStop)
	api.GET("/metrics", s.getMetrics)

	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.upsertTask)
	api.GET("/tasks/:task_id", s.getTask)
	api.DELETE("/tasks/:task_id", s.deleteTask)

	api.GET("/schedules", s.listSchedules)
	api.POST("/schedules", s.createSchedule)
	api.GET("/schedules/:schedule_id", s.getSchedule)
	api.DELETE("/schedules/:schedule_id", s.deleteSchedule)

	api.GET("/runs", s.listRuns)
	api.GET("/runs/waiting", s.listWaitingRuns)
	api.POST("/trigger/:task_id", s.triggerTask)
	api.POST("/agentic/enqueue", s.enqueueAgentic)
	api.POST("/runs/:run_id/kill", s.killRun)
	api.POST("/runs/:run_id/resume", s.resumeRun)

	api.POST("/sql", s.postSQL)

	api.POST("/task-state/upsert", s.taskStateUpsert)
	api.POST("/task-state/get", s.taskStateGet)
	api.POST("/task-seen/mark", s.taskSeenMark)
	api.POST("/task-seen/has", s.taskSeenHas)

	return s
}

// Start binds addr and serves until ctx-driven Shutdown is called elsewhere.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// ServeHTTP lets tests exercise routes directly via httptest without
// binding a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func classify(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, "unknown error"
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code, fmt.Sprint(he.Message)
	}
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrReadOnlyViolation):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrScheduleNotFound), errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
