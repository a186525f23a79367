package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Snapshot(c.Request().Context()))
}

func (s *Server) postStart(c echo.Context) error {
	s.svc.Start(context.Background())
	return c.JSON(http.StatusOK, map[string]bool{"running": s.svc.Running()})
}

func (s *Server) postStop(c echo.Context) error {
	s.svc.Stop(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]bool{"running": s.svc.Running()})
}

func (s *Server) getMetrics(c echo.Context) error {
	m, err := s.svc.Metrics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}
