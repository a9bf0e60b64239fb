package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/fuel-code/server/pkg/database"
)

// HealthResponse is the body of GET /health (spec §6: "200 {status:'ok',
// checks:{db, queue}} when dependencies reachable; 503 otherwise").
type HealthResponse struct {
	Status string                  `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one dependency's reachability result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthHandler handles GET /health, unauthenticated and fast (spec §8:
// "Fast (<2 s)"). The queue check reuses the same Redis client the ingest
// endpoint appends through, so a broken queue connection surfaces here too.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := "ok"

	dbHealth, err := database.Health(reqCtx, s.store.Pool)
	if err != nil {
		status = "unhealthy"
		checks["db"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["db"] = HealthCheck{Status: dbHealth.Status}
	}

	if err := s.queuePing(reqCtx); err != nil {
		status = "unhealthy"
		checks["queue"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["queue"] = HealthCheck{Status: "ok"}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}
