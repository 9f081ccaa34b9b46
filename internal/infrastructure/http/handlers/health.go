package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 3 * time.Second

// SessionProbe reports whether the daemon currently holds a live session.
type SessionProbe interface {
	Authenticated() bool
}

// HealthHandler serves GET /health. It always answers 200 and reports whether
// a session is loaded.
type HealthHandler struct {
	session SessionProbe
}

func NewHealthHandler(session SessionProbe) *HealthHandler {
	return &HealthHandler{session: session}
}

type livenessResponse struct {
	Status        string `json:"status"`
	Authenticated bool   `json:"authenticated"`
}

func (h *HealthHandler) Liveness(c echo.Context) error {
	authed := h.session != nil && h.session.Authenticated()
	return c.JSON(http.StatusOK, livenessResponse{Status: "ok", Authenticated: authed})
}

// HealthDependenciesHandler serves GET /health/ready.
type HealthDependenciesHandler struct {
	redis *redis.Client
}

func NewHealthDependenciesHandler(rdb *redis.Client) *HealthDependenciesHandler {
	return &HealthDependenciesHandler{redis: rdb}
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

func (h *HealthDependenciesHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	deps := make(map[string]dependencyStatus)
	healthy := true

	switch {
	case h.redis == nil:
		deps["session_store"] = dependencyStatus{Status: "memory"}
	default:
		if err := h.redis.Ping(ctx).Err(); err != nil {
			deps["redis"] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
		} else {
			deps["redis"] = dependencyStatus{Status: "ok"}
		}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, readinessResponse{
		Status:       status,
		Dependencies: deps,
	})
}
