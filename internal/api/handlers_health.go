// handlers_health.go - Health check and stats handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	engine  Engine
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(engine Engine, version string) HealthHandler {
	return &HealthHandlerImpl{
		engine:  engine,
		version: version,
	}
}

// HandleHealth returns server health and push channel state
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"version":      h.version,
		"eventChannel": h.engine.ReadyState().String(),
	})
}

// HandleStats returns engine counters
func (h *HealthHandlerImpl) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Metrics().Snapshot())
}
