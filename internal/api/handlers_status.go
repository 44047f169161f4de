// handlers_status.go - Status snapshot, SSE feed and WebSocket feed
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dataprofiler/dashboard/internal/models"
)

const streamKeepAlive = 15 * time.Second

// statusResponse is the view-layer projection of a snapshot
type statusResponse struct {
	Status       models.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	ShowProgress bool             `json:"showProgress"`
	Loading      bool             `json:"loading"`
	EventChannel string           `json:"eventChannel"`
}

// StatusHandlerImpl implements the StatusHandler interface
type StatusHandlerImpl struct {
	engine Engine
	ws     *statusSocket
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(engine Engine, maxMessageSize int64) StatusHandler {
	return &StatusHandlerImpl{
		engine: engine,
		ws:     newStatusSocket(engine, maxMessageSize),
	}
}

func (h *StatusHandlerImpl) project(snap models.StatusSnapshot) statusResponse {
	return statusResponse{
		Status:       snap.Status,
		Progress:     snap.EffectiveProgress(),
		ShowProgress: snap.Status.ShowsProgress(),
		Loading:      h.engine.Loading(),
		EventChannel: h.engine.ReadyState().String(),
	}
}

// HandleGetStatus returns the published status snapshot
func (h *StatusHandlerImpl) HandleGetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.project(h.engine.View()))
}

// HandleStatusStream streams every published snapshot via SSE
func (h *StatusHandlerImpl) HandleStatusStream(c echo.Context) error {
	updates, unsubscribe := h.engine.Subscribe(32)
	defer unsubscribe()

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	// Send initial status
	sendSSEData(c, h.project(h.engine.View()))

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			sendSSEData(c, h.project(snap))
		case <-keepAlive.C:
			fmt.Fprint(c.Response(), ": keep-alive\n\n")
			c.Response().Flush()
		case <-h.engine.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// HandleStatusWebSocket streams snapshots over a WebSocket
func (h *StatusHandlerImpl) HandleStatusWebSocket(c echo.Context) error {
	return h.ws.serve(c, h.project)
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}
