// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/dataprofiler/dashboard/internal/events"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/upload"
)

// Engine is the mounted status engine as seen by the HTTP layer.
// *session.Manager implements it.
type Engine interface {
	Upload(file *models.FileInfo) (*upload.Job, error)
	View() models.StatusSnapshot
	Subscribe(buffer int) (<-chan models.StatusSnapshot, func())
	Loading() bool
	Result() *models.JobResult
	ReadyState() events.ReadyState
	Metrics() *metrics.Collector
	Done() <-chan struct{}
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
	HandleStats(c echo.Context) error
}

// StatusHandler exposes the read-only status snapshot
type StatusHandler interface {
	HandleGetStatus(c echo.Context) error
	HandleStatusStream(c echo.Context) error
	HandleStatusWebSocket(c echo.Context) error
}

// UploadHandler starts jobs and reports their outcome
type UploadHandler interface {
	HandleUpload(c echo.Context) error
	HandleGetResult(c echo.Context) error
}

// ReportHandler serves report history
type ReportHandler interface {
	HandleListReports(c echo.Context) error
	HandleGetReport(c echo.Context) error
	HandleGetReportMsgpack(c echo.Context) error
	HandleDeleteReport(c echo.Context) error
}
