// routes.go - Route registration and middleware
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dataprofiler/dashboard/internal/config"
	"github.com/dataprofiler/dashboard/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Engine         Engine
	Reports        storage.Store
	HistoryLimit   int
	MaxMessageSize int64
	Version        string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Status  StatusHandler
	Upload  UploadHandler
	Reports ReportHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Engine, deps.Version),
		Status:  NewStatusHandler(deps.Engine, deps.MaxMessageSize),
		Upload:  NewUploadHandler(deps.Engine),
		Reports: NewReportHandler(deps.Reports, deps.HistoryLimit),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health and counters
	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.GET("/stats", handlers.Health.HandleStats)

	// Status feed
	apiGroup.GET("/status", handlers.Status.HandleGetStatus)
	apiGroup.GET("/status/stream", handlers.Status.HandleStatusStream)
	apiGroup.GET("/ws/status", handlers.Status.HandleStatusWebSocket)

	// Jobs
	apiGroup.POST("/upload", handlers.Upload.HandleUpload)
	apiGroup.GET("/result", handlers.Upload.HandleGetResult)

	// Report history
	reportGroup := apiGroup.Group("/reports")
	reportGroup.GET("", handlers.Reports.HandleListReports)
	reportGroup.GET("/:id", handlers.Reports.HandleGetReport)
	reportGroup.GET("/:id/msgpack", handlers.Reports.HandleGetReportMsgpack)
	reportGroup.DELETE("/:id", handlers.Reports.HandleDeleteReport)
}

func isStreamRequest(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasSuffix(path, "/stream") ||
		strings.HasPrefix(path, "/api/ws/") ||
		c.Request().Header.Get("Accept") == "text/event-stream"
}

// SetupMiddleware configures common middleware from the server config
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/status" ||
				path == "/api/health" ||
				isStreamRequest(c)
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Server.ReadTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
			Skipper: func(c echo.Context) bool {
				return isStreamRequest(c) || strings.HasSuffix(c.Request().URL.Path, "/upload")
			},
			ErrorMessage: "Request timeout",
		}))
	}

	// Compression middleware
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: isStreamRequest,
	}))

	// Body limit middleware
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

// NewServer builds the echo instance and the http.Server around it
func NewServer(cfg *config.AppConfig, deps *Dependencies) (*echo.Echo, *http.Server) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	SetupMiddleware(e, cfg)
	RegisterRoutes(e, NewHandlers(deps))

	s := &http.Server{
		Addr:        cfg.GetServerAddr(),
		Handler:     e,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// Streams stay open; WriteTimeout of zero leaves them alone.
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	return e, s
}
