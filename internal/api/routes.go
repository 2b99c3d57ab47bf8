// routes.go - Route registration and middleware setup
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store    storage.Store
	Sessions SessionManager
	Jobs     UploadJobs
	Log      *logger.Logger
	Version  string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Upload  UploadHandler
	Session SessionHandler
	Filter  FilterHandler
	Feed    FeedHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Sessions),
		Upload:  NewUploadHandler(deps.Store, deps.Sessions, deps.Jobs),
		Session: NewSessionHandler(deps.Store, deps.Sessions),
		Filter:  NewFilterHandler(deps.Sessions),
		Feed:    NewWebSocketHandler(deps.Sessions, deps.Log),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.GET("/types", handlers.Filter.HandleListTypes)

	// Trace files
	files := apiGroup.Group("/files")
	files.POST("/upload", handlers.Upload.HandleUploadFile)
	files.POST("/upload/chunk", handlers.Upload.HandleUploadChunk)
	files.POST("/upload/complete", handlers.Upload.HandleCompleteUpload)
	files.GET("/upload/jobs/:jobId", handlers.Upload.HandleUploadJob)
	files.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	files.GET("/:id", handlers.Upload.HandleGetFile)
	files.PUT("/:id", handlers.Upload.HandleRenameFile)
	files.DELETE("/:id", handlers.Upload.HandleDeleteFile)

	// Filter sessions
	sessions := apiGroup.Group("/sessions")
	sessions.POST("", handlers.Session.HandleCreateSession)
	sessions.GET("/:id", handlers.Session.HandleGetSession)
	sessions.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessions.POST("/:id/keepalive", handlers.Session.HandleKeepAlive)
	sessions.PUT("/:id/text", handlers.Session.HandleSetText)

	sessions.GET("/:id/criteria", handlers.Filter.HandleGetCriteria)
	sessions.PUT("/:id/criteria", handlers.Filter.HandleSetCriteria)
	sessions.PUT("/:id/criteria/:field", handlers.Filter.HandleSetField)
	sessions.PUT("/:id/types/:type", handlers.Filter.HandleAddType)
	sessions.DELETE("/:id/types/:type", handlers.Filter.HandleRemoveType)

	sessions.GET("/:id/output", handlers.Filter.HandleOutput)
	sessions.GET("/:id/errors", handlers.Filter.HandleErrors)
	sessions.GET("/:id/summary", handlers.Filter.HandleSummary)
	sessions.GET("/:id/ws", handlers.Feed.HandleFeed)
}

// MiddlewareConfig selects the optional middleware.
type MiddlewareConfig struct {
	RequestLogging   bool
	ShowErrorDetails bool
	EnableCORS       bool
	AllowOrigins     string
	BodyLimit        string
	Compression      bool
	CompressionLevel int
	RequestTimeout   time.Duration
}

// SetupMiddleware configures the error handler and common middleware
func SetupMiddleware(e *echo.Echo, log *logger.Logger, cfg MiddlewareConfig) {
	if log == nil {
		log = logger.NewNop()
	}
	e.HideBanner = true
	e.HTTPErrorHandler = NewErrorHandler(log, cfg.ShowErrorDetails)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return !cfg.RequestLogging || c.Path() == "/api/health"
		},
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().Err(err).Bytes("stack", stack).Msg("panic recovered")
			return err
		},
	}))

	e.Use(middleware.RequestID())

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Path()
				return strings.HasSuffix(path, "/ws") || strings.Contains(path, "/upload")
			},
			ErrorMessage: "request timeout",
		}))
	}

	if cfg.Compression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Path(), "/ws")
			},
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: splitOrigins(cfg.AllowOrigins),
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
