// Package httpcontroller serves the read-only dashboard API. It never writes
// to the event store, the pipeline is the only writer.
package httpcontroller

import (
	"log"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/watchtowerhq/watchtower-go/internal/alerter"
	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/lock"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
	"github.com/watchtowerhq/watchtower-go/internal/observability"
)

// Server encapsulates the Echo server and its collaborators.
type Server struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings

	// Lock and Alerts may be nil when unconfigured, the routes then degrade
	// rather than fail.
	Lock       lock.Controller
	Alerts     *alerter.Alerter
	Metrics    *observability.Metrics
	SharedPool *dispatch.Pool

	webLogger      *slog.Logger
	webLoggerClose func() error
}

// New initializes the HTTP server around the shared collaborators.
func New(settings *conf.Settings, ds datastore.Interface, lockCtl lock.Controller, alerts *alerter.Alerter, metrics *observability.Metrics, sharedPool *dispatch.Pool) *Server {
	if settings.WebServer.Port == "" {
		settings.WebServer.Port = "8080"
	}

	s := &Server{
		Echo:       echo.New(),
		DS:         ds,
		Settings:   settings,
		Lock:       lockCtl,
		Alerts:     alerts,
		Metrics:    metrics,
		SharedPool: sharedPool,
	}

	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.initializeServer()
	return s
}

func (s *Server) initializeServer() {
	s.Echo.HideBanner = true
	s.initLogger()

	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.loggingMiddleware())

	s.initRoutes()
}

// Start begins listening and serving HTTP requests in the background.
func (s *Server) Start() {
	errChan := make(chan error)

	go func() {
		if err := s.Echo.Start(":" + s.Settings.WebServer.Port); err != nil {
			errChan <- err
		}
	}()

	go func() {
		for err := range errChan {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("HTTP server started on port %s", s.Settings.WebServer.Port)
}

// Shutdown performs cleanup operations and gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.webLoggerClose != nil {
		if err := s.webLoggerClose(); err != nil {
			log.Printf("Error closing web log file: %v", err)
		}
	}
	return s.Echo.Close()
}

func (s *Server) initLogger() {
	webLogger, closeFunc, err := logging.NewFileLogger("logs/web.log", "web", slog.LevelInfo)
	if err != nil {
		log.Printf("Warning: failed to initialize web structured logger: %v", err)
		return
	}
	s.webLogger = webLogger
	s.webLoggerClose = closeFunc
}

// loggingMiddleware logs every completed request with timing information.
func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if s.webLogger == nil {
				return next(ctx)
			}

			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"query", req.URL.RawQuery,
				"status", res.Status,
				"ip", ctx.RealIP(),
				"latency_ms", time.Since(start).Milliseconds(),
			}

			switch {
			case err != nil:
				attrs = append(attrs, "error", err.Error())
				s.webLogger.Error("HTTP Request", attrs...)
			case res.Status >= 400:
				s.webLogger.Warn("HTTP Request", attrs...)
			default:
				s.webLogger.Info("HTTP Request", attrs...)
			}
			return err
		}
	}
}
