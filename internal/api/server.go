// Package api serves the operational HTTP API: manual searches, grabs,
// snatch history, backend polling and scheduler control.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/api/ratelimit"
	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/grab"
	"github.com/slipstream/acquire/internal/notification"
	"github.com/slipstream/acquire/internal/poller"
	"github.com/slipstream/acquire/internal/scheduler"
	"github.com/slipstream/acquire/internal/search"
	"github.com/slipstream/acquire/internal/snatch"
)

// Deps are the services the server exposes. Scheduler, Poller, Notify and
// Logs may be nil.
type Deps struct {
	Search    *search.Service
	Grab      *grab.Service
	Ledger    *snatch.Ledger
	Registry  *downloader.Registry
	Scheduler *scheduler.Scheduler
	Poller    *poller.Poller
	Notify    *notification.Service
	Logs      LogsProvider
}

// Server handles HTTP requests for the acquire API.
type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger
	cfg    *config.Config
	deps   Deps
	guard  *ratelimit.Guard
	keys   *ratelimit.Guard

	startTime time.Time
	done      chan struct{}
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		logger:    logger.With().Str("component", "api").Logger(),
		cfg:       cfg,
		deps:      deps,
		guard:     ratelimit.NewGuard(cfg.Server.SearchRate),
		keys:      ratelimit.NewGuard(0),
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{Level: 5}))
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	s.guard.StartCleanup(5*time.Minute, s.done)
	s.keys.StartCleanup(5*time.Minute, s.done)
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	close(s.done)
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
