package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/api/handlers"
	"github.com/slipstream/acquire/internal/api/middleware"
	"github.com/slipstream/acquire/internal/grab"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.SecurityHeaders())
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")
	api.GET("/health", s.healthCheck)

	protected := api.Group("", s.apiKeyAuth())
	protected.GET("/status", s.getStatus)

	s.setupSearchRoutes(protected)
	s.setupDownloadRoutes(protected)
	s.setupSchedulerRoutes(protected)

	if s.deps.Notify != nil {
		protected.POST("/notifications/test", s.testNotifications)
	}

	if s.deps.Logs != nil {
		NewLogsHandlers(s.deps.Logs).RegisterRoutes(protected.Group("/logs"))
	}
}

func (s *Server) setupSearchRoutes(protected *echo.Group) {
	if s.deps.Search != nil {
		protected.POST("/search", s.search, s.guard.Middleware())
	}
	if s.deps.Grab != nil {
		grab.NewHandlers(s.deps.Grab, s.deps.Ledger).RegisterRoutes(protected)
	}
}

func (s *Server) setupDownloadRoutes(protected *echo.Group) {
	downloads := protected.Group("/downloads")
	downloads.GET("", s.listBackends)
	downloads.GET("/:type/:id", s.checkDownload)
	if s.deps.Poller != nil {
		downloads.POST("/poll", s.pollDownloads)
	}
}

func (s *Server) setupSchedulerRoutes(protected *echo.Group) {
	if s.deps.Scheduler == nil {
		return
	}
	h := handlers.NewSchedulerHandler(s.deps.Scheduler)
	tasks := protected.Group("/scheduler/tasks")
	tasks.GET("", h.ListTasks)
	tasks.GET("/:id", h.GetTask)
	tasks.POST("/:id/run", h.RunTask)
}

// apiKeyAuth checks X-Api-Key or the apikey query parameter when an API key
// is configured. Clients that fail repeatedly are locked out for a while.
func (s *Server) apiKeyAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			want := s.cfg.Server.APIKey
			if want == "" {
				return next(c)
			}

			ip := c.RealIP()
			if s.keys.Locked(ip) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, please try again later")
			}

			got := c.Request().Header.Get("X-Api-Key")
			if got == "" {
				got = c.QueryParam("apikey")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				s.keys.Fail(ip)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
			}

			s.keys.Succeed(ip)
			return next(c)
		}
	}
}
