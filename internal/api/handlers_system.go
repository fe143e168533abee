package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/config"
)

// StatusResponse describes what this instance can search and where it can
// send results.
type StatusResponse struct {
	Version    string    `json:"version"`
	StartTime  time.Time `json:"startTime"`
	Preference string    `json:"preference"`
	Tiers      []string  `json:"tiers"`
	Backends   []string  `json:"backends"`
}

func (s *Server) getStatus(c echo.Context) error {
	resp := StatusResponse{
		Version:    config.Version,
		StartTime:  s.startTime,
		Preference: s.cfg.Search.PreferenceMode().String(),
		Tiers:      []string{},
		Backends:   []string{},
	}
	if s.deps.Search != nil {
		for _, cat := range s.deps.Search.AvailableTiers() {
			resp.Tiers = append(resp.Tiers, string(cat))
		}
	}
	if s.deps.Registry != nil {
		for _, typ := range s.deps.Registry.Types() {
			resp.Backends = append(resp.Backends, string(typ))
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// NotificationTestResponse lists the senders that failed, by name.
type NotificationTestResponse struct {
	Failures map[string]string `json:"failures"`
}

func (s *Server) testNotifications(c echo.Context) error {
	resp := NotificationTestResponse{Failures: map[string]string{}}
	for name, err := range s.deps.Notify.Test(c.Request().Context()) {
		resp.Failures[name] = err.Error()
	}
	status := http.StatusOK
	if len(resp.Failures) > 0 {
		status = http.StatusBadGateway
	}
	return c.JSON(status, resp)
}
