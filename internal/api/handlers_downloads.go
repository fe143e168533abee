package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/downloader"
)

// BackendInfo describes one configured download backend.
type BackendInfo struct {
	Type          string `json:"type"`
	Kind          string `json:"kind"`
	AcceptsURL    bool   `json:"acceptsUrl"`
	AcceptsMagnet bool   `json:"acceptsMagnet"`
}

func (s *Server) listBackends(c echo.Context) error {
	backends := []BackendInfo{}
	if s.deps.Registry != nil {
		for _, typ := range s.deps.Registry.Types() {
			backends = append(backends, BackendInfo{
				Type:          string(typ),
				Kind:          string(typ.Kind()),
				AcceptsURL:    typ.AcceptsURL(),
				AcceptsMagnet: typ.AcceptsMagnet(),
			})
		}
	}
	return c.JSON(http.StatusOK, backends)
}

// checkDownload handles GET /downloads/:type/:id. A backend that cannot
// tell yields 204.
func (s *Server) checkDownload(c echo.Context) error {
	if s.deps.Registry == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no download backends configured")
	}
	typ, ok := downloader.ParseType(c.Param("type"), "")
	if !ok {
		client, found := s.deps.Registry.Resolve(c.Param("type"))
		if !found {
			return echo.NewHTTPError(http.StatusNotFound, "unknown backend "+c.Param("type"))
		}
		typ = client.Type()
	}

	status, err := s.deps.Registry.CheckCompleted(c.Request().Context(), typ, c.Param("id"))
	switch {
	case errors.Is(err, downloader.ErrUnsupported):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case status == nil:
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) pollDownloads(c echo.Context) error {
	sum, err := s.deps.Poller.Poll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sum)
}
