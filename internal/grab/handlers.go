package grab

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/release"
)

// History lists recorded snatches.
type History interface {
	Recent(ctx context.Context, limit int) ([]release.SnatchRecord, error)
	ForRelease(ctx context.Context, releaseID string) ([]release.SnatchRecord, error)
}

// Handlers provides HTTP handlers for grab operations.
type Handlers struct {
	service *Service
	history History
}

// NewHandlers creates new grab handlers.
func NewHandlers(service *Service, history History) *Handlers {
	return &Handlers{
		service: service,
		history: history,
	}
}

// RegisterRoutes registers the grab routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("/grab", h.Grab)
	g.GET("/snatches", h.GetHistory)
}

// GrabRequestDTO is the API request format for grabbing a result.
type GrabRequestDTO struct {
	Release release.Request `json:"release"`
	Result  release.Result  `json:"result"`
}

// Grab handles POST /grab - dispatch a single result.
func (h *Handlers) Grab(c echo.Context) error {
	var req GrabRequestDTO
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}
	if req.Result.URL == "" || req.Result.Kind == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "result url and kind are required",
		})
	}
	if req.Release.ID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "release id is required",
		})
	}

	out, err := h.service.Dispatch(c.Request().Context(), req.Release, req.Result)
	switch {
	case errors.Is(err, ErrNoDownloadClient), errors.Is(err, ErrInvalidRelease):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, out)
}

// GetHistory handles GET /snatches - recent snatches, or those of one
// release when releaseId is given.
func (h *Handlers) GetHistory(c echo.Context) error {
	limit := 50
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid limit parameter",
		})
	}

	var (
		records []release.SnatchRecord
		err     error
	)
	if id := c.QueryParam("releaseId"); id != "" {
		records, err = h.history.ForRelease(c.Request().Context(), id)
	} else {
		records, err = h.history.Recent(c.Request().Context(), limit)
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	if records == nil {
		records = []release.SnatchRecord{}
	}
	return c.JSON(http.StatusOK, records)
}
