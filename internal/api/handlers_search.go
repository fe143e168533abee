package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/grab"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/search"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Release release.Request `json:"release"`
	// Quality overrides Release.Quality when set: "highest",
	// "highest-lossless", "bitrate" or "lossless".
	Quality   string `json:"quality,omitempty"`
	Automatic bool   `json:"automatic"`
	// Dispatch sends the best result to its backend.
	Dispatch bool `json:"dispatch"`
}

// SearchResponse lists the ranked results and, when dispatched, what
// happened to the best one.
type SearchResponse struct {
	Results []release.Result `json:"results"`
	Outcome *grab.Outcome    `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) search(c echo.Context) error {
	var body SearchRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req := body.Release
	if req.Title == "" || (req.Artist == "" && req.SearchTerm == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "release artist and title are required")
	}
	if body.Quality != "" {
		mode, ok := release.ParseQualityMode(body.Quality)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown quality "+body.Quality)
		}
		req.Quality = mode
	}

	ctx := c.Request().Context()
	results := s.deps.Search.Search(ctx, req, body.Automatic)
	if results == nil {
		results = []release.Result{}
	}
	resp := SearchResponse{Results: results}
	if !body.Dispatch {
		return c.JSON(http.StatusOK, resp)
	}

	out, err := s.deps.Search.DispatchBest(ctx, results, req)
	switch {
	case errors.Is(err, search.ErrNoResults):
		resp.Error = err.Error()
		return c.JSON(http.StatusNotFound, resp)
	case err != nil:
		resp.Error = err.Error()
		return c.JSON(http.StatusBadGateway, resp)
	}
	resp.Outcome = out
	return c.JSON(http.StatusOK, resp)
}
