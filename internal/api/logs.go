package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/logger"
)

// LogsProvider provides access to log data.
type LogsProvider interface {
	Recent(component string) []logger.Entry
	FilePath() string
}

// LogsHandlers handles log-related HTTP endpoints.
type LogsHandlers struct {
	provider LogsProvider
}

func NewLogsHandlers(provider LogsProvider) *LogsHandlers {
	return &LogsHandlers{provider: provider}
}

// RegisterRoutes registers log routes on the given group.
func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
	g.GET("/download", h.DownloadLogFile)
}

// GetRecentLogs returns buffered entries, oldest first. Filters:
// ?component=search, ?level=warn (that level and above), ?limit=50 (newest
// entries only).
func (h *LogsHandlers) GetRecentLogs(c echo.Context) error {
	minLevel := zerolog.TraceLevel
	if lv := c.QueryParam("level"); lv != "" {
		parsed, err := zerolog.ParseLevel(lv)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown level "+lv)
		}
		minLevel = parsed
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive number")
		}
		limit = n
	}

	logs := []logger.Entry{}
	for _, e := range h.provider.Recent(c.QueryParam("component")) {
		if lv, err := zerolog.ParseLevel(e.Level); err == nil && lv < minLevel {
			continue
		}
		logs = append(logs, e)
	}
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return c.JSON(http.StatusOK, logs)
}

// DownloadLogFile serves the active log file as an attachment.
func (h *LogsHandlers) DownloadLogFile(c echo.Context) error {
	path := h.provider.FilePath()
	if path == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}
	return c.Attachment(path, filepath.Base(path))
}
