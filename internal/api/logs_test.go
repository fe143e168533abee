package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/logger"
)

func TestGetRecentLogs(t *testing.T) {
	log := logger.New(logger.Config{Level: "debug", Format: "json", RecentEntries: 10, Output: io.Discard})
	log.Debug().Str("component", "search").Msg("searching")
	log.Warn().Str("component", "grab").Msg("payload rejected")
	log.Error().Str("component", "grab").Msg("dispatch failed")

	e := echo.New()
	NewLogsHandlers(log).RegisterRoutes(e.Group("/logs"))

	get := func(target string) (int, []logger.Entry) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		var entries []logger.Entry
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
				t.Fatalf("Failed to parse %s: %v", target, err)
			}
		}
		return rec.Code, entries
	}

	if _, all := get("/logs"); len(all) != 3 {
		t.Errorf("all entries = %d, want 3", len(all))
	}
	if _, grab := get("/logs?component=grab"); len(grab) != 2 {
		t.Errorf("grab entries = %d, want 2", len(grab))
	}
	if _, warn := get("/logs?level=warn"); len(warn) != 2 {
		t.Errorf("warn and above = %d, want 2", len(warn))
	}
	_, last := get("/logs?limit=1")
	if len(last) != 1 || last[0].Message != "dispatch failed" {
		t.Errorf("limit=1 = %+v, want the newest entry", last)
	}
	if code, _ := get("/logs?level=loud"); code != http.StatusBadRequest {
		t.Errorf("bad level = %d, want 400", code)
	}
	if code, _ := get("/logs/download"); code != http.StatusNotFound {
		t.Errorf("download without file = %d, want 404", code)
	}
}
