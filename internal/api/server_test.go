package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/downloader/blackhole"
	"github.com/slipstream/acquire/internal/grab"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/notification"
	"github.com/slipstream/acquire/internal/poller"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/search"
	"github.com/slipstream/acquire/internal/snatch"
	"github.com/slipstream/acquire/internal/testutil"
)

const nzbFixture = `<?xml version="1.0" encoding="UTF-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <file poster="p@example" date="1" subject="boc.rar">
    <segments><segment bytes="10" number="1">a@example</segment></segments>
  </file>
</nzb>`

type staticProvider struct {
	results []release.Result
}

func (p *staticProvider) Name() string               { return "nzb.example" }
func (p *staticProvider) Category() indexer.Category { return indexer.CategoryUsenet }
func (p *staticProvider) Search(context.Context, indexer.Query) []release.Result {
	return p.results
}

type testServer struct {
	*Server
	dir string
}

func setupTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()

	indexerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(nzbFixture))
	}))
	t.Cleanup(indexerSrv.Close)

	tdb := testutil.NewTestDB(t)
	ledger := snatch.NewLedger(tdb.Conn, tdb.Logger)
	dir := t.TempDir()

	registry := downloader.NewRegistry(tdb.Logger)
	registry.Register(blackhole.NewNZB(dir, tdb.Logger))

	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, tdb.Logger)
	grabSvc := grab.NewService(registry, hc, ledger, tdb.Logger)

	searchSvc := search.NewService(search.Config{}, registry, ledger, tdb.Logger)
	searchSvc.AddProvider(&staticProvider{results: []release.Result{
		release.NewResult("Boards.of.Canada-Music.Has.The.Right.To.Children-FLAC-1998", 380<<20, indexerSrv.URL+"/flac", "nzb.example", release.KindUsenet),
		release.NewResult("Boards.of.Canada-Music.Has.The.Right.To.Children-MP3-1998", 90<<20, indexerSrv.URL+"/mp3", "nzb.example", release.KindUsenet),
	}})
	searchSvc.SetDispatcher(grabSvc)

	cfg := &config.Config{Server: config.ServerConfig{APIKey: apiKey}}
	server := NewServer(cfg, Deps{
		Search:   searchSvc,
		Grab:     grabSvc,
		Ledger:   ledger,
		Registry: registry,
		Poller:   poller.New(ledger, registry, 0, tdb.Logger),
		Notify:   notification.NewService(tdb.Logger),
	}, zerolog.Nop())

	return &testServer{Server: server, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t, "")

	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := ts.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestGetStatus(t *testing.T) {
	ts := setupTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GetStatus status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Preference != "usenet" {
		t.Errorf("Preference = %q, want usenet", resp.Preference)
	}
	if len(resp.Tiers) != 1 || resp.Tiers[0] != "usenet" {
		t.Errorf("Tiers = %v, want [usenet]", resp.Tiers)
	}
	if len(resp.Backends) != 1 || resp.Backends[0] != "blackhole-nzb" {
		t.Errorf("Backends = %v, want [blackhole-nzb]", resp.Backends)
	}
}

func TestAPIKey(t *testing.T) {
	ts := setupTestServer(t, "secret")

	if rec := ts.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without key = %d, want 200", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/status", "", "X-Api-Key", "secret"); rec.Code != http.StatusOK {
		t.Errorf("status with key = %d, want 200", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/status?apikey=secret", ""); rec.Code != http.StatusOK {
		t.Errorf("status with query key = %d, want 200", rec.Code)
	}

	for i := 0; i < 5; i++ {
		if rec := ts.do(t, http.MethodGet, "/api/v1/status", "", "X-Api-Key", "wrong"); rec.Code != http.StatusUnauthorized {
			t.Errorf("attempt %d = %d, want 401", i, rec.Code)
		}
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/status", "", "X-Api-Key", "secret"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("after lockout = %d, want 429", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	ts := setupTestServer(t, "")
	album := testutil.Album()
	body, _ := json.Marshal(SearchRequest{Release: album})

	rec := ts.do(t, http.MethodPost, "/api/v1/search", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if !strings.Contains(resp.Results[0].Title, "FLAC") {
		t.Errorf("best result = %q, want the FLAC release", resp.Results[0].Title)
	}
	if resp.Outcome != nil {
		t.Error("search without dispatch returned an outcome")
	}

	if rec := ts.do(t, http.MethodPost, "/api/v1/search", `{"release":{"title":""}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing title = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/v1/search", `{"release":{"artist":"a","title":"b"},"quality":"best"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown quality = %d, want 400", rec.Code)
	}
}

func TestSearchAndDispatch(t *testing.T) {
	ts := setupTestServer(t, "")
	album := testutil.Album()
	body, _ := json.Marshal(SearchRequest{Release: album, Automatic: true, Dispatch: true})

	rec := ts.do(t, http.MethodPost, "/api/v1/search", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Outcome == nil || len(resp.Outcome.Records) != 1 {
		t.Fatalf("outcome = %+v, want one record", resp.Outcome)
	}

	data, err := os.ReadFile(filepath.Join(ts.dir, "Boards.of.Canada-Music.Has.The.Right.To.Children-FLAC-1998.nzb"))
	if err != nil {
		t.Fatalf("nzb not written: %v", err)
	}
	if string(data) != nzbFixture {
		t.Error("nzb contents differ from the indexer payload")
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/snatches?releaseId="+album.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("snatches status = %d", rec.Code)
	}
	var records []release.SnatchRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("Failed to parse snatches: %v", err)
	}
	if len(records) != 1 || records[0].Status != release.StatusSnatched {
		t.Errorf("snatches = %+v, want one Snatched row", records)
	}
}

func TestDownloads(t *testing.T) {
	ts := setupTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/api/v1/downloads", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var backends []BackendInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &backends); err != nil {
		t.Fatalf("Failed to parse backends: %v", err)
	}
	if len(backends) != 1 || backends[0].Kind != string(release.KindUsenet) {
		t.Errorf("backends = %+v", backends)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/downloads/blackhole-nzb/abc", ""); rec.Code != http.StatusNoContent {
		t.Errorf("blackhole status = %d, want 204", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/downloads/transmission/abc", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured backend = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/downloads/poll", "")
	if rec.Code != http.StatusOK {
		t.Errorf("poll status = %d, want 200", rec.Code)
	}
}

func TestNotificationsTest(t *testing.T) {
	ts := setupTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/api/v1/notifications/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("test status = %d, want 200", rec.Code)
	}
	var resp NotificationTestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Failures) != 0 {
		t.Errorf("failures = %v, want none", resp.Failures)
	}
}
