package sabnzbd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
)

type fakeSAB struct {
	mu       sync.Mutex
	requests []url.Values
	uploads  map[string][]byte
	reject   bool
	misc     map[string]any
}

func (f *fakeSAB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if q.Get("apikey") != "key" {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": false, "error": "API Key Incorrect"})
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, q)
	f.mu.Unlock()

	enc := json.NewEncoder(w)
	switch q.Get("mode") {
	case "addurl", "addfile":
		if q.Get("mode") == "addfile" {
			file, header, err := r.FormFile("nzbfile")
			if err == nil {
				data, _ := io.ReadAll(file)
				f.mu.Lock()
				if f.uploads == nil {
					f.uploads = map[string][]byte{}
				}
				f.uploads[header.Filename] = data
				f.mu.Unlock()
			}
		}
		if f.reject {
			_ = enc.Encode(map[string]any{"status": false, "error": "no nzb"})
			return
		}
		_ = enc.Encode(map[string]any{"status": true, "nzo_ids": []string{"SABnzbd_nzo_1"}})
	case "queue":
		_ = enc.Encode(map[string]any{"queue": map[string]any{"slots": []map[string]any{
			{"nzo_id": "q1", "filename": "Queued Album", "percentage": "37", "status": "Downloading"},
			{"nzo_id": "q2", "filename": "Odd", "percentage": "n/a", "status": "Fetching"},
		}}})
	case "history":
		_ = enc.Encode(map[string]any{"history": map[string]any{"slots": []map[string]any{
			{"nzo_id": "h1", "name": "Done Album", "status": "Completed"},
			{"nzo_id": "h2", "name": "Broken Album", "status": "Failed"},
		}}})
	case "get_config":
		_ = enc.Encode(map[string]any{"config": map[string]any{"misc": f.misc}})
	default:
		_ = enc.Encode(map[string]any{"status": false, "error": "not implemented"})
	}
}

func newTestClient(t *testing.T, sab *fakeSAB) *Client {
	t.Helper()
	server := httptest.NewServer(sab)
	t.Cleanup(server.Close)
	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, zerolog.Nop())
	return New(types.Config{Host: server.URL + "/", APIKey: "key", Category: "music"}, hc, zerolog.Nop())
}

func TestClient_AddURL(t *testing.T) {
	sab := &fakeSAB{}
	c := newTestClient(t, sab)

	res, err := c.Add(context.Background(), &types.AddRequest{Name: "Boards of Canada - Geogaddi", URL: "https://indexer/getnzb/1"})
	require.NoError(t, err)
	assert.Equal(t, "SABnzbd_nzo_1", res.ID)

	require.Len(t, sab.requests, 1)
	q := sab.requests[0]
	assert.Equal(t, "addurl", q.Get("mode"))
	assert.Equal(t, "https://indexer/getnzb/1", q.Get("name"))
	assert.Equal(t, "music", q.Get("cat"))
	assert.Equal(t, "json", q.Get("output"))
}

func TestClient_AddFile(t *testing.T) {
	sab := &fakeSAB{}
	c := newTestClient(t, sab)

	nzb := []byte("<nzb></nzb>")
	_, err := c.Add(context.Background(), &types.AddRequest{Name: "Album", Data: nzb})
	require.NoError(t, err)
	assert.Equal(t, nzb, sab.uploads["Album.nzb"])
}

func TestClient_AddRejected(t *testing.T) {
	c := newTestClient(t, &fakeSAB{reject: true})
	_, err := c.Add(context.Background(), &types.AddRequest{URL: "https://indexer/getnzb/1"})
	assert.ErrorIs(t, err, types.ErrRejected)

	_, err = c.Add(context.Background(), &types.AddRequest{})
	assert.ErrorIs(t, err, types.ErrNoPayload)
}

func TestClient_CheckCompleted(t *testing.T) {
	c := newTestClient(t, &fakeSAB{})
	ctx := context.Background()

	tests := []struct {
		id        string
		completed bool
		progress  float64
		status    string
	}{
		{"q1", false, 0.37, "Downloading"},
		{"q2", false, 0, "Fetching"},
		{"h1", true, 1, "Completed"},
		{"h2", false, 0, "Failed"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			st := c.CheckCompleted(ctx, tt.id)
			require.NotNil(t, st)
			assert.Equal(t, tt.completed, st.Completed)
			assert.InDelta(t, tt.progress, st.Progress, 1e-9)
			assert.Equal(t, tt.status, st.Status)
		})
	}

	assert.Nil(t, c.CheckCompleted(ctx, "missing"))
	assert.Nil(t, c.CheckCompleted(ctx, ""))
}

func TestClient_FolderName(t *testing.T) {
	tests := []struct {
		name string
		misc map[string]any
		in   string
		want string
	}{
		{"no renaming", map[string]any{"replace_spaces": 0, "replace_dots": 0}, "AC/DC - Back in Black [1980]", "ACDC - Back in Black [1980]"},
		{"spaces", map[string]any{"replace_spaces": "1", "replace_dots": "0"}, "Album Name", "Album_Name"},
		{"dots then spaces", map[string]any{"replace_spaces": true, "replace_dots": true}, "Mr. Oizo - Flat.Beat", "Mr__Oizo_-_Flat_Beat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeSAB{misc: tt.misc})
			assert.Equal(t, tt.want, c.FolderName(context.Background(), tt.in))
		})
	}
}

func TestSanitizeFolderName(t *testing.T) {
	assert.Equal(t, "What", SanitizeFolderName(`What?...`))
	assert.Equal(t, "unknown", SanitizeFolderName(`??`))
	assert.Equal(t, "A B", SanitizeFolderName(` A B `))
}
