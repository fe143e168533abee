package slskd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/httpclient"
)

func newClient(t *testing.T, handler http.Handler, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond, Attempts: 1}, zerolog.Nop())
	return New(Config{URL: server.URL + "/", APIKey: "key", PollInterval: time.Millisecond, SearchTimeout: timeout}, hc, zerolog.Nop())
}

func TestSearch_PollsUntilComplete(t *testing.T) {
	var polls atomic.Int32
	var searchID string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/searches", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		searchID = body["id"].(string)
		assert.Equal(t, "Air Moon Safari flac", body["searchText"])
		assert.Equal(t, true, body["filterResponses"])
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v0/searches/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/responses") {
			_, _ = w.Write([]byte(`[{"username":"peer","files":[{"filename":"Music\\Air\\Moon Safari\\01.flac","size":10}]}]`))
			return
		}
		assert.Equal(t, "/api/v0/searches/"+searchID, r.URL.Path)
		complete := polls.Add(1) >= 3
		_ = json.NewEncoder(w).Encode(map[string]any{"id": searchID, "isComplete": complete})
	})

	c := newClient(t, mux, time.Second)
	responses, err := c.Search(context.Background(), "Air Moon Safari flac")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "peer", responses[0].Username)
	assert.Equal(t, int32(3), polls.Load())
}

func TestSearch_Deadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/searches", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/v0/searches/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isComplete": false}`))
	})

	c := newClient(t, mux, 20*time.Millisecond)
	_, err := c.Search(context.Background(), "anything")
	assert.True(t, errors.Is(err, ErrSearchTimeout))
}

func TestSearch_ParentCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/searches", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/v0/searches/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isComplete": false}`))
	})

	c := newClient(t, mux, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, "anything")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSearchTimeout))
}

func TestDownloads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/transfers/downloads/known", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"known","directories":[{"directory":"Music\\Album","files":[{"id":"1","state":"Completed, Succeeded"}]}]}`))
	})
	mux.HandleFunc("/api/v0/transfers/downloads/unknown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := newClient(t, mux, time.Second)

	got, err := c.Downloads(context.Background(), "known")
	require.NoError(t, err)
	require.Len(t, got.Directories, 1)
	assert.Equal(t, "Completed, Succeeded", got.Directories[0].Files[0].State)

	got, err = c.Downloads(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnqueue(t *testing.T) {
	var files []File
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/transfers/downloads/peer", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&files))
		w.WriteHeader(http.StatusCreated)
	})

	c := newClient(t, mux, time.Second)
	require.NoError(t, c.Enqueue(context.Background(), "peer", []File{{Filename: `a\b.flac`, Size: 5}}))
	require.Len(t, files, 1)
	assert.Equal(t, `a\b.flac`, files[0].Filename)
}
