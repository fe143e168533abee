package deluge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/testutil"
)

type rpcCall struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type fakeWebUI struct {
	mu        sync.Mutex
	calls     []rpcCall
	connected bool
	labels    []string
	status    map[string]map[string]any
	torrent   []byte
}

func (f *fakeWebUI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeWebUI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/file.torrent" {
		_, _ = w.Write(f.torrent)
		return
	}

	var req rpcCall
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": nil, "id": req.ID})
	}

	if req.Method != "auth.login" {
		if _, err := r.Cookie("_session_id"); err != nil {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": nil,
				"error":  map[string]any{"message": "Not authenticated", "code": 1},
				"id":     req.ID,
			})
			return
		}
	}

	switch req.Method {
	case "auth.login":
		if req.Params[0] != "deluge" {
			reply(false)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "_session_id", Value: "s1", Path: "/"})
		reply(true)
	case "web.connected":
		reply(f.connected)
	case "web.get_hosts":
		reply([]any{[]any{"host-1", "127.0.0.1", 58846, "Online"}})
	case "web.connect":
		f.connected = true
		reply(nil)
	case "core.add_torrent_magnet", "core.add_torrent_file":
		reply("0123456789abcdef")
	case "label.get_labels":
		reply(f.labels)
	case "label.add", "label.set_torrent", "core.set_torrent_stop_at_ratio", "core.set_torrent_stop_ratio":
		reply(nil)
	case "web.get_torrent_status":
		if st, ok := f.status[req.Params[0].(string)]; ok {
			reply(st)
			return
		}
		reply(map[string]any{})
	default:
		reply(nil)
	}
}

func newTestClient(t *testing.T, ui *fakeWebUI, category string) (*Client, string) {
	t.Helper()
	server := httptest.NewServer(ui)
	t.Cleanup(server.Close)
	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, zerolog.Nop())
	return New(types.Config{Host: server.URL, Password: "deluge", Category: category}, hc, zerolog.Nop()), server.URL
}

func TestClient_AddMagnetLogsInAndConnects(t *testing.T) {
	ui := &fakeWebUI{}
	c, _ := newTestClient(t, ui, "")

	res, err := c.Add(context.Background(), &types.AddRequest{URL: "magnet:?xt=urn:btih:0123456789abcdef"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", res.ID)
	assert.Equal(t, []string{
		"core.add_torrent_magnet",
		"auth.login", "web.connected", "web.get_hosts", "web.connect", "web.connected",
		"core.add_torrent_magnet",
	}, ui.methods())
}

func TestClient_AddURLFetchesTorrent(t *testing.T) {
	ui := &fakeWebUI{connected: true}
	ui.torrent = testutil.TorrentFile(t, "Geogaddi")
	c, base := newTestClient(t, ui, "")

	_, err := c.Add(context.Background(), &types.AddRequest{URL: base + "/file.torrent", Name: "ignored"})
	require.NoError(t, err)

	ui.mu.Lock()
	defer ui.mu.Unlock()
	last := ui.calls[len(ui.calls)-1]
	assert.Equal(t, "core.add_torrent_file", last.Method)
	assert.Equal(t, "Geogaddi.torrent", last.Params[0])
}

func TestClient_AddRejectsNonTorrent(t *testing.T) {
	ui := &fakeWebUI{connected: true, torrent: []byte("<html>login</html>")}
	c, base := newTestClient(t, ui, "")

	_, err := c.Add(context.Background(), &types.AddRequest{URL: base + "/file.torrent"})
	assert.ErrorIs(t, err, types.ErrRejected)
}

func TestClient_BadPassword(t *testing.T) {
	ui := &fakeWebUI{}
	server := httptest.NewServer(ui)
	defer server.Close()
	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, zerolog.Nop())
	c := New(types.Config{Host: server.URL, Password: "wrong"}, hc, zerolog.Nop())

	_, err := c.Add(context.Background(), &types.AddRequest{URL: "magnet:?xt=urn:btih:abc"})
	assert.ErrorIs(t, err, types.ErrAuthFailed)
}

func TestClient_SetLabelCreatesMissingLabel(t *testing.T) {
	ui := &fakeWebUI{connected: true, labels: []string{"movies"}}
	c, _ := newTestClient(t, ui, "Head Phones")

	require.NoError(t, c.SetLabel(context.Background(), "abc"))
	methods := ui.methods()
	assert.Equal(t, []string{"label.get_labels", "label.add", "label.set_torrent"}, methods[len(methods)-3:])

	ui.mu.Lock()
	assert.Equal(t, []any{"abc", "head_phones"}, ui.calls[len(ui.calls)-1].Params)
	ui.mu.Unlock()
}

func TestClient_SetSeedRatio(t *testing.T) {
	ui := &fakeWebUI{connected: true}
	c, _ := newTestClient(t, ui, "")

	require.NoError(t, c.SetSeedRatio(context.Background(), "abc", 0))
	assert.Empty(t, ui.methods())

	require.NoError(t, c.SetSeedRatio(context.Background(), "abc", 2))
	methods := ui.methods()
	assert.Equal(t, []string{"core.set_torrent_stop_at_ratio", "core.set_torrent_stop_ratio"}, methods[len(methods)-2:])
}

func TestClient_CheckCompleted(t *testing.T) {
	ui := &fakeWebUI{connected: true, status: map[string]map[string]any{
		"seed": {"name": "A", "state": "Seeding", "progress": 100.0},
		"dl":   {"name": "B", "state": "Downloading", "progress": 42.0},
	}}
	c, _ := newTestClient(t, ui, "")
	ctx := context.Background()

	st := c.CheckCompleted(ctx, "seed")
	require.NotNil(t, st)
	assert.True(t, st.Completed)
	assert.Equal(t, "A", st.Name)

	st = c.CheckCompleted(ctx, "dl")
	require.NotNil(t, st)
	assert.False(t, st.Completed)
	assert.InDelta(t, 0.42, st.Progress, 1e-9)

	assert.Nil(t, c.CheckCompleted(ctx, "gone"))

	name, err := c.ResolveName(ctx, "seed")
	require.NoError(t, err)
	assert.Equal(t, "A", name)
}
