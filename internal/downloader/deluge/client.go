// Package deluge pushes torrents to the Deluge web UI JSON-RPC endpoint.
package deluge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

var statusFields = []string{"name", "state", "progress", "total_done", "total_size"}

// Client talks to one Deluge web UI. The session cookie lives in the
// client's own jar.
type Client struct {
	config types.Config
	http   *httpclient.Client
	logger zerolog.Logger

	mu        sync.Mutex
	requestID int
}

var (
	_ types.Client          = (*Client)(nil)
	_ types.SeedRatioSetter = (*Client)(nil)
	_ types.Labeler         = (*Client)(nil)
	_ types.NameResolver    = (*Client)(nil)
)

// New creates a client. Category is used as the label.
func New(cfg types.Config, http *httpclient.Client, logger zerolog.Logger) *Client {
	return &Client{
		config: cfg,
		http:   http.WithJar(),
		logger: logger.With().Str("component", "deluge").Logger(),
	}
}

func (c *Client) Type() types.Type { return types.TypeDeluge }

func (c *Client) Kind() release.Kind { return release.KindTorrent }

// Add sends magnets as links. HTTP links are fetched here so private
// tracker cookies and user agents stay on this side.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	var (
		hash string
		err  error
	)
	switch {
	case req.HasData():
		hash, err = c.addFile(ctx, req.Data, c.fileName(req.Data, req.Name, req.URL))
	case strings.HasPrefix(strings.ToLower(req.URL), "magnet:"):
		hash, err = c.addMagnet(ctx, req.URL)
	case req.URL != "":
		var data []byte
		data, err = c.http.Get(ctx, &httpclient.Request{URL: req.URL})
		if err != nil {
			return nil, fmt.Errorf("download torrent for deluge: %w", err)
		}
		if !torrent.IsTorrent(data) {
			return nil, fmt.Errorf("%w: %s did not return a torrent file", types.ErrRejected, req.URL)
		}
		hash, err = c.addFile(ctx, data, c.fileName(data, req.Name, req.URL))
	default:
		return nil, types.ErrNoPayload
	}
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: deluge returned no torrent id, it may already exist", types.ErrRejected)
	}
	c.logger.Info().Str("hash", hash).Msg("Torrent sent to Deluge successfully")
	return &types.AddResult{ID: hash}, nil
}

// fileName prefers the metainfo name, then the requested name, then the
// last path segment of the link.
func (c *Client) fileName(data []byte, name, link string) string {
	if n, err := torrent.Name(data); err == nil && n != "" {
		return n + ".torrent"
	}
	if name == "" && link != "" {
		name = strings.TrimSuffix(path.Base(strings.ReplaceAll(link, "\\", "/")), ".torrent")
	}
	if name == "" {
		name = "torrent"
	}
	return name + ".torrent"
}

func (c *Client) addOptions() map[string]any {
	options := map[string]any{}
	if c.config.Dir != "" {
		options["download_location"] = c.config.Dir
	}
	return options
}

func (c *Client) addMagnet(ctx context.Context, link string) (string, error) {
	var hash string
	err := c.call(ctx, "core.add_torrent_magnet", []any{link, c.addOptions()}, &hash)
	return hash, err
}

func (c *Client) addFile(ctx context.Context, data []byte, filename string) (string, error) {
	var hash *string
	b64 := base64.StdEncoding.EncodeToString(data)
	if err := c.call(ctx, "core.add_torrent_file", []any{filename, b64, c.addOptions()}, &hash); err != nil {
		return "", err
	}
	if hash == nil {
		return "", nil
	}
	return *hash, nil
}

// SetLabel assigns the configured label, creating it first when needed.
// Labels cannot contain spaces.
func (c *Client) SetLabel(ctx context.Context, id string) error {
	label := strings.ToLower(strings.ReplaceAll(c.config.Category, " ", "_"))
	if label == "" {
		return nil
	}

	var labels []string
	if err := c.call(ctx, "label.get_labels", []any{}, &labels); err != nil {
		return fmt.Errorf("label plugin unavailable: %w", err)
	}
	found := false
	for _, l := range labels {
		if l == label {
			found = true
			break
		}
	}
	if !found {
		if err := c.call(ctx, "label.add", []any{label}, nil); err != nil {
			return err
		}
	}
	return c.call(ctx, "label.set_torrent", []any{id, label}, nil)
}

// SetSeedRatio enables stop-at-ratio. A zero ratio leaves the daemon default.
func (c *Client) SetSeedRatio(ctx context.Context, id string, ratio float64) error {
	if ratio == 0 {
		return nil
	}
	if err := c.call(ctx, "core.set_torrent_stop_at_ratio", []any{id, true}, nil); err != nil {
		return err
	}
	return c.call(ctx, "core.set_torrent_stop_ratio", []any{id, ratio}, nil)
}

type torrentStatus struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress"`
	TotalDone int64   `json:"total_done"`
	TotalSize int64   `json:"total_size"`
}

func (c *Client) status(ctx context.Context, id string) (*torrentStatus, error) {
	var st *torrentStatus
	if err := c.call(ctx, "web.get_torrent_status", []any{id, statusFields}, &st); err != nil {
		return nil, err
	}
	if st == nil || (st.Name == "" && st.State == "") {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return st, nil
}

// ResolveName returns the torrent name, which deluge uses as the folder.
func (c *Client) ResolveName(ctx context.Context, id string) (string, error) {
	st, err := c.status(ctx, id)
	if err != nil {
		return "", err
	}
	return st.Name, nil
}

// CheckCompleted treats seeding or full progress as complete. Deluge reports
// progress as a percentage.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	st, err := c.status(ctx, id)
	if err != nil {
		c.logger.Error().Err(err).Str("hash", id).Msg("Checking torrent completion failed")
		return nil
	}
	progress := st.Progress / 100.0
	c.logger.Debug().Str("name", st.Name).Float64("progress", st.Progress).Str("state", st.State).Msg("Deluge torrent status")
	return &release.CompletionStatus{
		Completed: strings.EqualFold(st.State, "seeding") || progress >= 1.0,
		Progress:  progress,
		Status:    st.State,
		Name:      st.Name,
	}
}

func (c *Client) authenticate(ctx context.Context) error {
	var ok bool
	if err := c.doCall(ctx, "auth.login", []any{c.config.Password}, &ok); err != nil {
		return err
	}
	if !ok {
		c.logger.Error().Msg("Deluge password not accepted")
		return types.ErrAuthFailed
	}

	var connected bool
	if err := c.doCall(ctx, "web.connected", []any{}, &connected); err != nil {
		return err
	}
	if connected {
		return nil
	}
	return c.connectToDaemon(ctx)
}

func (c *Client) connectToDaemon(ctx context.Context) error {
	var hosts [][]any
	if err := c.doCall(ctx, "web.get_hosts", []any{}, &hosts); err != nil {
		return err
	}
	if len(hosts) == 0 {
		return fmt.Errorf("deluge web UI knows no daemon hosts")
	}
	hostID, _ := hosts[0][0].(string)
	if hostID == "" {
		return fmt.Errorf("unexpected response from web.get_hosts")
	}
	if err := c.doCall(ctx, "web.connect", []any{hostID}, nil); err != nil {
		return err
	}

	var connected bool
	if err := c.doCall(ctx, "web.connected", []any{}, &connected); err != nil {
		return err
	}
	if !connected {
		return fmt.Errorf("deluge web UI could not connect to daemon %s", hostID)
	}
	return nil
}

// call runs method, logging in and retrying once when the session expired.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	err := c.doCall(ctx, method, params, result)
	if err != nil && isAuthError(err) {
		if authErr := c.authenticate(ctx); authErr != nil {
			return authErr
		}
		return c.doCall(ctx, method, params, result)
	}
	return err
}

func (c *Client) doCall(ctx context.Context, method string, params []any, result any) error {
	c.mu.Lock()
	c.requestID++
	id := c.requestID
	c.mu.Unlock()

	body, err := json.Marshal(map[string]any{"method": method, "params": params, "id": id})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.config.BaseURL() + "/json",
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result json.RawMessage  `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &rpcResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.Error != nil && string(*rpcResp.Error) != "null" {
		return parseRPCError(*rpcResp.Error)
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unexpected %s result: %w", method, err)
	}
	return nil
}

func parseRPCError(raw json.RawMessage) error {
	var errObj struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(raw, &errObj); err == nil {
		if errObj.Code == 1 || errObj.Code == 2 {
			return &authError{msg: errObj.Message}
		}
		return fmt.Errorf("RPC error: %s (code %d)", errObj.Message, errObj.Code)
	}
	return fmt.Errorf("RPC error: %s", string(raw))
}

type authError struct {
	msg string
}

func (e *authError) Error() string {
	return e.msg
}

func isAuthError(err error) bool {
	var authErr *authError
	return errors.As(err, &authErr)
}
