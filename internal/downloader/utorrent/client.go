// Package utorrent drives the uTorrent web UI token API.
package utorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

var tokenPattern = regexp.MustCompile(`<div[^>]*id=['"]token['"][^>]*>([^<>]+)</div>`)

// Column offsets in a list=1 torrent row.
const (
	colHash     = 0
	colName     = 2
	colProgress = 4
	colStatus   = 21
	colSavePath = 26
)

var (
	_ types.Client          = (*Client)(nil)
	_ types.SeedRatioSetter = (*Client)(nil)
	_ types.Labeler         = (*Client)(nil)
	_ types.NameResolver    = (*Client)(nil)
)

// Client talks to one uTorrent instance. Every request carries the CSRF
// token and basic auth; the token is refreshed when the UI rejects it.
type Client struct {
	config  types.Config
	baseURL string
	http    *httpclient.Client
	logger  zerolog.Logger

	tokenMu sync.RWMutex
	token   string

	folderTries int
	folderDelay time.Duration
}

// New creates a client. A trailing /gui on the host is tolerated.
func New(cfg types.Config, http *httpclient.Client, logger zerolog.Logger) *Client {
	base := strings.TrimSuffix(cfg.BaseURL(), "/gui")
	return &Client{
		config:      cfg,
		baseURL:     base + "/gui/",
		http:        http.WithJar(),
		logger:      logger.With().Str("component", "utorrent").Logger(),
		folderTries: 10,
		folderDelay: 6 * time.Second,
	}
}

// SetFolderRetry overrides how long ResolveName waits for a magnet's folder.
func (c *Client) SetFolderRetry(tries int, delay time.Duration) {
	c.folderTries = tries
	c.folderDelay = delay
}

func (c *Client) Type() types.Type { return types.TypeUTorrent }

func (c *Client) Kind() release.Kind { return release.KindTorrent }

// Add uploads metainfo when present, otherwise hands uTorrent the link. The
// id is the info hash, computed locally because the API does not return it.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	hash, err := torrent.InfoHash(req.URL, req.Data)
	if err != nil {
		return nil, fmt.Errorf("torrent id could not be determined: %w", err)
	}

	switch {
	case req.HasData():
		err = c.addFile(ctx, req.Data)
	case req.URL != "":
		params := url.Values{}
		params.Set("action", "add-url")
		params.Set("s", req.URL)
		_, err = c.doRequest(ctx, params)
	default:
		return nil, types.ErrNoPayload
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("hash", hash).Msg("Torrent sent to uTorrent")
	return &types.AddResult{ID: hash}, nil
}

func (c *Client) addFile(ctx context.Context, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("torrent_file", "file.torrent")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("action", "add-file")
	_, err = c.send(ctx, http.MethodPost, params, buf.Bytes(), mw.FormDataContentType())
	return err
}

// SetLabel applies the configured label.
func (c *Client) SetLabel(ctx context.Context, id string) error {
	if c.config.Category == "" {
		return nil
	}
	return c.setProps(ctx, id, "label", c.config.Category)
}

// SetSeedRatio overrides the global seeding goal. uTorrent stores the ratio
// in per mille; zero means no limit.
func (c *Client) SetSeedRatio(ctx context.Context, id string, ratio float64) error {
	if err := c.setProps(ctx, id, "seed_override", "1"); err != nil {
		return err
	}
	return c.setProps(ctx, id, "seed_ratio", strconv.Itoa(int(ratio*1000)))
}

func (c *Client) setProps(ctx context.Context, id, key, value string) error {
	params := url.Values{}
	params.Set("action", "setprops")
	params.Set("hash", strings.ToUpper(id))
	params.Set("s", key)
	params.Set("v", value)
	_, err := c.doRequest(ctx, params)
	return err
}

// ResolveName returns the folder the torrent is saved into. Magnets report
// the active download directory until metadata arrives, so the lookup is
// retried a bounded number of times before falling back to the torrent name.
func (c *Client) ResolveName(ctx context.Context, id string) (string, error) {
	activeDir, err := c.activeDir(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Could not read the active download directory from uTorrent settings")
	}

	var row []any
	for try := 1; ; try++ {
		row, err = c.find(ctx, id)
		if err != nil {
			return "", err
		}
		folder := column(row, colSavePath)
		if folder != "" && folder != activeDir {
			folder = strings.ReplaceAll(folder, "\\", "/")
			return path.Base(path.Clean(folder)), nil
		}
		if try >= c.folderTries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.folderDelay):
		}
	}
	return column(row, colName), nil
}

// CheckCompleted treats full progress or a Finished/Seeding status as done.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	row, err := c.find(ctx, id)
	if err != nil {
		c.logger.Error().Err(err).Str("hash", id).Msg("Error checking uTorrent torrent completion")
		return nil
	}

	progress := columnFloat(row, colProgress) / 1000.0
	status := column(row, colStatus)
	if status == "" {
		status = "Unknown"
	}
	name := column(row, colName)
	c.logger.Debug().Str("name", name).Float64("progress", progress*100).Str("status", status).Msg("uTorrent torrent status")

	return &release.CompletionStatus{
		Completed: progress >= 1.0 || status == "Finished" || status == "Seeding",
		Progress:  progress,
		Status:    status,
		Name:      name,
	}
}

func (c *Client) find(ctx context.Context, id string) ([]any, error) {
	params := url.Values{}
	params.Set("list", "1")
	body, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Torrents [][]any `json:"torrents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode torrent list: %w", err)
	}
	for _, row := range resp.Torrents {
		if strings.EqualFold(column(row, colHash), id) {
			return row, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
}

func (c *Client) activeDir(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("action", "getsettings")
	body, err := c.doRequest(ctx, params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Settings [][]any `json:"settings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	for _, setting := range resp.Settings {
		if len(setting) < 3 {
			continue
		}
		if name, _ := setting[0].(string); name == "dir_active_download" {
			dir, _ := setting[2].(string)
			return dir, nil
		}
	}
	return "", fmt.Errorf("download directory not found in settings")
}

func (c *Client) fetchToken(ctx context.Context) error {
	resp, err := c.http.Do(ctx, &httpclient.Request{
		URL:             c.baseURL + "token.html",
		Username:        c.config.Username,
		Password:        c.config.Password,
		WhitelistStatus: []int{http.StatusUnauthorized},
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return types.ErrAuthFailed
	}

	m := tokenPattern.FindSubmatch(resp.Body)
	if m == nil {
		return fmt.Errorf("token not found in response")
	}

	c.tokenMu.Lock()
	c.token = string(m[1])
	c.tokenMu.Unlock()
	return nil
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if token != "" {
		return token, nil
	}

	if err := c.fetchToken(ctx); err != nil {
		return "", err
	}
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token, nil
}

func (c *Client) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	return c.send(ctx, http.MethodGet, params, nil, "")
}

// send issues one call, refreshing the token once when it was rejected.
func (c *Client) send(ctx context.Context, method string, params url.Values, body []byte, contentType string) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.getToken(ctx)
		if err != nil {
			return nil, err
		}
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("token", token)

		resp, err := c.http.Do(ctx, &httpclient.Request{
			Method:          method,
			URL:             c.baseURL + "?" + q.Encode(),
			Body:            body,
			ContentType:     contentType,
			Username:        c.config.Username,
			Password:        c.config.Password,
			WhitelistStatus: []int{http.StatusBadRequest, http.StatusUnauthorized},
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		c.tokenMu.Lock()
		c.token = ""
		c.tokenMu.Unlock()
		if err := c.fetchToken(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("uTorrent webUI kept rejecting the token")
}

func column(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return s
}

func columnFloat(row []any, idx int) float64 {
	if idx >= len(row) {
		return 0
	}
	f, _ := row[idx].(float64)
	return f
}
