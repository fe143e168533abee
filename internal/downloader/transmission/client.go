// Package transmission pushes torrents to Transmission over its JSON-RPC API.
package transmission

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
)

const (
	sessionIDHeader = "X-Transmission-Session-Id"
	rpcPath         = "/transmission/rpc"

	statusSeeding = 6
)

var statusNames = map[int]string{
	0: "stopped",
	1: "check pending",
	2: "checking",
	3: "download pending",
	4: "downloading",
	5: "seed pending",
	6: "seeding",
}

// Client talks to one Transmission daemon.
type Client struct {
	config   types.Config
	endpoint string
	http     *httpclient.Client
	logger   zerolog.Logger

	mu        sync.Mutex
	sessionID string

	// nameTries and nameDelay bound the wait for magnet metadata in
	// ResolveName.
	nameTries int
	nameDelay time.Duration
}

var (
	_ types.Client          = (*Client)(nil)
	_ types.SeedRatioSetter = (*Client)(nil)
	_ types.NameResolver    = (*Client)(nil)
)

// New creates a client. The RPC path is appended unless the host already
// points at an endpoint ending in /rpc.
func New(cfg types.Config, http *httpclient.Client, logger zerolog.Logger) *Client {
	return &Client{
		config:    cfg,
		endpoint:  rpcEndpoint(cfg.BaseURL()),
		http:      http,
		logger:    logger.With().Str("component", "transmission").Logger(),
		nameTries: 10,
		nameDelay: 5 * time.Second,
	}
}

// SetNameRetry overrides how long ResolveName waits for metadata.
func (c *Client) SetNameRetry(tries int, delay time.Duration) {
	c.nameTries = tries
	c.nameDelay = delay
}

func rpcEndpoint(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + rpcPath
	}
	if !strings.HasSuffix(u.Path, "/rpc") {
		u.Path = strings.TrimRight(u.Path, "/") + rpcPath
	}
	return u.String()
}

func (c *Client) Type() types.Type { return types.TypeTransmission }

func (c *Client) Kind() release.Kind { return release.KindTorrent }

// Add sends metainfo when payload data is present, otherwise the link.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	args := map[string]any{}
	switch {
	case req.HasData():
		args["metainfo"] = base64.StdEncoding.EncodeToString(req.Data)
	case req.URL != "":
		args["filename"] = req.URL
	default:
		return nil, types.ErrNoPayload
	}
	if c.config.Dir != "" {
		args["download-dir"] = c.config.Dir
	}

	resp, err := c.call(ctx, "torrent-add", args)
	if err != nil {
		return nil, err
	}

	id, err := extractTorrentID(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("hash", id).Msg("Torrent sent to Transmission successfully")
	return &types.AddResult{ID: id}, nil
}

// ResolveName returns the torrent name, waiting a bounded time for magnet
// metadata to arrive.
func (c *Client) ResolveName(ctx context.Context, id string) (string, error) {
	var torrent map[string]any
	for try := 1; ; try++ {
		t, err := c.torrent(ctx, id, "name", "percentDone")
		if err != nil {
			return "", err
		}
		torrent = t
		if getFloat(torrent, "percentDone") > 0 || try >= c.nameTries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.nameDelay):
		}
	}
	return getString(torrent, "name"), nil
}

// SetSeedRatio applies a per-torrent limit. Zero switches to unlimited.
func (c *Client) SetSeedRatio(ctx context.Context, id string, ratio float64) error {
	args := map[string]any{"ids": []string{id}}
	if ratio != 0 {
		args["seedRatioLimit"] = ratio
		args["seedRatioMode"] = 1
	} else {
		args["seedRatioMode"] = 2
	}
	_, err := c.call(ctx, "torrent-set", args)
	return err
}

// CheckCompleted reports completion once the torrent is fully downloaded and
// seeding or finished.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	torrent, err := c.torrent(ctx, id, "percentDone", "status", "isFinished", "name")
	if err != nil {
		c.logger.Error().Err(err).Str("hash", id).Msg("Error checking Transmission torrent status")
		return nil
	}

	percentDone := getFloat(torrent, "percentDone")
	status := getInt(torrent, "status")
	finished := getBool(torrent, "isFinished")
	name := getString(torrent, "name")

	c.logger.Debug().
		Str("name", name).
		Float64("progress", percentDone*100).
		Int("status", status).
		Bool("finished", finished).
		Msg("Transmission torrent status")

	return &release.CompletionStatus{
		Completed: percentDone == 1.0 && (status == statusSeeding || finished),
		Progress:  percentDone,
		Status:    statusName(status),
		Name:      name,
	}
}

func statusName(status int) string {
	if s, ok := statusNames[status]; ok {
		return s
	}
	return fmt.Sprintf("unknown (%d)", status)
}

func (c *Client) torrent(ctx context.Context, id string, fields ...string) (map[string]any, error) {
	resp, err := c.call(ctx, "torrent-get", map[string]any{
		"ids":    []string{id},
		"fields": fields,
	})
	if err != nil {
		return nil, err
	}
	list, _ := resp.Arguments["torrents"].([]any)
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	torrent, ok := list[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected torrent entry %T", list[0])
	}
	return torrent, nil
}

type rpcRequest struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	Result    string         `json:"result"`
	Arguments map[string]any `json:"arguments"`
}

// call performs one RPC, refreshing the CSRF session id once on 409.
func (c *Client) call(ctx context.Context, method string, args map[string]any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()

		headers := map[string]string{}
		if sessionID != "" {
			headers[sessionIDHeader] = sessionID
		}

		resp, err := c.http.Do(ctx, &httpclient.Request{
			Method:          http.MethodPost,
			URL:             c.endpoint,
			Body:            body,
			ContentType:     "application/json",
			Headers:         headers,
			Username:        c.config.Username,
			Password:        c.config.Password,
			WhitelistStatus: []int{http.StatusConflict, http.StatusUnauthorized},
		})
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			if c.config.Username != "" {
				c.logger.Error().Msg("Username and/or password not accepted by Transmission")
			} else {
				c.logger.Error().Msg("Transmission authorization required")
			}
			return nil, types.ErrAuthFailed
		case http.StatusConflict:
			id := resp.Header.Get(sessionIDHeader)
			if id == "" {
				return nil, fmt.Errorf("received 409 but no session ID in response")
			}
			c.mu.Lock()
			c.sessionID = id
			c.mu.Unlock()
			c.logger.Debug().Msg("Retrying Transmission request with new session id")
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(resp.Body, &rpcResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if rpcResp.Result != "success" {
			c.logger.Info().Str("result", rpcResp.Result).Msg("Transmission returned status")
			return nil, fmt.Errorf("%w: %s", types.ErrRejected, rpcResp.Result)
		}
		return &rpcResp, nil
	}
	return nil, fmt.Errorf("transmission kept rejecting the session id")
}

// extractTorrentID reads the hash from an add response; duplicates count
// as success.
func extractTorrentID(resp *rpcResponse) (string, error) {
	for _, key := range []string{"torrent-added", "torrent-duplicate"} {
		if t, ok := resp.Arguments[key].(map[string]any); ok {
			if hash := getString(t, "hashString"); hash != "" {
				return hash, nil
			}
		}
	}
	return "", fmt.Errorf("could not extract torrent ID from response")
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getFloat(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
