// Package slskd is a client for the slskd Soulseek daemon REST API.
package slskd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
)

// ErrSearchTimeout is returned when a search is still running at the deadline.
var ErrSearchTimeout = errors.New("slskd search did not complete in time")

// Config configures the client.
type Config struct {
	URL    string
	APIKey string
	// PollInterval is the delay between search state checks.
	PollInterval time.Duration
	// SearchTimeout bounds how long a search is polled.
	SearchTimeout time.Duration
}

// File is a shared file offered by a peer.
type File struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	BitRate   int    `json:"bitRate,omitempty"`
	Length    int    `json:"length,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// Response is one peer's answer to a search.
type Response struct {
	Username          string `json:"username"`
	Files             []File `json:"files"`
	HasFreeUploadSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength       int    `json:"queueLength"`
	UploadSpeed       int64  `json:"uploadSpeed"`
}

// Transfer is a single file download.
type Transfer struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Filename    string  `json:"filename"`
	State       string  `json:"state"`
	RequestedAt string  `json:"requestedAt"`
	Size        int64   `json:"size"`
	Percent     float64 `json:"percentComplete"`
}

// TransferDirectory groups transfers by remote directory.
type TransferDirectory struct {
	Directory string     `json:"directory"`
	Files     []Transfer `json:"files"`
}

// UserTransfers is every download queued from one user.
type UserTransfers struct {
	Username    string              `json:"username"`
	Directories []TransferDirectory `json:"directories"`
}

type searchState struct {
	ID         string `json:"id"`
	IsComplete bool   `json:"isComplete"`
	State      string `json:"state"`
}

// Client talks to one slskd instance.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger zerolog.Logger
}

func New(cfg Config, http *httpclient.Client, logger zerolog.Logger) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 2 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		http:   http,
		logger: logger.With().Str("component", "slskd").Logger(),
	}
}

func (c *Client) request(ctx context.Context, method, path string, body any, v any, whitelist ...int) (int, error) {
	req := &httpclient.Request{
		Method:          method,
		URL:             c.cfg.URL + "/api/v0" + path,
		Headers:         map[string]string{"X-API-Key": c.cfg.APIKey, "Accept": "application/json"},
		WhitelistStatus: whitelist,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		req.Body = data
		req.ContentType = "application/json"
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	if v != nil && resp.StatusCode < 300 && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, v); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Search runs a text search and waits for it to complete, polling the search
// state every PollInterval until SearchTimeout elapses.
func (c *Client) Search(ctx context.Context, text string) ([]Response, error) {
	id := uuid.NewString()
	body := map[string]any{
		"id":              id,
		"searchText":      text,
		"filterResponses": true,
	}
	if _, err := c.request(ctx, http.MethodPost, "/searches", body, nil); err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}
	log := c.logger.With().Str("searchId", id).Logger()
	log.Debug().Str("text", text).Msg("Search started")

	if err := c.waitForSearch(ctx, id); err != nil {
		return nil, err
	}

	var responses []Response
	if _, err := c.request(ctx, http.MethodGet, "/searches/"+url.PathEscape(id)+"/responses", nil, &responses); err != nil {
		return nil, fmt.Errorf("fetch responses: %w", err)
	}
	log.Debug().Int("responses", len(responses)).Msg("Search complete")
	return responses, nil
}

func (c *Client) waitForSearch(parent context.Context, id string) error {
	ctx, cancel := context.WithTimeout(parent, c.cfg.SearchTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var state searchState
		_, err := c.request(ctx, http.MethodGet, "/searches/"+url.PathEscape(id), nil, &state)
		switch {
		case err != nil && ctx.Err() == nil:
			return fmt.Errorf("poll search: %w", err)
		case err == nil && state.IsComplete:
			return nil
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return parent.Err()
			}
			return fmt.Errorf("%w: %s", ErrSearchTimeout, id)
		case <-ticker.C:
		}
	}
}

// Enqueue queues files from user for download.
func (c *Client) Enqueue(ctx context.Context, username string, files []File) error {
	_, err := c.request(ctx, http.MethodPost, "/transfers/downloads/"+url.PathEscape(username), files, nil)
	return err
}

// Downloads returns the transfers queued from username, nil when there are
// none.
func (c *Client) Downloads(ctx context.Context, username string) (*UserTransfers, error) {
	var out UserTransfers
	code, err := c.request(ctx, http.MethodGet, "/transfers/downloads/"+url.PathEscape(username), nil, &out, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNotFound {
		return nil, nil
	}
	return &out, nil
}

// Cancel cancels one transfer, optionally removing it from the list.
func (c *Client) Cancel(ctx context.Context, username, id string, remove bool) error {
	path := fmt.Sprintf("/transfers/downloads/%s/%s?remove=%t", url.PathEscape(username), url.PathEscape(id), remove)
	_, err := c.request(ctx, http.MethodDelete, path, nil, nil)
	return err
}
