// Package nzbget sends NZBs to NZBGet over its XML-RPC interface.
package nzbget

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
)

var _ types.Client = (*Client)(nil)

// Client talks to one NZBGet instance.
type Client struct {
	config   types.Config
	endpoint string
	http     *httpclient.Client
	logger   zerolog.Logger
}

// New creates a client for the /xmlrpc endpoint of cfg.Host.
func New(cfg types.Config, http *httpclient.Client, logger zerolog.Logger) *Client {
	return &Client{
		config:   cfg,
		endpoint: cfg.BaseURL() + "/xmlrpc",
		http:     http,
		logger:   logger.With().Str("component", "nzbget").Logger(),
	}
}

func (c *Client) Type() types.Type { return types.TypeNZBGet }

func (c *Client) Kind() release.Kind { return release.KindUsenet }

func (c *Client) call(ctx context.Context, method string, params ...value) (any, error) {
	body, err := buildRequest(method, params)
	if err != nil {
		return nil, fmt.Errorf("build XML-RPC request: %w", err)
	}

	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method:          http.MethodPost,
		URL:             c.endpoint,
		Body:            body,
		ContentType:     "text/xml",
		Username:        c.config.Username,
		Password:        c.config.Password,
		WhitelistStatus: []int{http.StatusUnauthorized},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, types.ErrAuthFailed
	}
	return parseResponse(resp.Body)
}

// version returns the major version reported by NZBGet.
func (c *Client) version(ctx context.Context) (int, error) {
	v, err := c.call(ctx, "version")
	if err != nil {
		return 0, err
	}
	s := asString(v)
	if i := strings.Index(s, "."); i >= 0 {
		s = s[:i]
	}
	major, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("unexpected nzbget version %q", asString(v))
	}
	return major, nil
}

// Add appends the NZB to the queue using the append signature the running
// version understands. Versions 13 and later return the queue id, which is
// used as the download id; older versions are tracked by NZB name.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	if !req.HasData() && req.URL == "" {
		return nil, types.ErrNoPayload
	}
	fileName := req.Name + ".nzb"

	logged, err := c.call(ctx, "writelog", str("INFO"), str("acquire connected to drop of "+fileName+" any moment now."))
	if err != nil {
		if errors.Is(err, types.ErrAuthFailed) {
			c.logger.Error().Msg("NZBGet password is incorrect")
		} else {
			c.logger.Error().Err(err).Msg("NZBGet is not responding, check the host and port")
		}
		return nil, err
	}
	if ok, _ := logged.(bool); ok {
		c.logger.Debug().Msg("Successfully connected to NZBGet")
	} else {
		c.logger.Info().Msg("Connected to NZBGet, but unable to send a message")
	}

	major, err := c.version(ctx)
	if err != nil {
		return nil, err
	}

	var content string
	if req.HasData() {
		content = base64.StdEncoding.EncodeToString(req.Data)
	}
	category := str(c.config.Category)
	priority := integer(c.config.Priority)

	var result any
	switch {
	case major == 0:
		if content == "" {
			return nil, fmt.Errorf("%w: nzbget 0.x only accepts nzb content", types.ErrNoPayload)
		}
		result, err = c.call(ctx, "append", str(fileName), category, boolean(false), str(content))
	case major == 12:
		if content != "" {
			result, err = c.call(ctx, "append", str(fileName), category, priority, boolean(false),
				str(content), boolean(false), str(""), integer(0), str("score"))
		} else {
			result, err = c.call(ctx, "appendurl", str(fileName), category, priority, boolean(false),
				str(req.URL), boolean(false), str(""), integer(0), str("score"))
		}
	case major >= 13:
		source := content
		if source == "" {
			source = req.URL
		}
		result, err = c.call(ctx, "append", str(fileName), str(source), category, priority,
			boolean(false), boolean(false), str(""), integer(0), str("score"))
	default:
		if content != "" {
			result, err = c.call(ctx, "append", str(fileName), category, priority, boolean(false), str(content))
		} else {
			result, err = c.call(ctx, "appendurl", str(fileName), category, priority, boolean(false), str(req.URL))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("add %s to nzbget: %w", fileName, err)
	}

	res := &types.AddResult{ID: req.Name, Name: req.Name}
	switch r := result.(type) {
	case int64:
		if r <= 0 {
			return nil, fmt.Errorf("%w: nzbget returned %d for %s", types.ErrRejected, r, fileName)
		}
		res.ID = strconv.FormatInt(r, 10)
	case bool:
		if !r {
			return nil, fmt.Errorf("%w: nzbget could not add %s to the queue", types.ErrRejected, fileName)
		}
	}
	c.logger.Info().Str("id", res.ID).Int("version", major).Msg("NZB sent to NZBGet successfully")
	return res, nil
}

// CheckCompleted matches the id against NZBID or the NZB name in the queue
// first, then in history. Only a SUCCESS history status counts as complete.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	if id == "" {
		c.logger.Error().Msg("NZBGet completion check called with an empty id")
		return nil
	}

	groups, err := c.call(ctx, "listgroups")
	if err != nil {
		c.logger.Error().Err(err).Msg("Error checking NZBGet queue")
		return nil
	}
	for _, item := range structs(groups) {
		if asString(item["NZBID"]) != id && asString(item["NZBName"]) != id {
			continue
		}
		total := asFloat(item["FileSizeMB"])
		remaining := asFloat(item["RemainingSizeMB"])
		var progress float64
		if total > 0 {
			progress = max(0, (total-remaining)/total)
		}
		return &release.CompletionStatus{
			Progress: progress,
			Status:   orUnknown(asString(item["Status"])),
			Name:     orUnknown(asString(item["NZBName"])),
		}
	}

	history, err := c.call(ctx, "history")
	if err != nil {
		c.logger.Error().Err(err).Msg("Error checking NZBGet history")
		return nil
	}
	for _, item := range structs(history) {
		if asString(item["NZBID"]) != id && asString(item["Name"]) != id {
			continue
		}
		status := orUnknown(asString(item["Status"]))
		st := &release.CompletionStatus{
			Completed: status == "SUCCESS" || strings.HasPrefix(status, "SUCCESS/"),
			Status:    status,
			Name:      orUnknown(asString(item["Name"])),
		}
		if st.Completed {
			st.Progress = 1
		}
		return st
	}

	c.logger.Warn().Str("id", id).Msg("NZBGet item not found in queue or history")
	return nil
}

func structs(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
