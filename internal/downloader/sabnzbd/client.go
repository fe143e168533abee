// Package sabnzbd implements the SABnzbd JSON API.
package sabnzbd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
)

// historyLimit bounds how many history slots are scanned per poll.
const historyLimit = 50

var (
	_ types.Client      = (*Client)(nil)
	_ types.FolderNamer = (*Client)(nil)
)

// Client implements a SABnzbd API client.
type Client struct {
	config types.Config
	http   *httpclient.Client
	logger zerolog.Logger
}

// New creates a new SABnzbd client.
func New(cfg types.Config, http *httpclient.Client, logger zerolog.Logger) *Client {
	return &Client{
		config: cfg,
		http:   http,
		logger: logger.With().Str("component", "sabnzbd").Logger(),
	}
}

func (c *Client) Type() types.Type { return types.TypeSABnzbd }

func (c *Client) Kind() release.Kind { return release.KindUsenet }

type apiResponse struct {
	Status *bool    `json:"status"`
	Error  string   `json:"error"`
	NzoIDs []string `json:"nzo_ids"`
}

// Add sends the NZB by URL, or uploads it when the content was fetched. The
// returned id is the nzo_id SABnzbd assigned.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	params := url.Values{}
	if c.config.Category != "" {
		params.Set("cat", c.config.Category)
	}
	if req.Name != "" {
		params.Set("nzbname", req.Name)
	}
	if c.config.Priority != 0 {
		params.Set("priority", strconv.Itoa(c.config.Priority))
	}

	var (
		body []byte
		err  error
	)
	switch {
	case req.HasData():
		params.Set("mode", "addfile")
		body, err = c.upload(ctx, params, req.Name+".nzb", req.Data)
	case req.URL != "":
		params.Set("mode", "addurl")
		params.Set("name", req.URL)
		body, err = c.call(ctx, params)
	default:
		return nil, types.ErrNoPayload
	}
	if err != nil {
		return nil, fmt.Errorf("send nzb to sabnzbd: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sabnzbd response: %w", err)
	}
	if resp.Status == nil || !*resp.Status {
		return nil, fmt.Errorf("%w: %s", types.ErrRejected, resp.Error)
	}

	res := &types.AddResult{Name: req.Name}
	if len(resp.NzoIDs) > 0 {
		res.ID = resp.NzoIDs[0]
	}
	c.logger.Info().Str("nzo_id", res.ID).Str("name", req.Name).Msg("NZB sent to SABnzbd successfully")
	return res, nil
}

func (c *Client) upload(ctx context.Context, params url.Values, fileName string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("nzbfile", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.endpoint(),
		Params:      c.auth(params),
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) call(ctx context.Context, params url.Values) ([]byte, error) {
	return c.http.Get(ctx, &httpclient.Request{
		URL:    c.endpoint(),
		Params: c.auth(params),
	})
}

func (c *Client) endpoint() string {
	return c.config.BaseURL() + "/api"
}

func (c *Client) auth(params url.Values) url.Values {
	if c.config.Username != "" {
		params.Set("ma_username", c.config.Username)
	}
	if c.config.Password != "" {
		params.Set("ma_password", c.config.Password)
	}
	if c.config.APIKey != "" {
		params.Set("apikey", c.config.APIKey)
	}
	params.Set("output", "json")
	return params
}

type queueResponse struct {
	Error string `json:"error"`
	Queue struct {
		Slots []struct {
			NzoID      string `json:"nzo_id"`
			Filename   string `json:"filename"`
			Percentage string `json:"percentage"`
			Status     string `json:"status"`
		} `json:"slots"`
	} `json:"queue"`
}

type historyResponse struct {
	Error   string `json:"error"`
	History struct {
		Slots []struct {
			NzoID  string `json:"nzo_id"`
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"slots"`
	} `json:"history"`
}

// CheckCompleted looks the job up in the queue, then in recent history.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	if id == "" {
		c.logger.Error().Msg("SABnzbd completion check called with an empty nzo_id")
		return nil
	}

	body, err := c.call(ctx, url.Values{"mode": {"queue"}})
	if err != nil {
		c.logger.Warn().Err(err).Msg("SABnzbd queue check failed")
	} else {
		var q queueResponse
		if err := json.Unmarshal(body, &q); err != nil {
			c.logger.Warn().Err(err).Msg("Could not decode SABnzbd queue")
		} else if q.Error != "" {
			c.logger.Error().Str("error", q.Error).Msg("SABnzbd API error while checking queue")
			return nil
		}
		for _, slot := range q.Queue.Slots {
			if slot.NzoID != id {
				continue
			}
			progress, err := strconv.ParseFloat(slot.Percentage, 64)
			if err != nil {
				progress = 0
			}
			return &release.CompletionStatus{
				Progress: progress / 100,
				Status:   orUnknown(slot.Status),
				Name:     orUnknown(slot.Filename),
			}
		}
	}

	body, err = c.call(ctx, url.Values{"mode": {"history"}, "limit": {strconv.Itoa(historyLimit)}})
	if err != nil {
		c.logger.Warn().Err(err).Msg("SABnzbd history check failed")
		return nil
	}
	var h historyResponse
	if err := json.Unmarshal(body, &h); err != nil {
		c.logger.Warn().Err(err).Msg("Could not decode SABnzbd history")
		return nil
	}
	if h.Error != "" {
		c.logger.Error().Str("error", h.Error).Msg("SABnzbd API error while checking history")
		return nil
	}
	for _, slot := range h.History.Slots {
		if slot.NzoID != id {
			continue
		}
		st := &release.CompletionStatus{
			Completed: slot.Status == "Completed",
			Status:    orUnknown(slot.Status),
			Name:      orUnknown(slot.Name),
		}
		if st.Completed {
			st.Progress = 1
		}
		return st
	}

	c.logger.Warn().Str("nzo_id", id).Msg("SABnzbd job not found in queue or history")
	return nil
}

// flag decodes SABnzbd config switches, which arrive as 0/1, "0"/"1" or bools
// depending on the version.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true", "True":
		*f = true
	default:
		*f = false
	}
	return nil
}

type miscConfig struct {
	Config struct {
		Misc struct {
			ReplaceSpaces flag `json:"replace_spaces"`
			ReplaceDots   flag `json:"replace_dots"`
		} `json:"misc"`
	} `json:"config"`
}

// renaming reads the replace_spaces and replace_dots switches.
func (c *Client) renaming(ctx context.Context) (spaces, dots bool, err error) {
	var cfg miscConfig
	err = c.http.GetJSON(ctx, &httpclient.Request{
		URL:    c.endpoint(),
		Params: c.auth(url.Values{"mode": {"get_config"}, "section": {"misc"}}),
	}, &cfg)
	if err != nil {
		return false, false, err
	}
	return bool(cfg.Config.Misc.ReplaceSpaces), bool(cfg.Config.Misc.ReplaceDots), nil
}

// FolderName predicts the directory SABnzbd will create for a job name.
func (c *Client) FolderName(ctx context.Context, name string) string {
	folder := SanitizeFolderName(name)
	spaces, dots, err := c.renaming(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Unable to read SABnzbd config, cannot determine renaming options")
		return folder
	}
	if dots {
		folder = strings.ReplaceAll(folder, ".", " ")
	}
	if spaces {
		folder = strings.ReplaceAll(folder, " ", "_")
	}
	return folder
}

var illegalFolderChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizeFolderName applies SABnzbd's folder rules: characters that are
// illegal on common filesystems are removed, as are trailing dots and
// spaces.
func SanitizeFolderName(name string) string {
	name = illegalFolderChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "unknown"
	}
	return name
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
