// Package omgwtfnzbs searches the omgwtfnzbs JSON API.
package omgwtfnzbs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
)

const (
	DefaultURL   = "https://api.omgwtfnzbs.me/json/"
	ProviderName = "omgwtfnzbs"
)

// Config holds the API credentials.
type Config struct {
	URL       string
	User      string
	APIKey    string
	Retention int
}

// Provider is the omgwtfnzbs adapter.
type Provider struct {
	cfg    Config
	http   *httpclient.Client
	logger zerolog.Logger
}

// New creates the adapter.
func New(cfg Config, http *httpclient.Client, logger zerolog.Logger) *Provider {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Provider{
		cfg:    cfg,
		http:   http,
		logger: logger.With().Str("component", ProviderName).Logger(),
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Category() indexer.Category { return indexer.CategoryUsenet }

type item struct {
	Release   string      `json:"release"`
	SizeBytes json.Number `json:"sizebytes"`
	GetNZB    string      `json:"getnzb"`
}

type notice struct {
	Notice string `json:"notice"`
}

// categories maps the format bucket onto omgwtfnzbs category ids.
func categories(q indexer.Query) string {
	if q.IsAudiobook() {
		return "29"
	}
	switch q.Format() {
	case indexer.FormatLossless:
		return "22"
	case indexer.FormatLosslessAndLossy:
		return "22,7"
	default:
		return "7"
	}
}

func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	term := q.Terms.Query
	p.logger.Info().Str("term", term).Msg("Searching omgwtfnzbs")

	body, err := p.http.Get(ctx, &httpclient.Request{
		URL: p.cfg.URL,
		Params: url.Values{
			"user":      {p.cfg.User},
			"api":       {p.cfg.APIKey},
			"catid":     {categories(q)},
			"retention": {strconv.Itoa(p.cfg.Retention)},
			"search":    {term},
		},
		Lock: ProviderName,
	})
	if err != nil {
		e := indexer.Classify(ProviderName, err)
		p.logger.Warn().Err(e).Str("code", e.Code).Msg("Search failed")
		return nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var n notice
		if err := json.Unmarshal(trimmed, &n); err == nil && n.Notice != "" {
			p.logger.Info().Str("notice", n.Notice).Msg("No results returned")
			return nil
		}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		p.logger.Warn().Err(indexer.NewParseError(ProviderName, "unexpected response", err)).Msg("Search failed")
		return nil
	}

	results := make([]release.Result, 0, len(raw))
	for _, r := range raw {
		var it item
		if err := json.Unmarshal(r, &it); err != nil {
			p.logger.Debug().Err(err).Msg("Skipping unreadable item")
			continue
		}
		size, err := it.SizeBytes.Int64()
		if err != nil || it.Release == "" || it.GetNZB == "" {
			p.logger.Debug().Str("release", it.Release).Msg("Skipping incomplete item")
			continue
		}
		p.logger.Info().Str("title", it.Release).Float64("sizeMB", release.MegaBytes(size)).Msg("Found")
		results = append(results, release.NewResult(it.Release, size, it.GetNZB, ProviderName, release.KindUsenet))
	}
	return results
}
