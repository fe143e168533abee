// Package newznab searches usenet indexers speaking the newznab API.
package newznab

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/indexer/feed"
	"github.com/slipstream/acquire/internal/release"
)

// Config describes one newznab host.
type Config struct {
	Host   string
	APIKey string
	// Retention is the maxage parameter in days.
	Retention int
}

// Provider queries a single newznab host.
type Provider struct {
	cfg    Config
	http   *httpclient.Client
	logger zerolog.Logger
}

// New creates a newznab provider.
func New(cfg Config, http *httpclient.Client, logger zerolog.Logger) *Provider {
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	return &Provider{
		cfg:    cfg,
		http:   http,
		logger: logger.With().Str("component", "newznab").Str("host", cfg.Host).Logger(),
	}
}

// Name is the host URL; it doubles as the provider identity on results.
func (p *Provider) Name() string { return p.cfg.Host }

func (p *Provider) Category() indexer.Category { return indexer.CategoryUsenet }

func (p *Provider) endpoint() string {
	if strings.HasSuffix(p.cfg.Host, "/api") {
		return p.cfg.Host
	}
	return p.cfg.Host + "/api"
}

// Search runs t=search for the query term.
func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	term := q.Terms.Query
	params := url.Values{
		"t":      {"search"},
		"apikey": {p.cfg.APIKey},
		"cat":    {indexer.NewznabCategories(q)},
		"q":      {term},
	}
	if p.cfg.Retention > 0 {
		params.Set("maxage", strconv.Itoa(p.cfg.Retention))
	}

	p.logger.Info().Str("term", term).Msg("Searching newznab")

	body, err := p.http.Get(ctx, &httpclient.Request{
		URL:    p.endpoint(),
		Params: params,
		Lock:   p.cfg.Host,
	})
	if err != nil {
		e := indexer.Classify(p.cfg.Host, err)
		p.logger.Warn().Err(e).Str("code", e.Code).Msg("Newznab search failed")
		return nil
	}

	items, err := feed.Parse(body)
	if err != nil {
		var apiErr *feed.APIError
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			p.logger.Warn().Err(indexer.NewAuthError(p.cfg.Host, err)).Msg("Newznab rejected credentials")
			return nil
		}
		p.logger.Warn().Err(indexer.NewParseError(p.cfg.Host, "unreadable feed", err)).Msg("Newznab search failed")
		return nil
	}
	if len(items) == 0 {
		p.logger.Info().Str("term", term).Msg("No results found")
		return nil
	}

	results := make([]release.Result, 0, len(items))
	for _, item := range items {
		if !feed.ContainsAllWords(item.Title, term) {
			p.logger.Debug().Str("title", item.Title).Msg("Skipping, not all search term words found")
			continue
		}
		p.logger.Info().Str("title", item.Title).Float64("sizeMB", release.MegaBytes(item.Size)).Msg("Found")
		results = append(results, release.NewResult(item.Title, item.Size, item.Link, p.cfg.Host, release.KindUsenet))
	}
	return results
}
