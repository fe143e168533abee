// Package torznab searches torrent indexers and aggregators (Jackett,
// Prowlarr) speaking the torznab API.
package torznab

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/indexer/feed"
	"github.com/slipstream/acquire/internal/release"
)

// Config describes one torznab endpoint.
type Config struct {
	Host           string
	APIKey         string
	MinimumSeeders int
}

// Provider queries a single torznab endpoint.
type Provider struct {
	cfg    Config
	name   string
	http   *httpclient.Client
	logger zerolog.Logger
}

// New creates a torznab provider.
func New(cfg Config, http *httpclient.Client, logger zerolog.Logger) *Provider {
	name := cfg.Host
	if indexerName, ok := JackettIndexer(cfg.Host); ok {
		name = release.TorznabProvider(indexerName, cfg.Host)
	}
	return &Provider{
		cfg:    cfg,
		name:   name,
		http:   http,
		logger: logger.With().Str("component", "torznab").Str("provider", release.ProviderDisplayName(name)).Logger(),
	}
}

// JackettIndexer extracts the indexer name from a Jackett per-indexer URL
// such as http://host/api/v2.0/indexers/<name>/results/torznab.
func JackettIndexer(host string) (string, bool) {
	_, rest, ok := strings.Cut(host, "api/v2.0/indexers/")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	return name, name != ""
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Category() indexer.Category { return indexer.CategoryTorrent }

// Search queries the parent audio category and filters categories locally,
// since many indexers ignore or mis-handle subcategory lists.
func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	term := q.Terms.Query
	allowed := indexer.TorznabCategories(q)
	maxSize := q.MaxSize()
	minSeeders := p.cfg.MinimumSeeders - 1

	p.logger.Info().Str("term", term).Msg("Searching torznab")

	body, err := p.http.Get(ctx, &httpclient.Request{
		URL: p.cfg.Host,
		Params: url.Values{
			"t":      {"search"},
			"apikey": {p.cfg.APIKey},
			"cat":    {"3000"},
			"q":      {term},
		},
		Lock: p.cfg.Host,
	})
	if err != nil {
		e := indexer.Classify(p.name, err)
		p.logger.Warn().Err(e).Str("code", e.Code).Msg("Torznab search failed")
		return nil
	}

	items, err := feed.Parse(body)
	if err != nil {
		p.logger.Warn().Err(indexer.NewParseError(p.name, "unreadable feed", err)).Msg("Torznab search failed")
		return nil
	}
	if len(items) == 0 {
		p.logger.Info().Str("term", term).Msg("No results found")
		return nil
	}

	var results []release.Result
	for _, item := range items {
		if !categoryAllowed(item.Category, allowed) {
			p.logger.Debug().Str("title", item.Title).Strs("category", item.Category).Msg("Skipping, incorrect category")
			continue
		}
		if !feed.ContainsAllWords(item.Title, term) {
			p.logger.Debug().Str("title", item.Title).Msg("Skipping, not all search term words found")
			continue
		}
		if item.Size >= maxSize || item.Seeders <= minSeeders {
			p.logger.Info().
				Str("title", item.Title).
				Float64("sizeMB", release.MegaBytes(item.Size)).
				Int("seeders", item.Seeders).
				Msg("Larger than the maximum size or too few seeders, skipping")
			continue
		}

		provider := p.name
		if item.Indexer != "" {
			provider = release.TorznabProvider(item.Indexer, p.cfg.Host)
		}
		p.logger.Info().Str("title", item.Title).Float64("sizeMB", release.MegaBytes(item.Size)).Msg("Found")

		r := release.NewResult(item.Title, item.Size, item.Link, provider, release.KindTorrent)
		r.Seeders = item.Seeders
		results = append(results, r)
	}
	return results
}

func categoryAllowed(itemCats, allowed []string) bool {
	if len(itemCats) == 0 {
		return false
	}
	for _, c := range itemCats {
		if slices.Contains(allowed, c) {
			return true
		}
	}
	return false
}
