// Package piratebay searches The Pirate Bay through apibay or an HTML proxy.
package piratebay

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

const (
	ProviderName = "The Pirate Bay"
	APIBayURL    = "http://apibay.org/q.php"

	browserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	noResults    = "No results returned"
)

// Config selects apibay (empty ProxyURL) or an HTML mirror.
type Config struct {
	ProxyURL       string
	APIBayURL      string
	MinimumSeeders int
}

// Provider is the pirate bay adapter.
type Provider struct {
	cfg    Config
	http   *httpclient.Client
	logger zerolog.Logger
}

// New creates the adapter.
func New(cfg Config, http *httpclient.Client, logger zerolog.Logger) *Provider {
	if cfg.APIBayURL == "" {
		cfg.APIBayURL = APIBayURL
	}
	if strings.Contains(cfg.ProxyURL, "apibay.org") {
		cfg.ProxyURL = ""
	}
	if cfg.ProxyURL != "" {
		cfg.ProxyURL = normalizeProxy(cfg.ProxyURL)
	}
	return &Provider{
		cfg:    cfg,
		http:   http,
		logger: logger.With().Str("component", "piratebay").Logger(),
	}
}

func normalizeProxy(u string) string {
	if !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Category() indexer.Category { return indexer.CategoryTorrent }

// category is 104 for FLAC, 100 for all audio and 101 for MP3.
func category(q indexer.Query) string {
	switch q.Format() {
	case indexer.FormatLossless:
		return "104"
	case indexer.FormatLosslessAndLossy:
		return "100"
	default:
		return "101"
	}
}

type candidate struct {
	title   string
	size    int64
	seeders int
	link    string
}

func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	term := q.Terms.Query
	cat := category(q)
	p.logger.Info().Str("term", term).Bool("proxy", p.cfg.ProxyURL != "").Msg("Searching The Pirate Bay")

	var (
		candidates []candidate
		err        error
	)
	if p.cfg.ProxyURL != "" {
		candidates, err = p.searchProxy(ctx, term, cat)
	} else {
		candidates, err = p.searchAPIBay(ctx, term, cat)
	}
	if err != nil {
		e := indexer.Classify(ProviderName, err)
		p.logger.Warn().Err(e).Str("code", e.Code).Msg("Search failed")
		return nil
	}

	maxSize := q.MaxSize()
	minSeeders := p.cfg.MinimumSeeders - 1

	var results []release.Result
	for _, c := range candidates {
		if c.size >= maxSize || c.seeders <= minSeeders || c.link == "" {
			p.logger.Info().
				Str("title", c.title).
				Float64("sizeMB", release.MegaBytes(c.size)).
				Int("seeders", c.seeders).
				Msg("Larger than the maximum size or too few seeders, skipping")
			continue
		}
		p.logger.Info().Str("title", c.title).Float64("sizeMB", release.MegaBytes(c.size)).Msg("Found")
		r := release.NewResult(c.title, c.size, c.link, ProviderName, release.KindTorrent)
		r.Seeders = c.seeders
		results = append(results, r)
	}
	if len(results) == 0 {
		p.logger.Info().Str("term", term).Msg("No valid results found")
	}
	return results
}

type apibayItem struct {
	Name     string `json:"name"`
	Size     string `json:"size"`
	Seeders  string `json:"seeders"`
	InfoHash string `json:"info_hash"`
}

func (p *Provider) searchAPIBay(ctx context.Context, term, cat string) ([]candidate, error) {
	var items []apibayItem
	err := p.http.GetJSON(ctx, &httpclient.Request{
		URL:     p.cfg.APIBayURL,
		Params:  url.Values{"q": {term}, "cat": {cat}},
		Headers: map[string]string{"User-Agent": browserAgent},
		Lock:    "piratebay",
	}, &items)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(items))
	for _, it := range items {
		if it.Name == noResults {
			return nil, nil
		}
		size, err := strconv.ParseInt(it.Size, 10, 64)
		if err != nil {
			p.logger.Debug().Str("title", it.Name).Msg("Skipping item with unreadable size")
			continue
		}
		seeders, _ := strconv.Atoi(it.Seeders)
		out = append(out, candidate{
			title:   it.Name,
			size:    size,
			seeders: seeders,
			link:    torrent.BuildMagnet(it.InfoHash, it.Name),
		})
	}
	return out, nil
}

func proxyTerm(term string) string {
	term = strings.ReplaceAll(term, "!", "")
	term = strings.ReplaceAll(term, "'", " ")
	return url.PathEscape(term)
}

func (p *Provider) searchProxy(ctx context.Context, term, cat string) ([]candidate, error) {
	// 7 sorts by seeders
	target := fmt.Sprintf("%s/search/%s/0/7/%s", p.cfg.ProxyURL, proxyTerm(term), cat)
	doc, err := p.http.GetDocument(ctx, &httpclient.Request{
		URL:     target,
		Headers: map[string]string{"User-Agent": browserAgent},
		Lock:    "piratebay",
	})
	if err != nil {
		return nil, err
	}

	rows := doc.Find("table tbody tr")
	if rows.Length() <= 1 {
		rows = doc.Find("table tr")
	}

	var out []candidate
	rows.Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		c, err := parseRow(row)
		if err != nil {
			p.logger.Debug().Err(err).Msg("Skipping unreadable row")
			return
		}
		out = append(out, c)
	})
	return out, nil
}

func parseRow(row *goquery.Selection) (candidate, error) {
	cols := row.Find("td")
	if cols.Length() < 6 {
		return candidate{}, fmt.Errorf("expected 6 columns, got %d", cols.Length())
	}

	title := strings.TrimSpace(cols.Eq(1).Text())
	if idx := strings.Index(title, "\n"); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}

	link, ok := cols.Eq(3).Find(`a[href^="magnet"]`).First().Attr("href")
	if !ok {
		return candidate{}, fmt.Errorf("no magnet link for %q", title)
	}

	size, err := ParseSize(cols.Eq(4).Text())
	if err != nil {
		return candidate{}, err
	}

	seeders, err := strconv.Atoi(strings.TrimSpace(cols.Eq(5).Text()))
	if err != nil {
		return candidate{}, fmt.Errorf("seeders for %q: %w", title, err)
	}

	return candidate{title: title, size: size, seeders: seeders, link: link}, nil
}

var sizePattern = regexp.MustCompile(`(?i)([\d.]+)\s*([KMGT]i?B|B)`)

// ParseSize reads sizes such as "1.2 GiB" or "300 MB" as printed by the
// pirate bay listings.
func ParseSize(s string) (int64, error) {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognised size %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognised size %q: %w", s, err)
	}
	mult := map[byte]float64{'B': 1, 'K': 1 << 10, 'M': 1 << 20, 'G': 1 << 30, 'T': 1 << 40}
	return int64(n * mult[strings.ToUpper(m[2])[0]]), nil
}
