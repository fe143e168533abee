// Package rutracker scrapes the rutracker.org forum tracker. Search pages and
// torrent downloads both need the login cookie.
package rutracker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

const (
	ProviderName = "rutracker.org"
	DefaultURL   = "https://rutracker.org"

	sessionCookie = "bb_session"
	lock          = "rutracker"
)

// Config configures the adapter.
type Config struct {
	URL            string
	Username       string
	Password       string
	MinimumSeeders int
}

// Provider searches rutracker.
type Provider struct {
	cfg      Config
	http     *httpclient.Client
	sessions *indexer.SessionCache
	logger   zerolog.Logger
}

func New(cfg Config, http *httpclient.Client, sessions *indexer.SessionCache, logger zerolog.Logger) *Provider {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Provider{
		cfg:      cfg,
		http:     http,
		sessions: sessions,
		logger:   logger.With().Str("component", "rutracker").Logger(),
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Category() indexer.Category { return indexer.CategoryTorrent }

type session struct {
	client *httpclient.Client
	base   *url.URL
}

// Valid holds while the jar still carries the forum session cookie.
func (s *session) Valid() bool {
	for _, c := range s.client.Jar().Cookies(s.base) {
		if c.Name == sessionCookie && c.Value != "" {
			return true
		}
	}
	return false
}

func (p *Provider) session(ctx context.Context) (*session, error) {
	s, err := p.sessions.Get(ctx, ProviderName, p.login)
	if err != nil {
		return nil, err
	}
	return s.(*session), nil
}

func (p *Provider) login(ctx context.Context) (indexer.Session, error) {
	if p.cfg.Username == "" || p.cfg.Password == "" {
		return nil, indexer.NewConfigError(ProviderName, "username and password are required")
	}
	base, err := url.Parse(p.cfg.URL + "/forum/")
	if err != nil {
		return nil, indexer.NewConfigError(ProviderName, "invalid url")
	}

	// The login button label is part of the form and must be cp1251.
	submit, _ := charmap.Windows1251.NewEncoder().String("Вход")
	form := url.Values{
		"login_username": {p.cfg.Username},
		"login_password": {p.cfg.Password},
		"login":          {submit},
	}

	s := &session{client: p.http.WithJar(), base: base}
	if _, err := s.client.PostForm(ctx, base.String()+"login.php", form, lock); err != nil {
		return nil, indexer.Classify(ProviderName, err)
	}
	if !s.Valid() {
		return nil, indexer.NewAuthError(ProviderName, fmt.Errorf("no %s cookie after login", sessionCookie))
	}
	p.logger.Info().Msg("Logged in")
	return s, nil
}

// SearchTerm builds the tracker query: the release words followed by the
// format expression, which the tracker treats as alternatives.
func SearchTerm(q indexer.Query) string {
	var term string
	if q.Terms.UserTerm != "" {
		term = q.Terms.UserTerm
	} else {
		var parts []string
		if q.Request.Artist != release.VariousArtists {
			parts = append(parts, q.Terms.Artist)
		}
		parts = append(parts, q.Terms.Album, q.Terms.Year)
		term = strings.Join(parts, " ")
	}

	switch q.Format() {
	case indexer.FormatLossless:
		return term + " lossless"
	case indexer.FormatLosslessAndLossy:
		return term + " lossless||mp3||aac"
	default:
		return term + " mp3||aac"
	}
}

func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	if q.Terms.Year == "" && q.Terms.UserTerm == "" {
		p.logger.Info().Msg("Release date not specified, ignoring for rutracker.org")
		return nil
	}

	s, err := p.session(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Unable to log in")
		return nil
	}

	term := SearchTerm(q)
	p.logger.Info().Str("term", term).Msg("Searching")

	// o=7&s=2 sorts by size descending
	resp, err := s.client.Do(ctx, &httpclient.Request{
		URL:    s.base.String() + "tracker.php",
		Params: url.Values{"nm": {term}, "o": {"7"}, "s": {"2"}},
		Lock:   lock,
	})
	if err != nil {
		e := indexer.Classify(ProviderName, err)
		if indexer.IsAuthError(e) {
			p.sessions.Invalidate(ProviderName)
		}
		p.logger.Warn().Err(e).Msg("Search failed")
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decode(resp.Body, resp.Header.Get("Content-Type"))))
	if err != nil {
		p.logger.Warn().Err(err).Msg("Unable to parse search page")
		return nil
	}
	if doc.Find("#login-form-full, form#login-form").Length() > 0 {
		p.logger.Warn().Msg("Session expired")
		p.sessions.Invalidate(ProviderName)
		return nil
	}

	results := p.parse(doc, s.base, q.MaxSize())
	if len(results) == 0 {
		p.logger.Info().Str("term", term).Msg("No results found")
	}
	return results
}

func (p *Provider) parse(doc *goquery.Document, base *url.URL, maxSize int64) []release.Result {
	var results []release.Result
	doc.Find("#tor-tbl tbody tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a.tLink").First()
		title := strings.TrimSpace(link.Text())
		topicID, ok := link.Attr("data-topic_id")
		if !ok {
			topicID, ok = row.Attr("data-topic_id")
		}
		if title == "" || !ok {
			return
		}

		size, err := strconv.ParseInt(strings.TrimSpace(row.Find("td.tor-size").AttrOr("data-ts_text", "")), 10, 64)
		if err != nil {
			p.logger.Debug().Str("title", title).Msg("Skipping row without size")
			return
		}
		seeders, _ := strconv.Atoi(strings.TrimSpace(row.Find("b.seedmed").Text()))

		if size >= maxSize || seeders <= p.cfg.MinimumSeeders-1 {
			p.logger.Debug().Str("title", title).Int64("size", size).Int("seeders", seeders).Msg("Skipping, size or seeders")
			return
		}

		dl := base.ResolveReference(&url.URL{Path: "dl.php", RawQuery: "t=" + url.QueryEscape(topicID)})
		r := release.NewResult(title, size, dl.String(), ProviderName, release.KindTorrent)
		r.Seeders = seeders
		results = append(results, r)
	})
	return results
}

// FetchPayload downloads the .torrent for a result through the logged in
// session.
func (p *Provider) FetchPayload(ctx context.Context, r release.Result) ([]byte, error) {
	s, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, &httpclient.Request{
		URL:     r.URL,
		Headers: map[string]string{"Referer": s.base.String() + "tracker.php"},
		Lock:    lock,
	})
	if err != nil {
		return nil, indexer.NewDownloadError(ProviderName, err)
	}
	if !torrent.IsTorrent(data) {
		p.sessions.Invalidate(ProviderName)
		return nil, indexer.NewDownloadError(ProviderName, fmt.Errorf("response for %s is not a torrent", r.Title))
	}
	return data, nil
}

func decode(body []byte, contentType string) []byte {
	if !strings.Contains(strings.ToLower(contentType), "1251") {
		return body
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}
