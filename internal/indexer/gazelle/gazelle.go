// Package gazelle searches Gazelle based private trackers (Orpheus,
// Redacted) through their ajax.php JSON API.
package gazelle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
)

const (
	OrpheusName = "Orpheus.network"
	OrpheusURL  = "https://orpheus.network/"

	RedactedName = "Redacted"
	RedactedURL  = "https://redacted.sh"
)

// Formats understood by the browse endpoint.
const (
	FormatFLAC = "FLAC"
	FormatMP3  = "MP3"
)

// Encodings lists the encoding filter values in the order trackers show them.
var Encodings = []string{
	"192", "APS (VBR)", "V2 (VBR)", "V1 (VBR)", "256", "APX (VBR)",
	"V0 (VBR)", "q8.x (VBR)", "320", "Lossless", "24bit Lossless", "Other",
}

// Release type ids.
const (
	TypeAlbum       = 1
	TypeSoundtrack  = 3
	TypeEP          = 5
	TypeAnthology   = 6
	TypeCompilation = 7
	TypeSingle      = 9
	TypeLiveAlbum   = 11
	TypeRemix       = 13
	TypeBootleg     = 14
	TypeInterview   = 15
	TypeMixtape     = 16
	TypeDJMix       = 19
	TypeUnknown     = 21
)

var releaseTypes = map[release.Type]int{
	release.TypeAlbum:       TypeAlbum,
	release.TypeSoundtrack:  TypeSoundtrack,
	release.TypeEP:          TypeEP,
	release.TypeCompilation: TypeCompilation,
	release.TypeDJMix:       TypeDJMix,
	release.TypeSingle:      TypeSingle,
	release.TypeLive:        TypeLiveAlbum,
	release.TypeRemix:       TypeRemix,
	release.TypeBootleg:     TypeBootleg,
	release.TypeInterview:   TypeInterview,
	release.TypeMixtape:     TypeMixtape,
	release.TypeOther:       TypeUnknown,
}

// ReleaseType maps a catalogue type onto the tracker's release type id.
func ReleaseType(t release.Type) int {
	if id, ok := releaseTypes[t]; ok {
		return id
	}
	return TypeUnknown
}

// Config configures one tracker.
type Config struct {
	Name     string
	URL      string
	Username string
	Password string
	// APIKey replaces username/password where the tracker supports it.
	APIKey string
	// UseFLToken asks for freeleech tokens on download links.
	UseFLToken     bool
	MinimumSeeders int
	// TargetBitrate is the configured kbps used in target-bitrate mode.
	TargetBitrate int
	// Lock names the throttle shared by every request to this tracker.
	Lock string
}

// Provider is a gazelle tracker adapter.
type Provider struct {
	cfg      Config
	http     *httpclient.Client
	sessions *indexer.SessionCache
	logger   zerolog.Logger
}

// New creates the adapter. Sessions are shared through the cache.
func New(cfg Config, http *httpclient.Client, sessions *indexer.SessionCache, logger zerolog.Logger) *Provider {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Lock == "" {
		cfg.Lock = strings.ToLower(strings.SplitN(cfg.Name, ".", 2)[0])
	}
	return &Provider{
		cfg:      cfg,
		http:     http,
		sessions: sessions,
		logger:   logger.With().Str("component", "gazelle").Str("provider", cfg.Name).Logger(),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Category() indexer.Category { return indexer.CategoryTorrent }

// plan is the format list, encoding filter and size ceiling for a query.
type plan struct {
	formats  []string // "" means any format
	encoding string
	maxSize  int64
}

func (p *Provider) plan(q indexer.Query) plan {
	switch {
	case q.Request.Quality == release.QualityLosslessOnly || q.LosslessOnly:
		return plan{formats: []string{FormatFLAC}, maxSize: 10_000_000_000}
	case q.Request.Quality == release.QualityTargetBitrate:
		enc := EncodingFor(p.cfg.TargetBitrate)
		if p.cfg.TargetBitrate > 0 && enc == "" {
			p.logger.Info().Int("bitrate", p.cfg.TargetBitrate).Msg("Preferred bitrate is not an available filter, not using it")
		}
		return plan{formats: []string{""}, encoding: enc, maxSize: 10_000_000_000}
	case q.Request.Quality == release.QualityHighestLossless || q.AllowLossless:
		return plan{formats: []string{FormatFLAC, FormatMP3}, maxSize: 10_000_000_000}
	default:
		return plan{formats: []string{FormatMP3}, maxSize: 300_000_000}
	}
}

// EncodingFor maps a kbps value onto an encoding filter. VBR presets cover
// 175 to 255 kbps; other values must match an encoding literally.
func EncodingFor(bitrate int) string {
	if bitrate <= 0 {
		return ""
	}
	needle := strconv.Itoa(bitrate)
	switch {
	case bitrate >= 225 && bitrate < 256:
		needle = "V0"
	case bitrate >= 200 && bitrate < 225:
		needle = "V1"
	case bitrate >= 175 && bitrate < 200:
		needle = "V2"
	}
	pattern := regexp.MustCompile("(?i)" + regexp.QuoteMeta(needle))
	match := ""
	for _, enc := range Encodings {
		if pattern.MatchString(enc) {
			match = enc
		}
	}
	return match
}

type envelope struct {
	Status   string          `json:"status"`
	Error    string          `json:"error"`
	Response json.RawMessage `json:"response"`
}

type browseResponse struct {
	Results []group `json:"results"`
}

type group struct {
	GroupID   int64          `json:"groupId"`
	GroupName string         `json:"groupName"`
	Artist    string         `json:"artist"`
	GroupYear int            `json:"groupYear"`
	Torrents  []groupTorrent `json:"torrents"`
}

type groupTorrent struct {
	TorrentID   int64  `json:"torrentId"`
	Format      string `json:"format"`
	Encoding    string `json:"encoding"`
	Size        int64  `json:"size"`
	Seeders     int    `json:"seeders"`
	CanUseToken bool   `json:"canUseToken"`
}

type torrentGroupResponse struct {
	Torrents []struct {
		ID       int64  `json:"id"`
		FilePath string `json:"filePath"`
	} `json:"torrents"`
}

type match struct {
	group   group
	torrent groupTorrent
}

func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	s, err := p.session(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Credentials incorrect or site is down")
		return nil
	}

	pl := p.plan(q)
	minSeeders := p.cfg.MinimumSeeders - 1
	releaseType := strconv.Itoa(ReleaseType(q.Request.Type))

	p.logger.Info().Str("term", q.Terms.Query).Msg("Searching")

	var all []match
	for _, format := range pl.formats {
		params := url.Values{"action": {"browse"}, "releasetype": {releaseType}}
		if q.Terms.UserTerm != "" {
			params.Set("searchstr", q.Terms.UserTerm)
		} else {
			params.Set("artistname", q.Terms.SemiCleanArtist)
			params.Set("groupname", q.Terms.SemiCleanAlbum)
		}
		if format != "" {
			params.Set("format", format)
		}
		if pl.encoding != "" {
			params.Set("encoding", pl.encoding)
		}

		var resp browseResponse
		if err := p.call(ctx, s, params, &resp); err != nil {
			p.handleError(err)
			return nil
		}
		for _, g := range resp.Results {
			for _, t := range g.Torrents {
				all = append(all, match{group: g, torrent: t})
			}
		}
	}

	matches := all[:0]
	for _, m := range all {
		if m.torrent.Size <= pl.maxSize && m.torrent.Seeders >= minSeeders {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		p.logger.Info().Str("term", q.Terms.Query).Msg("No results found after filtering")
		return nil
	}

	if pl.formats[0] != "" {
		order := func(format string) int {
			for i, f := range pl.formats {
				if f == format {
					return i
				}
			}
			return len(pl.formats)
		}
		sort.SliceStable(matches, func(i, j int) bool {
			oi, oj := order(matches[i].torrent.Format), order(matches[j].torrent.Format)
			if oi != oj {
				return oi < oj
			}
			return matches[i].torrent.Seeders > matches[j].torrent.Seeders
		})
	} else {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].torrent.Seeders > matches[j].torrent.Seeders
		})
	}

	paths := make(map[int64]string)
	fetched := make(map[int64]bool)
	results := make([]release.Result, 0, len(matches))
	for _, m := range matches {
		if !fetched[m.group.GroupID] {
			fetched[m.group.GroupID] = true
			p.loadFilePaths(ctx, s, m.group.GroupID, paths)
		}
		title := paths[m.torrent.TorrentID]
		if title == "" {
			title = fallbackTitle(m)
		}
		link := p.downloadLink(s, m.torrent.TorrentID, p.cfg.UseFLToken && m.torrent.CanUseToken)

		r := release.NewResult(title, m.torrent.Size, link, p.cfg.Name, release.KindTorrent)
		r.Seeders = m.torrent.Seeders
		results = append(results, r)
	}
	return results
}

func fallbackTitle(m match) string {
	title := fmt.Sprintf("%s - %s", m.group.Artist, m.group.GroupName)
	if m.group.GroupYear > 0 {
		title += fmt.Sprintf(" (%d)", m.group.GroupYear)
	}
	return fmt.Sprintf("%s [%s %s]", title, m.torrent.Format, m.torrent.Encoding)
}

func (p *Provider) loadFilePaths(ctx context.Context, s *session, groupID int64, into map[int64]string) {
	var resp torrentGroupResponse
	params := url.Values{"action": {"torrentgroup"}, "id": {strconv.FormatInt(groupID, 10)}}
	if err := p.call(ctx, s, params, &resp); err != nil {
		p.logger.Debug().Err(err).Int64("groupId", groupID).Msg("Unable to load torrent group")
		return
	}
	for _, t := range resp.Torrents {
		into[t.ID] = t.FilePath
	}
}

func (p *Provider) downloadLink(s *session, torrentID int64, useToken bool) string {
	link := fmt.Sprintf("%s/torrents.php?action=download&id=%d&authkey=%s&torrent_pass=%s",
		p.cfg.URL, torrentID, s.authKey, s.passKey)
	if useToken {
		link += "&usetoken=1"
	}
	return link
}

func (p *Provider) handleError(err error) {
	e := indexer.Classify(p.cfg.Name, err)
	if indexer.IsAuthError(e) {
		p.sessions.Invalidate(p.cfg.Name)
	}
	p.logger.Warn().Err(e).Str("code", e.Code).Msg("Search failed")
}

// call issues an ajax.php request and decodes the response payload.
func (p *Provider) call(ctx context.Context, s *session, params url.Values, v any) error {
	req := &httpclient.Request{
		URL:    p.cfg.URL + "/ajax.php",
		Params: params,
		Lock:   p.cfg.Lock,
	}
	if p.cfg.APIKey != "" {
		req.Headers = map[string]string{"Authorization": p.cfg.APIKey}
	}

	var env envelope
	if err := s.client.GetJSON(ctx, req, &env); err != nil {
		return err
	}
	if env.Status != "success" {
		if strings.Contains(strings.ToLower(env.Error), "credentials") || strings.Contains(strings.ToLower(env.Error), "not logged") {
			return indexer.NewAuthError(p.cfg.Name, fmt.Errorf("%s", env.Error))
		}
		return &indexer.Error{Code: indexer.ErrCodeSearch, Message: env.Error, Provider: p.cfg.Name}
	}
	if err := json.Unmarshal(env.Response, v); err != nil {
		return indexer.NewParseError(p.cfg.Name, "unexpected response", err)
	}
	return nil
}
