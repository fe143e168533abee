// Package soulseek searches the Soulseek network through slskd and folds
// peer responses into one result per shared album directory.
package soulseek

import (
	"context"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/slskd"
)

const ProviderName = "soulseek"

// Searcher is the part of the slskd client the provider needs.
type Searcher interface {
	Search(ctx context.Context, text string) ([]slskd.Response, error)
}

// Provider is the peer-share search source.
type Provider struct {
	client Searcher
	// ignoreTrackCount accepts any directory with more than one file on the
	// first pass instead of requiring the exact track count.
	ignoreTrackCount bool
	logger           zerolog.Logger
}

func New(client Searcher, ignoreTrackCount bool, logger zerolog.Logger) *Provider {
	return &Provider{
		client:           client,
		ignoreTrackCount: ignoreTrackCount,
		logger:           logger.With().Str("component", "soulseek").Logger(),
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Category() indexer.Category { return indexer.CategoryPeerShare }

// Search runs up to three searches: with the year, without it, and a final
// one accepting any directory holding more than one matching file.
func (p *Provider) Search(ctx context.Context, q indexer.Query) []release.Result {
	artist, album, year := q.Terms.Artist, q.Terms.Album, q.Terms.Year
	if q.Terms.UserTerm != "" {
		artist, album, year = q.Terms.UserTerm, "", ""
	}
	format := q.Format()
	tracks := q.Request.TrackCount

	run := func(year string, relaxed bool) ([]release.Result, bool) {
		text := SearchText(artist, album, year, format)
		p.logger.Info().Str("term", text).Msg("Searching Soulseek")
		responses, err := p.client.Search(ctx, text)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Search failed")
			return nil, false
		}
		return Collect(responses, format, tracks, relaxed || p.ignoreTrackCount), true
	}

	results, ok := run(year, false)
	if !ok || len(results) > 0 || q.Terms.UserTerm != "" || strings.EqualFold(album, artist) {
		return results
	}

	p.logger.Info().Msg("Soulseek search stage 1 did not meet criteria. Retrying without year...")
	results, ok = run("", false)
	if !ok || len(results) > 0 || q.Request.Artist == release.VariousArtists {
		return results
	}

	p.logger.Info().Msg("Soulseek search stage 2 did not meet criteria. Final attempt with only artist and album.")
	results, _ = run("", true)
	return results
}

// SearchText joins the search words and appends the format hint.
func SearchText(artist, album, year string, format indexer.Format) string {
	text := artist + " " + album
	if year != "" {
		text += " " + year
	}
	switch format {
	case indexer.FormatLossless:
		text += " flac"
	case indexer.FormatLossy:
		text += " mp3"
	}
	return text
}

func extensions(format indexer.Format) map[string]bool {
	switch format {
	case indexer.FormatLossless:
		return map[string]bool{".flac": true}
	case indexer.FormatLosslessAndLossy:
		return map[string]bool{".mp3": true, ".flac": true}
	default:
		return map[string]bool{".mp3": true}
	}
}

type folder struct {
	response slskd.Response
	dir      string
	files    []slskd.File
}

// Collect groups audio files by the remote directory of each peer and keeps
// directories whose file count equals tracks, or any directory with more
// than one file when relaxed.
func Collect(responses []slskd.Response, format indexer.Format, tracks int, relaxed bool) []release.Result {
	valid := extensions(format)

	var order []string
	folders := make(map[string]*folder)
	for _, resp := range responses {
		for _, f := range resp.Files {
			if !valid[strings.ToLower(path.Ext(f.Filename))] {
				continue
			}
			i := strings.LastIndex(f.Filename, `\`)
			if i < 0 {
				continue
			}
			dir := f.Filename[:i]
			key := resp.Username + "\x00" + dir
			fl, ok := folders[key]
			if !ok {
				fl = &folder{response: resp, dir: dir}
				folders[key] = fl
				order = append(order, key)
			}
			fl.files = append(fl.files, f)
		}
	}

	var results []release.Result
	for _, key := range order {
		fl := folders[key]
		n := len(fl.files)
		if !(relaxed && n > 1) && n != tracks {
			continue
		}
		results = append(results, fl.result())
	}
	return results
}

func (f *folder) result() release.Result {
	title := f.dir[strings.LastIndex(f.dir, `\`)+1:]

	var size int64
	files := make([]release.PeerFile, 0, len(f.files))
	for _, file := range f.files {
		size += file.Size
		files = append(files, release.PeerFile{
			Filename:  file.Filename,
			Size:      file.Size,
			BitRate:   file.BitRate,
			Length:    file.Length,
			Extension: file.Extension,
		})
	}

	r := release.NewResult(title, size, "http://"+f.response.Username+title, ProviderName, release.KindPeerShare)
	r.Username = f.response.Username
	r.Folder = title
	r.Files = files
	r.UploadSpeed = f.response.UploadSpeed
	r.HasFreeUploadSlot = f.response.HasFreeUploadSlot
	r.QueueLength = f.response.QueueLength
	return r
}
