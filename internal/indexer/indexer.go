// Package indexer defines the contract every search source implements and
// the pieces they share: music categories, classified errors and the
// authenticated session cache.
package indexer

import (
	"context"

	"github.com/slipstream/acquire/internal/release"
)

// Category groups providers into search tiers.
type Category string

const (
	CategoryUsenet    Category = "usenet"
	CategoryTorrent   Category = "torrent"
	CategoryPeerShare Category = "peer-share"
)

// Terms are the normalized search strings for one release in one dialect.
type Terms struct {
	// Query is the full search term sent to providers.
	Query string
	// Artist is the artist-only term used by verification.
	Artist string
	Album  string
	// SemiCleanArtist and SemiCleanAlbum keep native script for trackers
	// that index titles untransliterated.
	SemiCleanArtist string
	SemiCleanAlbum  string
	// UserTerm is set when the request carried an explicit search term.
	UserTerm string
	Year     string
}

// Query is what a provider receives for one search.
type Query struct {
	Terms   Terms
	Request release.Request
	// LosslessOnly forces lossless regardless of the configured mode.
	LosslessOnly bool
	// AllowLossless is true when target-bitrate mode may fall back to
	// lossless results.
	AllowLossless bool
}

// Format is the coarse format bucket a provider maps onto its own categories.
type Format int

const (
	FormatLossy Format = iota
	FormatLosslessAndLossy
	FormatLossless
)

// Format derives the requested format bucket.
func (q Query) Format() Format {
	switch {
	case q.Request.Quality == release.QualityLosslessOnly || q.LosslessOnly:
		return FormatLossless
	case q.Request.Quality == release.QualityHighestLossless || q.AllowLossless:
		return FormatLosslessAndLossy
	default:
		return FormatLossy
	}
}

// MaxSize is the byte ceiling torrent sources apply per format.
func (q Query) MaxSize() int64 {
	if q.Format() == FormatLossy {
		return 300_000_000
	}
	return 10_000_000_000
}

// IsAudiobook reports whether the request is for spoken word.
func (q Query) IsAudiobook() bool {
	return q.Request.Type == release.TypeOther
}

// Provider is a single search source. Search never fails: transport, parse
// and authentication problems are logged and produce an empty slice.
type Provider interface {
	Name() string
	Category() Category
	Search(ctx context.Context, q Query) []release.Result
}

// PayloadFetcher is implemented by providers whose result links only resolve
// inside their own authenticated session.
type PayloadFetcher interface {
	FetchPayload(ctx context.Context, r release.Result) ([]byte, error)
}
