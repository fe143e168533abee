package indexer

import "strings"

// Newznab audio categories
// https://newznab.readthedocs.io/en/latest/misc/api/#predefined-categories
const (
	CategoryAudio          = 3000
	CategoryAudioMP3       = 3010
	CategoryAudioVideo     = 3020
	CategoryAudioAudiobook = 3030
	CategoryAudioLossless  = 3040
	CategoryAudioOther     = 3050
)

// CategoryName returns a human-readable name for a category.
func CategoryName(id int) string {
	switch id {
	case CategoryAudio:
		return "Audio"
	case CategoryAudioMP3:
		return "Audio/MP3"
	case CategoryAudioVideo:
		return "Audio/Video"
	case CategoryAudioAudiobook:
		return "Audio/Audiobook"
	case CategoryAudioLossless:
		return "Audio/Lossless"
	case CategoryAudioOther:
		return "Audio/Other"
	default:
		return "Unknown"
	}
}

// NewznabCategories is the cat parameter for a usenet newznab search.
func NewznabCategories(q Query) string {
	if q.IsAudiobook() {
		return "3030"
	}
	switch q.Format() {
	case FormatLossless:
		return "3040"
	case FormatLosslessAndLossy:
		return "3040,3010"
	default:
		return "3010"
	}
}

// TorznabCategories is the client-side allow list for torznab items. The
// parent audio category is always accepted.
func TorznabCategories(q Query) []string {
	var cats string
	switch {
	case q.IsAudiobook():
		cats = "3030"
	case q.Format() == FormatLossless:
		cats = "3040"
	case q.Format() == FormatLosslessAndLossy:
		cats = "3040,3010,3050"
	default:
		cats = "3010,3050"
	}
	return append(strings.Split(cats, ","), "3000")
}
