// Package release defines the value types shared by the search and dispatch pipeline.
package release

import (
	"strings"
	"time"
)

// Type is the catalogue release type.
type Type string

const (
	TypeAlbum       Type = "Album"
	TypeEP          Type = "EP"
	TypeSingle      Type = "Single"
	TypeCompilation Type = "Compilation"
	TypeSoundtrack  Type = "Soundtrack"
	TypeLive        Type = "Live"
	TypeRemix       Type = "Remix"
	TypeDJMix       Type = "DJ-mix"
	TypeMixtape     Type = "Mixtape/Street"
	TypeBootleg     Type = "Bootleg"
	TypeInterview   Type = "Interview"
	TypePartOf      Type = "part of"
	TypeOther       Type = "Other" // audiobooks and spoken word
)

// VariousArtists is the artist name catalogues use for multi-artist releases.
const VariousArtists = "Various Artists"

// QualityMode selects how results are sized and ranked.
type QualityMode int

const (
	QualityHighestLossy    QualityMode = 0
	QualityHighestLossless QualityMode = 1
	QualityTargetBitrate   QualityMode = 2
	QualityLosslessOnly    QualityMode = 3
)

func (m QualityMode) String() string {
	switch m {
	case QualityHighestLossy:
		return "highest"
	case QualityHighestLossless:
		return "highest-lossless"
	case QualityTargetBitrate:
		return "bitrate"
	case QualityLosslessOnly:
		return "lossless"
	default:
		return "unknown"
	}
}

// ParseQualityMode accepts either the numeric form or the String() form.
func ParseQualityMode(s string) (QualityMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "highest":
		return QualityHighestLossy, true
	case "1", "highest-lossless":
		return QualityHighestLossless, true
	case "2", "bitrate":
		return QualityTargetBitrate, true
	case "3", "lossless":
		return QualityLosslessOnly, true
	}
	return QualityHighestLossy, false
}

// Request describes the release being searched for. It is passed by value and
// never modified during a search.
type Request struct {
	ID          string      `json:"id" yaml:"id"`
	Artist      string      `json:"artist" yaml:"artist"`
	Title       string      `json:"title" yaml:"title"`
	ReleaseDate string      `json:"releaseDate" yaml:"release_date"`
	Type        Type        `json:"type" yaml:"type"`
	SearchTerm  string      `json:"searchTerm,omitempty" yaml:"search_term"`
	TrackCount  int         `json:"trackCount" yaml:"track_count"`
	DurationMs  int64       `json:"durationMs" yaml:"duration_ms"`
	Quality     QualityMode `json:"quality" yaml:"quality"`
}

// Year returns the first four characters of the release date.
func (r Request) Year() string {
	if len(r.ReleaseDate) < 4 {
		return r.ReleaseDate
	}
	return r.ReleaseDate[:4]
}

// Kind is the transport a result is fetched with.
type Kind string

const (
	KindUsenet     Kind = "usenet"
	KindTorrent    Kind = "torrent"
	KindMagnet     Kind = "magnet"
	KindPeerShare  Kind = "peer-share"
	KindDirectFile Kind = "direct-file"
)

// PeerFile is a single file offered by a peer-share user.
type PeerFile struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	BitRate   int    `json:"bitRate,omitempty"`
	Length    int    `json:"length,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// Result is a normalized search hit. Use the With* methods to derive modified
// copies; a Result is never changed in place once built.
type Result struct {
	Title    string `json:"title"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Kind     Kind   `json:"kind"`
	Matches  bool   `json:"matches"`

	Seeders int `json:"seeders,omitempty"`

	// peer-share extras
	Username          string     `json:"username,omitempty"`
	Folder            string     `json:"folder,omitempty"`
	Files             []PeerFile `json:"files,omitempty"`
	UploadSpeed       int64      `json:"uploadSpeed,omitempty"`
	HasFreeUploadSlot bool       `json:"hasFreeUploadSlot,omitempty"`
	QueueLength       int        `json:"queueLength,omitempty"`

	// Payload holds fetched content (NZB or .torrent bytes) once a result has
	// been prepared for dispatch.
	Payload []byte `json:"-"`
}

// NewResult builds a result with a non-negative size. Matches starts false.
func NewResult(title string, size int64, url, provider string, kind Kind) Result {
	if size < 0 {
		size = 0
	}
	return Result{
		Title:    title,
		Size:     size,
		URL:      url,
		Provider: provider,
		Kind:     kind,
	}
}

// WithMatches returns a copy with the match flag set.
func (r Result) WithMatches(matches bool) Result {
	r.Matches = matches
	return r
}

// WithURL returns a copy pointing at a different locator.
func (r Result) WithURL(url string) Result {
	r.URL = url
	return r
}

// WithKind returns a copy with a different kind, e.g. a torrent that turned
// out to be a magnet redirect.
func (r Result) WithKind(kind Kind) Result {
	r.Kind = kind
	return r
}

// WithPayload returns a copy carrying fetched content.
func (r Result) WithPayload(payload []byte) Result {
	r.Payload = payload
	return r
}

// IsMagnet reports whether the result locator is a magnet URI.
func (r Result) IsMagnet() bool {
	return strings.HasPrefix(strings.ToLower(r.URL), "magnet:")
}

// SnatchStatus is the status column of a snatch record.
type SnatchStatus string

const (
	StatusSnatched     SnatchStatus = "Snatched"
	StatusSeedSnatched SnatchStatus = "Seed_Snatched"
	StatusProcessed    SnatchStatus = "Processed"
	StatusFailed       SnatchStatus = "Failed"
)

// SnatchRecord is one row of the snatch ledger.
type SnatchRecord struct {
	ID         int64        `json:"id"`
	ReleaseID  string       `json:"releaseId"`
	Title      string       `json:"title"`
	Size       int64        `json:"size"`
	URL        string       `json:"url"`
	Status     SnatchStatus `json:"status"`
	Date       time.Time    `json:"date"`
	FolderName string       `json:"folderName"`
	Kind       Kind         `json:"kind"`
	DownloadID string       `json:"downloadId,omitempty"`
	Client     string       `json:"client"`
}

// CompletionStatus is a single poll of a download backend. A nil
// *CompletionStatus means the state is unknown.
type CompletionStatus struct {
	Completed bool    `json:"completed"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
	Name      string  `json:"name"`
}
