// Package types defines the contract shared by every download backend.
package types

import (
	"context"
	"errors"
	"strings"

	"github.com/slipstream/acquire/internal/release"
)

// Common errors for download clients.
var (
	ErrAuthFailed  = errors.New("authentication failed")
	ErrNotFound    = errors.New("download not found")
	ErrNoPayload   = errors.New("neither a url nor payload data was supplied")
	ErrRejected    = errors.New("download client rejected the item")
	ErrUnsupported = errors.New("unsupported download client")
)

// Type identifies a download backend.
type Type string

const (
	TypeBlackholeNZB     Type = "blackhole-nzb"
	TypeSABnzbd          Type = "sabnzbd"
	TypeNZBGet           Type = "nzbget"
	TypeBlackholeTorrent Type = "blackhole-torrent"
	TypeTransmission     Type = "transmission"
	TypeDeluge           Type = "deluge"
	TypeUTorrent         Type = "utorrent"
	TypeQBittorrent      Type = "qbittorrent"
	TypeSoulseek         Type = "soulseek"
)

// AllTypes lists every backend in configuration order.
var AllTypes = []Type{
	TypeBlackholeNZB, TypeSABnzbd, TypeNZBGet,
	TypeBlackholeTorrent, TypeTransmission, TypeDeluge, TypeUTorrent, TypeQBittorrent,
	TypeSoulseek,
}

// ParseType accepts a backend name. "blackhole" resolves against kind.
func ParseType(s string, kind release.Kind) (Type, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "blackhole" {
		if kind == release.KindUsenet {
			return TypeBlackholeNZB, true
		}
		return TypeBlackholeTorrent, true
	}
	for _, t := range AllTypes {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// Kind returns the transport the backend consumes.
func (t Type) Kind() release.Kind {
	switch t {
	case TypeBlackholeNZB, TypeSABnzbd, TypeNZBGet:
		return release.KindUsenet
	case TypeSoulseek:
		return release.KindPeerShare
	case "":
		return ""
	default:
		return release.KindTorrent
	}
}

// AcceptsURL reports whether the backend fetches torrent links itself, so
// the payload does not need to be downloaded before dispatch.
func (t Type) AcceptsURL() bool {
	switch t {
	case TypeTransmission, TypeDeluge, TypeQBittorrent:
		return true
	}
	return false
}

// AcceptsMagnet reports whether the backend can take a magnet link directly.
func (t Type) AcceptsMagnet() bool {
	switch t {
	case TypeTransmission, TypeDeluge, TypeUTorrent, TypeQBittorrent:
		return true
	}
	return false
}

// AddRequest is one item handed to a backend.
type AddRequest struct {
	// Name is the job or folder name the item should be stored under.
	Name string
	// URL is the remote locator; used when Data is empty.
	URL string
	// Data is the fetched NZB or .torrent content.
	Data []byte
	// Result is the chosen search result.
	Result release.Result
}

// HasData reports whether payload bytes were fetched.
func (r *AddRequest) HasData() bool {
	return len(r.Data) > 0
}

// AddResult is what a backend reports after accepting an item.
type AddResult struct {
	// ID is the backend identifier used for later polling, empty when the
	// backend assigns none.
	ID string
	// Name is the folder or display name the download will appear under.
	Name string
}

// Client is a download backend.
type Client interface {
	Type() Type
	Kind() release.Kind
	Add(ctx context.Context, req *AddRequest) (*AddResult, error)
	// CheckCompleted polls one download. It returns nil when the state
	// cannot be determined; failures are logged, never returned.
	CheckCompleted(ctx context.Context, id string) *release.CompletionStatus
}

// SeedRatioSetter is implemented by torrent clients that accept a per-item
// seed ratio. A ratio of zero means unlimited seeding.
type SeedRatioSetter interface {
	SetSeedRatio(ctx context.Context, id string, ratio float64) error
}

// Labeler is implemented by clients that tag items with the configured label.
type Labeler interface {
	SetLabel(ctx context.Context, id string) error
}

// NameResolver is implemented by clients that can look up the display name
// of an item after it was added.
type NameResolver interface {
	ResolveName(ctx context.Context, id string) (string, error)
}

// Config is the connection block shared by every backend.
type Config struct {
	Host     string
	Username string
	Password string
	APIKey   string
	Category string
	Priority int
	Dir      string
}

// BaseURL normalizes a configured host: scheme defaults to http and a
// trailing slash is removed.
func (c Config) BaseURL() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

// FolderNamer is implemented by backends that rewrite job names into folder
// names on their side, so callers can predict the final directory.
type FolderNamer interface {
	FolderName(ctx context.Context, name string) string
}

// FailureCleaner is implemented by backends that must release resources
// held by a failed download.
type FailureCleaner interface {
	CleanupFailed(ctx context.Context, id string) error
}
