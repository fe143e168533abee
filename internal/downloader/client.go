// Package downloader builds the configured download backends and routes
// dispatch and completion checks to them.
package downloader

import (
	"github.com/slipstream/acquire/internal/downloader/types"
)

// Re-export types for convenience.
// This allows external packages to use downloader.Client instead of types.Client.

type (
	Type            = types.Type
	Client          = types.Client
	AddRequest      = types.AddRequest
	AddResult       = types.AddResult
	SeedRatioSetter = types.SeedRatioSetter
	Labeler         = types.Labeler
	NameResolver    = types.NameResolver
	FolderNamer     = types.FolderNamer
	FailureCleaner  = types.FailureCleaner
)

// Re-export constants.
const (
	TypeBlackholeNZB     = types.TypeBlackholeNZB
	TypeSABnzbd          = types.TypeSABnzbd
	TypeNZBGet           = types.TypeNZBGet
	TypeBlackholeTorrent = types.TypeBlackholeTorrent
	TypeTransmission     = types.TypeTransmission
	TypeDeluge           = types.TypeDeluge
	TypeUTorrent         = types.TypeUTorrent
	TypeQBittorrent      = types.TypeQBittorrent
	TypeSoulseek         = types.TypeSoulseek
)

// Re-export errors.
var (
	ErrAuthFailed  = types.ErrAuthFailed
	ErrNotFound    = types.ErrNotFound
	ErrNoPayload   = types.ErrNoPayload
	ErrRejected    = types.ErrRejected
	ErrUnsupported = types.ErrUnsupported
)

// Re-export functions.
var ParseType = types.ParseType
