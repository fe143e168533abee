// Package blackhole drops NZB and torrent files into watched directories for
// an external client to pick up.
package blackhole

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/pathutil"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

const fileMode os.FileMode = 0o644

var (
	_ types.Client = (*NZB)(nil)
	_ types.Client = (*Torrent)(nil)
)

// NZB writes <name>.nzb files.
type NZB struct {
	dir    string
	logger zerolog.Logger
}

// NewNZB creates a usenet blackhole rooted at dir.
func NewNZB(dir string, logger zerolog.Logger) *NZB {
	return &NZB{dir: dir, logger: logger.With().Str("component", "blackhole-nzb").Logger()}
}

func (b *NZB) Type() types.Type { return types.TypeBlackholeNZB }

func (b *NZB) Kind() release.Kind { return release.KindUsenet }

// Add requires the NZB content; the drop folder cannot fetch links.
func (b *NZB) Add(_ context.Context, req *types.AddRequest) (*types.AddResult, error) {
	if !req.HasData() {
		return nil, types.ErrNoPayload
	}
	name := req.Name + ".nzb"
	path, err := pathutil.WriteFileAtomic(b.dir, name, req.Data, fileMode)
	if err != nil {
		b.logger.Error().Err(err).Msg("Couldn't write NZB file")
		return nil, err
	}
	b.logger.Info().Str("path", path).Msg("File saved")
	return &types.AddResult{Name: req.Name}, nil
}

// CheckCompleted is unknown for drop folders.
func (b *NZB) CheckCompleted(context.Context, string) *release.CompletionStatus {
	return nil
}

// Torrent writes <name>.torrent files and applies the magnet policy to
// magnet links.
type Torrent struct {
	dir       string
	policy    torrent.MagnetPolicy
	converter *torrent.Converter
	open      torrent.OpenFunc
	logger    zerolog.Logger
}

// NewTorrent creates a torrent blackhole rooted at dir.
func NewTorrent(dir string, policy torrent.MagnetPolicy, converter *torrent.Converter, logger zerolog.Logger) *Torrent {
	return &Torrent{
		dir:       dir,
		policy:    policy,
		converter: converter,
		open:      torrent.OpenWithSystem,
		logger:    logger.With().Str("component", "blackhole-torrent").Logger(),
	}
}

// SetOpener replaces the OS magnet handler.
func (b *Torrent) SetOpener(open torrent.OpenFunc) {
	b.open = open
}

func (b *Torrent) Type() types.Type { return types.TypeBlackholeTorrent }

func (b *Torrent) Kind() release.Kind { return release.KindTorrent }

// Add writes the torrent. The returned name is the one stored in the
// metainfo, which clients usually use as the download folder, falling back
// to the result title.
func (b *Torrent) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	fileName := pathutil.ReplaceIllegalChars(req.Name) + ".torrent"
	title := req.Result.Title

	if strings.HasPrefix(strings.ToLower(req.URL), "magnet:") {
		return b.addMagnet(ctx, req, fileName, title)
	}
	if !req.HasData() {
		return nil, types.ErrNoPayload
	}
	if err := b.write(fileName, req.Data); err != nil {
		return nil, err
	}
	name := torrent.NameOr(req.Data, title)
	b.logger.Info().Str("folder", name).Msg("Torrent folder name")
	return &types.AddResult{Name: name}, nil
}

func (b *Torrent) addMagnet(ctx context.Context, req *types.AddRequest, fileName, title string) (*types.AddResult, error) {
	switch b.policy {
	case torrent.MagnetOpen:
		if err := b.open(ctx, req.URL); err != nil {
			b.logger.Error().Err(err).Msg("Error opening magnet link")
			return nil, err
		}
		return &types.AddResult{Name: title}, nil

	case torrent.MagnetConvert:
		if b.converter == nil {
			return nil, torrent.ErrConversionFailed
		}
		data, err := b.converter.Convert(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		if err := b.write(fileName, data); err != nil {
			return nil, err
		}
		return &types.AddResult{Name: torrent.NameOr(data, title)}, nil

	case torrent.MagnetEmbed:
		data := req.Data
		if len(data) == 0 {
			var err error
			if data, err = torrent.EmbedMagnet(req.URL); err != nil {
				return nil, fmt.Errorf("embed magnet: %w", err)
			}
		}
		if err := b.write(fileName, data); err != nil {
			return nil, err
		}
		return &types.AddResult{Name: title}, nil

	default:
		b.logger.Error().Msg("Cannot save magnet link in blackhole. Switch the torrent downloader to a client that accepts magnets, or allow magnet links to be opened or converted")
		return nil, torrent.ErrMagnetRejected
	}
}

func (b *Torrent) write(fileName string, data []byte) error {
	path, err := pathutil.WriteFileAtomic(b.dir, fileName, data, fileMode)
	if err != nil {
		b.logger.Error().Err(err).Msg("Couldn't write torrent file")
		return err
	}
	b.logger.Info().Str("path", path).Msg("File saved")
	return nil
}

// CheckCompleted is unknown for drop folders.
func (b *Torrent) CheckCompleted(context.Context, string) *release.CompletionStatus {
	return nil
}
