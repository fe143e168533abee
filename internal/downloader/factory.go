package downloader

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader/blackhole"
	"github.com/slipstream/acquire/internal/downloader/deluge"
	"github.com/slipstream/acquire/internal/downloader/nzbget"
	"github.com/slipstream/acquire/internal/downloader/qbittorrent"
	"github.com/slipstream/acquire/internal/downloader/sabnzbd"
	"github.com/slipstream/acquire/internal/downloader/soulseek"
	"github.com/slipstream/acquire/internal/downloader/transmission"
	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/downloader/utorrent"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

// Deps are the shared collaborators backends are built with.
type Deps struct {
	HTTP      *httpclient.Client
	Converter *torrent.Converter
	// Transfers is the slskd client; soulseek is skipped when nil.
	Transfers soulseek.Transfers
	Logger    zerolog.Logger
}

func clientConfig(cfg config.ClientConfig) types.Config {
	return types.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		APIKey:   cfg.APIKey,
		Category: cfg.Category,
		Priority: cfg.Priority,
		Dir:      cfg.Dir,
	}
}

// NewClient creates a new download client of the specified type.
// Returns the client interface so callers can use polymorphism.
func NewClient(typ Type, cfg config.ClientConfig, deps Deps) (Client, error) {
	c := clientConfig(cfg)
	switch typ {
	case TypeBlackholeNZB:
		return blackhole.NewNZB(cfg.Dir, deps.Logger), nil
	case TypeSABnzbd:
		return sabnzbd.New(c, deps.HTTP, deps.Logger), nil
	case TypeNZBGet:
		return nzbget.New(c, deps.HTTP, deps.Logger), nil
	case TypeBlackholeTorrent:
		return blackhole.NewTorrent(cfg.Dir, torrent.ParseMagnetPolicy(cfg.MagnetLinks), deps.Converter, deps.Logger), nil
	case TypeTransmission:
		return transmission.New(c, deps.HTTP, deps.Logger), nil
	case TypeDeluge:
		return deluge.New(c, deps.HTTP, deps.Logger), nil
	case TypeUTorrent:
		return utorrent.New(c, deps.HTTP, deps.Logger), nil
	case TypeQBittorrent:
		return qbittorrent.New(c, deps.Logger), nil
	case TypeSoulseek:
		if deps.Transfers == nil {
			return nil, fmt.Errorf("%w: soulseek needs an slskd client", ErrUnsupported)
		}
		return soulseek.New(deps.Transfers, deps.Logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown client type %s", ErrUnsupported, typ)
	}
}

// FromConfig builds a registry with the usenet and torrent backends named in
// cfg plus soulseek when slskd is configured. Sections without a type are
// skipped.
func FromConfig(cfg *config.Config, deps Deps) (*Registry, error) {
	reg := NewRegistry(deps.Logger)

	sections := []struct {
		kind release.Kind
		cfg  config.ClientConfig
	}{
		{release.KindUsenet, cfg.Downloaders.Usenet},
		{release.KindTorrent, cfg.Downloaders.Torrent},
	}
	for _, s := range sections {
		if s.cfg.Type == "" {
			continue
		}
		typ, ok := ParseType(s.cfg.Type, s.kind)
		if !ok || typ.Kind() != s.kind {
			return nil, fmt.Errorf("%w: %q is not a %s downloader", ErrUnsupported, s.cfg.Type, s.kind)
		}
		client, err := NewClient(typ, s.cfg, deps)
		if err != nil {
			return nil, err
		}
		reg.Register(client)
	}

	if cfg.Indexers.Soulseek.Configured() && deps.Transfers != nil {
		client, err := NewClient(TypeSoulseek, config.ClientConfig{}, deps)
		if err != nil {
			return nil, err
		}
		reg.Register(client)
	}
	return reg, nil
}
