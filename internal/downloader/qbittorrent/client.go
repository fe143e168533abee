// Package qbittorrent pushes torrents to qBittorrent through go-qbittorrent.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

// completionProgressThreshold tolerates float rounding in reported progress.
const completionProgressThreshold = 0.9999

// API is the subset of the go-qbittorrent client used here.
type API interface {
	LoginCtx(ctx context.Context) error
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
	AddTorrentFromMemoryCtx(ctx context.Context, buf []byte, options map[string]string) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	SetTorrentShareLimitCtx(ctx context.Context, hashes []string, ratioLimit float64, seedingTimeLimit int64, inactiveSeedingTimeLimit int64) error
	SetCategoryCtx(ctx context.Context, hashes []string, category string) error
}

var (
	_ types.Client          = (*Client)(nil)
	_ types.SeedRatioSetter = (*Client)(nil)
	_ types.Labeler         = (*Client)(nil)
	_ types.NameResolver    = (*Client)(nil)
)

// Client wraps one qBittorrent instance.
type Client struct {
	config types.Config
	api    API
	logger zerolog.Logger

	loginMu  sync.Mutex
	loggedIn bool

	nameTries int
	nameDelay time.Duration
}

// New connects lazily to the Web API at cfg.Host.
func New(cfg types.Config, logger zerolog.Logger) *Client {
	api := qbt.NewClient(qbt.Config{
		Host:     cfg.BaseURL(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  30,
	})
	return NewWithAPI(cfg, api, logger)
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(cfg types.Config, api API, logger zerolog.Logger) *Client {
	return &Client{
		config:    cfg,
		api:       api,
		logger:    logger.With().Str("component", "qbittorrent").Logger(),
		nameTries: 10,
		nameDelay: 5 * time.Second,
	}
}

// SetNameRetry overrides how long ResolveName waits for a torrent to appear.
func (c *Client) SetNameRetry(tries int, delay time.Duration) {
	c.nameTries = tries
	c.nameDelay = delay
}

func (c *Client) Type() types.Type { return types.TypeQBittorrent }

func (c *Client) Kind() release.Kind { return release.KindTorrent }

func (c *Client) login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.api.LoginCtx(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrAuthFailed, err)
	}
	c.loggedIn = true
	return nil
}

// Add submits the torrent. The id is the lowercase info hash derived from
// the magnet or metainfo; plain URLs are accepted without one.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	options := map[string]string{}
	if c.config.Dir != "" {
		options["savepath"] = c.config.Dir
	}
	if c.config.Category != "" {
		options["category"] = c.config.Category
	}

	var err error
	switch {
	case req.HasData():
		err = c.api.AddTorrentFromMemoryCtx(ctx, req.Data, options)
	case req.URL != "":
		err = c.api.AddTorrentFromUrlCtx(ctx, req.URL, options)
	default:
		return nil, types.ErrNoPayload
	}
	if err != nil {
		return nil, fmt.Errorf("add torrent to qbittorrent: %w", err)
	}

	hash, err := torrent.InfoHash(req.URL, req.Data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Torrent added but its hash could not be determined")
		return &types.AddResult{}, nil
	}
	hash = strings.ToLower(hash)
	c.logger.Info().Str("hash", hash).Msg("Torrent sent to qBittorrent")
	return &types.AddResult{ID: hash}, nil
}

// SetLabel assigns the configured category.
func (c *Client) SetLabel(ctx context.Context, id string) error {
	if c.config.Category == "" {
		return nil
	}
	if err := c.login(ctx); err != nil {
		return err
	}
	return c.api.SetCategoryCtx(ctx, []string{strings.ToLower(id)}, c.config.Category)
}

// SetSeedRatio sets the share ratio. Zero removes the limit (-1); seeding
// time limits fall back to the global setting (-2).
func (c *Client) SetSeedRatio(ctx context.Context, id string, ratio float64) error {
	if err := c.login(ctx); err != nil {
		return err
	}
	limit := ratio
	if ratio == 0 {
		limit = -1
	}
	return c.api.SetTorrentShareLimitCtx(ctx, []string{strings.ToLower(id)}, limit, -2, -2)
}

func (c *Client) get(ctx context.Context, id string) (*qbt.Torrent, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	list, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{strings.ToLower(id)}})
	if err != nil {
		return nil, err
	}
	for i := range list {
		if strings.EqualFold(list[i].Hash, id) {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
}

// ResolveName waits a bounded time for the torrent to be registered and
// returns its name.
func (c *Client) ResolveName(ctx context.Context, id string) (string, error) {
	for try := 1; ; try++ {
		t, err := c.get(ctx, id)
		if err == nil && t.Name != "" {
			return t.Name, nil
		}
		if try >= c.nameTries {
			if err == nil {
				err = fmt.Errorf("%w: %s has no name yet", types.ErrNotFound, id)
			}
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.nameDelay):
		}
	}
}

// CheckCompleted reports a torrent as complete once fully downloaded and in
// an upload or stopped-after-completion state.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	t, err := c.get(ctx, id)
	if err != nil {
		c.logger.Error().Err(err).Str("hash", id).Msg("Error checking qBittorrent torrent completion")
		return nil
	}
	return &release.CompletionStatus{
		Completed: isComplete(t),
		Progress:  t.Progress,
		Status:    string(t.State),
		Name:      t.Name,
	}
}

func isComplete(t *qbt.Torrent) bool {
	if t.Progress < completionProgressThreshold {
		return false
	}
	switch t.State {
	case qbt.TorrentStateDownloading,
		qbt.TorrentStateMetaDl,
		qbt.TorrentStatePausedDl,
		qbt.TorrentStateStoppedDl,
		qbt.TorrentStateQueuedDl,
		qbt.TorrentStateStalledDl,
		qbt.TorrentStateCheckingDl,
		qbt.TorrentStateForcedDl,
		qbt.TorrentStateCheckingResumeData,
		qbt.TorrentStateAllocating,
		qbt.TorrentStateMoving,
		qbt.TorrentStateError,
		qbt.TorrentStateMissingFiles,
		qbt.TorrentStateUnknown:
		return false
	default:
		return true
	}
}
