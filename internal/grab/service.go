// Package grab dispatches a chosen search result to the configured download
// backend and records the snatch.
package grab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/downloader/sabnzbd"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/indexer/torznab"
	"github.com/slipstream/acquire/internal/pathutil"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/torrent"
)

var (
	ErrNoDownloadClient = errors.New("no suitable download client available")
	ErrInvalidRelease   = errors.New("invalid release")
	ErrDownloadFailed   = errors.New("download failed")
)

// Recorder persists snatch rows.
type Recorder interface {
	Insert(ctx context.Context, rec release.SnatchRecord) (*release.SnatchRecord, error)
}

// Notifier is told about every successful dispatch.
type Notifier interface {
	OnSnatched(ctx context.Context, req release.Request, provider, folder string)
}

// LogNotifier reports snatches in the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) OnSnatched(_ context.Context, req release.Request, provider, folder string) {
	n.Logger.Info().
		Str("artist", req.Artist).
		Str("album", req.Title).
		Str("provider", provider).
		Str("folder", folder).
		Msg("Download started")
}

// Outcome describes a successful dispatch.
type Outcome struct {
	Result     release.Result         `json:"result"`
	Client     downloader.Type        `json:"client"`
	DownloadID string                 `json:"downloadId,omitempty"`
	Folder     string                 `json:"folder"`
	SeedRatio  *float64               `json:"seedRatio,omitempty"`
	Records    []release.SnatchRecord `json:"records"`
}

// Service sends results to download backends.
type Service struct {
	registry *downloader.Registry
	http     *httpclient.Client
	ledger   Recorder
	ratios   *torrent.SeedRatios
	notifier Notifier
	logger   zerolog.Logger

	mu        sync.RWMutex
	providers map[string]indexer.Provider
	torznab   map[string]struct{}
}

// NewService creates a grab service.
func NewService(registry *downloader.Registry, http *httpclient.Client, ledger Recorder, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "grab").Logger()
	return &Service{
		registry:  registry,
		http:      http,
		ledger:    ledger,
		notifier:  LogNotifier{Logger: logger},
		logger:    logger,
		providers: make(map[string]indexer.Provider),
		torznab:   make(map[string]struct{}),
	}
}

// SetSeedRatios sets the per-provider seed ratio table.
func (s *Service) SetSeedRatios(ratios *torrent.SeedRatios) {
	s.ratios = ratios
}

// SetNotifier replaces the snatch notifier.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// AddProvider makes a provider known for payload fetching and redirect
// handling of its results.
func (s *Service) AddProvider(p indexer.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Name()] = p
	if _, ok := p.(*torznab.Provider); ok {
		s.torznab[p.Name()] = struct{}{}
	}
}

// Dispatch prepares r, hands it to the backend for its kind and writes the
// snatch rows. Nothing is recorded when any step fails.
func (s *Service) Dispatch(ctx context.Context, req release.Request, r release.Result) (*Outcome, error) {
	if r.Title == "" || r.URL == "" {
		return nil, ErrInvalidRelease
	}
	provider := release.ProviderDisplayName(r.Provider)

	s.logger.Info().
		Str("provider", provider).
		Str("title", r.Title).
		Str("url", r.URL).
		Float64("sizeMB", release.MegaBytes(r.Size)).
		Msg("Found best result")

	client, ok := s.registry.For(r.Kind)
	if !ok {
		return nil, fmt.Errorf("%w for %s results", ErrNoDownloadClient, r.Kind)
	}

	prepared, err := s.Prepare(ctx, r, client)
	if err != nil {
		s.logger.Error().Err(err).Str("title", r.Title).Msg("Unable to prepare result for download")
		return nil, err
	}

	out, err := s.send(ctx, req, prepared, client)
	if err != nil {
		s.logger.Error().Err(err).Str("title", r.Title).Str("client", string(client.Type())).Msg("Failed to send result to download client")
		return nil, err
	}

	if err := s.record(ctx, req, r.URL, out); err != nil {
		return nil, err
	}

	s.notifier.OnSnatched(ctx, req, provider, out.Folder)
	return out, nil
}

func (s *Service) send(ctx context.Context, req release.Request, r release.Result, client downloader.Client) (*Outcome, error) {
	add := &downloader.AddRequest{
		Name:   jobName(req, r),
		URL:    r.URL,
		Data:   r.Payload,
		Result: r,
	}

	added, err := client.Add(ctx, add)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Result:     r,
		Client:     client.Type(),
		DownloadID: added.ID,
		Folder:     s.folderName(ctx, add.Name, added, client),
	}

	if r.Kind == release.KindTorrent || r.Kind == release.KindMagnet {
		s.applyTorrentSettings(ctx, out, client)
	}
	return out, nil
}

// jobName is the name handed to the backend: the sanitized title for usenet,
// the remote folder for peer-share and "Artist - Album [year]" for torrents.
func jobName(req release.Request, r release.Result) string {
	switch r.Kind {
	case release.KindUsenet:
		return sabnzbd.SanitizeFolderName(r.Title)
	case release.KindPeerShare:
		return r.Folder
	default:
		return TorrentFolderName(req)
	}
}

func (s *Service) folderName(ctx context.Context, name string, added *downloader.AddResult, client downloader.Client) string {
	switch client.Kind() {
	case release.KindUsenet:
		if namer, ok := client.(downloader.FolderNamer); ok {
			return namer.FolderName(ctx, name)
		}
		return name
	case release.KindPeerShare:
		return added.Name
	}

	folder := added.Name
	if resolver, ok := client.(downloader.NameResolver); ok && added.ID != "" {
		resolved, err := resolver.ResolveName(ctx, added.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", added.ID).Msg("Unable to read torrent name from client")
		} else if resolved != "" {
			folder = resolved
		}
	}
	if folder == "" {
		folder = name
	}
	s.logger.Info().Str("folder", folder).Msg("Torrent folder name")
	return folder
}

func (s *Service) applyTorrentSettings(ctx context.Context, out *Outcome, client downloader.Client) {
	if out.DownloadID == "" {
		return
	}
	if labeler, ok := client.(downloader.Labeler); ok {
		if err := labeler.SetLabel(ctx, out.DownloadID); err != nil {
			s.logger.Warn().Err(err).Str("id", out.DownloadID).Msg("Unable to set torrent label")
		}
	}

	ratio, ok := s.ratios.Lookup(out.Result.Provider)
	if !ok {
		return
	}
	out.SeedRatio = &ratio
	if setter, ok := client.(downloader.SeedRatioSetter); ok {
		if err := setter.SetSeedRatio(ctx, out.DownloadID, ratio); err != nil {
			s.logger.Warn().Err(err).Str("id", out.DownloadID).Float64("ratio", ratio).Msg("Unable to set seed ratio")
		}
	}
}

// record writes the Snatched row and, for torrents that seed to a ratio, a
// Seed_Snatched row the poller uses to remove finished torrents. Rows keep
// the link the search returned so later searches can skip it.
func (s *Service) record(ctx context.Context, req release.Request, url string, out *Outcome) error {
	base := release.SnatchRecord{
		ReleaseID:  req.ID,
		Title:      out.Result.Title,
		Size:       out.Result.Size,
		URL:        url,
		Status:     release.StatusSnatched,
		FolderName: out.Folder,
		Kind:       out.Result.Kind,
		DownloadID: out.DownloadID,
		Client:     string(out.Client),
	}

	saved, err := s.ledger.Insert(ctx, base)
	if err != nil {
		s.logger.Error().Err(err).Str("title", base.Title).Msg("Failed to record snatch")
		return err
	}
	out.Records = append(out.Records, *saved)

	if out.SeedRatio == nil || *out.SeedRatio <= 0 || out.DownloadID == "" {
		return nil
	}
	// The download is already queued; a missing seed row only means the
	// poller will not remove the torrent once it finishes seeding.
	seed := base
	seed.Status = release.StatusSeedSnatched
	saved, err = s.ledger.Insert(ctx, seed)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", seed.Title).Str("id", seed.DownloadID).Msg("Failed to record seed snatch")
		return nil
	}
	out.Records = append(out.Records, *saved)
	return nil
}

// TorrentFolderName builds "Artist - Album [year]" in plain ASCII with
// slashes replaced.
func TorrentFolderName(req release.Request) string {
	clean := func(s string) string {
		return strings.ReplaceAll(pathutil.Transliterate(s), "/", "_")
	}
	return fmt.Sprintf("%s - %s [%s]", clean(req.Artist), clean(req.Title), req.Year())
}
