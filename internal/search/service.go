// Package search builds search terms, verifies, filters and ranks results
// across the provider tiers, and hands the best one to dispatch.
package search

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/grab"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
)

var ErrNoResults = errors.New("no acceptable results")

// Downloaders reports which result kinds have a configured backend.
type Downloaders interface {
	Has(kind release.Kind) bool
}

// Dispatcher sends one result to its backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req release.Request, r release.Result) (*grab.Outcome, error)
}

// Config is the search policy.
type Config struct {
	Preference          config.Preference
	Quality             QualityConfig
	PreferredWords      string
	IgnoredWords        string
	RequiredWords       string
	IgnoreCleanReleases bool
}

// ConfigFrom maps the application configuration onto the search policy.
func ConfigFrom(cfg config.SearchConfig) Config {
	return Config{
		Preference: cfg.PreferenceMode(),
		Quality: QualityConfig{
			TargetBitrate:       cfg.Quality.TargetBitrate,
			LowBuffer:           cfg.Quality.LowBuffer,
			HighBuffer:          cfg.Quality.HighBuffer,
			AllowLossless:       cfg.Quality.AllowLossless,
			LosslessBitrateFrom: cfg.Quality.LosslessBitrateFrom,
			LosslessBitrateTo:   cfg.Quality.LosslessBitrateTo,
		},
		PreferredWords:      cfg.PreferredWords,
		IgnoredWords:        cfg.IgnoredWords,
		RequiredWords:       cfg.RequiredWords,
		IgnoreCleanReleases: cfg.IgnoreCleanReleases,
	}
}

// Service runs searches over the configured providers.
type Service struct {
	cfg         Config
	providers   map[indexer.Category][]indexer.Provider
	downloaders Downloaders
	dispatcher  Dispatcher
	filter      *QualityFilter
	ranker      *Ranker
	logger      zerolog.Logger
}

// NewService creates a search service. snatched may be nil, in which case
// automatic searches do not skip earlier snatches.
func NewService(cfg Config, downloaders Downloaders, snatched SnatchChecker, logger zerolog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		providers:   make(map[indexer.Category][]indexer.Provider),
		downloaders: downloaders,
		filter:      NewQualityFilter(cfg.Quality, snatched, logger),
		ranker:      NewRanker(cfg.PreferredWords, cfg.Quality, logger),
		logger:      logger.With().Str("component", "search").Logger(),
	}
}

// AddProvider appends a provider to its tier. Providers of a tier are
// queried in the order they were added.
func (s *Service) AddProvider(p indexer.Provider) {
	s.providers[p.Category()] = append(s.providers[p.Category()], p)
}

// SetDispatcher sets where DispatchBest sends the winning result.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Search returns the acceptable results for req, best first. Automatic
// searches skip results already snatched for the release.
func (s *Service) Search(ctx context.Context, req release.Request, automatic bool) []release.Result {
	s.logger.Info().
		Str("artist", req.Artist).
		Str("album", req.Title).
		Str("quality", req.Quality.String()).
		Bool("automatic", automatic).
		Msg("Searching for release")

	results := s.run(ctx, req, automatic)
	ranked := s.ranker.Rank(results, req, req.DurationMs)

	s.logger.Info().Int("results", len(ranked)).Str("album", req.Title).Msg("Search complete")
	return ranked
}

// DispatchBest dispatches the first result. A failed dispatch is returned
// as is; the next candidate is not tried.
func (s *Service) DispatchBest(ctx context.Context, results []release.Result, req release.Request) (*grab.Outcome, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	if s.dispatcher == nil {
		return nil, grab.ErrNoDownloadClient
	}
	best := results[0]
	s.logger.Info().
		Str("title", best.Title).
		Str("provider", release.ProviderDisplayName(best.Provider)).
		Msg("Making sure we can download the best result")
	return s.dispatcher.Dispatch(ctx, req, best)
}

// SearchAndDispatch searches and dispatches the best result.
func (s *Service) SearchAndDispatch(ctx context.Context, req release.Request, automatic bool) (*grab.Outcome, error) {
	return s.DispatchBest(ctx, s.Search(ctx, req, automatic), req)
}
