// Package app builds the search, dispatch and polling services from the
// configuration.
package app

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/grab"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/indexer/gazelle"
	"github.com/slipstream/acquire/internal/indexer/newznab"
	"github.com/slipstream/acquire/internal/indexer/omgwtfnzbs"
	"github.com/slipstream/acquire/internal/indexer/piratebay"
	"github.com/slipstream/acquire/internal/indexer/rutracker"
	"github.com/slipstream/acquire/internal/indexer/soulseek"
	"github.com/slipstream/acquire/internal/indexer/torznab"
	"github.com/slipstream/acquire/internal/notification"
	"github.com/slipstream/acquire/internal/notification/webhook"
	"github.com/slipstream/acquire/internal/poller"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/search"
	"github.com/slipstream/acquire/internal/slskd"
	"github.com/slipstream/acquire/internal/snatch"
	"github.com/slipstream/acquire/internal/torrent"
)

// App holds the wired services.
type App struct {
	HTTP      *httpclient.Client
	Registry  *downloader.Registry
	Ledger    *snatch.Ledger
	Search    *search.Service
	Grab      *grab.Service
	Poller    *poller.Poller
	Notify    *notification.Service
	Providers []indexer.Provider
}

// Build wires every configured provider and backend.
func Build(cfg *config.Config, db *sql.DB, logger zerolog.Logger) (*App, error) {
	userAgent := cfg.HTTP.UserAgent
	if userAgent == "" {
		userAgent = config.UserAgent()
	}
	hc := httpclient.New(httpclient.Config{
		Timeout:   cfg.HTTP.Timeout,
		PoolSize:  cfg.HTTP.PoolSize,
		Attempts:  cfg.HTTP.Attempts,
		Backoff:   cfg.HTTP.Backoff,
		UserAgent: userAgent,
		Throttle:  cfg.HTTP.Throttle,
	}, logger)

	var transfers *slskd.Client
	if peer := cfg.Indexers.Soulseek; peer.Configured() {
		transfers = slskd.New(slskd.Config{
			URL:           peer.APIURL,
			APIKey:        peer.APIKey,
			PollInterval:  peer.PollInterval,
			SearchTimeout: peer.SearchTimeout,
		}, hc, logger)
	}

	deps := downloader.Deps{
		HTTP:      hc,
		Converter: torrent.NewConverter(hc, logger),
		Logger:    logger,
	}
	if transfers != nil {
		deps.Transfers = transfers
	}
	registry, err := downloader.FromConfig(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build download backends: %w", err)
	}

	ledger := snatch.NewLedger(db, logger)
	providers, ratios := Providers(cfg, hc, transfers, logger)

	grabSvc := grab.NewService(registry, hc, ledger, logger)
	grabSvc.SetSeedRatios(ratios)
	notify := Notifier(cfg.Notify, hc, logger)
	grabSvc.SetNotifier(notify)

	searchSvc := search.NewService(search.ConfigFrom(cfg.Search), registry, ledger, logger)
	searchSvc.SetDispatcher(grabSvc)
	for _, p := range providers {
		searchSvc.AddProvider(p)
		grabSvc.AddProvider(p)
	}

	return &App{
		HTTP:      hc,
		Registry:  registry,
		Ledger:    ledger,
		Search:    searchSvc,
		Grab:      grabSvc,
		Poller:    poller.New(ledger, registry, cfg.Poller.MaxAge, logger),
		Notify:    notify,
		Providers: providers,
	}, nil
}

// Providers builds the enabled search sources in configuration order, and
// the seed ratio table of the torrent ones. transfers may be nil, in which
// case the peer-share tier has no provider.
func Providers(cfg *config.Config, hc *httpclient.Client, transfers *slskd.Client, logger zerolog.Logger) ([]indexer.Provider, *torrent.SeedRatios) {
	var (
		providers []indexer.Provider
		ratios    = torrent.NewSeedRatios()
		sessions  = indexer.NewSessionCache(logger)
		ix        = cfg.Indexers
		seeders   = cfg.Search.MinimumSeeders
		retention = cfg.Search.UsenetRetention
	)

	for _, n := range ix.Newznab {
		if n.Enabled && n.Host != "" {
			providers = append(providers, newznab.New(newznab.Config{Host: n.Host, APIKey: n.APIKey, Retention: retention}, hc, logger))
		}
	}
	if ix.Omgwtfnzbs.Enabled {
		providers = append(providers, omgwtfnzbs.New(omgwtfnzbs.Config{User: ix.Omgwtfnzbs.User, APIKey: ix.Omgwtfnzbs.APIKey, Retention: retention}, hc, logger))
	}

	for _, t := range ix.Torznab {
		if !t.Enabled || t.Host == "" {
			continue
		}
		providers = append(providers, torznab.New(torznab.Config{Host: t.Host, APIKey: t.APIKey, MinimumSeeders: seeders}, hc, logger))
		if t.SeedRatio > 0 {
			ratios.SetTorznabHost(t.Host, t.SeedRatio)
		}
	}
	if pb := ix.PirateBay; pb.Enabled {
		providers = append(providers, piratebay.New(piratebay.Config{ProxyURL: pb.ProxyURL, MinimumSeeders: seeders}, hc, logger))
		setRatio(ratios, piratebay.ProviderName, pb.SeedRatio)
	}
	for _, g := range []struct {
		cfg  config.GazelleConfig
		name string
		url  string
	}{
		{ix.Orpheus, gazelle.OrpheusName, gazelle.OrpheusURL},
		{ix.Redacted, gazelle.RedactedName, gazelle.RedactedURL},
	} {
		if !g.cfg.Enabled {
			continue
		}
		url := g.cfg.URL
		if url == "" {
			url = g.url
		}
		providers = append(providers, gazelle.New(gazelle.Config{
			Name:           g.name,
			URL:            url,
			Username:       g.cfg.Username,
			Password:       g.cfg.Password,
			APIKey:         g.cfg.APIKey,
			UseFLToken:     g.cfg.UseFLToken,
			MinimumSeeders: seeders,
			TargetBitrate:  cfg.Search.Quality.TargetBitrate,
		}, hc, sessions, logger))
		setRatio(ratios, g.name, g.cfg.SeedRatio)
	}
	if rt := ix.Rutracker; rt.Enabled {
		providers = append(providers, rutracker.New(rutracker.Config{
			URL:            rt.URL,
			Username:       rt.Username,
			Password:       rt.Password,
			MinimumSeeders: seeders,
		}, hc, sessions, logger))
		setRatio(ratios, rutracker.ProviderName, rt.SeedRatio)
	}

	if transfers != nil {
		providers = append(providers, soulseek.New(transfers, ix.Soulseek.IgnoreTrackCount, logger))
	}

	for _, p := range providers {
		logger.Debug().Str("provider", release.ProviderDisplayName(p.Name())).Str("tier", string(p.Category())).Msg("Search provider enabled")
	}
	return providers, ratios
}

// Notifier builds the snatch notification fan-out.
func Notifier(cfg config.NotifyConfig, hc *httpclient.Client, logger zerolog.Logger) *notification.Service {
	var senders []notification.Sender
	for _, w := range cfg.Webhooks {
		senders = append(senders, webhook.New(webhook.Settings{
			Name:     w.Name,
			URL:      w.URL,
			Method:   w.Method,
			Username: w.Username,
			Password: w.Password,
			Headers:  w.Headers,
		}, hc, logger))
	}
	return notification.NewService(logger, senders...)
}

func setRatio(ratios *torrent.SeedRatios, provider string, ratio float64) {
	if ratio > 0 {
		ratios.SetProvider(provider, ratio)
	}
}
