package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/indexer/piratebay"
	"github.com/slipstream/acquire/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Indexers: config.IndexersConfig{
			Newznab: []config.NewznabConfig{
				{Host: "https://nzb.one", APIKey: "k", Enabled: true},
				{Host: "https://nzb.off", APIKey: "k", Enabled: false},
			},
			Torznab: []config.TorznabConfig{
				{Host: "https://jackett.local/api/v2.0/indexers/x/results/torznab", APIKey: "k", Enabled: true, SeedRatio: 2},
			},
			PirateBay: config.PirateBayConfig{Enabled: true, SeedRatio: 1.5},
		},
		Downloaders: config.DownloaderConfig{
			Usenet:  config.ClientConfig{Type: "blackhole", Dir: t.TempDir()},
			Torrent: config.ClientConfig{Type: "blackhole", Dir: t.TempDir(), MagnetLinks: "embed"},
		},
	}
}

func TestBuild(t *testing.T) {
	tdb := testutil.NewTestDB(t)

	a, err := Build(testConfig(t), tdb.Conn, tdb.Logger)
	require.NoError(t, err)

	assert.Equal(t, []downloader.Type{downloader.TypeBlackholeNZB, downloader.TypeBlackholeTorrent}, a.Registry.Types())
	require.Len(t, a.Providers, 3)
	assert.Equal(t, indexer.CategoryUsenet, a.Providers[0].Category())
	assert.Equal(t, piratebay.ProviderName, a.Providers[2].Name())
	assert.Equal(t, []indexer.Category{indexer.CategoryUsenet, indexer.CategoryTorrent}, a.Search.AvailableTiers())
}

func TestProviders_SeedRatios(t *testing.T) {
	cfg := testConfig(t)
	providers, ratios := Providers(cfg, nil, nil, testutil.NopLogger())
	require.Len(t, providers, 3)

	ratio, ok := ratios.Lookup(piratebay.ProviderName)
	assert.True(t, ok)
	assert.InDelta(t, 1.5, ratio, 0.001)

	ratio, ok = ratios.Lookup(providers[1].Name())
	assert.True(t, ok)
	assert.InDelta(t, 2, ratio, 0.001)

	_, ok = ratios.Lookup(providers[0].Name())
	assert.False(t, ok)
}

func TestBuild_RejectsWrongKind(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	cfg := testConfig(t)
	cfg.Downloaders.Usenet = config.ClientConfig{Type: "transmission", Host: "http://localhost:9091"}

	_, err := Build(cfg, tdb.Conn, tdb.Logger)
	assert.Error(t, err)
}
