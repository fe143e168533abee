package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/release"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 20*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, uint(3), cfg.HTTP.Attempts)
	assert.Equal(t, PreferUsenet, cfg.Search.PreferenceMode())
	assert.Equal(t, release.QualityHighestLossy, cfg.Search.Quality.QualityMode())
	assert.Equal(t, "https://orpheus.network/", cfg.Indexers.Orpheus.URL)
	assert.Equal(t, 2*time.Second, cfg.Indexers.Soulseek.PollInterval)
	assert.Equal(t, "*/5 * * * *", cfg.Poller.Cron)
	assert.Equal(t, time.Second, cfg.HTTP.Throttle["rutracker"])
	assert.Equal(t, "https://rutracker.org", cfg.Indexers.Rutracker.URL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
search:
  preference: torrent
  quality:
    mode: bitrate
    target_bitrate: 320
  required_words: "web, cd OR vinyl"
http:
  throttle:
    orpheus: 2s
indexers:
  newznab:
    - host: https://nzb.example
      api_key: abc
      enabled: true
  torznab:
    - host: http://jackett:9117/api/v2.0/indexers/x/results/torznab
      api_key: k
      enabled: true
      seed_ratio: 1.5
downloaders:
  torrent:
    type: blackhole
    dir: /watch
    magnet_links: convert
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("ACQUIRE_SERVER_PORT", "7001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, PreferTorrent, cfg.Search.PreferenceMode())
	assert.Equal(t, release.QualityTargetBitrate, cfg.Search.Quality.QualityMode())
	assert.Equal(t, 320, cfg.Search.Quality.TargetBitrate)
	assert.Equal(t, 2*time.Second, cfg.HTTP.Throttle["orpheus"])
	require.Len(t, cfg.Indexers.Newznab, 1)
	assert.Equal(t, "abc", cfg.Indexers.Newznab[0].APIKey)
	require.Len(t, cfg.Indexers.Torznab, 1)
	assert.Equal(t, 1.5, cfg.Indexers.Torznab[0].SeedRatio)
	assert.Equal(t, "convert", cfg.Downloaders.Torrent.MagnetLinks)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  preference: carrier-pigeon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParsePreference(t *testing.T) {
	tests := []struct {
		in   string
		want Preference
		ok   bool
	}{
		{"nzb", PreferUsenet, true},
		{"0", PreferUsenet, true},
		{"1", PreferTorrent, true},
		{"2", PreferPeerShare, true},
		{"soulseek", PreferPeerShare, true},
		{"3", PreferMerge, true},
		{"both", PreferMerge, true},
		{"x", PreferUsenet, false},
	}
	for _, tt := range tests {
		got, ok := ParsePreference(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestSoulseekConfigured(t *testing.T) {
	s := SoulseekConfig{Enabled: true, APIURL: "http://slskd:5030", APIKey: "k", DownloadDir: "/dl"}
	assert.False(t, s.Configured())
	s.IncompleteDir = "/inc"
	assert.True(t, s.Configured())
}

func TestLoad_Webhooks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
notifications:
  webhooks:
    - name: home
      url: http://hooks.local/acquire
      headers:
        X-Token: abc
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Notify.Webhooks, 1)
	assert.Equal(t, "home", cfg.Notify.Webhooks[0].Name)
	require.Len(t, cfg.Notify.Webhooks[0].Headers, 1)
	for k, v := range cfg.Notify.Webhooks[0].Headers {
		assert.True(t, strings.EqualFold("X-Token", k), k)
		assert.Equal(t, "abc", v)
	}

	require.NoError(t, os.WriteFile(path, []byte("notifications:\n  webhooks:\n    - name: broken\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
