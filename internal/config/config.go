package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/slipstream/acquire/internal/release"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	Search      SearchConfig     `mapstructure:"search"`
	Indexers    IndexersConfig   `mapstructure:"indexers"`
	Downloaders DownloaderConfig `mapstructure:"downloaders"`
	Poller      PollerConfig     `mapstructure:"poller"`
	Notify      NotifyConfig     `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// APIKey guards /api/v1 when set.
	APIKey string `mapstructure:"api_key"`
	// SearchRate caps manual searches per client IP per minute.
	SearchRate int `mapstructure:"search_rate"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Path          string `mapstructure:"path"`
	MaxSizeMB     int    `mapstructure:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAgeDays    int    `mapstructure:"max_age_days"`
	Compress      bool   `mapstructure:"compress"`
	RecentEntries int    `mapstructure:"recent_entries"`
}

// HTTPConfig tunes the shared outbound client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Attempts  uint          `mapstructure:"attempts"`
	Backoff   time.Duration `mapstructure:"backoff"`
	PoolSize  int           `mapstructure:"pool_size"`
	UserAgent string        `mapstructure:"user_agent"`
	// Throttle maps a provider lock name to the minimum spacing between
	// its requests.
	Throttle map[string]time.Duration `mapstructure:"throttle"`
}

// QualityConfig controls size windows and lossless handling.
type QualityConfig struct {
	Mode                string  `mapstructure:"mode"`
	TargetBitrate       int     `mapstructure:"target_bitrate"`
	LowBuffer           float64 `mapstructure:"low_buffer"`
	HighBuffer          float64 `mapstructure:"high_buffer"`
	AllowLossless       bool    `mapstructure:"allow_lossless"`
	LosslessBitrateFrom int     `mapstructure:"lossless_bitrate_from"`
	LosslessBitrateTo   int     `mapstructure:"lossless_bitrate_to"`
}

// SearchConfig holds the tier preference and filtering options.
type SearchConfig struct {
	Preference          string        `mapstructure:"preference"`
	Quality             QualityConfig `mapstructure:"quality"`
	PreferredWords      string        `mapstructure:"preferred_words"`
	IgnoredWords        string        `mapstructure:"ignored_words"`
	RequiredWords       string        `mapstructure:"required_words"`
	IgnoreCleanReleases bool          `mapstructure:"ignore_clean_releases"`
	UsenetRetention     int           `mapstructure:"usenet_retention"`
	MinimumSeeders      int           `mapstructure:"minimum_seeders"`
}

// NewznabConfig is one newznab host.
type NewznabConfig struct {
	Host    string `mapstructure:"host"`
	APIKey  string `mapstructure:"api_key"`
	Enabled bool   `mapstructure:"enabled"`
}

// OmgwtfnzbsConfig holds the omgwtfnzbs credentials.
type OmgwtfnzbsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	User    string `mapstructure:"user"`
	APIKey  string `mapstructure:"api_key"`
}

// TorznabConfig is one torznab host.
type TorznabConfig struct {
	Host      string  `mapstructure:"host"`
	APIKey    string  `mapstructure:"api_key"`
	Enabled   bool    `mapstructure:"enabled"`
	SeedRatio float64 `mapstructure:"seed_ratio"`
}

// PirateBayConfig selects apibay or an HTML proxy.
type PirateBayConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	ProxyURL  string  `mapstructure:"proxy_url"`
	SeedRatio float64 `mapstructure:"seed_ratio"`
}

// GazelleConfig covers Orpheus and Redacted.
type GazelleConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	URL        string  `mapstructure:"url"`
	Username   string  `mapstructure:"username"`
	Password   string  `mapstructure:"password"`
	APIKey     string  `mapstructure:"api_key"`
	UseFLToken bool    `mapstructure:"use_fltoken"`
	SeedRatio  float64 `mapstructure:"seed_ratio"`
}

// RutrackerConfig holds the rutracker login.
type RutrackerConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	URL       string  `mapstructure:"url"`
	Username  string  `mapstructure:"username"`
	Password  string  `mapstructure:"password"`
	SeedRatio float64 `mapstructure:"seed_ratio"`
}

// SoulseekConfig points at a slskd instance.
type SoulseekConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	APIURL        string        `mapstructure:"api_url"`
	APIKey        string        `mapstructure:"api_key"`
	DownloadDir   string        `mapstructure:"download_dir"`
	IncompleteDir string        `mapstructure:"incomplete_dir"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// IgnoreTrackCount keeps directories whose file count differs from the
	// release track count.
	IgnoreTrackCount bool `mapstructure:"ignore_track_count"`
}

// Configured reports whether every field the peer-share tier needs is set.
func (s SoulseekConfig) Configured() bool {
	return s.Enabled && s.APIURL != "" && s.APIKey != "" && s.DownloadDir != "" && s.IncompleteDir != ""
}

// IndexersConfig lists every search source.
type IndexersConfig struct {
	Newznab    []NewznabConfig  `mapstructure:"newznab"`
	Omgwtfnzbs OmgwtfnzbsConfig `mapstructure:"omgwtfnzbs"`
	Torznab    []TorznabConfig  `mapstructure:"torznab"`
	PirateBay  PirateBayConfig  `mapstructure:"piratebay"`
	Orpheus    GazelleConfig    `mapstructure:"orpheus"`
	Redacted   GazelleConfig    `mapstructure:"redacted"`
	Rutracker  RutrackerConfig  `mapstructure:"rutracker"`
	Soulseek   SoulseekConfig   `mapstructure:"soulseek"`
}

// ClientConfig is the connection block shared by every download backend.
type ClientConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	APIKey   string `mapstructure:"api_key"`
	Category string `mapstructure:"category"`
	Priority int    `mapstructure:"priority"`
	// Dir is the blackhole directory, or the download directory passed to
	// torrent clients that accept one.
	Dir string `mapstructure:"dir"`
	// MagnetLinks is the blackhole magnet policy: open, convert, embed or
	// reject.
	MagnetLinks string `mapstructure:"magnet_links"`
}

// DownloaderConfig selects one backend per protocol.
type DownloaderConfig struct {
	Usenet  ClientConfig `mapstructure:"usenet"`
	Torrent ClientConfig `mapstructure:"torrent"`
}

// PollerConfig schedules completion polling.
type PollerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// NotifyConfig lists the endpoints told about each snatch.
type NotifyConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

// WebhookConfig is one JSON endpoint.
type WebhookConfig struct {
	Name     string            `mapstructure:"name"`
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.acquire")
	}

	v.SetEnvPrefix("ACQUIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8686)
	v.SetDefault("server.search_rate", 30)

	v.SetDefault("database.path", "./data/acquire.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.recent_entries", 500)

	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.attempts", 3)
	v.SetDefault("http.backoff", time.Second)
	v.SetDefault("http.pool_size", 20)
	v.SetDefault("http.throttle.orpheus", "2s")
	v.SetDefault("http.throttle.redacted", "2s")
	v.SetDefault("http.throttle.rutracker", "1s")

	v.SetDefault("search.preference", "nzb")
	v.SetDefault("search.quality.mode", "highest")
	v.SetDefault("search.quality.low_buffer", 20)
	v.SetDefault("search.quality.high_buffer", 20)
	v.SetDefault("search.usenet_retention", 2000)
	v.SetDefault("search.minimum_seeders", 10)

	v.SetDefault("indexers.orpheus.url", "https://orpheus.network/")
	v.SetDefault("indexers.redacted.url", "https://redacted.sh")
	v.SetDefault("indexers.rutracker.url", "https://rutracker.org")
	v.SetDefault("indexers.soulseek.poll_interval", 2*time.Second)
	v.SetDefault("indexers.soulseek.search_timeout", 2*time.Minute)

	v.SetDefault("downloaders.torrent.magnet_links", "reject")

	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.cron", "*/5 * * * *")
	v.SetDefault("poller.max_age", 7*24*time.Hour)
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if _, ok := ParsePreference(c.Search.Preference); !ok {
		return fmt.Errorf("invalid search.preference %q", c.Search.Preference)
	}
	if _, ok := release.ParseQualityMode(c.Search.Quality.Mode); !ok {
		return fmt.Errorf("invalid search.quality.mode %q", c.Search.Quality.Mode)
	}
	for i, w := range c.Notify.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("notifications.webhooks[%d] has no url", i)
		}
	}
	if c.Search.Quality.LowBuffer < 0 || c.Search.Quality.HighBuffer < 0 {
		return fmt.Errorf("quality buffers must not be negative")
	}
	return nil
}

// QualityMode returns the parsed quality mode.
func (q QualityConfig) QualityMode() release.QualityMode {
	m, _ := release.ParseQualityMode(q.Mode)
	return m
}

// Preference is the tier ordering mode.
type Preference int

const (
	PreferUsenet Preference = iota
	PreferTorrent
	PreferMerge
	PreferPeerShare
)

func (p Preference) String() string {
	switch p {
	case PreferTorrent:
		return "torrent"
	case PreferMerge:
		return "merge"
	case PreferPeerShare:
		return "soulseek"
	default:
		return "usenet"
	}
}

// ParsePreference accepts names or the legacy numeric codes. Unknown numeric
// values above the known range mean merge.
func ParsePreference(s string) (Preference, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nzb", "usenet", "0":
		return PreferUsenet, true
	case "torrent", "1":
		return PreferTorrent, true
	case "merge", "both", "3":
		return PreferMerge, true
	case "soulseek", "peer", "2":
		return PreferPeerShare, true
	}
	return PreferUsenet, false
}

// PreferenceMode returns the parsed tier preference.
func (s SearchConfig) PreferenceMode() Preference {
	p, _ := ParsePreference(s.Preference)
	return p
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
