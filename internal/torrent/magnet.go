package torrent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
)

// MagnetPolicy decides what a blackhole torrent backend does with magnets.
type MagnetPolicy string

const (
	// MagnetOpen hands the link to the operating system's magnet handler.
	MagnetOpen MagnetPolicy = "open"
	// MagnetConvert downloads a .torrent for the hash from a cache service.
	MagnetConvert MagnetPolicy = "convert"
	// MagnetEmbed writes the magnet link into the blackhole as-is.
	MagnetEmbed MagnetPolicy = "embed"
	// MagnetReject refuses magnets.
	MagnetReject MagnetPolicy = "reject"
)

// ParseMagnetPolicy maps config values, including the legacy numeric
// codes, onto a policy. Unknown values reject.
func ParseMagnetPolicy(s string) MagnetPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "1":
		return MagnetOpen
	case "convert", "2":
		return MagnetConvert
	case "embed", "3":
		return MagnetEmbed
	default:
		return MagnetReject
	}
}

var (
	ErrMagnetRejected   = errors.New("magnet links are not accepted by the configured torrent backend")
	ErrConversionFailed = errors.New("unable to convert magnet into a torrent file")
)

// ConversionServices are URL templates taking an uppercase hex info hash.
var ConversionServices = []string{
	"https://itorrents.org/torrent/%s.torrent",
	"https://cache.torrentgalaxy.org/get/%s",
	"https://www.seedpeer.me/torrent/%s",
}

// Trackers appended to magnets built from a bare info hash.
var Trackers = []string{
	"udp://tracker.coppersurfer.tk:6969/announce",
	"udp://9.rarbg.me:2850/announce",
	"udp://9.rarbg.to:2920/announce",
	"udp://tracker.opentrackr.org:1337",
	"udp://tracker.internetwarriors.net:1337/announce",
	"udp://tracker.leechers-paradise.org:6969/announce",
	"udp://tracker.pirateparty.gr:6969/announce",
	"udp://tracker.cyberia.is:6969/announce",
}

// BuildMagnet builds a magnet URI from an info hash and display name.
func BuildMagnet(infoHash, name string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(infoHash)
	b.WriteString("&dn=")
	b.WriteString(url.PathEscape(name))
	for _, tr := range Trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

// EmbedMagnet wraps a magnet URI in the single key bencoded dictionary that
// some clients accept in place of a .torrent file.
func EmbedMagnet(link string) ([]byte, error) {
	return bencode.Marshal(map[string]string{"magnet-uri": link})
}

// Converter turns magnet links into .torrent files using public caches.
type Converter struct {
	http     *httpclient.Client
	services []string
	shuffle  func([]string)
	logger   zerolog.Logger
}

// NewConverter creates a converter over ConversionServices.
func NewConverter(http *httpclient.Client, logger zerolog.Logger) *Converter {
	return &Converter{
		http:     http,
		services: ConversionServices,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
		logger: logger.With().Str("component", "magnet").Logger(),
	}
}

// SetServices overrides the service list and ordering.
func (c *Converter) SetServices(services []string, shuffle func([]string)) {
	c.services = services
	if shuffle != nil {
		c.shuffle = shuffle
	}
}

// Convert tries each service in random order until one returns valid torrent
// metadata for the magnet's hash.
func (c *Converter) Convert(ctx context.Context, magnet string) ([]byte, error) {
	hash, err := InfoHash(magnet, nil)
	if err != nil {
		return nil, err
	}

	services := make([]string, len(c.services))
	copy(services, c.services)
	c.shuffle(services)

	for _, service := range services {
		target := fmt.Sprintf(service, hash)
		data, err := c.http.Get(ctx, &httpclient.Request{URL: target})
		if err != nil {
			c.logger.Debug().Err(err).Str("service", target).Msg("Magnet conversion service failed")
			continue
		}
		if !IsTorrent(data) {
			c.logger.Debug().Str("service", target).Msg("Magnet conversion service returned invalid torrent")
			continue
		}
		return data, nil
	}

	c.logger.Warn().Str("hash", hash).Msg("Unable to convert magnet into a torrent file")
	return nil, fmt.Errorf("%w: %s", ErrConversionFailed, hash)
}

// OpenFunc launches a URI with the platform's default handler.
type OpenFunc func(ctx context.Context, uri string) error

// OpenWithSystem starts the OS handler for uri without waiting for it.
func OpenWithSystem(ctx context.Context, uri string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", uri)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", uri)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", uri)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open magnet link: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
