package release

import (
	"strings"

	"github.com/moistari/rls"
)

var losslessCodecs = map[string]bool{
	"flac": true,
	"alac": true,
	"ape":  true,
	"wav":  true,
}

// IsLossless reports whether a release title advertises a lossless format.
func IsLossless(title string) bool {
	if strings.Contains(strings.ToLower(title), "flac") {
		return true
	}

	parsed := rls.ParseString(title)
	for _, audio := range parsed.Audio {
		if losslessCodecs[strings.ToLower(audio)] {
			return true
		}
	}
	return losslessCodecs[strings.ToLower(parsed.Ext)]
}

// ProviderDisplayName turns an internal provider identity into something
// readable: "Torznab|name|host" becomes "Torznab name" and URL hosts lose
// their scheme.
func ProviderDisplayName(provider string) string {
	switch {
	case strings.HasPrefix(provider, "Torznab"):
		parts := strings.Split(provider, "|")
		if len(parts) > 1 {
			return "Torznab " + parts[1]
		}
		return provider
	case strings.HasPrefix(provider, "http://"), strings.HasPrefix(provider, "https://"):
		return provider[strings.Index(provider, "//")+2:]
	default:
		return provider
	}
}

// TorznabProvider builds the provider identity for a torznab hit that names
// its backing indexer.
func TorznabProvider(indexerName, host string) string {
	return "Torznab|" + indexerName + "|" + host
}

// TorznabHost extracts the host from a Torznab provider identity.
func TorznabHost(provider string) (string, bool) {
	if !strings.HasPrefix(provider, "Torznab|") {
		return "", false
	}
	parts := strings.SplitN(provider, "|", 3)
	if len(parts) != 3 {
		return "", false
	}
	return parts[2], true
}

// MegaBytes formats a byte count the way log lines report sizes.
func MegaBytes(size int64) float64 {
	return float64(size) / 1048576
}
