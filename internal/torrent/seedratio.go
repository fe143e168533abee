package torrent

import "github.com/slipstream/acquire/internal/release"

// SeedRatios resolves the configured seed ratio for a provider.
type SeedRatios struct {
	byProvider    map[string]float64
	byTorznabHost map[string]float64
}

// NewSeedRatios builds an empty table.
func NewSeedRatios() *SeedRatios {
	return &SeedRatios{
		byProvider:    make(map[string]float64),
		byTorznabHost: make(map[string]float64),
	}
}

// SetProvider records the ratio for a named provider such as "Redacted".
func (s *SeedRatios) SetProvider(provider string, ratio float64) {
	s.byProvider[provider] = ratio
}

// SetTorznabHost records the ratio for every provider served by host.
func (s *SeedRatios) SetTorznabHost(host string, ratio float64) {
	s.byTorznabHost[host] = ratio
}

// Lookup returns the ratio for provider. Torznab providers are resolved by
// the host embedded in the provider identity, or by the provider string
// itself when it is a bare host URL.
func (s *SeedRatios) Lookup(provider string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	if host, ok := release.TorznabHost(provider); ok {
		ratio, found := s.byTorznabHost[host]
		return ratio, found
	}
	if ratio, ok := s.byProvider[provider]; ok {
		return ratio, true
	}
	ratio, ok := s.byTorznabHost[provider]
	return ratio, ok
}
