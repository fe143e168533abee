package downloader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/release"
)

// Registry holds at most one backend per transport kind.
type Registry struct {
	mu      sync.RWMutex
	byType  map[Type]Client
	byKind  map[release.Kind]Client
	ordered []Type
	logger  zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byType: make(map[Type]Client),
		byKind: make(map[release.Kind]Client),
		logger: logger.With().Str("component", "downloaders").Logger(),
	}
}

// Register adds a backend, replacing any previous backend of the same kind.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byKind[c.Kind()]; ok {
		delete(r.byType, prev.Type())
		for i, t := range r.ordered {
			if t == prev.Type() {
				r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
				break
			}
		}
	}
	r.byType[c.Type()] = c
	r.byKind[c.Kind()] = c
	r.ordered = append(r.ordered, c.Type())
	r.logger.Info().Str("type", string(c.Type())).Str("kind", string(c.Kind())).Msg("Download client registered")
}

// For returns the backend for a result kind. Magnets go to the torrent
// backend.
func (r *Registry) For(kind release.Kind) (Client, bool) {
	if kind == release.KindMagnet {
		kind = release.KindTorrent
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byKind[kind]
	return c, ok
}

// Has reports whether a backend serves kind.
func (r *Registry) Has(kind release.Kind) bool {
	_, ok := r.For(kind)
	return ok
}

// Get returns the backend of an exact type.
func (r *Registry) Get(typ Type) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[typ]
	return c, ok
}

// Types lists the registered backends in registration order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Type(nil), r.ordered...)
}

// Resolve finds a registered backend by a loosely written name, such as the
// client column of an older snatch record ("qBittorrent", "sab").
func (r *Registry) Resolve(name string) (Client, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	for _, kind := range []release.Kind{release.KindUsenet, release.KindTorrent} {
		if typ, ok := ParseType(name, kind); ok {
			if c, ok := r.Get(typ); ok {
				return c, true
			}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best     Client
		bestRank = -1
	)
	for _, typ := range r.ordered {
		rank := fuzzy.RankMatchNormalizedFold(name, string(typ))
		if rank < 0 {
			continue
		}
		if bestRank < 0 || rank < bestRank {
			best, bestRank = r.byType[typ], rank
		}
	}
	return best, best != nil
}

// CheckCompleted polls one download on the named backend. The status is nil
// when the backend cannot tell.
func (r *Registry) CheckCompleted(ctx context.Context, typ Type, id string) (*release.CompletionStatus, error) {
	c, ok := r.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrUnsupported, typ)
	}
	return c.CheckCompleted(ctx, id), nil
}
