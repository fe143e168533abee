package indexer

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Session is an authenticated handle to a provider.
type Session interface {
	// Valid reports whether the session can still be used without logging
	// in again.
	Valid() bool
}

// LoginFunc establishes a new session.
type LoginFunc func(ctx context.Context) (Session, error)

// SessionCache keeps one authenticated session per provider for the life of
// the process. Concurrent logins for the same provider collapse into one.
type SessionCache struct {
	mu       sync.Mutex
	sessions map[string]Session
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewSessionCache creates an empty cache.
func NewSessionCache(logger zerolog.Logger) *SessionCache {
	return &SessionCache{
		sessions: make(map[string]Session),
		logger:   logger.With().Str("component", "sessions").Logger(),
	}
}

// Get returns the cached session for name, logging in when there is none or
// the cached one is no longer valid. A failed login leaves the cache empty
// for name so the next call retries.
func (c *SessionCache) Get(ctx context.Context, name string, login LoginFunc) (Session, error) {
	if s := c.cached(name); s != nil {
		return s, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		if s := c.cached(name); s != nil {
			return s, nil
		}
		c.logger.Info().Str("provider", name).Msg("Logging in")
		s, err := login(ctx)
		if err != nil {
			c.Invalidate(name)
			return nil, err
		}
		c.mu.Lock()
		c.sessions[name] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("provider", name).Msg("Login failed")
		return nil, err
	}
	return v.(Session), nil
}

func (c *SessionCache) cached(name string) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[name]
	if !ok {
		return nil
	}
	if !s.Valid() {
		delete(c.sessions, name)
		closeSession(s)
		return nil
	}
	return s
}

// Invalidate drops the session for name, e.g. after an authentication
// failure.
func (c *SessionCache) Invalidate(name string) {
	c.mu.Lock()
	s, ok := c.sessions[name]
	delete(c.sessions, name)
	c.mu.Unlock()
	if ok {
		c.logger.Debug().Str("provider", name).Msg("Session invalidated")
		closeSession(s)
	}
}

// Close tears down every session.
func (c *SessionCache) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]Session)
	c.mu.Unlock()
	for _, s := range sessions {
		closeSession(s)
	}
}

func closeSession(s Session) {
	if closer, ok := s.(io.Closer); ok {
		_ = closer.Close()
	}
}
