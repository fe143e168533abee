// Package ratelimit throttles API clients by IP and locks out clients that
// keep presenting a wrong API key.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
	MaxLockoutDuration       = time.Hour
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type lockout struct {
	failedAttempts int
	lockedUntil    time.Time
	lockoutCount   int
}

// Guard holds per-IP request limiters and API key failure lockouts.
type Guard struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	lockouts map[string]*lockout

	perMinute           int
	maxFailedAttempts   int
	baseLockoutDuration time.Duration
	now                 func() time.Time
}

// NewGuard allows perMinute requests per IP through Middleware. Zero
// disables request limiting; lockouts still apply.
func NewGuard(perMinute int) *Guard {
	return &Guard{
		visitors:            make(map[string]*visitor),
		lockouts:            make(map[string]*lockout),
		perMinute:           perMinute,
		maxFailedAttempts:   DefaultMaxFailedAttempts,
		baseLockoutDuration: DefaultLockoutDuration,
		now:                 time.Now,
	}
}

// Middleware rejects requests over the per-IP rate with 429.
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !g.Allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}
			return next(c)
		}
	}
}

// Allow takes one token from ip's bucket.
func (g *Guard) Allow(ip string) bool {
	if g.perMinute <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.perMinute)), g.perMinute)}
		g.visitors[ip] = v
	}
	v.lastSeen = g.now()
	return v.limiter.AllowN(v.lastSeen, 1)
}

// Locked reports whether ip is locked out after repeated failures.
func (g *Guard) Locked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.lockouts[ip]
	return ok && g.now().Before(l.lockedUntil)
}

// Fail records a failed attempt. Each lockout is longer than the last, up
// to MaxLockoutDuration.
func (g *Guard) Fail(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.lockouts[ip]
	if !ok {
		l = &lockout{}
		g.lockouts[ip] = l
	}

	now := g.now()
	if now.After(l.lockedUntil) && l.failedAttempts >= g.maxFailedAttempts {
		l.failedAttempts = 0
	}
	l.failedAttempts++

	if l.failedAttempts >= g.maxFailedAttempts {
		l.lockoutCount++
		l.lockedUntil = now.Add(min(g.baseLockoutDuration*time.Duration(l.lockoutCount), MaxLockoutDuration))
	}
}

// Succeed clears the failure history of ip.
func (g *Guard) Succeed(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lockouts, ip)
}

// Cleanup forgets idle visitors and expired lockouts.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for ip, v := range g.visitors {
		if now.Sub(v.lastSeen) > 3*time.Minute {
			delete(g.visitors, ip)
		}
	}
	for ip, l := range g.lockouts {
		if now.After(l.lockedUntil) && l.failedAttempts < g.maxFailedAttempts {
			delete(g.lockouts, ip)
		}
	}
}

// StartCleanup runs Cleanup every interval until done is closed.
func (g *Guard) StartCleanup(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Cleanup()
			case <-done:
				return
			}
		}
	}()
}
