// Package startup retries the steps of process start that may run before
// the network or a mounted volume is ready.
package startup

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// RetryConfig configures the exponential backoff.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  uint
}

// DefaultRetryConfig waits up to roughly a minute.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
	}
}

// Transient reports whether err is likely to go away on its own: network
// failures, and missing or busy files on a volume that is still mounting.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, fs.ErrNotExist) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
		"connection reset",
		"temporary failure in name resolution",
		"database is locked",
		"input/output error",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WithRetry runs fn until it succeeds, fails with a non-transient error, or
// the attempts run out.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, fn func() error, logger zerolog.Logger) error {
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Transient),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Str("operation", name).Uint("attempt", n+1).Uint("maxAttempts", attempts).Msg("Transient error, will retry")
		}),
	)
	if err != nil {
		logger.Error().Err(err).Str("operation", name).Msg("Operation failed")
	}
	return err
}
