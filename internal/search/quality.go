package search

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/release"
)

// SnatchChecker reports whether a release has already been grabbed from url.
type SnatchChecker interface {
	HasBeenSnatched(ctx context.Context, releaseID, url string) (bool, error)
}

// QualityConfig holds the size window settings.
type QualityConfig struct {
	// TargetBitrate is in kbps; zero disables target-bitrate sizing.
	TargetBitrate int
	// LowBuffer and HighBuffer are percentages around the target size.
	LowBuffer  float64
	HighBuffer float64
	// AllowLossless keeps lossless results that overflow the high limit and
	// lets ranking fall back to them.
	AllowLossless       bool
	LosslessBitrateFrom int
	LosslessBitrateTo   int
}

// AllowsLosslessFallback reports whether target-bitrate searches may return
// lossless results.
func (c QualityConfig) AllowsLosslessFallback() bool {
	return c.TargetBitrate > 0 && c.HighBuffer > 0 && c.AllowLossless
}

// sizeForBitrate converts an album duration and a kbps rate into bytes.
func sizeForBitrate(durationMs int64, kbps int) float64 {
	return float64(durationMs) / 1000 * float64(kbps) * 128
}

// QualityFilter drops results outside the expected size window and, for
// automatic searches, results already snatched for the release.
type QualityFilter struct {
	cfg      QualityConfig
	snatched SnatchChecker
	logger   zerolog.Logger
}

func NewQualityFilter(cfg QualityConfig, snatched SnatchChecker, logger zerolog.Logger) *QualityFilter {
	return &QualityFilter{
		cfg:      cfg,
		snatched: snatched,
		logger:   logger.With().Str("component", "quality").Logger(),
	}
}

// Window returns the accepted size range for req, zero meaning unbounded,
// and whether lossless results above the high limit are kept.
func (f *QualityFilter) Window(req release.Request, durationMs int64) (low, high float64, keepLossless bool) {
	switch {
	case req.Quality == release.QualityLosslessOnly && durationMs > 0 &&
		(f.cfg.LosslessBitrateFrom > 0 || f.cfg.LosslessBitrateTo > 0):
		if f.cfg.LosslessBitrateFrom > 0 {
			low = sizeForBitrate(durationMs, f.cfg.LosslessBitrateFrom)
		}
		if f.cfg.LosslessBitrateTo > 0 {
			high = sizeForBitrate(durationMs, f.cfg.LosslessBitrateTo)
		}
	case req.Quality == release.QualityTargetBitrate && f.cfg.TargetBitrate > 0 && durationMs > 0:
		target := sizeForBitrate(durationMs, f.cfg.TargetBitrate)
		if f.cfg.LowBuffer > 0 {
			low = target - target*f.cfg.LowBuffer/100
		}
		if f.cfg.HighBuffer > 0 {
			high = target + target*f.cfg.HighBuffer/100
			keepLossless = f.cfg.AllowLossless
		}
	}
	return low, high, keepLossless
}

// Filter applies the size window and, when automatic, the snatch history.
func (f *QualityFilter) Filter(ctx context.Context, results []release.Result, req release.Request, durationMs int64, automatic bool) []release.Result {
	low, high, keepLossless := f.Window(req, durationMs)

	kept := make([]release.Result, 0, len(results))
	for _, r := range results {
		log := f.logger.With().
			Str("title", r.Title).
			Str("provider", release.ProviderDisplayName(r.Provider)).
			Float64("sizeMB", release.MegaBytes(r.Size)).
			Logger()

		if low > 0 && float64(r.Size) < low {
			log.Info().Float64("minMB", low/1048576).Msg("Result is too small for this album")
			continue
		}
		if high > 0 && float64(r.Size) > high {
			log.Info().Float64("maxMB", high/1048576).Msg("Result is too large for this album")
			if !(keepLossless && release.IsLossless(r.Title)) {
				continue
			}
		}

		if automatic && f.snatched != nil {
			done, err := f.snatched.HasBeenSnatched(ctx, req.ID, r.URL)
			if err != nil {
				log.Warn().Err(err).Msg("Unable to check snatch history")
			} else if done {
				log.Info().Msg("Result has already been downloaded, skipping")
				continue
			}
		}

		kept = append(kept, r)
	}
	return kept
}
