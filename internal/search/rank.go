package search

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/release"
)

// Ranker orders filtered results, best first.
type Ranker struct {
	preferred []string
	quality   QualityConfig
	logger    zerolog.Logger
}

func NewRanker(preferredWords string, quality QualityConfig, logger zerolog.Logger) *Ranker {
	return &Ranker{
		preferred: SplitWords(preferredWords),
		quality:   quality,
		logger:    logger.With().Str("component", "rank").Logger(),
	}
}

type scored struct {
	result   release.Result
	priority int
	delta    float64
}

// Priority scores a result against the preferred words. A word counts when
// it equals the whole title or the provider name; earlier words weigh more.
func (rk *Ranker) Priority(r release.Result) int {
	title := strings.ToLower(r.Title)
	provider := strings.ToLower(r.Provider)
	n := len(rk.preferred)

	priority := 0
	for i, w := range rk.preferred {
		w = strings.ToLower(w)
		if w == title || w == provider {
			priority += n - i
		}
	}
	return priority
}

// Rank returns results best first. In target-bitrate mode lossy results are
// ordered by distance from the target size; lossless results are only
// returned when no lossy result is left and the lossless fallback is
// allowed. An empty slice means nothing acceptable was found.
func (rk *Ranker) Rank(results []release.Result, req release.Request, durationMs int64) []release.Result {
	all := make([]scored, len(results))
	for i, r := range results {
		all[i] = scored{result: r, priority: rk.Priority(r)}
	}

	if req.Quality != release.QualityTargetBitrate || rk.quality.TargetBitrate <= 0 {
		return byPriorityThenSize(all)
	}

	target := sizeForBitrate(durationMs, rk.quality.TargetBitrate)
	if target == 0 {
		rk.logger.Info().Str("artist", req.Artist).Str("title", req.Title).
			Msg("No track information, defaulting to highest quality")
		return byPriorityThenSize(all)
	}

	var lossy, lossless []scored
	for _, s := range all {
		if release.IsLossless(s.result.Title) {
			lossless = append(lossless, s)
			continue
		}
		s.delta = math.Abs(target - float64(s.result.Size))
		lossy = append(lossy, s)
	}

	if len(lossy) > 0 {
		sort.SliceStable(lossy, func(i, j int) bool {
			a, b := lossy[i], lossy[j]
			if a.result.Matches != b.result.Matches {
				return a.result.Matches
			}
			if a.priority != b.priority {
				return a.priority > b.priority
			}
			return a.delta < b.delta
		})
		return unwrap(lossy)
	}

	if len(lossless) > 0 && rk.quality.AllowLossless {
		rk.logger.Info().Msg("No appropriate lossy matches, using lossless instead")
		return byPriorityThenSize(lossless)
	}

	rk.logger.Info().Str("artist", req.Artist).Str("title", req.Title).Msg("No appropriate matches found")
	return nil
}

func byPriorityThenSize(all []scored) []release.Result {
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.result.Matches != b.result.Matches {
			return a.result.Matches
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.result.Size > b.result.Size
	})
	return unwrap(all)
}

func unwrap(all []scored) []release.Result {
	out := make([]release.Result, len(all))
	for i, s := range all {
		out[i] = s.result
	}
	return out
}
