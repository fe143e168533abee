package search

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/testutil"
)

func result(title string, size int64, provider string, matches bool) release.Result {
	return release.NewResult(title, size, "https://"+provider+"/"+title, provider, release.KindUsenet).WithMatches(matches)
}

func titles(results []release.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Title
	}
	return out
}

// durationMs of testutil.Album at 320kbps is 155,648,000 bytes.
const targetAt320 = 155_648_000

func TestRanker_TieBreakBySize(t *testing.T) {
	rk := NewRanker("", QualityConfig{}, zerolog.Nop())
	a := result("A", 300, "p", true)
	b := result("B", 500, "p", true)

	ranked := rk.Rank([]release.Result{a, b}, testutil.Album(), 3_800_000)
	assert.Equal(t, []string{"B", "A"}, titles(ranked))
}

func TestRanker_MatchesAndPriority(t *testing.T) {
	rk := NewRanker("nzb.preferred, Exact Title", QualityConfig{}, zerolog.Nop())
	results := []release.Result{
		result("big but unmatched", 900, "p", false),
		result("small", 100, "p", true),
		result("preferred provider", 200, "nzb.preferred", true),
		result("Exact Title", 150, "p", true),
	}

	ranked := rk.Rank(results, testutil.Album(), 0)
	assert.Equal(t, []string{"preferred provider", "Exact Title", "small", "big but unmatched"}, titles(ranked))
	assert.Equal(t, 2, rk.Priority(results[2]))
	assert.Equal(t, 1, rk.Priority(results[3]))
	assert.Equal(t, 0, rk.Priority(results[1]))
}

func TestRanker_TargetBitrate(t *testing.T) {
	req := testutil.Album()
	req.Quality = release.QualityTargetBitrate
	cfg := QualityConfig{TargetBitrate: 320, LowBuffer: 20, HighBuffer: 20}

	t.Run("closest size first", func(t *testing.T) {
		rk := NewRanker("", cfg, zerolog.Nop())
		ranked := rk.Rank([]release.Result{
			result("far", targetAt320+40_000_000, "p", true),
			result("near", targetAt320-5_000_000, "p", true),
			result("Album FLAC", 400_000_000, "p", true),
		}, req, req.DurationMs)
		assert.Equal(t, []string{"near", "far"}, titles(ranked))
	})

	t.Run("lossless fallback", func(t *testing.T) {
		cfg := cfg
		cfg.AllowLossless = true
		rk := NewRanker("", cfg, zerolog.Nop())
		ranked := rk.Rank([]release.Result{
			result("Album FLAC", 300_000_000, "p", true),
			result("Album FLAC 24bit", 900_000_000, "p", true),
		}, req, req.DurationMs)
		assert.Equal(t, []string{"Album FLAC 24bit", "Album FLAC"}, titles(ranked))
	})

	t.Run("lossless only without fallback", func(t *testing.T) {
		rk := NewRanker("", cfg, zerolog.Nop())
		ranked := rk.Rank([]release.Result{result("Album FLAC", 300_000_000, "p", true)}, req, req.DurationMs)
		assert.Empty(t, ranked)
	})

	t.Run("no duration falls back to size", func(t *testing.T) {
		rk := NewRanker("", cfg, zerolog.Nop())
		ranked := rk.Rank([]release.Result{
			result("small", 100, "p", true),
			result("big", 200, "p", true),
		}, req, 0)
		assert.Equal(t, []string{"big", "small"}, titles(ranked))
	})
}

type snatchedSet map[string]bool

func (s snatchedSet) HasBeenSnatched(_ context.Context, releaseID, url string) (bool, error) {
	return s[releaseID+"|"+url], nil
}

func TestQualityFilter_Windows(t *testing.T) {
	ctx := context.Background()
	req := testutil.Album()

	t.Run("lossless bitrate bounds", func(t *testing.T) {
		req := req
		req.Quality = release.QualityLosslessOnly
		f := NewQualityFilter(QualityConfig{LosslessBitrateFrom: 700, LosslessBitrateTo: 1400}, nil, zerolog.Nop())
		kept := f.Filter(ctx, []release.Result{
			result("too small FLAC", 300_000_000, "p", true),
			result("right FLAC", 400_000_000, "p", true),
			result("too big FLAC", 700_000_000, "p", true),
		}, req, req.DurationMs, false)
		assert.Equal(t, []string{"right FLAC"}, titles(kept))
	})

	t.Run("target bitrate buffers", func(t *testing.T) {
		req := req
		req.Quality = release.QualityTargetBitrate
		cfg := QualityConfig{TargetBitrate: 320, LowBuffer: 20, HighBuffer: 20, AllowLossless: true}
		f := NewQualityFilter(cfg, nil, zerolog.Nop())

		low, high, keep := f.Window(req, req.DurationMs)
		assert.InDelta(t, targetAt320*0.8, low, 1)
		assert.InDelta(t, targetAt320*1.2, high, 1)
		assert.True(t, keep)

		kept := f.Filter(ctx, []release.Result{
			result("too small", 100_000_000, "p", true),
			result("fits", 150_000_000, "p", true),
			result("too big MP3", 300_000_000, "p", true),
			result("too big FLAC", 300_000_000, "p", true),
		}, req, req.DurationMs, false)
		assert.Equal(t, []string{"fits", "too big FLAC"}, titles(kept))
	})

	t.Run("highest quality has no window", func(t *testing.T) {
		f := NewQualityFilter(QualityConfig{TargetBitrate: 320, LowBuffer: 20, HighBuffer: 20}, nil, zerolog.Nop())
		low, high, _ := f.Window(req, req.DurationMs)
		assert.Zero(t, low)
		assert.Zero(t, high)
	})
}

func TestQualityFilter_DedupOnlyWhenAutomatic(t *testing.T) {
	ctx := context.Background()
	req := testutil.Album()
	seen := result("seen", 100, "p", true)
	fresh := result("fresh", 100, "p", true)
	f := NewQualityFilter(QualityConfig{}, snatchedSet{req.ID + "|" + seen.URL: true}, zerolog.Nop())

	automatic := f.Filter(ctx, []release.Result{seen, fresh}, req, req.DurationMs, true)
	require.Len(t, automatic, 1)
	assert.Equal(t, "fresh", automatic[0].Title)

	manual := f.Filter(ctx, []release.Result{seen, fresh}, req, req.DurationMs, false)
	assert.Len(t, manual, 2)
}
