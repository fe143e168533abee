package search

import (
	"context"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
)

// TierOrder lists the provider categories tried for a preference, in order.
// Merge queries the same tiers but pools their results.
func TierOrder(p config.Preference) []indexer.Category {
	switch p {
	case config.PreferTorrent:
		return []indexer.Category{indexer.CategoryTorrent, indexer.CategoryUsenet, indexer.CategoryPeerShare}
	case config.PreferPeerShare:
		return []indexer.Category{indexer.CategoryPeerShare, indexer.CategoryUsenet, indexer.CategoryTorrent}
	default:
		return []indexer.Category{indexer.CategoryUsenet, indexer.CategoryTorrent, indexer.CategoryPeerShare}
	}
}

// KindFor maps a provider category onto the result kind its downloader
// consumes.
func KindFor(cat indexer.Category) release.Kind {
	switch cat {
	case indexer.CategoryUsenet:
		return release.KindUsenet
	case indexer.CategoryPeerShare:
		return release.KindPeerShare
	default:
		return release.KindTorrent
	}
}

// Available reports whether a tier has at least one provider and a
// downloader able to take its results.
func (s *Service) Available(cat indexer.Category) bool {
	return len(s.providers[cat]) > 0 && s.downloaders != nil && s.downloaders.Has(KindFor(cat))
}

// AvailableTiers lists the tiers that would run for the configured
// preference.
func (s *Service) AvailableTiers() []indexer.Category {
	var tiers []indexer.Category
	for _, cat := range TierOrder(s.cfg.Preference) {
		if s.Available(cat) {
			tiers = append(tiers, cat)
		}
	}
	return tiers
}

// run walks the tiers. In ordered modes the first tier that leaves any
// result after verification and filtering ends the walk; in merge mode every
// available tier is queried and the results are pooled.
func (s *Service) run(ctx context.Context, req release.Request, automatic bool) []release.Result {
	var pooled []release.Result
	for _, cat := range s.AvailableTiers() {
		if ctx.Err() != nil {
			break
		}
		results := s.searchTier(ctx, cat, req, automatic)
		if s.cfg.Preference == config.PreferMerge {
			pooled = append(pooled, results...)
			continue
		}
		if len(results) > 0 {
			return results
		}
		s.logger.Info().Str("tier", string(cat)).Msg("No results in tier, trying next")
	}
	return pooled
}

// searchTier queries every provider of one category in turn, keeps the
// titles that verify and applies the size and snatch filters.
func (s *Service) searchTier(ctx context.Context, cat indexer.Category, req release.Request, automatic bool) []release.Result {
	terms := BuildTerms(req, cat)
	q := indexer.Query{
		Terms:         terms,
		Request:       req,
		LosslessOnly:  req.Quality == release.QualityLosslessOnly,
		AllowLossless: req.Quality == release.QualityTargetBitrate && s.cfg.Quality.AllowsLosslessFallback(),
	}

	var raw []release.Result
	for _, p := range s.providers[cat] {
		if ctx.Err() != nil {
			break
		}
		found := p.Search(ctx, q)
		s.logger.Debug().Str("provider", release.ProviderDisplayName(p.Name())).Int("results", len(found)).Msg("Provider search finished")
		raw = append(raw, found...)
	}

	verifier := NewVerifier(VerifyConfig{
		Mode:                req.Quality,
		IgnoredWords:        s.cfg.IgnoredWords,
		RequiredWords:       s.cfg.RequiredWords,
		IgnoreCleanReleases: s.cfg.IgnoreCleanReleases,
	}, s.logger)

	verified := make([]release.Result, 0, len(raw))
	for _, r := range raw {
		if verifier.Verify(r.Title, terms.Artist, terms.Query, q.LosslessOnly) {
			verified = append(verified, r.WithMatches(true))
		}
	}
	if len(verified) == 0 {
		return nil
	}
	return s.filter.Filter(ctx, verified, req, req.DurationMs, automatic)
}
