package search

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/release"
)

var (
	titleSeparators = regexp.MustCompile(`[.\-/_]`)
	nonWord         = regexp.MustCompile(`[^\p{L}\p{N}_]`)
	punctuation     = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	cleanWords      = []string{"clean", "edited", "censored"}
	dumbReplacer    = strings.NewReplacer("!", "i", "$", "s")
)

// VerifyConfig is the word policy applied to every title.
type VerifyConfig struct {
	// Mode is the quality mode of the release being searched.
	Mode release.QualityMode
	// IgnoredWords and RequiredWords are comma separated. A required entry
	// may list alternatives separated by " OR ".
	IgnoredWords        string
	RequiredWords       string
	IgnoreCleanReleases bool
}

// Verifier decides whether a result title belongs to the searched release.
// For a fixed configuration Verify is a pure function of its arguments.
type Verifier struct {
	mode        release.QualityMode
	ignored     []string
	required    [][]string
	ignoreClean bool
	logger      zerolog.Logger
}

func NewVerifier(cfg VerifyConfig, logger zerolog.Logger) *Verifier {
	v := &Verifier{
		mode:        cfg.Mode,
		ignored:     SplitWords(cfg.IgnoredWords),
		ignoreClean: cfg.IgnoreCleanReleases,
		logger:      logger.With().Str("component", "verify").Logger(),
	}
	for _, group := range SplitWords(cfg.RequiredWords) {
		var alternatives []string
		for _, w := range strings.Split(group, " OR ") {
			if w = strings.TrimSpace(w); w != "" {
				alternatives = append(alternatives, strings.ToLower(w))
			}
		}
		if len(alternatives) > 0 {
			v.required = append(v.required, alternatives)
		}
	}
	return v
}

// SplitWords splits a comma separated list, dropping blanks.
func SplitWords(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Verify applies the rejection rules in order: unwanted remix, unwanted
// lossless, ignored words, required words, clean releases, and finally every
// word of term must appear as a whole word in title.
func (v *Verifier) Verify(title, artistTerm, term string, losslessOnly bool) bool {
	title = titleSeparators.ReplaceAllString(title, " ")
	lowerTitle := strings.ToLower(title)
	lowerTerm := strings.ToLower(term)
	log := v.logger.With().Str("title", title).Str("artist", artistTerm).Logger()

	if strings.Contains(lowerTitle, "remix") && !strings.Contains(lowerTerm, "remix") {
		log.Info().Msg("Removed from results, remix album not requested")
		return false
	}

	if v.mode == release.QualityHighestLossy && !losslessOnly && release.IsLossless(title) {
		log.Info().Msg("Removed from results, lossless album not requested")
		return false
	}

	for _, w := range v.ignored {
		if strings.Contains(lowerTitle, strings.ToLower(w)) {
			log.Info().Str("word", w).Msg("Removed from results, contains ignored word")
			return false
		}
	}

	for _, group := range v.required {
		if !containsAny(lowerTitle, group) {
			log.Info().Strs("words", group).Msg("Removed from results, missing required word")
			return false
		}
	}

	if v.ignoreClean {
		for _, w := range cleanWords {
			if strings.Contains(lowerTitle, w) && !strings.Contains(lowerTerm, w) {
				log.Info().Str("word", w).Msg("Removed from results, clean release")
				return false
			}
		}
	}

	for _, token := range nonWord.Split(term, -1) {
		if token == "" || token == "Various" || token == "Artists" || token == "VA" {
			continue
		}
		if hasToken(title, token) {
			continue
		}
		cleanToken := strings.Map(func(r rune) rune {
			if strings.ContainsRune(punctuation, r) {
				return -1
			}
			return r
		}, token)
		if hasToken(title, cleanToken) {
			continue
		}
		dumbToken := dumbReplacer.Replace(token)
		if hasToken(title, dumbToken) {
			continue
		}
		log.Info().Str("token", token).Msg("Removed from results, missing token")
		return false
	}
	return true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// hasToken reports whether token appears in title delimited by non-word
// characters or the ends of the string.
func hasToken(title, token string) bool {
	if token == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)(?:[^\p{L}\p{N}_]|^)` + regexp.QuoteMeta(token) + `(?:[^\p{L}\p{N}_]|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(title)
}
