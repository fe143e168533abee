package search

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/slipstream/acquire/internal/release"
)

func TestVerifier_Rules(t *testing.T) {
	const (
		artist = "Boards of Canada"
		term   = "Boards of Canada Music Has the Right to Children"
	)
	base := VerifyConfig{Mode: release.QualityHighestLossless}

	tests := []struct {
		name     string
		cfg      VerifyConfig
		title    string
		term     string
		lossless bool
		want     bool
	}{
		{"plain match", base, "Boards.of.Canada-Music.Has.The.Right.To.Children-1998", term, false, true},
		{"missing token", base, "Boards of Canada - Geogaddi", term, false, false},
		{"substring is not a word", base, "Boards of Canadas Music Has the Right to Childrens", term, false, false},
		{"remix not requested", base, "Boards of Canada Music Has the Right to Children Remix", term, false, false},
		{"remix requested", base, "Boards of Canada Music Has the Right to Children Remix", term + " Remix", false, true},
		{"lossless not wanted", VerifyConfig{Mode: release.QualityHighestLossy}, "Boards of Canada Music Has the Right to Children FLAC", term, false, false},
		{"lossless wanted by flag", VerifyConfig{Mode: release.QualityHighestLossy}, "Boards of Canada Music Has the Right to Children FLAC", term, true, true},
		{"ignored word", VerifyConfig{Mode: release.QualityHighestLossless, IgnoredWords: "vinyl, web"}, "Boards of Canada Music Has the Right to Children Vinyl", term, false, false},
		{"required word present", VerifyConfig{Mode: release.QualityHighestLossless, RequiredWords: "cd OR web"}, "Boards of Canada Music Has the Right to Children WEB", term, false, true},
		{"required word missing", VerifyConfig{Mode: release.QualityHighestLossless, RequiredWords: "cd OR web, 1998"}, "Boards of Canada Music Has the Right to Children WEB", term, false, false},
		{"clean release", VerifyConfig{Mode: release.QualityHighestLossless, IgnoreCleanReleases: true}, "Boards of Canada Music Has the Right to Children Clean", term, false, false},
		{"clean policy off", base, "Boards of Canada Music Has the Right to Children Clean", term, false, true},
		{"apostrophe splits tokens", base, "Guns N Roses Appetite", "Guns N' Roses Appetite", false, true},
		{"various artists skipped", base, "Pure Moods 1997", "Various Artists Pure Moods 1997", false, true},
		{"empty term", base, "anything at all", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.cfg, zerolog.Nop())
			assert.Equal(t, tt.want, v.Verify(tt.title, artist, tt.term, tt.lossless))
		})
	}
}

func TestVerifier_Deterministic(t *testing.T) {
	v := NewVerifier(VerifyConfig{Mode: release.QualityHighestLossy, IgnoredWords: "karaoke"}, zerolog.Nop())
	inputs := []struct {
		title, term string
		lossless    bool
	}{
		{"Artist - Album 2001 MP3", "Artist Album", false},
		{"Artist - Album 2001 FLAC", "Artist Album", false},
		{"Artist - Album Karaoke", "Artist Album", true},
		{"Other - Thing", "Artist Album", false},
	}
	for _, in := range inputs {
		first := v.Verify(in.title, "Artist", in.term, in.lossless)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, v.Verify(in.title, "Artist", in.term, in.lossless), in.title)
		}
	}
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, SplitWords(" a, ,b c ,"))
	assert.Nil(t, SplitWords(""))
}
