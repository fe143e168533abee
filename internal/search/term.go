package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/pathutil"
	"github.com/slipstream/acquire/internal/release"
)

type replacement struct{ old, new string }

// Replacement tables are applied in order.
var (
	usenetReplacements = []replacement{
		{"...", ""}, {" & ", " "}, {" = ", " "}, {"?", ""}, {"$", "s"}, {" + ", " "},
		{`"`, ""}, {",", ""}, {"*", ""}, {".", ""}, {":", ""},
	}
	torrentReplacements = []replacement{
		{"...", ""}, {" & ", " "}, {" = ", " "}, {"?", ""}, {"$", "s"}, {" + ", " "},
		{`"`, ""}, {",", " "}, {"*", ""},
	}
	peerShareReplacements = []replacement{
		{"...", ""}, {" & ", " "}, {" = ", " "}, {"?", ""}, {"$", ""}, {" + ", " "},
		{`"`, ""}, {",", ""}, {"*", ""}, {".", ""}, {":", ""},
	}
)

func replacementsFor(cat indexer.Category) []replacement {
	switch cat {
	case indexer.CategoryTorrent:
		return torrentReplacements
	case indexer.CategoryPeerShare:
		return peerShareReplacements
	default:
		return usenetReplacements
	}
}

var pathChars = regexp.MustCompile(`[.\-/]`)

// shortName is the length below which an artist or title is considered
// ambiguous enough to need the year.
const shortName = 4

func replaceAll(s string, table []replacement) string {
	for _, r := range table {
		s = strings.ReplaceAll(s, r.old, r.new)
	}
	return s
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clean applies the table, transliterates, then applies the table again to
// catch characters the fold table produced.
func clean(s string, table []replacement) string {
	return replaceAll(pathutil.Transliterate(replaceAll(s, table)), table)
}

// Normalize cleans s for the dialect of cat, replaces path characters with
// spaces and collapses whitespace, repeating until the string is stable so
// that normalizing twice changes nothing.
func Normalize(s string, cat indexer.Category) string {
	table := replacementsFor(cat)
	for i := 0; i < 8; i++ {
		next := collapse(pathChars.ReplaceAllString(clean(s, table), " "))
		if next == s {
			break
		}
		s = next
	}
	return s
}

// orSemiClean keeps the native-script form when transliteration left
// nothing of a non-empty name.
func orSemiClean(cleaned, semi string) string {
	if cleaned == "" {
		return collapse(semi)
	}
	return cleaned
}

// BuildTerms derives the search terms for req in the dialect of cat.
//
// The year is only added when the artist and title alone are likely to
// match other releases: "part of" releases, self-titled releases and very
// short names. Various Artists releases drop the artist.
//
// For the peer-share dialect Query is the user term or empty: peer results
// are folder names and are only checked against an explicit user term.
func BuildTerms(req release.Request, cat indexer.Category) indexer.Terms {
	table := replacementsFor(cat)
	year := req.Year()

	semiAlbum := replaceAll(req.Title, table)
	semiArtist := replaceAll(req.Artist, table)
	cleanAlbum := orSemiClean(collapse(clean(req.Title, table)), semiAlbum)
	cleanArtist := orSemiClean(collapse(clean(req.Artist, table)), semiArtist)

	var term string
	switch {
	case req.SearchTerm != "":
		term = req.SearchTerm
	case req.Type == release.TypePartOf:
		term = cleanAlbum + " " + year
	case strings.Contains(req.Title, req.Artist) ||
		utf8.RuneCountInString(req.Artist) < shortName ||
		utf8.RuneCountInString(req.Title) < shortName:
		term = cleanArtist + " " + cleanAlbum + " " + year
	case req.Artist == release.VariousArtists:
		term = cleanAlbum + " " + year
	default:
		term = cleanArtist + " " + cleanAlbum
	}

	terms := indexer.Terms{
		Query:           collapse(pathChars.ReplaceAllString(term, " ")),
		Artist:          collapse(pathChars.ReplaceAllString(cleanArtist, " ")),
		Album:           collapse(pathChars.ReplaceAllString(cleanAlbum, " ")),
		SemiCleanArtist: collapse(pathChars.ReplaceAllString(semiArtist, " ")),
		SemiCleanAlbum:  collapse(pathChars.ReplaceAllString(semiAlbum, " ")),
		UserTerm:        req.SearchTerm,
		Year:            year,
	}

	if cat == indexer.CategoryPeerShare {
		// Peer searches are built from the clean names as they are.
		terms.Query = req.SearchTerm
		terms.Artist = cleanArtist
		terms.Album = cleanAlbum
	}
	return terms
}
