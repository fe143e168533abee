package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/downloader/blackhole"
	"github.com/slipstream/acquire/internal/grab"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/indexer"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/snatch"
	"github.com/slipstream/acquire/internal/testutil"
	"github.com/slipstream/acquire/internal/torrent"
)

const (
	flacTitle = "Boards.of.Canada-Music.Has.The.Right.To.Children-FLAC-1998"
	mp3Title  = "Boards.of.Canada-Music.Has.The.Right.To.Children-MP3-320-1998"
)

type fakeProvider struct {
	name    string
	cat     indexer.Category
	results []release.Result
	calls   int
	queries []indexer.Query
}

func (p *fakeProvider) Name() string               { return p.name }
func (p *fakeProvider) Category() indexer.Category { return p.cat }

func (p *fakeProvider) Search(_ context.Context, q indexer.Query) []release.Result {
	p.calls++
	p.queries = append(p.queries, q)
	return p.results
}

type kinds map[release.Kind]bool

func (k kinds) Has(kind release.Kind) bool { return k[kind] }

func usenetProvider(base string) *fakeProvider {
	return &fakeProvider{
		name: "nzb.example",
		cat:  indexer.CategoryUsenet,
		results: []release.Result{
			release.NewResult(mp3Title, 92<<20, base+"/mp3", "nzb.example", release.KindUsenet),
			release.NewResult(flacTitle, 380<<20, base+"/flac", "nzb.example", release.KindUsenet),
		},
	}
}

func torrentProvider() *fakeProvider {
	return &fakeProvider{
		name: "The Pirate Bay",
		cat:  indexer.CategoryTorrent,
		results: []release.Result{
			release.NewResult("Boards of Canada - Music Has the Right to Children (1998) [FLAC]", 400<<20, "magnet:?xt=urn:btih:AAAA", "The Pirate Bay", release.KindTorrent),
		},
	}
}

func newService(pref config.Preference, available Downloaders, snatched SnatchChecker, providers ...indexer.Provider) *Service {
	svc := NewService(Config{Preference: pref}, available, snatched, zerolog.Nop())
	for _, p := range providers {
		svc.AddProvider(p)
	}
	return svc
}

func TestTierOrder(t *testing.T) {
	assert.Equal(t, []indexer.Category{indexer.CategoryUsenet, indexer.CategoryTorrent, indexer.CategoryPeerShare}, TierOrder(config.PreferUsenet))
	assert.Equal(t, []indexer.Category{indexer.CategoryTorrent, indexer.CategoryUsenet, indexer.CategoryPeerShare}, TierOrder(config.PreferTorrent))
	assert.Equal(t, []indexer.Category{indexer.CategoryPeerShare, indexer.CategoryUsenet, indexer.CategoryTorrent}, TierOrder(config.PreferPeerShare))
}

func TestSearch_TorrentFirstShortCircuits(t *testing.T) {
	usenet := usenetProvider("https://nzb.example")
	torrents := torrentProvider()
	svc := newService(config.PreferTorrent, kinds{release.KindUsenet: true, release.KindTorrent: true}, nil, usenet, torrents)

	results := svc.Search(context.Background(), testutil.Album(), false)
	require.Len(t, results, 1)
	assert.Equal(t, "The Pirate Bay", results[0].Provider)
	assert.True(t, results[0].Matches)
	assert.Equal(t, 1, torrents.calls)
	assert.Zero(t, usenet.calls)
}

func TestSearch_FallsThroughEmptyTier(t *testing.T) {
	usenet := usenetProvider("https://nzb.example")
	torrents := &fakeProvider{name: "empty", cat: indexer.CategoryTorrent}
	svc := newService(config.PreferTorrent, kinds{release.KindUsenet: true, release.KindTorrent: true}, nil, usenet, torrents)

	results := svc.Search(context.Background(), testutil.Album(), false)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, torrents.calls)
	assert.Equal(t, 1, usenet.calls)
}

func TestSearch_UnverifiedResultsDoNotShortCircuit(t *testing.T) {
	usenet := usenetProvider("https://nzb.example")
	torrents := &fakeProvider{
		name:    "tracker",
		cat:     indexer.CategoryTorrent,
		results: []release.Result{release.NewResult("Someone Else - Another Album", 1, "https://t/1", "tracker", release.KindTorrent)},
	}
	svc := newService(config.PreferTorrent, kinds{release.KindUsenet: true, release.KindTorrent: true}, nil, usenet, torrents)

	results := svc.Search(context.Background(), testutil.Album(), false)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, usenet.calls)
}

func TestSearch_TierNeedsDownloader(t *testing.T) {
	usenet := usenetProvider("https://nzb.example")
	torrents := torrentProvider()
	svc := newService(config.PreferUsenet, kinds{release.KindTorrent: true}, nil, usenet, torrents)

	assert.Equal(t, []indexer.Category{indexer.CategoryTorrent}, svc.AvailableTiers())
	results := svc.Search(context.Background(), testutil.Album(), false)
	require.Len(t, results, 1)
	assert.Zero(t, usenet.calls)
}

func TestSearch_MergeQueriesEveryTier(t *testing.T) {
	usenet := usenetProvider("https://nzb.example")
	torrents := torrentProvider()
	svc := newService(config.PreferMerge, kinds{release.KindUsenet: true, release.KindTorrent: true}, nil, usenet, torrents)

	results := svc.Search(context.Background(), testutil.Album(), false)
	require.Len(t, results, 3)
	assert.Equal(t, 1, usenet.calls)
	assert.Equal(t, 1, torrents.calls)
	assert.Equal(t, "The Pirate Bay", results[0].Provider)
	assert.Equal(t, flacTitle, results[1].Title)
}

func TestSearch_QueryCarriesTermsAndFormat(t *testing.T) {
	usenet := usenetProvider("https://nzb.example")
	svc := newService(config.PreferUsenet, kinds{release.KindUsenet: true}, nil, usenet)

	req := testutil.Album()
	req.Quality = release.QualityLosslessOnly
	svc.Search(context.Background(), req, false)

	require.Len(t, usenet.queries, 1)
	q := usenet.queries[0]
	assert.Equal(t, "Boards of Canada Music Has the Right to Children", q.Terms.Query)
	assert.True(t, q.LosslessOnly)
	assert.Equal(t, indexer.FormatLossless, q.Format())
}

func TestSearch_DedupAutomaticOnly(t *testing.T) {
	ctx := context.Background()
	tdb := testutil.NewTestDB(t)
	ledger := snatch.NewLedger(tdb.Conn, tdb.Logger)
	usenet := usenetProvider("https://nzb.example")
	req := testutil.Album()

	_, err := ledger.Insert(ctx, release.SnatchRecord{
		ReleaseID: req.ID,
		Title:     flacTitle,
		URL:       "https://nzb.example/flac",
		Status:    release.StatusSnatched,
		Kind:      release.KindUsenet,
	})
	require.NoError(t, err)

	svc := newService(config.PreferUsenet, kinds{release.KindUsenet: true}, ledger, usenet)

	automatic := svc.Search(ctx, req, true)
	require.Len(t, automatic, 1)
	assert.Equal(t, mp3Title, automatic[0].Title)

	manual := svc.Search(ctx, req, false)
	assert.Len(t, manual, 2)
}

func TestSearchAndDispatch_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fixture := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <file poster="poster@example" date="1" subject="boc.rar">
    <segments><segment bytes="1024" number="1">boc@example</segment></segments>
  </file>
</nzb>`)
	var fetched []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = append(fetched, r.URL.Path)
		_, _ = w.Write(fixture)
	}))
	defer srv.Close()

	tdb := testutil.NewTestDB(t)
	ledger := snatch.NewLedger(tdb.Conn, tdb.Logger)
	dir := t.TempDir()
	registry := downloader.NewRegistry(zerolog.Nop())
	registry.Register(blackhole.NewNZB(dir, zerolog.Nop()))

	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, zerolog.Nop())
	dispatcher := grab.NewService(registry, hc, ledger, tdb.Logger)
	dispatcher.SetSeedRatios(torrent.NewSeedRatios())

	svc := newService(config.PreferUsenet, registry, ledger, usenetProvider(srv.URL))
	svc.SetDispatcher(dispatcher)

	req := testutil.Album()
	results := svc.Search(ctx, req, true)
	require.Len(t, results, 2)
	assert.Equal(t, flacTitle, results[0].Title)
	assert.Equal(t, mp3Title, results[1].Title)

	out, err := svc.DispatchBest(ctx, results, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"/flac"}, fetched)

	written, err := os.ReadFile(filepath.Join(dir, flacTitle+".nzb"))
	require.NoError(t, err)
	assert.Equal(t, fixture, written)

	records, err := ledger.ForRelease(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, release.StatusSnatched, records[0].Status)
	assert.Equal(t, srv.URL+"/flac", records[0].URL)
	assert.Equal(t, out.Folder, records[0].FolderName)

	again := svc.Search(ctx, req, true)
	require.Len(t, again, 1)
	assert.Equal(t, mp3Title, again[0].Title)
}

func TestDispatchBest_NoResults(t *testing.T) {
	svc := newService(config.PreferUsenet, nil, nil)
	_, err := svc.DispatchBest(context.Background(), nil, testutil.Album())
	assert.ErrorIs(t, err, ErrNoResults)
}
