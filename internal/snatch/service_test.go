package snatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/testutil"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return NewLedger(tdb.Conn, tdb.Logger)
}

func TestLedger_InsertAndHasBeenSnatched(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	rec, err := l.Insert(ctx, release.SnatchRecord{
		ReleaseID:  "rel-1",
		Title:      "Artist - Album FLAC",
		Size:       380 << 20,
		URL:        "https://idx.example/get/1",
		Status:     release.StatusSnatched,
		FolderName: "Artist - Album [1998]",
		Kind:       release.KindTorrent,
		DownloadID: "ABCDEF",
		Client:     "transmission",
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.Date.IsZero())

	snatched, err := l.HasBeenSnatched(ctx, "rel-1", "https://idx.example/get/1")
	require.NoError(t, err)
	assert.True(t, snatched)

	snatched, err = l.HasBeenSnatched(ctx, "rel-2", "https://idx.example/get/1")
	require.NoError(t, err)
	assert.False(t, snatched, "dedup is scoped to the release")

	snatched, err = l.HasBeenSnatched(ctx, "rel-1", "https://idx.example/get/2")
	require.NoError(t, err)
	assert.False(t, snatched)

	all, err := l.ForRelease(ctx, "rel-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ABCDEF", all[0].DownloadID)
	assert.Equal(t, release.KindTorrent, all[0].Kind)
	assert.Equal(t, int64(380<<20), all[0].Size)
}

func TestLedger_OpenHonoursMaxAgeAndStatus(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	insert := func(id string, status release.SnatchStatus, age time.Duration) int64 {
		rec, err := l.Insert(ctx, release.SnatchRecord{
			ReleaseID: id, Title: id, URL: "u-" + id, Status: status,
			Kind: release.KindUsenet, Date: now.Add(-age),
		})
		require.NoError(t, err)
		return rec.ID
	}
	insert("fresh", release.StatusSnatched, time.Hour)
	insert("stale", release.StatusSnatched, 30*24*time.Hour)
	insert("seed", release.StatusSeedSnatched, time.Hour)
	done := insert("done", release.StatusSnatched, 2*time.Hour)
	require.NoError(t, l.SetStatus(ctx, done, release.StatusProcessed))

	open, err := l.Open(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "fresh", open[0].ReleaseID)

	open, err = l.Open(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "seed", recent[0].ReleaseID, "same timestamp falls back to id order")
}

func TestLedger_SetStatusMissing(t *testing.T) {
	l := newLedger(t)
	err := l.SetStatus(context.Background(), 999, release.StatusFailed)
	assert.True(t, errors.Is(err, ErrNotFound))
}
