// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/database"
	"github.com/slipstream/acquire/internal/release"
)

// TestDB wraps a migrated test database.
type TestDB struct {
	DB     *database.DB
	Conn   *sql.DB
	Logger zerolog.Logger
}

// NewTestDB creates a migrated database in a temp directory. It is closed
// automatically when the test ends.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if _, err := db.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &TestDB{
		DB:     db,
		Conn:   db.Conn(),
		Logger: NewTestLogger(t),
	}
}

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// Album returns a typical album request.
func Album() release.Request {
	return release.Request{
		ID:          "3b0a7d65-0000-4000-8000-000000000001",
		Artist:      "Boards of Canada",
		Title:       "Music Has the Right to Children",
		ReleaseDate: "1998-04-20",
		Type:        release.TypeAlbum,
		TrackCount:  18,
		DurationMs:  3_800_000,
		Quality:     release.QualityHighestLossless,
	}
}

// TorrentFile builds a minimal single-file .torrent with the given name.
func TorrentFile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := bencode.Marshal(map[string]interface{}{
		"announce": "udp://tracker.example:1337",
		"info": map[string]interface{}{
			"name":         name,
			"piece length": int64(16384),
			"pieces":       "0123456789abcdefghij",
			"length":       int64(2048),
		},
	})
	if err != nil {
		t.Fatalf("Failed to encode torrent fixture: %v", err)
	}
	return data
}
