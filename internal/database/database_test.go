package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrateUpAndDown(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "nested", "acquire.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	applied, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if len(applied) != 1 || applied[0] != 1 {
		t.Errorf("applied = %v, want [1]", applied)
	}
	applied, err = db.Migrate(ctx)
	if err != nil || len(applied) != 0 {
		t.Errorf("second Migrate() = %v, %v; want nothing applied", applied, err)
	}

	version, err := db.MigrationVersion(ctx)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	if _, err := db.Conn().Exec(`INSERT INTO snatched (release_id, title, url, status, kind) VALUES ('r', 't', 'u', 'Snatched', 'usenet')`); err != nil {
		t.Fatalf("insert into snatched: %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if _, err := db.Conn().Exec(`SELECT 1 FROM snatched`); err == nil {
		t.Error("snatched table should be gone after rollback")
	}
}
