// Package snatch is the ledger of dispatched results. Rows are appended on
// every successful dispatch and only their status changes afterwards.
package snatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/release"
)

var ErrNotFound = errors.New("snatch record not found")

// Ledger records snatches and answers dedup queries.
type Ledger struct {
	q      *queries
	logger zerolog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger over a migrated database.
func NewLedger(db *sql.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{
		q:      &queries{db: db},
		logger: logger.With().Str("component", "snatch").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Insert appends a record. A zero Date is filled with the current time.
func (l *Ledger) Insert(ctx context.Context, rec release.SnatchRecord) (*release.SnatchRecord, error) {
	if rec.Date.IsZero() {
		rec.Date = l.now()
	}
	id, err := l.q.insert(ctx, insertParams{
		ReleaseID:  rec.ReleaseID,
		Title:      rec.Title,
		Size:       rec.Size,
		URL:        rec.URL,
		Status:     string(rec.Status),
		Date:       rec.Date,
		FolderName: rec.FolderName,
		Kind:       string(rec.Kind),
		DownloadID: rec.DownloadID,
		Client:     rec.Client,
	})
	if err != nil {
		return nil, fmt.Errorf("insert snatch: %w", err)
	}
	rec.ID = id

	l.logger.Debug().
		Int64("id", id).
		Str("releaseId", rec.ReleaseID).
		Str("status", string(rec.Status)).
		Str("folder", rec.FolderName).
		Msg("Recorded snatch")

	return &rec, nil
}

// HasBeenSnatched reports whether url was already dispatched for releaseID.
func (l *Ledger) HasBeenSnatched(ctx context.Context, releaseID, url string) (bool, error) {
	n, err := l.q.countByReleaseURL(ctx, releaseID, url)
	if err != nil {
		return false, fmt.Errorf("query snatch: %w", err)
	}
	return n > 0, nil
}

// Open returns records still in the Snatched state that are newer than
// maxAge. A zero maxAge returns all of them.
func (l *Ledger) Open(ctx context.Context, maxAge time.Duration) ([]release.SnatchRecord, error) {
	since := time.Time{}
	if maxAge > 0 {
		since = l.now().Add(-maxAge)
	}
	rows, err := l.q.list(ctx, listByStatusSince, string(release.StatusSnatched), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list open snatches: %w", err)
	}
	return toRecords(rows), nil
}

// Recent returns up to limit records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]release.SnatchRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.q.list(ctx, listRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("list snatches: %w", err)
	}
	return toRecords(rows), nil
}

// ForRelease returns every record for one release, oldest first.
func (l *Ledger) ForRelease(ctx context.Context, releaseID string) ([]release.SnatchRecord, error) {
	rows, err := l.q.list(ctx, listByRelease, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list snatches for release: %w", err)
	}
	return toRecords(rows), nil
}

// SetStatus moves a record to a new status.
func (l *Ledger) SetStatus(ctx context.Context, id int64, status release.SnatchStatus) error {
	n, err := l.q.updateStatus(ctx, id, string(status))
	if err != nil {
		return fmt.Errorf("update snatch status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toRecords(rows []row) []release.SnatchRecord {
	out := make([]release.SnatchRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, release.SnatchRecord{
			ID:         r.ID,
			ReleaseID:  r.ReleaseID,
			Title:      r.Title,
			Size:       r.Size,
			URL:        r.URL,
			Status:     release.SnatchStatus(r.Status),
			Date:       r.Date,
			FolderName: r.FolderName,
			Kind:       release.Kind(r.Kind),
			DownloadID: r.DownloadID,
			Client:     r.Client,
		})
	}
	return out
}
