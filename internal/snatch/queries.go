package snatch

import (
	"context"
	"database/sql"
	"time"
)

// queries holds the hand-maintained SQL for the snatched table.
type queries struct {
	db *sql.DB
}

const insertSnatch = `
INSERT INTO snatched (release_id, title, size, url, status, date, folder_name, kind, download_id, client)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

type insertParams struct {
	ReleaseID  string
	Title      string
	Size       int64
	URL        string
	Status     string
	Date       time.Time
	FolderName string
	Kind       string
	DownloadID string
	Client     string
}

func (q *queries) insert(ctx context.Context, p insertParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, insertSnatch,
		p.ReleaseID, p.Title, p.Size, p.URL, p.Status, p.Date.UTC(), p.FolderName, p.Kind, p.DownloadID, p.Client,
	).Scan(&id)
	return id, err
}

const countByReleaseURL = `
SELECT COUNT(*) FROM snatched WHERE release_id = ? AND url = ?`

func (q *queries) countByReleaseURL(ctx context.Context, releaseID, url string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countByReleaseURL, releaseID, url).Scan(&n)
	return n, err
}

const selectColumns = `id, release_id, title, size, url, status, date, folder_name, kind, download_id, client`

const listByStatusSince = `
SELECT ` + selectColumns + ` FROM snatched
WHERE status = ? AND date >= ?
ORDER BY date ASC, id ASC`

const listRecent = `
SELECT ` + selectColumns + ` FROM snatched
ORDER BY date DESC, id DESC
LIMIT ?`

const listByRelease = `
SELECT ` + selectColumns + ` FROM snatched
WHERE release_id = ?
ORDER BY date ASC, id ASC`

type row struct {
	ID         int64
	ReleaseID  string
	Title      string
	Size       int64
	URL        string
	Status     string
	Date       time.Time
	FolderName string
	Kind       string
	DownloadID string
	Client     string
}

func (q *queries) list(ctx context.Context, query string, args ...any) ([]row, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.ID, &r.ReleaseID, &r.Title, &r.Size, &r.URL, &r.Status, &r.Date,
			&r.FolderName, &r.Kind, &r.DownloadID, &r.Client); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const updateStatus = `UPDATE snatched SET status = ? WHERE id = ?`

func (q *queries) updateStatus(ctx context.Context, id int64, status string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateStatus, status, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
