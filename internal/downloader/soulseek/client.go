// Package soulseek queues peer-share downloads through slskd and tracks them
// by remote folder.
package soulseek

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/slskd"
)

// staleAfter is how long a queued file may sit before it counts as failed.
const staleAfter = 24 * time.Hour

const (
	StatusCompleted   = "completed"
	StatusErrored     = "errored"
	StatusDownloading = "downloading"
)

// Transfers is the part of the slskd API used for downloads.
type Transfers interface {
	Enqueue(ctx context.Context, username string, files []slskd.File) error
	Downloads(ctx context.Context, username string) (*slskd.UserTransfers, error)
	Cancel(ctx context.Context, username, id string, remove bool) error
}

var (
	_ types.Client         = (*Client)(nil)
	_ types.FailureCleaner = (*Client)(nil)
)

// Client is the soulseek download backend.
type Client struct {
	transfers Transfers
	now       func() time.Time
	logger    zerolog.Logger
}

func New(transfers Transfers, logger zerolog.Logger) *Client {
	return &Client{
		transfers: transfers,
		now:       time.Now,
		logger:    logger.With().Str("component", "soulseek").Logger(),
	}
}

// SetClock replaces the time source used for staleness.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Client) Type() types.Type { return types.TypeSoulseek }

func (c *Client) Kind() release.Kind { return release.KindPeerShare }

// FolderID is the id and folder name of a peer-share download: the user in
// braces followed by the remote folder.
func FolderID(user, folder string) string {
	return "{" + user + "}" + folder
}

// ParseFolderID splits an id built by FolderID.
func ParseFolderID(id string) (user, folder string, ok bool) {
	if !strings.HasPrefix(id, "{") {
		return "", "", false
	}
	end := strings.Index(id, "}")
	if end < 1 {
		return "", "", false
	}
	return id[1:end], id[end+1:], true
}

// Add enqueues every file of the chosen folder.
func (c *Client) Add(ctx context.Context, req *types.AddRequest) (*types.AddResult, error) {
	r := req.Result
	if r.Username == "" || len(r.Files) == 0 {
		return nil, fmt.Errorf("%w: peer-share result without user or files", types.ErrNoPayload)
	}

	files := make([]slskd.File, 0, len(r.Files))
	for _, f := range r.Files {
		files = append(files, slskd.File{
			Filename:  f.Filename,
			Size:      f.Size,
			BitRate:   f.BitRate,
			Length:    f.Length,
			Extension: f.Extension,
		})
	}
	if err := c.transfers.Enqueue(ctx, r.Username, files); err != nil {
		c.logger.Error().Err(err).Str("user", r.Username).Msg("Soulseek error, check server logs")
		return nil, err
	}

	id := FolderID(r.Username, r.Folder)
	c.logger.Info().Str("folder", r.Folder).Int("files", len(files)).Msg("Soulseek download queued")
	return &types.AddResult{ID: id, Name: id}, nil
}

type tally struct {
	total, completed, errored int
	ids                       []string
}

func (c *Client) count(ctx context.Context, user, folder string) (*tally, error) {
	downloads, err := c.transfers.Downloads(ctx, user)
	if err != nil {
		return nil, err
	}
	if downloads == nil {
		return nil, fmt.Errorf("%w: no downloads from %s", types.ErrNotFound, user)
	}

	cutoff := c.now().Add(-staleAfter)
	t := &tally{}
	for _, dir := range downloads.Directories {
		if dir.Directory[strings.LastIndex(dir.Directory, `\`)+1:] != folder {
			continue
		}
		for _, f := range dir.Files {
			t.total++
			t.ids = append(t.ids, f.ID)
			switch {
			case strings.Contains(f.State, "Completed, Succeeded"):
				t.completed++
			case strings.Contains(f.State, "Completed, Errored"), requestedAt(f.RequestedAt).Before(cutoff):
				t.errored++
			}
		}
		break
	}
	return t, nil
}

// CheckCompleted reports the folder as completed when every file succeeded.
// Any errored or stale file marks it errored.
func (c *Client) CheckCompleted(ctx context.Context, id string) *release.CompletionStatus {
	user, folder, ok := ParseFolderID(id)
	if !ok {
		c.logger.Error().Str("id", id).Msg("Malformed soulseek download id")
		return nil
	}

	t, err := c.count(ctx, user, folder)
	if err != nil {
		c.logger.Error().Err(err).Str("folder", folder).Msg("Error checking Soulseek download completion")
		return nil
	}
	if t.total == 0 {
		c.logger.Warn().Str("folder", folder).Str("user", user).Msg("Soulseek download not found")
		return nil
	}

	completed := t.completed == t.total && t.errored == 0
	status := StatusDownloading
	switch {
	case t.errored > 0:
		status = StatusErrored
	case completed:
		status = StatusCompleted
	}
	c.logger.Debug().Str("folder", folder).Int("completed", t.completed).Int("total", t.total).Str("status", status).Msg("Soulseek download status")

	return &release.CompletionStatus{
		Completed: completed,
		Progress:  float64(t.completed) / float64(t.total),
		Status:    status,
		Name:      folder,
	}
}

// CleanupFailed cancels and removes every transfer of a folder that has an
// errored or stale file.
func (c *Client) CleanupFailed(ctx context.Context, id string) error {
	user, folder, ok := ParseFolderID(id)
	if !ok {
		return fmt.Errorf("malformed soulseek download id %q", id)
	}
	t, err := c.count(ctx, user, folder)
	if err != nil {
		return err
	}
	if t.errored == 0 {
		return nil
	}

	c.logger.Info().Str("folder", folder).Msg("Cancelling errored downloads")
	var errs []error
	for _, fileID := range t.ids {
		if err := c.transfers.Cancel(ctx, user, fileID, true); err != nil {
			c.logger.Debug().Err(err).Str("file_id", fileID).Msg("Failed to cancel download")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// requestedAt parses slskd timestamps. Unparseable values are treated as
// very old so the file counts as stale.
func requestedAt(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
