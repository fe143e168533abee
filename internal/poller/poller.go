// Package poller checks open snatches against their download backends and
// moves them to Processed or Failed once the backend reports an outcome.
package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/downloader"
	"github.com/slipstream/acquire/internal/release"
)

// Ledger is the part of the snatch ledger the poller needs.
type Ledger interface {
	Open(ctx context.Context, maxAge time.Duration) ([]release.SnatchRecord, error)
	SetStatus(ctx context.Context, id int64, status release.SnatchStatus) error
}

// Backends finds the backend a snatch was sent to.
type Backends interface {
	Resolve(name string) (downloader.Client, bool)
}

// Summary counts the outcome of one pass.
type Summary struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
}

// Poller walks open snatches.
type Poller struct {
	ledger   Ledger
	backends Backends
	maxAge   time.Duration
	logger   zerolog.Logger
}

// New creates a poller. Snatches older than maxAge are left alone; zero
// means no limit.
func New(ledger Ledger, backends Backends, maxAge time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		ledger:   ledger,
		backends: backends,
		maxAge:   maxAge,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Run is the scheduled entry point.
func (p *Poller) Run(ctx context.Context) error {
	_, err := p.Poll(ctx)
	return err
}

// Poll checks every open snatch once.
func (p *Poller) Poll(ctx context.Context) (Summary, error) {
	var sum Summary

	open, err := p.ledger.Open(ctx, p.maxAge)
	if err != nil {
		return sum, fmt.Errorf("load open snatches: %w", err)
	}

	for _, rec := range open {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		p.check(ctx, rec, &sum)
	}

	if sum.Checked > 0 {
		p.logger.Info().
			Int("checked", sum.Checked).
			Int("completed", sum.Completed).
			Int("failed", sum.Failed).
			Int("pending", sum.Pending).
			Msg("Completion poll finished")
	}
	return sum, nil
}

func (p *Poller) check(ctx context.Context, rec release.SnatchRecord, sum *Summary) {
	log := p.logger.With().Int64("snatch", rec.ID).Str("title", rec.Title).Str("client", rec.Client).Logger()

	if rec.DownloadID == "" {
		sum.Skipped++
		return
	}
	client, ok := p.backends.Resolve(rec.Client)
	if !ok {
		log.Warn().Msg("Download backend for snatch is not configured")
		sum.Skipped++
		return
	}

	sum.Checked++
	status := client.CheckCompleted(ctx, rec.DownloadID)
	if status == nil {
		sum.Pending++
		return
	}

	switch {
	case status.Completed:
		if err := p.ledger.SetStatus(ctx, rec.ID, release.StatusProcessed); err != nil {
			log.Error().Err(err).Msg("Failed to mark snatch processed")
			return
		}
		sum.Completed++
		log.Info().Str("name", status.Name).Msg("Download completed")
	case Failed(status.Status):
		if err := p.ledger.SetStatus(ctx, rec.ID, release.StatusFailed); err != nil {
			log.Error().Err(err).Msg("Failed to mark snatch failed")
			return
		}
		sum.Failed++
		log.Warn().Str("status", status.Status).Msg("Download failed")
		if cleaner, ok := client.(downloader.FailureCleaner); ok {
			if err := cleaner.CleanupFailed(ctx, rec.DownloadID); err != nil {
				log.Warn().Err(err).Msg("Failed to clean up failed download")
			}
		}
	default:
		sum.Pending++
		log.Debug().Float64("progress", status.Progress).Str("status", status.Status).Msg("Download in progress")
	}
}

// Failed reports whether a backend status string means the download will
// not finish. Backends phrase this differently: SABnzbd says "Failed",
// NZBGet "FAILURE/PAR", qBittorrent "error" or "missingFiles", the
// peer-share backend "errored".
func Failed(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "failed", s == "error", s == "errored", s == "missingfiles":
		return true
	case strings.HasPrefix(s, "failure"):
		return true
	}
	return false
}
