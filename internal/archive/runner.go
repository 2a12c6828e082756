// Package archive periodically exports aged closed positions to cold
// storage so the hot Postgres table stays a working set, not a full
// history mirror.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/snipekit/sniperbot/internal/domain"
)

// Options configures a Runner.
type Options struct {
	// Interval is how often an export pass runs.
	Interval time.Duration
	// RetentionDays is how long a closed position stays out of cold storage.
	RetentionDays int
}

// Runner drives periodic archive passes.
type Runner struct {
	archiver domain.Archiver
	opts     Options
	logger   *slog.Logger
}

// New creates a Runner.
func New(archiver domain.Archiver, opts Options, logger *slog.Logger) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	return &Runner{
		archiver: archiver,
		opts:     opts,
		logger:   logger.With(slog.String("component", "archive")),
	}
}

// Run executes one pass immediately, then one per interval until the context
// is cancelled. A failed pass is logged and retried on the next interval.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("archive runner started",
		slog.Duration("interval", r.opts.Interval),
		slog.Int("retention_days", r.opts.RetentionDays),
	)
	defer r.logger.Info("archive runner stopped")

	if err := r.runOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("archive pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.runOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(r.opts.RetentionDays) * 24 * time.Hour)

	count, err := r.archiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return err
	}
	if count > 0 {
		r.logger.Info("archived closed positions",
			slog.Int64("count", count),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}
