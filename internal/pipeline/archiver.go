package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Archiver moves closed positions older than the retention window to cold
// storage on a fixed interval.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates a new Archiver. A zero retention archives every closed
// position on each run.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          time.Now,
	}
}

// Run executes a single archive run and returns the number of positions
// written.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "archiver: run started", slog.Time("cutoff", cutoff))

	n, err := a.blobArchiver.ArchiveClosedPositions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archiver: positions closed before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archiver: run complete", slog.Int64("positions_archived", n))
	return n, nil
}

// RunEvery runs the archiver immediately and then every interval until the
// context is cancelled. Failed runs are logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("archiver: interval must be positive, got %s", interval)
	}
	a.logger.InfoContext(ctx, "archiver: scheduled", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("archiver: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
