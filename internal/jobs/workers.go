package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipdeck/server/internal/retention"
	"github.com/riverqueue/river"
)

// Sweeper runs one retention pass.
type Sweeper interface {
	Run(ctx context.Context) (retention.Result, error)
}

// WindowPruner drops lapsed rate-limit windows.
type WindowPruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

type RetentionSweepArgs struct{}

func (RetentionSweepArgs) Kind() string { return JobKindRetentionSweep }

// RetentionSweepWorker runs the sweeper as a River job. An overlapping run
// is treated as done so River does not retry it.
type RetentionSweepWorker struct {
	river.WorkerDefaults[RetentionSweepArgs]
	Sweeper Sweeper
	Logger  *slog.Logger
}

func (RetentionSweepWorker) Kind() string { return JobKindRetentionSweep }

func (w RetentionSweepWorker) Work(ctx context.Context, job *river.Job[RetentionSweepArgs]) error {
	if w.Sweeper == nil {
		return fmt.Errorf("sweeper not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := w.Sweeper.Run(ctx)
	if errors.Is(err, retention.ErrSweepInProgress) {
		logger.Info("retention sweep skipped, previous run in progress", "attempt", job.Attempt)
		return nil
	}
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}

	logger.Info("retention sweep job completed",
		"attempt", job.Attempt,
		"purged", res.Purged,
		"owners", len(res.Owners),
		"file_errors", res.FileErrors,
		"duration_seconds", res.Duration.Seconds(),
	)
	return nil
}

type WindowPruneArgs struct{}

func (WindowPruneArgs) Kind() string { return JobKindWindowPrune }

type WindowPruneWorker struct {
	river.WorkerDefaults[WindowPruneArgs]
	Pruner WindowPruner
	Logger *slog.Logger
}

func (WindowPruneWorker) Kind() string { return JobKindWindowPrune }

func (w WindowPruneWorker) Work(ctx context.Context, job *river.Job[WindowPruneArgs]) error {
	if w.Pruner == nil {
		return fmt.Errorf("pruner not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	removed, err := w.Pruner.Prune(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("prune rate limit windows: %w", err)
	}
	logger.Info("rate limit windows pruned", "removed", removed)
	return nil
}

// NewWorkers registers the River workers. pruner may be nil when the
// window store has no persistent rows to prune.
func NewWorkers(sweeper Sweeper, pruner WindowPruner, logger *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[RetentionSweepArgs](workers, RetentionSweepWorker{Sweeper: sweeper, Logger: logger})
	if pruner != nil {
		river.AddWorker[WindowPruneArgs](workers, WindowPruneWorker{Pruner: pruner, Logger: logger})
	}
	return workers
}
