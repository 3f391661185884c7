package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipdeck/server/internal/metrics"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// AlertFunc is invoked when a job fails or panics.
type AlertFunc func(ctx context.Context, job *rivertype.JobRow, err error)

// AlertingErrorHandler logs job failures and forwards them to Notify. The
// final failed attempt is logged at error level, earlier ones as warnings.
type AlertingErrorHandler struct {
	Logger *slog.Logger
	Notify AlertFunc
}

// CountExhausted increments the exhausted-jobs counter when the failing
// attempt was the last one River will make.
func CountExhausted(ctx context.Context, job *rivertype.JobRow, err error) {
	if job.Attempt >= job.MaxAttempts {
		metrics.JobsExhausted.WithLabelValues(job.Kind).Inc()
	}
}

func NewAlertingErrorHandler(logger *slog.Logger, notify AlertFunc) *AlertingErrorHandler {
	return &AlertingErrorHandler{Logger: logger, Notify: notify}
}

func (h *AlertingErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.report(ctx, job, err, "job failed")
	return nil
}

func (h *AlertingErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	panicErr := fmt.Errorf("panic: %v", panicVal)
	if h.Logger != nil {
		h.Logger.Debug("job panic trace", "job_id", job.ID, "trace", trace)
	}
	h.report(ctx, job, panicErr, "job panicked")
	return nil
}

func (h *AlertingErrorHandler) report(ctx context.Context, job *rivertype.JobRow, err error, msg string) {
	if h.Logger != nil {
		level := slog.LevelWarn
		if job.Attempt >= job.MaxAttempts {
			level = slog.LevelError
		}
		h.Logger.Log(ctx, level, msg,
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"error", err,
		)
	}
	if h.Notify != nil {
		h.Notify(ctx, job, err)
	}
}
