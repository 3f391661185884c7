package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

var (
	JobsInFlight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Background jobs currently executing",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"kind"},
	)

	// JobsCompleted counts finished jobs by result: success, error.
	JobsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Background jobs completed",
		},
		[]string{"kind", "result"},
	)

	// JobsExhausted counts jobs whose final attempt failed or panicked.
	JobsExhausted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_exhausted_total",
			Help:      "Background jobs that failed on their last attempt",
		},
		[]string{"kind"},
	)
)

// ObserveJob records one finished job run. Both the cron scheduler and the
// River hook report through it.
func ObserveJob(kind string, started time.Time, err error) {
	JobDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	JobsCompleted.WithLabelValues(kind, result).Inc()
}

// RiverMetricsHook reports River job executions.
type RiverMetricsHook struct {
	river.HookDefaults
}

func NewRiverMetricsHook() *RiverMetricsHook {
	return &RiverMetricsHook{}
}

func (h *RiverMetricsHook) WorkBegin(ctx context.Context, job *rivertype.JobRow) error {
	JobsInFlight.WithLabelValues(job.Kind).Inc()
	return nil
}

func (h *RiverMetricsHook) WorkEnd(ctx context.Context, job *rivertype.JobRow, err error) error {
	JobsInFlight.WithLabelValues(job.Kind).Dec()
	started := time.Now()
	if job.AttemptedAt != nil {
		started = *job.AttemptedAt
	}
	ObserveJob(job.Kind, started, err)
	return nil
}
