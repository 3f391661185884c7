package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clipdeck/server/internal/metrics"
	"github.com/clipdeck/server/internal/retention"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler runs tasks in-process on cron schedules. A task whose previous
// run is still executing is skipped, and panics are recovered and logged.
type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule registers task under name. Registering a name twice replaces the
// earlier entry.
func (s *Scheduler) Schedule(name string, schedule cron.Schedule, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(name, task) }))
	s.logger.Debug().Str("job", name).Msg("job registered")
}

// Every registers task to run at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) {
	s.Schedule(name, cron.Every(interval), task)
}

// Next returns the next activation of the named entry.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info().Int("jobs", n).Msg("scheduler started")
}

// Stop prevents new runs and waits for running tasks. When ctx expires first
// the running tasks' context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, task Task) {
	started := time.Now()
	metrics.JobsInFlight.WithLabelValues(name).Inc()
	defer metrics.JobsInFlight.WithLabelValues(name).Dec()

	err := task(s.ctx)
	metrics.ObserveJob(name, started, err)

	if err != nil {
		s.logger.Error().Err(err).Str("job", name).Dur("duration", time.Since(started)).Msg("job failed")
		return
	}
	s.logger.Debug().Str("job", name).Dur("duration", time.Since(started)).Msg("job completed")
}

// SweepTask adapts a Sweeper. A skipped overlapping run is not a failure.
func SweepTask(sweeper Sweeper) Task {
	return func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		if errors.Is(err, retention.ErrSweepInProgress) {
			return nil
		}
		return err
	}
}

// PruneTask adapts a WindowPruner.
func PruneTask(pruner WindowPruner) Task {
	return func(ctx context.Context) error {
		_, err := pruner.Prune(ctx, time.Now())
		return err
	}
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
