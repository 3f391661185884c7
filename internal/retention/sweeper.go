// Package retention evicts clipboard items older than the configured age and
// tells each affected owner once per run.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipdeck/server/internal/metrics"
	"github.com/clipdeck/server/internal/realtime"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned when Run is called while another run holds
// the sweeper.
var ErrSweepInProgress = errors.New("retention sweep already in progress")

// Policy is the retention threshold in whole days.
type Policy struct {
	ThresholdDays int
}

func (p Policy) Threshold() time.Duration {
	return time.Duration(p.ThresholdDays) * 24 * time.Hour
}

// Expired identifies an item selected for eviction.
type Expired struct {
	ID       string
	OwnerID  string
	FilePath string
}

// ItemStore is the persistence port of the sweeper.
type ItemStore interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]Expired, error)
	// DeleteByIDs removes all given items in one operation.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// FileRemover deletes backing files. A missing file is not an error.
type FileRemover interface {
	Remove(ctx context.Context, path string) error
}

// Result summarizes one run.
type Result struct {
	Cutoff     time.Time     `json:"cutoff"`
	Purged     int64         `json:"purged"`
	Owners     []string      `json:"owners"`
	FileErrors int           `json:"file_errors"`
	Duration   time.Duration `json:"duration"`
}

type Sweeper struct {
	items       ItemStore
	files       FileRemover
	events      realtime.Publisher
	policy      Policy
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	running atomic.Bool
}

type Option func(*Sweeper)

// WithConcurrency bounds parallel file removals.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(items ItemStore, files FileRemover, events realtime.Publisher, policy Policy, logger zerolog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		items:       items,
		files:       files,
		events:      events,
		policy:      policy,
		concurrency: 4,
		logger:      logger.With().Str("component", "retention").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Policy() Policy {
	return s.policy
}

// Running reports whether a run is in progress.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Run performs one sweep. Overlapping calls return ErrSweepInProgress
// without touching storage.
func (s *Sweeper) Run(ctx context.Context) (res Result, err error) {
	if !s.mu.TryLock() {
		metrics.RetentionSweeps.WithLabelValues("skipped").Inc()
		s.logger.Warn().Msg("previous sweep still running, skipping")
		return Result{}, ErrSweepInProgress
	}
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		s.mu.Unlock()
	}()

	ctx, span := otel.Tracer("clipdeck/retention").Start(ctx, "retention.sweep")
	defer span.End()

	start := s.now()
	res = Result{Cutoff: start.Add(-s.policy.Threshold())}
	span.SetAttributes(attribute.String("retention.cutoff", res.Cutoff.Format(time.RFC3339)))
	defer func() {
		res.Duration = s.now().Sub(start)
		metrics.RetentionDuration.Observe(res.Duration.Seconds())
	}()

	expired, err := s.items.ListCreatedBefore(ctx, res.Cutoff)
	if err != nil {
		s.fail(span, err, "listing expired items failed")
		return res, fmt.Errorf("list expired items: %w", err)
	}
	if len(expired) == 0 {
		metrics.RetentionSweeps.WithLabelValues("empty").Inc()
		s.logger.Debug().Time("cutoff", res.Cutoff).Msg("no expired items")
		return res, nil
	}

	res.FileErrors = s.removeFiles(ctx, expired)

	ids := make([]string, 0, len(expired))
	seen := make(map[string]struct{})
	for _, item := range expired {
		ids = append(ids, item.ID)
		if item.OwnerID == "" {
			continue
		}
		if _, ok := seen[item.OwnerID]; !ok {
			seen[item.OwnerID] = struct{}{}
			res.Owners = append(res.Owners, item.OwnerID)
		}
	}

	deleted, err := s.items.DeleteByIDs(ctx, ids)
	if err != nil {
		res.Owners = nil
		s.fail(span, err, "batch delete failed, no owners notified")
		return res, fmt.Errorf("delete expired items: %w", err)
	}
	res.Purged = deleted
	metrics.RetentionItemsPurged.Add(float64(deleted))

	for _, owner := range res.Owners {
		if _, err := s.events.Publish(realtime.ItemsPurged, owner, struct{}{}); err != nil {
			s.logger.Warn().Err(err).Str("principal_id", owner).Msg("purge notification dropped")
		}
	}

	metrics.RetentionSweeps.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.Int64("retention.purged", deleted),
		attribute.Int("retention.owners", len(res.Owners)),
	)
	s.logger.Info().
		Time("cutoff", res.Cutoff).
		Int64("purged", deleted).
		Int("owners", len(res.Owners)).
		Int("file_errors", res.FileErrors).
		Msg("retention sweep completed")
	return res, nil
}

func (s *Sweeper) removeFiles(ctx context.Context, expired []Expired) int {
	if s.files == nil {
		return 0
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range expired {
		if item.FilePath == "" {
			continue
		}
		g.Go(func() error {
			if err := s.files.Remove(gctx, item.FilePath); err != nil {
				failures.Add(1)
				metrics.RetentionFileErrors.Inc()
				s.logger.Warn().Err(err).
					Str("item_id", item.ID).
					Str("path", item.FilePath).
					Msg("failed to remove backing file")
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failures.Load())
}

func (s *Sweeper) fail(span trace.Span, err error, msg string) {
	metrics.RetentionSweeps.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.Error().Err(err).Msg(msg)
}
