package ratelimit

import (
	"context"
	"time"

	"github.com/clipdeck/server/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/clipdeck/server/internal/ratelimit"

// Config holds the governor thresholds.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

// Decision is the outcome of one evaluation. RetryAfter is whole seconds and
// only set when the request is blocked.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

// Admit is the decision for an admitted request.
func Admit() Decision { return Decision{Allowed: true} }

// Block is the decision for a rejected request.
func Block(retryAfter int) Decision { return Decision{RetryAfter: retryAfter} }

// Governor decides per client whether a request is admitted. The request that
// first exceeds MaxRequests is still admitted; the block applies from the
// next one.
type Governor struct {
	store  Store
	cfg    Config
	logger zerolog.Logger
}

func NewGovernor(store Store, cfg Config, logger zerolog.Logger) *Governor {
	return &Governor{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "rate_governor").Logger(),
	}
}

// Config returns the thresholds in effect.
func (g *Governor) Config() Config { return g.cfg }

// Evaluate applies the sliding window for clientID at now. Store failures are
// logged and the request is admitted.
func (g *Governor) Evaluate(ctx context.Context, clientID string, now time.Time) Decision {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ratelimit.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("client_id", clientID))

	decision := Admit()
	err := g.store.Update(ctx, clientID, func(w *ClientWindow) bool {
		if w.Blocked(now) {
			decision = Block(retryAfterSeconds(w.BlockedUntil.Sub(now)))
			return false
		}

		count := 1
		if w.Count > 0 && !w.WindowStart.IsZero() && now.Sub(w.WindowStart) <= g.cfg.Window {
			count = w.Count + 1
		}

		w.ClientID = clientID
		w.Count = count
		w.WindowStart = now
		w.UpdatedAt = now
		w.BlockedUntil = nil
		if count > g.cfg.MaxRequests {
			until := now.Add(g.cfg.BlockDuration)
			w.BlockedUntil = &until
		}

		decision = Admit()
		return true
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		metrics.RateLimitDecisions.WithLabelValues("fail_open").Inc()
		g.logger.Error().Err(err).Str("client_id", clientID).Msg("rate limit store failed, admitting request")
		return Admit()
	}

	if decision.Allowed {
		metrics.RateLimitDecisions.WithLabelValues("admitted").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues("blocked").Inc()
		span.SetAttributes(attribute.Int("retry_after", decision.RetryAfter))
		g.logger.Debug().Str("client_id", clientID).Int("retry_after", decision.RetryAfter).Msg("request blocked")
	}
	return decision
}

// Prune drops windows that can no longer influence a decision at now.
func (g *Governor) Prune(ctx context.Context, now time.Time) (int64, error) {
	return g.store.Prune(ctx, now.Add(-g.cfg.Window))
}

func retryAfterSeconds(remaining time.Duration) int {
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
