package realtime

import (
	"errors"

	"github.com/clipdeck/server/internal/metrics"
	"github.com/rs/zerolog"
)

// EventKind names a mutation event.
type EventKind string

const (
	ItemCreated EventKind = "item-created"
	ItemDeleted EventKind = "item-deleted"
	ItemsPurged EventKind = "items-purged"
)

// ErrPrincipalNotFound is returned when an event carries no owner.
var ErrPrincipalNotFound = errors.New("event has no owning principal")

// Message is the wire envelope sent to clients.
type Message struct {
	Event EventKind `json:"event"`
	Data  any       `json:"data"`
}

// Publisher delivers an event to the sessions of one principal.
type Publisher interface {
	Publish(kind EventKind, principalID string, payload any) (int, error)
}

// SessionSource resolves the live sessions of a principal.
type SessionSource interface {
	SessionsOf(principalID string) []*Session
}

// Router is the only path from domain mutations to connected clients. Every
// event is addressed to a single principal.
type Router struct {
	sessions SessionSource
	logger   zerolog.Logger
}

var _ Publisher = (*Router)(nil)

func NewRouter(sessions SessionSource, logger zerolog.Logger) *Router {
	return &Router{
		sessions: sessions,
		logger:   logger.With().Str("component", "event_router").Logger(),
	}
}

// Publish delivers payload to every live session of principalID and returns
// how many sessions accepted it. A principal without sessions is not an error.
func (r *Router) Publish(kind EventKind, principalID string, payload any) (int, error) {
	if principalID == "" {
		metrics.EventsDropped.WithLabelValues(string(kind), "no_principal").Inc()
		r.logger.Warn().Str("event", string(kind)).Msg("dropping event without owning principal")
		return 0, ErrPrincipalNotFound
	}

	msg := Message{Event: kind, Data: payload}
	delivered := 0
	for _, sess := range r.sessions.SessionsOf(principalID) {
		if sess.deliver(msg) {
			delivered++
			continue
		}
		metrics.EventsDropped.WithLabelValues(string(kind), "buffer_full").Inc()
		r.logger.Warn().
			Str("event", string(kind)).
			Str("session_id", sess.ID).
			Str("principal_id", principalID).
			Msg("session send buffer full, event dropped")
	}

	if delivered > 0 {
		metrics.EventsDelivered.WithLabelValues(string(kind)).Add(float64(delivered))
	}
	r.logger.Debug().
		Str("event", string(kind)).
		Str("principal_id", principalID).
		Int("delivered", delivered).
		Msg("event published")
	return delivered, nil
}
