// Package ratelimit implements the sliding-window request governor with
// persisted block state.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ClientWindow is the persisted rate-limit state of one client.
//
// WindowStart holds the time of the last counted request; the window slides
// with every admitted request. BlockedUntil is nil or lies in the future
// after any write.
type ClientWindow struct {
	ClientID     string     `json:"client_id"`
	Count        int        `json:"request_count"`
	WindowStart  time.Time  `json:"last_request_at"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Blocked reports whether the window is blocked at now.
func (w ClientWindow) Blocked(now time.Time) bool {
	return w.BlockedUntil != nil && w.BlockedUntil.After(now)
}

// UpdateFunc mutates a loaded window and reports whether it should be
// persisted. A window that does not exist yet is passed with only ClientID set.
type UpdateFunc func(w *ClientWindow) bool

// Store persists client windows. Update must run fn as one atomic
// read-modify-write for clientID; different clients must not serialise
// against each other beyond what the backend requires.
type Store interface {
	Update(ctx context.Context, clientID string, fn UpdateFunc) error
	List(ctx context.Context, limit int) ([]ClientWindow, error)
	// Prune removes windows whose last request and block both ended before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

var ErrStoreUnavailable = errors.New("rate limit store unavailable")
