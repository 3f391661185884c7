package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipdeck/server/internal/ratelimit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WindowStore persists rate-limit windows in the rate_limits table. Each
// Update holds the client's row lock for the whole read-modify-write.
type WindowStore struct {
	pool *pgxpool.Pool
}

var _ ratelimit.Store = (*WindowStore)(nil)

func NewWindowStore(pool *pgxpool.Pool) *WindowStore {
	return &WindowStore{pool: pool}
}

func (s *WindowStore) Update(ctx context.Context, clientID string, fn ratelimit.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Materialise the row so that concurrent first requests queue on its lock.
	if _, err := tx.Exec(ctx, `
INSERT INTO rate_limits (client_id, request_count, updated_at)
VALUES ($1, 0, now())
ON CONFLICT (client_id) DO NOTHING
`, clientID); err != nil {
		return fmt.Errorf("ensure rate limit row: %w", err)
	}

	var (
		w           = ratelimit.ClientWindow{ClientID: clientID}
		lastRequest *time.Time
	)
	err = tx.QueryRow(ctx, `
SELECT request_count, last_request_at, blocked_until, updated_at
  FROM rate_limits
 WHERE client_id = $1
   FOR UPDATE
`, clientID).Scan(&w.Count, &lastRequest, &w.BlockedUntil, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("lock rate limit row: %w", err)
	}
	if lastRequest != nil {
		w.WindowStart = *lastRequest
	}

	if !fn(&w) {
		return nil
	}

	if _, err := tx.Exec(ctx, `
UPDATE rate_limits
   SET request_count = $2, last_request_at = $3, blocked_until = $4, updated_at = $5
 WHERE client_id = $1
`, clientID, w.Count, w.WindowStart, w.BlockedUntil, w.UpdatedAt); err != nil {
		return fmt.Errorf("update rate limit row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rate limit row: %w", err)
	}
	return nil
}

// Get returns the stored window of clientID.
func (s *WindowStore) Get(ctx context.Context, clientID string) (ratelimit.ClientWindow, error) {
	w, err := scanWindow(s.pool.QueryRow(ctx, `
SELECT client_id, request_count, last_request_at, blocked_until, updated_at
  FROM rate_limits
 WHERE client_id = $1
`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ratelimit.ClientWindow{ClientID: clientID}, nil
	}
	return w, err
}

func (s *WindowStore) List(ctx context.Context, limit int) ([]ratelimit.ClientWindow, error) {
	var max *int
	if limit > 0 {
		max = &limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT client_id, request_count, last_request_at, blocked_until, updated_at
  FROM rate_limits
 WHERE request_count > 0 OR blocked_until IS NOT NULL
 ORDER BY updated_at DESC
 LIMIT $1
`, max)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close()

	var out []ratelimit.ClientWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rate limits: %w", err)
	}
	return out, nil
}

func (s *WindowStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM rate_limits
 WHERE (last_request_at IS NULL OR last_request_at < $1)
   AND (blocked_until IS NULL OR blocked_until < $1)
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanWindow(row pgx.Row) (ratelimit.ClientWindow, error) {
	var (
		w           ratelimit.ClientWindow
		lastRequest *time.Time
	)
	if err := row.Scan(&w.ClientID, &w.Count, &lastRequest, &w.BlockedUntil, &w.UpdatedAt); err != nil {
		return ratelimit.ClientWindow{}, fmt.Errorf("scan rate limit: %w", err)
	}
	if lastRequest != nil {
		w.WindowStart = *lastRequest
	}
	return w, nil
}
