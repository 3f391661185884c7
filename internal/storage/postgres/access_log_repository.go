package postgres

import (
	"context"
	"fmt"

	"github.com/clipdeck/server/internal/audit"
)

func (r *Repository) AppendAccessLog(ctx context.Context, entry audit.Entry) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO access_logs (ip_address, request_path, request_method, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5)
`, entry.ClientID, entry.Path, entry.Method, entry.UserAgent, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

func (r *Repository) ListAccessLogs(ctx context.Context, limit, offset int) ([]audit.Entry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := r.queryer()

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM access_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access logs: %w", err)
	}

	rows, err := q.Query(ctx, `
SELECT id, ip_address, request_path, request_method, user_agent, created_at
  FROM access_logs
 ORDER BY created_at DESC, id DESC
 LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list access logs: %w", err)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0, limit)
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Path, &e.Method, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan access log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate access logs: %w", err)
	}
	return entries, total, nil
}
