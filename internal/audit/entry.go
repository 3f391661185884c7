// Package audit records access to sensitive endpoints and administrative actions.
package audit

import (
	"context"
	"time"
)

// Entry is one append-only access log record.
type Entry struct {
	ID        int64     `json:"id"`
	ClientID  string    `json:"ip_address"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

// Store appends access log entries.
type Store interface {
	AppendAccessLog(ctx context.Context, entry Entry) error
}

// Query pages through the access log, newest first.
type Query interface {
	ListAccessLogs(ctx context.Context, limit, offset int) ([]Entry, int, error)
}
