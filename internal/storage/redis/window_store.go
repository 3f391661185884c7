// Package redis keeps rate-limit windows in Redis hashes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clipdeck/server/internal/ratelimit"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "clipdeck:ratelimit:"
	maxTxRetries     = 8

	fieldCount   = "count"
	fieldLast    = "last"
	fieldBlocked = "blocked"
	fieldUpdated = "updated"
)

type Config struct {
	URL       string
	KeyPrefix string
	// TTL is how long a window outlives its last request or block.
	TTL time.Duration
}

// WindowStore runs each Update as an optimistic WATCH/MULTI transaction on
// the client's key, retried on conflict. Idle keys expire on their own.
type WindowStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ratelimit.Store = (*WindowStore)(nil)

func New(ctx context.Context, cfg Config) (*WindowStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *WindowStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &WindowStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *WindowStore) Close() error {
	return s.client.Close()
}

func (s *WindowStore) key(clientID string) string {
	return s.prefix + clientID
}

func (s *WindowStore) Update(ctx context.Context, clientID string, fn ratelimit.UpdateFunc) error {
	key := s.key(clientID)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		w, err := decodeWindow(clientID, fields)
		if err != nil {
			return err
		}
		if !fn(&w) {
			return nil
		}

		expireAt := w.WindowStart
		if w.BlockedUntil != nil && w.BlockedUntil.After(expireAt) {
			expireAt = *w.BlockedUntil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeWindow(w))
			pipe.PExpireAt(ctx, key, expireAt.Add(s.ttl))
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("update window %q: %w", clientID, err)
	}
	return fmt.Errorf("update window %q: %w: too much contention", clientID, ratelimit.ErrStoreUnavailable)
}

func (s *WindowStore) List(ctx context.Context, limit int) ([]ratelimit.ClientWindow, error) {
	var out []ratelimit.ClientWindow
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read window %q: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		w, err := decodeWindow(strings.TrimPrefix(key, s.prefix), fields)
		if err != nil {
			return nil, err
		}
		if w.Count > 0 || w.BlockedUntil != nil {
			out = append(out, w)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan windows: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune is a no-op: keys expire TTL after their last request or block.
func (s *WindowStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func encodeWindow(w ratelimit.ClientWindow) map[string]any {
	var blocked int64
	if w.BlockedUntil != nil {
		blocked = nanos(*w.BlockedUntil)
	}
	return map[string]any{
		fieldCount:   w.Count,
		fieldLast:    nanos(w.WindowStart),
		fieldBlocked: blocked,
		fieldUpdated: nanos(w.UpdatedAt),
	}
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeWindow(clientID string, fields map[string]string) (ratelimit.ClientWindow, error) {
	w := ratelimit.ClientWindow{ClientID: clientID}
	if len(fields) == 0 {
		return w, nil
	}
	count, err := strconv.Atoi(fields[fieldCount])
	if err != nil {
		return w, fmt.Errorf("decode window %q count: %w", clientID, err)
	}
	w.Count = count
	w.WindowStart = unixNano(fields[fieldLast])
	w.UpdatedAt = unixNano(fields[fieldUpdated])
	if blocked := unixNano(fields[fieldBlocked]); !blocked.IsZero() {
		w.BlockedUntil = &blocked
	}
	return w, nil
}

func unixNano(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
