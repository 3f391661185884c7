// Package bolt persists rate-limit windows in an embedded bbolt file so a
// single node keeps its blocks across restarts without a database server.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/clipdeck/server/internal/ratelimit"
	"go.etcd.io/bbolt"
)

var windowsBucket = []byte("rate_limits")

// WindowStore runs each Update inside one read-write bbolt transaction.
// bbolt allows a single writer, so updates of all clients serialise.
type WindowStore struct {
	db *bbolt.DB
}

var _ ratelimit.Store = (*WindowStore)(nil)

// Open opens or creates the database at path.
func Open(path string) (*WindowStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(windowsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create rate limit bucket: %w", err)
	}
	return &WindowStore{db: db}, nil
}

func (s *WindowStore) Close() error {
	return s.db.Close()
}

func (s *WindowStore) Update(ctx context.Context, clientID string, fn ratelimit.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(windowsBucket)
		w := ratelimit.ClientWindow{ClientID: clientID}
		if data := b.Get([]byte(clientID)); data != nil {
			if err := json.Unmarshal(data, &w); err != nil {
				return fmt.Errorf("decode window %q: %w", clientID, err)
			}
		}
		if !fn(&w) {
			return nil
		}
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put([]byte(clientID), data)
	})
}

func (s *WindowStore) List(ctx context.Context, limit int) ([]ratelimit.ClientWindow, error) {
	var out []ratelimit.ClientWindow
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(windowsBucket).ForEach(func(k, v []byte) error {
			var w ratelimit.ClientWindow
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("decode window %q: %w", k, err)
			}
			if w.Count > 0 || w.BlockedUntil != nil {
				out = append(out, w)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *WindowStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(windowsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var w ratelimit.ClientWindow
			if err := json.Unmarshal(v, &w); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if w.WindowStart.Before(cutoff) && (w.BlockedUntil == nil || w.BlockedUntil.Before(cutoff)) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return removed, nil
}
