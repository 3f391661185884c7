package ratelimit

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const memoryShards = 32

// MemoryStore keeps windows in process memory, sharded by client so that
// unrelated clients rarely contend on the same lock.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[string]ClientWindow
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]ClientWindow)
	}
	return s
}

func (s *MemoryStore) shard(clientID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return &s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) Update(ctx context.Context, clientID string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[clientID]
	if !ok {
		w = ClientWindow{ClientID: clientID}
	}
	if w.BlockedUntil != nil {
		until := *w.BlockedUntil
		w.BlockedUntil = &until
	}
	if fn(&w) {
		sh.windows[clientID] = w
	}
	return nil
}

// Get returns a copy of the stored window.
func (s *MemoryStore) Get(clientID string) (ClientWindow, bool) {
	sh := s.shard(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.windows[clientID]
	return w, ok
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]ClientWindow, error) {
	var out []ClientWindow
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, w := range sh.windows {
			if w.Count > 0 || w.BlockedUntil != nil {
				out = append(out, w)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, w := range sh.windows {
			if w.WindowStart.Before(cutoff) && (w.BlockedUntil == nil || w.BlockedUntil.Before(cutoff)) {
				delete(sh.windows, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}
