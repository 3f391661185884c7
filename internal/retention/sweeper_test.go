package retention

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/clipdeck/server/internal/realtime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedItem struct {
	Expired
	CreatedAt time.Time
}

type fakeItems struct {
	mu        sync.Mutex
	items     []storedItem
	deleteErr error
	listErr   error
	deletes   int
	gate      chan struct{}
}

func (f *fakeItems) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]Expired, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Expired
	for _, it := range f.items {
		if it.CreatedAt.Before(cutoff) {
			out = append(out, it.Expired)
		}
	}
	return out, nil
}

func (f *fakeItems) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.items[:0]
	var n int64
	for _, it := range f.items {
		if drop[it.ID] {
			n++
			continue
		}
		kept = append(kept, it)
	}
	f.items = kept
	return n, nil
}

func (f *fakeItems) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, it := range f.items {
		out = append(out, it.ID)
	}
	sort.Strings(out)
	return out
}

type fakeFiles struct {
	mu      sync.Mutex
	removed []string
	failOn  map[string]bool
}

func (f *fakeFiles) Remove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[path] {
		return errors.New("permission denied")
	}
	f.removed = append(f.removed, path)
	return nil
}

type published struct {
	kind      realtime.EventKind
	principal string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(kind realtime.EventKind, principalID string, payload any) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind: kind, principal: principalID})
	return 1, nil
}

func (p *fakePublisher) principals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.principal)
	}
	sort.Strings(out)
	return out
}

var sweepNow = time.Date(2026, 5, 20, 2, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return sweepNow.Add(-time.Duration(d) * 24 * time.Hour)
}

func newFixture() (*fakeItems, *fakeFiles, *fakePublisher) {
	items := &fakeItems{items: []storedItem{
		{Expired: Expired{ID: "fresh", OwnerID: "alice"}, CreatedAt: daysAgo(5)},
		{Expired: Expired{ID: "old-1", OwnerID: "alice", FilePath: "a.txt"}, CreatedAt: daysAgo(8)},
		{Expired: Expired{ID: "old-2", OwnerID: "alice"}, CreatedAt: daysAgo(10)},
		{Expired: Expired{ID: "old-3", OwnerID: "bob", FilePath: "b.bin"}, CreatedAt: daysAgo(10)},
	}}
	return items, &fakeFiles{}, &fakePublisher{}
}

func TestSweeper_PurgesExpiredAndNotifiesOncePerOwner(t *testing.T) {
	items, files, events := newFixture()
	s := NewSweeper(items, files, events, Policy{ThresholdDays: 7}, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }))

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, items.ids())
	assert.Equal(t, int64(3), res.Purged)
	assert.ElementsMatch(t, []string{"alice", "bob"}, res.Owners)
	assert.Equal(t, daysAgo(7), res.Cutoff)
	assert.ElementsMatch(t, []string{"a.txt", "b.bin"}, files.removed)

	assert.Equal(t, []string{"alice", "bob"}, events.principals())
	for _, e := range events.events {
		assert.Equal(t, realtime.ItemsPurged, e.kind)
	}
}

func TestSweeper_NothingExpired(t *testing.T) {
	items := &fakeItems{items: []storedItem{
		{Expired: Expired{ID: "fresh", OwnerID: "alice"}, CreatedAt: daysAgo(1)},
	}}
	events := &fakePublisher{}
	s := NewSweeper(items, &fakeFiles{}, events, Policy{ThresholdDays: 7}, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Purged)
	assert.Zero(t, items.deletes)
	assert.Empty(t, events.events)
}

func TestSweeper_FileErrorsDoNotAbort(t *testing.T) {
	items, files, events := newFixture()
	files.failOn = map[string]bool{"a.txt": true}
	s := NewSweeper(items, files, events, Policy{ThresholdDays: 7}, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FileErrors)
	assert.Equal(t, int64(3), res.Purged)
	assert.Equal(t, []string{"alice", "bob"}, events.principals())
}

func TestSweeper_DeleteFailureNotifiesNobody(t *testing.T) {
	items, files, events := newFixture()
	items.deleteErr = errors.New("connection reset")
	s := NewSweeper(items, files, events, Policy{ThresholdDays: 7}, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }))

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, events.events)
	assert.Len(t, items.ids(), 4)
}

func TestSweeper_ListFailure(t *testing.T) {
	items, files, events := newFixture()
	items.listErr = errors.New("timeout")
	s := NewSweeper(items, files, events, Policy{ThresholdDays: 7}, zerolog.Nop())

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, items.deletes)
	assert.Empty(t, files.removed)
}

func TestSweeper_RejectsOverlappingRun(t *testing.T) {
	items, files, events := newFixture()
	items.gate = make(chan struct{})
	s := NewSweeper(items, files, events, Policy{ThresholdDays: 7}, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }))

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()
	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(items.gate)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
	assert.Equal(t, 1, items.deletes)
	assert.Equal(t, []string{"alice", "bob"}, events.principals())
}

func TestSweeper_SecondRunFindsNothing(t *testing.T) {
	items, files, events := newFixture()
	s := NewSweeper(items, files, events, Policy{ThresholdDays: 7}, zerolog.Nop(), WithClock(func() time.Time { return sweepNow }), WithConcurrency(1))

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, events.events, 2)
	assert.Equal(t, 1, items.deletes)
}
