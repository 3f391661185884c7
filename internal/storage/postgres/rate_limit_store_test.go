package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clipdeck/server/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowStore_TrailingAdmit(t *testing.T) {
	ctx := context.Background()
	store := NewWindowStore(setupPostgres(t))
	gov := ratelimit.NewGovernor(store, ratelimit.Config{
		MaxRequests:   3,
		Window:        time.Minute,
		BlockDuration: 10 * time.Minute,
	}, zerolog.Nop())

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 4; i++ {
		assert.Truef(t, gov.Evaluate(ctx, "198.51.100.1", now.Add(time.Duration(i)*time.Second)).Allowed, "request %d", i+1)
	}

	d := gov.Evaluate(ctx, "198.51.100.1", now.Add(5*time.Second))
	assert.False(t, d.Allowed)
	assert.Equal(t, 598, d.RetryAfter)

	w, err := store.Get(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, 4, w.Count)
	require.NotNil(t, w.BlockedUntil)
	assert.True(t, w.BlockedUntil.Equal(now.Add(3*time.Second+10*time.Minute)))

	assert.True(t, gov.Evaluate(ctx, "198.51.100.2", now).Allowed, "other clients are unaffected")
}

func TestWindowStore_ConcurrentUpdatesSerialise(t *testing.T) {
	ctx := context.Background()
	store := NewWindowStore(setupPostgres(t))
	now := time.Now().UTC()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, "192.0.2.1", func(w *ratelimit.ClientWindow) bool {
				w.Count++
				w.WindowStart = now
				w.UpdatedAt = now
				return true
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := store.Get(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, workers, w.Count)
}

func TestWindowStore_ListAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewWindowStore(setupPostgres(t))
	now := time.Now().UTC()

	set := func(id string, last time.Time, blocked *time.Time) {
		require.NoError(t, store.Update(ctx, id, func(w *ratelimit.ClientWindow) bool {
			w.Count = 1
			w.WindowStart = last
			w.BlockedUntil = blocked
			w.UpdatedAt = last
			return true
		}))
	}
	future := now.Add(time.Hour)
	set("stale", now.Add(-2*time.Hour), nil)
	set("blocked", now.Add(-2*time.Hour), &future)
	set("fresh", now, nil)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, "fresh", list[0].ClientID)

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	removed, err := store.Prune(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	w, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Zero(t, w.Count)
}
