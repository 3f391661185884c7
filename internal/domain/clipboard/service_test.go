package clipboard_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/files"
	"github.com/clipdeck/server/internal/realtime"
	"github.com/clipdeck/server/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	kind      realtime.EventKind
	principal string
	payload   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(kind realtime.EventKind, principalID string, payload any) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind, principalID, payload})
	return 1, nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type failingRepo struct {
	clipboard.Repository
}

func (failingRepo) CreateItem(context.Context, clipboard.Item) error {
	return errors.New("disk full")
}

var (
	alice = auth.Principal{ID: "alice-id", Username: "alice"}
	bob   = auth.Principal{ID: "bob-id", Username: "bob"}
)

type fixture struct {
	svc    *clipboard.Service
	store  *memory.Store
	files  *files.DiskStore
	events *recordingPublisher
}

func newFixture(t *testing.T, cfg clipboard.Config) fixture {
	t.Helper()
	disk, err := files.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	store := memory.New()
	events := &recordingPublisher{}
	return fixture{
		svc:    clipboard.NewService(store, disk, events, cfg, zerolog.Nop()),
		store:  store,
		files:  disk,
		events: events,
	}
}

func TestService_CreateText(t *testing.T) {
	f := newFixture(t, clipboard.Config{MaxTextLength: 16})
	ctx := context.Background()

	item, err := f.svc.CreateText(ctx, alice, "hello")
	require.NoError(t, err)
	assert.Equal(t, clipboard.KindText, item.Kind)
	assert.Equal(t, alice.ID, item.OwnerID)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, realtime.ItemCreated, events[0].kind)
	assert.Equal(t, alice.ID, events[0].principal)

	_, err = f.svc.CreateText(ctx, alice, "   ")
	assert.ErrorIs(t, err, clipboard.ErrEmptyContent)
	_, err = f.svc.CreateText(ctx, alice, strings.Repeat("x", 17))
	assert.ErrorIs(t, err, clipboard.ErrContentTooBig)
	assert.Len(t, f.events.all(), 1)
}

func TestService_CreateFile(t *testing.T) {
	f := newFixture(t, clipboard.Config{MaxFileSize: 32})
	ctx := context.Background()

	item, err := f.svc.CreateFile(ctx, alice, "../shot.PNG", "", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, clipboard.KindFile, item.Kind)
	assert.Equal(t, "shot.PNG", item.FileName)
	assert.Equal(t, "image/png", item.MimeType)
	assert.Equal(t, int64(9), item.FileSize)

	got, rc, err := f.svc.OpenFile(ctx, item.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, item.ID, got.ID)

	_, err = f.svc.CreateFile(ctx, alice, "big.bin", "", strings.NewReader(strings.Repeat("x", 33)))
	assert.ErrorIs(t, err, files.ErrTooLarge)
}

func TestService_CreateFile_RemovesOrphanOnRepoFailure(t *testing.T) {
	dir := t.TempDir()
	disk, err := files.NewDiskStore(dir)
	require.NoError(t, err)
	svc := clipboard.NewService(failingRepo{}, disk, nil, clipboard.Config{}, zerolog.Nop())

	_, err = svc.CreateFile(context.Background(), alice, "a.txt", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_OpenFile_TextItem(t *testing.T) {
	f := newFixture(t, clipboard.Config{})
	item, err := f.svc.CreateText(context.Background(), alice, "hello")
	require.NoError(t, err)

	_, _, err = f.svc.OpenFile(context.Background(), item.ID)
	assert.ErrorIs(t, err, clipboard.ErrNoFile)
	_, _, err = f.svc.OpenFile(context.Background(), "missing")
	assert.ErrorIs(t, err, clipboard.ErrItemNotFound)
}

func TestService_Delete_OwnerOnly(t *testing.T) {
	f := newFixture(t, clipboard.Config{})
	ctx := context.Background()
	item, err := f.svc.CreateFile(ctx, alice, "notes.txt", "text/plain", strings.NewReader("secret"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, bob, item.ID), clipboard.ErrItemNotFound)
	_, err = f.svc.Get(ctx, item.ID)
	require.NoError(t, err, "other owners cannot delete")

	require.NoError(t, f.svc.Delete(ctx, alice, item.ID))
	_, err = f.files.Open(ctx, item.FilePath)
	assert.ErrorIs(t, err, files.ErrNotFound)

	events := f.events.all()
	last := events[len(events)-1]
	assert.Equal(t, realtime.ItemDeleted, last.kind)
	assert.Equal(t, alice.ID, last.principal)
	assert.Equal(t, map[string]string{"id": item.ID}, last.payload)
	for _, e := range events {
		assert.NotEqual(t, bob.ID, e.principal)
	}
}

func TestService_List(t *testing.T) {
	f := newFixture(t, clipboard.Config{})
	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		_, err := f.svc.CreateText(ctx, alice, content)
		require.NoError(t, err)
	}
	_, err := f.svc.CreateText(ctx, bob, "bob's")
	require.NoError(t, err)

	page, err := f.svc.List(ctx, clipboard.Filter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, clipboard.DefaultPageSize, page.Size)

	page, err = f.svc.List(ctx, clipboard.Filter{OwnerID: bob.ID}, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, clipboard.MaxPageSize, page.Size)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob's", page.Items[0].Content)

	page, err = f.svc.List(ctx, clipboard.Filter{Search: " TWO "}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = f.svc.List(ctx, clipboard.Filter{Search: "nothing"}, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "image/jpeg", clipboard.DetectMimeType("a.jpg", "application/octet-stream"))
	assert.Equal(t, "text/plain", clipboard.DetectMimeType("a.bin", "text/plain; charset=utf-8"))
	assert.Equal(t, "application/octet-stream", clipboard.DetectMimeType("noext", ""))
}
