// Package clipboard stores text and file snippets and announces every change
// to the owner's live sessions.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/files"
	"github.com/clipdeck/server/internal/metrics"
	"github.com/clipdeck/server/internal/realtime"
	"github.com/clipdeck/server/internal/sanitize"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMaxTextLength = 1 << 20
	DefaultPageSize      = 10
	MaxPageSize          = 100
	defaultFileMimeType  = "application/octet-stream"
)

type Config struct {
	MaxFileSize   int64
	MaxTextLength int
}

type Service struct {
	repo   Repository
	files  files.Store
	events realtime.Publisher
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, store files.Store, events realtime.Publisher, cfg Config, logger zerolog.Logger) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	return &Service{
		repo:   repo,
		files:  store,
		events: events,
		cfg:    cfg,
		logger: logger.With().Str("component", "clipboard").Logger(),
		now:    time.Now,
	}
}

func (s *Service) MaxFileSize() int64 { return s.cfg.MaxFileSize }

// CreateText stores a text snippet for owner.
func (s *Service) CreateText(ctx context.Context, owner auth.Principal, content string) (Item, error) {
	if strings.TrimSpace(content) == "" {
		return Item{}, ErrEmptyContent
	}
	if len(content) > s.cfg.MaxTextLength {
		return Item{}, ErrContentTooBig
	}
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}

	item := Item{
		ID:        ulid.Make().String(),
		Kind:      KindText,
		Content:   content,
		OwnerID:   owner.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return Item{}, fmt.Errorf("create text item: %w", err)
	}
	metrics.ClipboardItemsCreated.WithLabelValues(string(KindText)).Inc()
	s.publish(realtime.ItemCreated, owner.ID, item)
	return item, nil
}

// CreateFile streams r into the file store and records it for owner. The
// stored object is removed again when the item cannot be recorded.
func (s *Service) CreateFile(ctx context.Context, owner auth.Principal, name, mimeType string, r io.Reader) (Item, error) {
	name = sanitize.FileName(name)
	obj, err := s.files.Save(ctx, name, r, s.cfg.MaxFileSize)
	if err != nil {
		return Item{}, err
	}

	item := Item{
		ID:        ulid.Make().String(),
		Kind:      KindFile,
		FilePath:  obj.Key,
		FileName:  name,
		FileSize:  obj.Size,
		MimeType:  DetectMimeType(name, mimeType),
		OwnerID:   owner.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		if rmErr := s.files.Remove(context.WithoutCancel(ctx), obj.Key); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("key", obj.Key).Msg("failed to remove orphaned upload")
		}
		return Item{}, fmt.Errorf("create file item: %w", err)
	}
	metrics.ClipboardItemsCreated.WithLabelValues(string(KindFile)).Inc()
	s.publish(realtime.ItemCreated, owner.ID, item)
	return item, nil
}

// List returns a page of items. Page numbers start at 1.
func (s *Service) List(ctx context.Context, filter Filter, page, size int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Limit = size
	filter.Offset = (page - 1) * size

	items, total, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("list items: %w", err)
	}
	if items == nil {
		items = []Item{}
	}
	return Page{Items: items, Total: total, Page: page, Size: size}, nil
}

func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// OpenFile returns the item and a reader over its bytes. The caller closes
// the reader.
func (s *Service) OpenFile(ctx context.Context, id string) (Item, io.ReadCloser, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, nil, err
	}
	if item.Kind != KindFile || item.FilePath == "" {
		return Item{}, nil, ErrNoFile
	}
	rc, err := s.files.Open(ctx, item.FilePath)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return Item{}, nil, ErrItemNotFound
		}
		return Item{}, nil, err
	}
	return item, rc, nil
}

// Delete removes an item owned by owner. Other owners' items look missing.
func (s *Service) Delete(ctx context.Context, owner auth.Principal, id string) error {
	item, err := s.repo.DeleteOwnedItem(ctx, id, owner.ID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return err
		}
		return fmt.Errorf("delete item: %w", err)
	}
	if item.FilePath != "" {
		if err := s.files.Remove(ctx, item.FilePath); err != nil {
			s.logger.Error().Err(err).Str("item_id", id).Str("key", item.FilePath).Msg("failed to remove file")
		}
	}
	s.publish(realtime.ItemDeleted, owner.ID, map[string]string{"id": id})
	return nil
}

func (s *Service) publish(kind realtime.EventKind, ownerID string, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(kind, ownerID, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", string(kind)).Msg("event not delivered")
	}
}

// DetectMimeType prefers a concrete declared type and falls back to the
// file extension.
func DetectMimeType(name, declared string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != defaultFileMimeType {
		return mt
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return defaultFileMimeType
}
