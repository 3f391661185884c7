package clipboard

import (
	"context"
	"errors"
	"time"
)

var (
	ErrItemNotFound  = errors.New("clipboard item not found")
	ErrEmptyContent  = errors.New("content is required")
	ErrContentTooBig = errors.New("content exceeds size limit")
	ErrNoFile        = errors.New("item has no file")
)

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Item is one clipboard entry. File items carry the storage key in FilePath
// and the sanitized upload name in FileName.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Content   string    `json:"content,omitempty"`
	FilePath  string    `json:"-"`
	FileName  string    `json:"file_name,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	OwnerID   string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects a page of items, newest first. Search matches text content
// or file names case-insensitively. An empty OwnerID lists every owner.
type Filter struct {
	OwnerID string
	Search  string
	Limit   int
	Offset  int
}

// Repository persists clipboard items.
type Repository interface {
	CreateItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id string) (Item, error)
	ListItems(ctx context.Context, filter Filter) ([]Item, int, error)
	// DeleteOwnedItem removes id only when ownerID owns it; otherwise it
	// returns ErrItemNotFound.
	DeleteOwnedItem(ctx context.Context, id, ownerID string) (Item, error)
}

// Page is a listing result.
type Page struct {
	Items []Item `json:"data"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
}
