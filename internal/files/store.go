// Package files stores the bytes behind file clipboard items.
package files

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/clipdeck/server/internal/sanitize"
	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound   = errors.New("file not found")
	ErrTooLarge   = errors.New("file exceeds size limit")
	ErrInvalidKey = errors.New("invalid file key")
)

// Object describes a stored upload.
type Object struct {
	Key  string
	Size int64
}

// Store persists uploads under opaque keys. Remove of a missing key is not
// an error.
type Store interface {
	Save(ctx context.Context, originalName string, r io.Reader, maxBytes int64) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// NewKey returns a fresh key keeping the (sanitized) extension of the
// original name.
func NewKey(originalName string) string {
	ext := strings.ToLower(path.Ext(sanitize.FileName(originalName)))
	if len(ext) > 16 || strings.ContainsAny(ext, " _") {
		ext = ""
	}
	return ulid.Make().String() + ext
}

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, "/\\\x00") ||
		strings.HasPrefix(key, ".") {
		return ErrInvalidKey
	}
	return nil
}
