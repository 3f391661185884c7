// Package storage defines what the service persists. The memory and
// postgres subpackages implement Store; bolt and redis hold only
// rate-limit windows.
package storage

import (
	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/domain/users"
	"github.com/clipdeck/server/internal/retention"
)

// Store groups data access by domain.
type Store interface {
	users.Repository
	clipboard.Repository
	retention.ItemStore
	audit.Store
	audit.Query
}
