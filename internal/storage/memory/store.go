// Package memory keeps users, clipboard items and the access log in process
// memory. It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/domain/users"
	"github.com/clipdeck/server/internal/retention"
)

type Store struct {
	mu      sync.RWMutex
	users   map[string]users.User
	items   map[string]clipboard.Item
	logs    []audit.Entry
	nextLog int64
}

var (
	_ users.Repository     = (*Store)(nil)
	_ clipboard.Repository = (*Store)(nil)
	_ retention.ItemStore  = (*Store)(nil)
	_ audit.Store          = (*Store)(nil)
	_ audit.Query          = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users: make(map[string]users.User),
		items: make(map[string]clipboard.Item),
	}
}

func (s *Store) CreateUser(ctx context.Context, u users.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return users.ErrUsernameTaken
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return users.User{}, users.ErrUserNotFound
}

func (s *Store) ListUsers(ctx context.Context) ([]users.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]users.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListUsersByKeyPrefix(ctx context.Context, prefix string) ([]users.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []users.User
	for _, u := range s.users {
		if u.APIKeyPrefix == prefix {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) UpdateUserAPIKey(ctx context.Context, id, prefix, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.APIKeyPrefix = prefix
	u.APIKeyHash = hash
	s.users[id] = u
	return nil
}

// DeleteUser removes the user. Their items stay until retention evicts them.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return users.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) CreateItem(ctx context.Context, item clipboard.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (clipboard.Item, error) {
	if err := ctx.Err(); err != nil {
		return clipboard.Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return clipboard.Item{}, clipboard.ErrItemNotFound
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, filter clipboard.Filter) ([]clipboard.Item, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	search := strings.ToLower(filter.Search)

	s.mu.RLock()
	matched := make([]clipboard.Item, 0, len(s.items))
	for _, item := range s.items {
		if filter.OwnerID != "" && item.OwnerID != filter.OwnerID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Content), search) &&
			!strings.Contains(strings.ToLower(item.FileName), search) {
			continue
		}
		matched = append(matched, item)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (s *Store) DeleteOwnedItem(ctx context.Context, id, ownerID string) (clipboard.Item, error) {
	if err := ctx.Err(); err != nil {
		return clipboard.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.OwnerID != ownerID {
		return clipboard.Item{}, clipboard.ErrItemNotFound
	}
	delete(s.items, id)
	return item, nil
}

func (s *Store) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]retention.Expired, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []retention.Expired
	for _, item := range s.items {
		if item.CreatedAt.Before(cutoff) {
			out = append(out, retention.Expired{ID: item.ID, OwnerID: item.OwnerID, FilePath: item.FilePath})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.items[id]; ok {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendAccessLog(ctx context.Context, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLog++
	entry.ID = s.nextLog
	s.logs = append(s.logs, entry)
	return nil
}

// ListAccessLogs returns entries newest first.
func (s *Store) ListAccessLogs(ctx context.Context, limit, offset int) ([]audit.Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	newest := make([]audit.Entry, len(s.logs))
	for i, e := range s.logs {
		newest[len(s.logs)-1-i] = e
	}
	return paginate(newest, offset, limit), len(newest), nil
}

func paginate[T any](all []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
