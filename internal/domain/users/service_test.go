package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clipdeck/server/internal/auth"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	mu    sync.Mutex
	users map[string]User
	err   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]User)}
}

func (f *fakeRepo) CreateUser(_ context.Context, u User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeRepo) GetUser(_ context.Context, id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetUserByUsername(_ context.Context, username string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeRepo) ListUsers(_ context.Context) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, f.err
}

func (f *fakeRepo) ListUsersByKeyPrefix(_ context.Context, prefix string) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []User
	for _, u := range f.users {
		if u.APIKeyPrefix == prefix {
			out = append(out, u)
		}
	}
	return out, f.err
}

func (f *fakeRepo) UpdateUserAPIKey(_ context.Context, id, prefix, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.APIKeyPrefix = prefix
	u.APIKeyHash = hash
	f.users[id] = u
	return nil
}

func (f *fakeRepo) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

var adminActor = auth.Principal{ID: "admin-id", Username: "admin", IsAdmin: true}

func newTestService(repo Repository) *Service {
	return NewService(repo, nil, bcrypt.MinCost, zerolog.Nop())
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	created, err := svc.Create(ctx, adminActor, CreateParams{Username: " <b>alice</b> ", APIKey: "alice-secret-key"}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "alice", created.User.Username)
	assert.Equal(t, "alice-secret-key", created.APIKey)
	assert.Len(t, created.User.ID, 26)
	assert.Equal(t, "alice-se", created.User.APIKeyPrefix)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.User.APIKeyHash), []byte("alice-secret-key")))

	p, err := auth.ValidateAPIKey(ctx, svc, "alice-secret-key")
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, p.ID)
	assert.False(t, p.IsAdmin)
}

func TestService_Create_GeneratesKey(t *testing.T) {
	svc := newTestService(newFakeRepo())

	created, err := svc.Create(context.Background(), adminActor, CreateParams{Username: "bob", IsAdmin: true}, "")
	require.NoError(t, err)

	assert.NotEmpty(t, created.APIKey)
	assert.True(t, created.User.IsAdmin)
	p, err := auth.ValidateAPIKey(context.Background(), svc, created.APIKey)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin)
}

func TestService_Create_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeRepo())
	_, err := svc.Create(ctx, adminActor, CreateParams{Username: "alice", APIKey: "shared-key-123"}, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		actor  auth.Principal
		params CreateParams
		want   error
	}{
		{"non admin", auth.Principal{ID: "u1", Username: "u1"}, CreateParams{Username: "carol"}, ErrForbidden},
		{"duplicate username", adminActor, CreateParams{Username: "alice"}, ErrUsernameTaken},
		{"duplicate key", adminActor, CreateParams{Username: "carol", APIKey: "shared-key-123"}, ErrAPIKeyTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.actor, tt.params, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = svc.Create(ctx, adminActor, CreateParams{Username: "<script>x</script>"}, "")
	assert.Error(t, err, "empty username after sanitising")
	_, err = svc.Create(ctx, adminActor, CreateParams{Username: "dave", APIKey: "short"}, "")
	assert.Error(t, err, "key below minimum length")
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeRepo())
	created, err := svc.Create(ctx, adminActor, CreateParams{Username: "alice"}, "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, auth.Principal{ID: "x"}, created.User.ID, ""), ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, adminActor, adminActor.ID, ""), ErrCannotDeleteSelf)
	require.NoError(t, svc.Delete(ctx, adminActor, created.User.ID, ""))
	assert.ErrorIs(t, svc.Delete(ctx, adminActor, created.User.ID, ""), ErrUserNotFound)

	_, err = svc.PrincipalByID(ctx, created.User.ID)
	assert.ErrorIs(t, err, auth.ErrUnknownPrincipal)
}

func TestService_List_SortedByCreation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeRepo())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := svc.Create(ctx, adminActor, CreateParams{Username: name}, "")
		require.NoError(t, err)
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"carol", "alice", "bob"}, []string{list[0].Username, list[1].Username, list[2].Username})
}

func TestService_Bootstrap(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo)

	require.NoError(t, svc.Bootstrap(ctx, "admin-key-one", "shared-clip-key"))

	admin, err := auth.ValidateAPIKey(ctx, svc, "admin-key-one")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, AdminUsername, admin.Username)

	shared, err := auth.ValidateAPIKey(ctx, svc, "shared-clip-key")
	require.NoError(t, err)
	assert.False(t, shared.IsAdmin)
	assert.Equal(t, DefaultUsername, shared.Username)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, svc.Bootstrap(ctx, "admin-key-one", ""))
		list, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("rotates configured key", func(t *testing.T) {
		require.NoError(t, svc.Bootstrap(ctx, "admin-key-two", ""))

		_, err := auth.ValidateAPIKey(ctx, svc, "admin-key-one")
		assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)
		p, err := auth.ValidateAPIKey(ctx, svc, "admin-key-two")
		require.NoError(t, err)
		assert.Equal(t, admin.ID, p.ID)
	})
}

func TestService_Bootstrap_GeneratesAdminKey(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	require.NoError(t, svc.Bootstrap(context.Background(), "", ""))

	u, err := repo.GetUserByUsername(context.Background(), AdminUsername)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.NotEmpty(t, u.APIKeyHash)
}

func TestService_Bootstrap_StoreFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("connection refused")

	err := newTestService(repo).Bootstrap(context.Background(), "admin-key-one", "")
	assert.Error(t, err)
}
