package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeKeyStore struct {
	records      []KeyRecord
	lookupPrefix string
	lookupErr    error
}

func (f *fakeKeyStore) LookupByKeyPrefix(ctx context.Context, prefix string) ([]KeyRecord, error) {
	f.lookupPrefix = prefix
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.records, nil
}

func (f *fakeKeyStore) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r.Principal, nil
		}
	}
	return Principal{}, ErrUnknownPrincipal
}

func mustHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := HashAPIKey(key, bcrypt.MinCost)
	require.NoError(t, err)
	return hash
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{name: "bearer", target: "/", header: map[string]string{"Authorization": "Bearer abc123"}, want: "abc123"},
		{name: "x-api-key", target: "/", header: map[string]string{"X-API-Key": "key-1"}, want: "key-1"},
		{name: "bearer wins", target: "/?apiKey=q", header: map[string]string{"Authorization": "Bearer b", "X-API-Key": "h"}, want: "b"},
		{name: "query apiKey", target: "/?apiKey=q1", want: "q1"},
		{name: "query api_key", target: "/?api_key=q2", want: "q2"},
		{name: "query token", target: "/?token=q3", want: "q3"},
		{name: "basic auth ignored", target: "/", header: map[string]string{"Authorization": "Basic Zm9v"}, want: ""},
		{name: "none", target: "/", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, CredentialFromRequest(r))
		})
	}
	assert.Empty(t, CredentialFromRequest(nil))
}

func TestValidateAPIKey(t *testing.T) {
	ctx := context.Background()
	key := "abc12345secret"
	store := &fakeKeyStore{records: []KeyRecord{
		{Principal: Principal{ID: "other", Username: "mallory"}, Hash: mustHash(t, "abc12345different")},
		{Principal: Principal{ID: "1", Username: "alice"}, Hash: mustHash(t, key)},
	}}

	got, err := ValidateAPIKey(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
	assert.Equal(t, key[:KeyPrefixLength], store.lookupPrefix)

	_, err = ValidateAPIKey(ctx, store, "abc12345wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = ValidateAPIKey(ctx, store, "short")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = ValidateAPIKey(ctx, store, " ")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = ValidateAPIKey(ctx, nil, key)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "cd_"))
	assert.NotEqual(t, a, b)
	_, err = KeyPrefix(a)
	assert.NoError(t, err)
}

func TestHashAPIKey_CostFallback(t *testing.T) {
	hash, err := HashAPIKey("abcdefgh", 99)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, cost)
}

func TestAuthenticator_Verify(t *testing.T) {
	ctx := context.Background()
	key := "abc12345secret"
	store := &fakeKeyStore{records: []KeyRecord{
		{Principal: Principal{ID: "u1", Username: "alice", IsAdmin: true}, Hash: mustHash(t, key)},
	}}
	jwtm, err := NewJWTManager("secret", time.Hour, "clipdeck")
	require.NoError(t, err)
	a := NewAuthenticator(store, jwtm)

	p, err := a.Verify(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "u1", Username: "alice", IsAdmin: true}, p)

	token, err := a.IssueToken(p)
	require.NoError(t, err)
	p, err = a.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)

	orphan, err := jwtm.Generate(Principal{ID: "deleted"})
	require.NoError(t, err)
	_, err = a.Verify(ctx, orphan)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.True(t, IsCredentialError(err))
}

func TestAuthenticator_StoreFailureIsNotCredentialError(t *testing.T) {
	store := &fakeKeyStore{lookupErr: errors.New("connection refused")}
	a := NewAuthenticator(store, nil)

	_, err := a.Verify(context.Background(), "abc12345secret")
	require.Error(t, err)
	assert.False(t, IsCredentialError(err))

	_, err = a.IssueToken(Principal{ID: "u1"})
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{ID: "u1"})
	p, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", p.ID)
}
