package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyPrefixLength is the number of leading key characters stored in
	// clear for lookup.
	KeyPrefixLength = 8

	// MinKeyLength bounds user-chosen keys from below.
	MinKeyLength = 8

	DefaultBcryptCost = 10

	generatedKeyPrefix = "cd_"
)

// KeyRecord is a stored credential. Hash is a bcrypt digest of the full key.
type KeyRecord struct {
	Principal
	Hash string
}

// KeyStore resolves credentials to principals.
type KeyStore interface {
	LookupByKeyPrefix(ctx context.Context, prefix string) ([]KeyRecord, error)
	PrincipalByID(ctx context.Context, id string) (Principal, error)
}

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrUnknownPrincipal is returned by KeyStore implementations when the
	// principal no longer exists.
	ErrUnknownPrincipal = errors.New("unknown principal")
)

// CredentialFromRequest returns the presented credential: a bearer token,
// the X-API-Key header, or one of the apiKey, api_key and token query
// parameters, in that order.
func CredentialFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if key, err := APIKeyFromHeader(r.Header.Get("Authorization")); err == nil {
		return key
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	q := r.URL.Query()
	for _, name := range []string{"apiKey", "api_key", "token"} {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func APIKeyFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingAPIKey
	}
	key := strings.TrimSpace(parts[1])
	if key == "" || !utf8.ValidString(key) {
		return "", ErrInvalidAPIKey
	}
	return key, nil
}

// KeyPrefix returns the lookup prefix of key.
func KeyPrefix(key string) (string, error) {
	if len(key) < MinKeyLength || !utf8.ValidString(key) {
		return "", ErrInvalidAPIKey
	}
	return key[:KeyPrefixLength], nil
}

// ValidateAPIKey checks key against the candidates sharing its prefix.
func ValidateAPIKey(ctx context.Context, store KeyStore, key string) (Principal, error) {
	if store == nil {
		return Principal{}, ErrInvalidAPIKey
	}
	if strings.TrimSpace(key) == "" {
		return Principal{}, ErrMissingAPIKey
	}
	prefix, err := KeyPrefix(key)
	if err != nil {
		return Principal{}, err
	}

	candidates, err := store.LookupByKeyPrefix(ctx, prefix)
	if err != nil {
		return Principal{}, err
	}
	for _, c := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(key)) == nil {
			return c.Principal, nil
		}
	}
	return Principal{}, ErrInvalidAPIKey
}

// HashAPIKey returns a bcrypt digest of key. A cost outside bcrypt's range
// falls back to DefaultBcryptCost.
func HashAPIKey(key string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateAPIKey returns a new random key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return generatedKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
