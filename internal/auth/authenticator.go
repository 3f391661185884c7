package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Authenticator resolves a presented credential to a Principal. Session
// tokens are tried first when a JWT manager is configured; anything else is
// treated as an API key.
type Authenticator struct {
	keys KeyStore
	jwt  *JWTManager
}

func NewAuthenticator(keys KeyStore, jwt *JWTManager) *Authenticator {
	return &Authenticator{keys: keys, jwt: jwt}
}

func (a *Authenticator) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	if a.jwt != nil && LooksLikeJWT(token) {
		claims, err := a.jwt.Validate(token)
		if err != nil {
			return Principal{}, err
		}
		p, err := a.keys.PrincipalByID(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrUnknownPrincipal) {
				return Principal{}, ErrInvalidToken
			}
			return Principal{}, fmt.Errorf("resolve token subject: %w", err)
		}
		return p, nil
	}

	p, err := ValidateAPIKey(ctx, a.keys, token)
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrMissingAPIKey) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("lookup api key: %w", err)
	}
	return p, nil
}

// IssueToken mints a session token for p. It fails when no JWT secret is
// configured.
func (a *Authenticator) IssueToken(p Principal) (string, error) {
	if a.jwt == nil {
		return "", errors.New("session tokens are not enabled")
	}
	return a.jwt.Generate(p)
}

// IsCredentialError reports whether err means the caller presented a bad or
// missing credential, as opposed to a backend failure.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrMissingAPIKey) ||
		errors.Is(err, ErrInvalidAPIKey)
}
