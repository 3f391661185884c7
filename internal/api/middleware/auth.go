package middleware

import (
	"context"
	"net/http"

	"github.com/clipdeck/server/internal/api/problem"
	"github.com/clipdeck/server/internal/auth"
)

// Verifier resolves a credential to a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

// Authenticate requires an API key or session token on the request and
// stores the resolved principal in the context.
func Authenticate(verifier Verifier, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := verifier.Verify(r.Context(), auth.CredentialFromRequest(r))
			if err != nil {
				if auth.IsCredentialError(err) {
					problem.Write(w, r, http.StatusUnauthorized, "invalid or missing api key", nil, env)
					return
				}
				problem.Write(w, r, http.StatusInternalServerError, "authentication failed", err, env)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			logger := LoggerFromContext(ctx).With().Str("principal_id", principal.ID).Logger()
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects authenticated non-admin principals with 403. It must
// run after Authenticate.
func RequireAdmin(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				problem.Write(w, r, http.StatusUnauthorized, "invalid or missing api key", nil, env)
				return
			}
			if !principal.IsAdmin {
				problem.Write(w, r, http.StatusForbidden, "admin privileges required", nil, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
