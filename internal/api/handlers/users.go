package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/clipdeck/server/internal/api/problem"
	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/clientip"
	"github.com/clipdeck/server/internal/domain/users"
)

// UserService is the account management surface the handlers use.
type UserService interface {
	Create(ctx context.Context, actor auth.Principal, params users.CreateParams, ip string) (users.Created, error)
	Delete(ctx context.Context, actor auth.Principal, id, ip string) error
	Get(ctx context.Context, id string) (users.User, error)
	List(ctx context.Context) ([]users.User, error)
}

// Authenticator verifies credentials and, when configured, mints session
// tokens.
type Authenticator interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
	IssueToken(p auth.Principal) (string, error)
}

type UsersHandler struct {
	users    UserService
	authn    Authenticator
	resolver clientip.Resolver
	env      string
}

func NewUsersHandler(svc UserService, authn Authenticator, resolver clientip.Resolver, env string) *UsersHandler {
	return &UsersHandler{users: svc, authn: authn, resolver: resolver, env: env}
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Admin    bool   `json:"admin"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
	Token    string `json:"token,omitempty"`
}

// Login exchanges an API key for the caller's identity and, when session
// tokens are enabled, a signed token.
func (h *UsersHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, err.Error(), nil, h.env, problem.WithSuccessFlag())
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		problem.Write(w, r, http.StatusBadRequest, "apiKey is required", nil, h.env, problem.WithSuccessFlag())
		return
	}

	principal, err := h.authn.Verify(r.Context(), req.APIKey)
	if err != nil {
		if auth.IsCredentialError(err) {
			problem.Write(w, r, http.StatusUnauthorized, "invalid api key", nil, h.env, problem.WithSuccessFlag())
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, "authentication failed", err, h.env, problem.WithSuccessFlag())
		return
	}

	resp := loginResponse{
		Success:  true,
		Admin:    principal.IsAdmin,
		Username: principal.Username,
		UserID:   principal.ID,
	}
	if token, err := h.authn.IssueToken(principal); err == nil {
		resp.Token = token
	}
	writeJSON(w, http.StatusOK, resp)
}

type userResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	IsAdmin   bool       `json:"is_admin"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func toUserResponse(u users.User) userResponse {
	resp := userResponse{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
	if !u.CreatedAt.IsZero() {
		created := u.CreatedAt
		resp.CreatedAt = &created
	}
	return resp
}

// Me returns the authenticated principal.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, "invalid or missing api key", nil, h.env)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: principal.ID, Username: principal.Username, IsAdmin: principal.IsAdmin})
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.users.List(r.Context())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "failed to list users", err, h.env)
		return
	}
	out := make([]userResponse, 0, len(all))
	for _, u := range all {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

type createUserResponse struct {
	userResponse
	APIKey  string `json:"apiKey"`
	Message string `json:"message"`
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())

	var params users.CreateParams
	if err := decodeJSON(r, &params); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		problem.Write(w, r, status, err.Error(), nil, h.env)
		return
	}

	created, err := h.users.Create(r.Context(), actor, params, h.resolver.FromRequest(r))
	if err != nil {
		h.writeUserError(w, r, err, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, createUserResponse{
		userResponse: toUserResponse(created.User),
		APIKey:       created.APIKey,
		Message:      "user created",
	})
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		problem.Write(w, r, http.StatusBadRequest, "user id is required", nil, h.env)
		return
	}

	if err := h.users.Delete(r.Context(), actor, id, h.resolver.FromRequest(r)); err != nil {
		h.writeUserError(w, r, err, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

func (h *UsersHandler) writeUserError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if msg, ok := validationMessage(err); ok {
		problem.Write(w, r, http.StatusBadRequest, msg, nil, h.env)
		return
	}
	switch {
	case errors.Is(err, users.ErrForbidden):
		problem.Write(w, r, http.StatusForbidden, err.Error(), nil, h.env)
	case errors.Is(err, users.ErrUserNotFound):
		problem.Write(w, r, http.StatusNotFound, err.Error(), nil, h.env)
	case errors.Is(err, users.ErrUsernameTaken), errors.Is(err, users.ErrAPIKeyTaken):
		problem.Write(w, r, http.StatusConflict, err.Error(), nil, h.env)
	case errors.Is(err, users.ErrCannotDeleteSelf), errors.Is(err, auth.ErrInvalidAPIKey):
		problem.Write(w, r, http.StatusBadRequest, err.Error(), nil, h.env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, fallback, err, h.env)
	}
}
