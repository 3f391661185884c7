package users

import (
	"context"
	"errors"
	"time"

	"github.com/clipdeck/server/internal/auth"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username is already taken")
	ErrAPIKeyTaken      = errors.New("api key is already in use")
	ErrCannotDeleteSelf = errors.New("cannot delete the current user")
	ErrForbidden        = errors.New("admin privileges required")
)

const (
	AdminUsername   = "admin"
	DefaultUsername = "clipboard"
)

// User is an account identified by an API key. Only the key prefix and a
// bcrypt hash are stored.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	APIKeyPrefix string    `json:"-"`
	APIKeyHash   string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u User) Principal() auth.Principal {
	return auth.Principal{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// Repository persists users. Create returns ErrUsernameTaken on a duplicate
// username; lookups and Delete return ErrUserNotFound.
type Repository interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByKeyPrefix(ctx context.Context, prefix string) ([]User, error)
	UpdateUserAPIKey(ctx context.Context, id, prefix, hash string) error
	DeleteUser(ctx context.Context, id string) error
}

// CreateParams is the admin request to add a user. An empty APIKey is
// replaced by a generated one.
type CreateParams struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	APIKey   string `json:"apiKey" validate:"omitempty,min=8,max=128"`
	IsAdmin  bool   `json:"is_admin"`
}

// Created carries the new user and the plaintext key, which is never
// retrievable again.
type Created struct {
	User   User   `json:"user"`
	APIKey string `json:"apiKey"`
}
