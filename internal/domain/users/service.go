// Package users manages API-key accounts: admin CRUD, startup bootstrap and
// credential lookup for the authenticator.
package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/sanitize"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	repo        Repository
	auditLogger *audit.Logger
	bcryptCost  int
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

var _ auth.KeyStore = (*Service)(nil)

func NewService(repo Repository, auditLogger *audit.Logger, bcryptCost int, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		auditLogger: auditLogger,
		bcryptCost:  bcryptCost,
		validator:   validator.New(),
		logger:      logger.With().Str("component", "users").Logger(),
		now:         time.Now,
	}
}

// Create adds a user on behalf of an admin.
func (s *Service) Create(ctx context.Context, actor auth.Principal, params CreateParams, ip string) (Created, error) {
	if !actor.IsAdmin {
		return Created{}, ErrForbidden
	}
	params.Username = sanitize.Username(params.Username)
	if err := s.validator.Struct(params); err != nil {
		return Created{}, fmt.Errorf("invalid user: %w", err)
	}

	created, err := s.create(ctx, params)
	if err != nil {
		s.audit().LogFailure("user.create", actor.Username, ip, map[string]string{
			"username": params.Username,
			"error":    err.Error(),
		})
		return Created{}, err
	}

	s.audit().LogSuccess("user.created", actor.Username, "user", created.User.ID, ip, map[string]string{
		"username": created.User.Username,
		"is_admin": fmt.Sprint(created.User.IsAdmin),
	})
	return created, nil
}

func (s *Service) create(ctx context.Context, params CreateParams) (Created, error) {
	if _, err := s.repo.GetUserByUsername(ctx, params.Username); err == nil {
		return Created{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return Created{}, fmt.Errorf("check username: %w", err)
	}

	key := params.APIKey
	if key == "" {
		generated, err := auth.GenerateAPIKey()
		if err != nil {
			return Created{}, fmt.Errorf("generate api key: %w", err)
		}
		key = generated
	}
	prefix, hash, err := s.hashKey(ctx, key, "")
	if err != nil {
		return Created{}, err
	}

	u := User{
		ID:           ulid.Make().String(),
		Username:     params.Username,
		APIKeyPrefix: prefix,
		APIKeyHash:   hash,
		IsAdmin:      params.IsAdmin,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return Created{}, err
		}
		return Created{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Str("user_id", u.ID).Str("username", u.Username).Bool("is_admin", u.IsAdmin).Msg("user created")
	return Created{User: u, APIKey: key}, nil
}

// hashKey rejects a key already held by a user other than ownerID and
// returns its lookup prefix and hash.
func (s *Service) hashKey(ctx context.Context, key, ownerID string) (string, string, error) {
	prefix, err := auth.KeyPrefix(key)
	if err != nil {
		return "", "", err
	}
	existing, err := s.repo.ListUsersByKeyPrefix(ctx, prefix)
	if err != nil {
		return "", "", fmt.Errorf("check api key: %w", err)
	}
	for _, u := range existing {
		if u.ID != ownerID && bcrypt.CompareHashAndPassword([]byte(u.APIKeyHash), []byte(key)) == nil {
			return "", "", ErrAPIKeyTaken
		}
	}
	hash, err := auth.HashAPIKey(key, s.bcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}
	return prefix, hash, nil
}

// Delete removes a user. Admins cannot delete themselves.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id, ip string) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	if id == actor.ID {
		return ErrCannotDeleteSelf
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.audit().LogSuccess("user.deleted", actor.Username, "user", id, ip, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// List returns all users ordered by creation time.
func (s *Service) List(ctx context.Context) ([]User, error) {
	list, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// Bootstrap ensures the admin account exists and, when configured, the
// shared default account. A configured key replaces the stored one. An
// admin created without a configured key gets a generated key that is
// logged once.
func (s *Service) Bootstrap(ctx context.Context, adminKey, defaultKey string) error {
	if err := s.ensure(ctx, AdminUsername, adminKey, true); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if defaultKey != "" {
		if err := s.ensure(ctx, DefaultUsername, defaultKey, false); err != nil {
			return fmt.Errorf("bootstrap default user: %w", err)
		}
	}
	return nil
}

func (s *Service) ensure(ctx context.Context, username, key string, isAdmin bool) error {
	existing, err := s.repo.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		created, err := s.create(ctx, CreateParams{Username: username, APIKey: key, IsAdmin: isAdmin})
		if err != nil {
			return err
		}
		if key == "" {
			s.logger.Warn().
				Str("username", username).
				Str("api_key", created.APIKey).
				Msg("generated api key for bootstrap user; set ADMIN_API_KEY to pin it")
		}
		return nil
	case err != nil:
		return err
	}

	if key == "" || bcrypt.CompareHashAndPassword([]byte(existing.APIKeyHash), []byte(key)) == nil {
		return nil
	}
	prefix, hash, err := s.hashKey(ctx, key, existing.ID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserAPIKey(ctx, existing.ID, prefix, hash); err != nil {
		return err
	}
	s.logger.Info().Str("username", username).Msg("bootstrap user api key rotated from configuration")
	return nil
}

// LookupByKeyPrefix implements auth.KeyStore.
func (s *Service) LookupByKeyPrefix(ctx context.Context, prefix string) ([]auth.KeyRecord, error) {
	list, err := s.repo.ListUsersByKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	records := make([]auth.KeyRecord, 0, len(list))
	for _, u := range list {
		records = append(records, auth.KeyRecord{Principal: u.Principal(), Hash: u.APIKeyHash})
	}
	return records, nil
}

// PrincipalByID implements auth.KeyStore.
func (s *Service) PrincipalByID(ctx context.Context, id string) (auth.Principal, error) {
	u, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return auth.Principal{}, auth.ErrUnknownPrincipal
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return u.Principal(), nil
}

func (s *Service) audit() *audit.Logger {
	if s.auditLogger == nil {
		s.auditLogger = audit.NewLogger(s.logger)
	}
	return s.auditLogger
}
