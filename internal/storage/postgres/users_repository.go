package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/clipdeck/server/internal/domain/users"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, api_key_prefix, api_key_hash, is_admin, created_at`

func scanUser(row pgx.Row) (users.User, error) {
	var u users.User
	err := row.Scan(&u.ID, &u.Username, &u.APIKeyPrefix, &u.APIKeyHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

func (r *Repository) CreateUser(ctx context.Context, u users.User) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO users (id, username, api_key_prefix, api_key_hash, is_admin, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, u.ID, u.Username, u.APIKeyPrefix, u.APIKeyHash, u.IsAdmin, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_username_lower_idx") {
			return users.ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (users.User, error) {
	u, err := scanUser(r.queryer().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return users.User{}, users.ErrUserNotFound
	}
	if err != nil {
		return users.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (users.User, error) {
	u, err := scanUser(r.queryer().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return users.User{}, users.ErrUserNotFound
	}
	if err != nil {
		return users.User{}, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]users.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
}

func (r *Repository) ListUsersByKeyPrefix(ctx context.Context, prefix string) ([]users.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE api_key_prefix = $1`, prefix)
}

func (r *Repository) listUsers(ctx context.Context, query string, args ...any) ([]users.User, error) {
	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateUserAPIKey(ctx context.Context, id, prefix, hash string) error {
	tag, err := r.queryer().Exec(ctx, `UPDATE users SET api_key_prefix = $2, api_key_hash = $3 WHERE id = $1`, id, prefix, hash)
	if err != nil {
		return fmt.Errorf("update user api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}
