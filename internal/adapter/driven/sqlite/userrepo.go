package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port interface.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo backed by the given DB.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, github_id, username, email, avatar_url, COALESCE(access_token, ''), created_at, updated_at`

// GetByID retrieves a user by internal id. Returns nil, nil if no such user exists.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	return user, nil
}

// Upsert inserts or updates a user keyed by github_id. An empty email in the
// input never clears a previously stored one (the OAuth callback often lacks
// it; the sync backfills it later).
func (r *UserRepo) Upsert(ctx context.Context, user model.User) (*model.User, error) {
	const query = `
		INSERT INTO users (github_id, username, email, avatar_url, access_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT (github_id) DO UPDATE SET
			username = excluded.username,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
			avatar_url = excluded.avatar_url,
			access_token = excluded.access_token,
			updated_at = excluded.updated_at`

	now := fmtTime(time.Now())
	_, err := r.db.Writer.ExecContext(ctx, query,
		user.GitHubID, user.Username, user.Email, user.AvatarURL, user.AccessToken, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", user.GitHubID, err)
	}

	stored, err := scanUser(r.db.Writer.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, user.GitHubID))
	if err != nil {
		return nil, fmt.Errorf("reload user %s: %w", user.GitHubID, err)
	}

	return stored, nil
}

// UpdateEmail sets the user's email address.
func (r *UserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	const query = `UPDATE users SET email = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, email, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update email for user %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update email for user %d: %w", id, driven.ErrUserNotFound)
	}

	return nil
}

// ListWithTokens returns every user holding a non-empty access token.
func (r *UserRepo) ListWithTokens(ctx context.Context) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE access_token IS NOT NULL AND access_token != ''
		ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users with tokens: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func scanUser(s scanner) (*model.User, error) {
	var user model.User
	var createdAt, updatedAt string

	err := s.Scan(&user.ID, &user.GitHubID, &user.Username, &user.Email,
		&user.AvatarURL, &user.AccessToken, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &user, nil
}
