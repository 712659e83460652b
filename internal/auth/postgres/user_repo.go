// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const userColumns = `id, email, display_name, password_hash, email_verified,
	       failed_attempts, locked_until, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user. Email uniqueness is enforced by the unique index on
// LOWER(email), so concurrent registrations cannot both succeed.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, display_name, password_hash, email_verified,
			failed_attempts, locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		auth.NormalizeEmail(user.Email),
		user.DisplayName,
		user.PasswordHash,
		user.EmailVerified,
		user.FailedAttempts,
		user.LockedUntil,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(auth.CodeDuplicateEmail).
				With("constraint", pgErr.ConstraintName).
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeNotFound).
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`,
		auth.NormalizeEmail(email))

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeNotFound).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// UpdatePassword replaces the hash and clears lockout state.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.exec(ctx, "update password", id, `
		UPDATE users SET password_hash = $2, failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now().UTC())
}

// SetEmailVerified sets the verified flag.
func (r *UserRepository) SetEmailVerified(ctx context.Context, id ulid.ULID, verified bool) error {
	return r.exec(ctx, "set email verified", id, `
		UPDATE users SET email_verified = $2, updated_at = $3 WHERE id = $1
	`, id.String(), verified, time.Now().UTC())
}

// UpdateDisplayName changes the display name.
func (r *UserRepository) UpdateDisplayName(ctx context.Context, id ulid.ULID, displayName string) error {
	return r.exec(ctx, "update display name", id, `
		UPDATE users SET display_name = $2, updated_at = $3 WHERE id = $1
	`, id.String(), displayName, time.Now().UTC())
}

// RecordFailure increments failed_attempts in a single UPDATE, so
// concurrent failures are all counted. SET expressions see the old row;
// RETURNING sees the new one.
func (r *UserRepository) RecordFailure(ctx context.Context, id ulid.ULID, policy auth.Lockout, now time.Time) (int, *time.Time, error) {
	now = now.UTC()
	var (
		attempts int
		until    *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE
				WHEN $2::int > 0 AND failed_attempts + 1 >= $2::int THEN $3::timestamptz
				ELSE locked_until
			END,
			updated_at = $4
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), policy.Threshold, now.Add(policy.Duration), now).Scan(&attempts, &until)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, oops.Code(auth.CodeNotFound).
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, oops.Code("USER_UPDATE_FAILED").
			With("operation", "record login failure").
			With("user_id", id.String()).
			Wrap(err)
	}
	return attempts, until, nil
}

// ClearFailures resets the counter and lock.
func (r *UserRepository) ClearFailures(ctx context.Context, id ulid.ULID) error {
	return r.exec(ctx, "clear login failures", id, `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $2 WHERE id = $1
	`, id.String(), time.Now().UTC())
}

func (r *UserRepository) exec(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(auth.CodeNotFound).
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unwrapped for callers to handle.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		user  auth.User
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	return &user, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
