// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// ActionTokenRepository implements auth.ActionTokenRepository using PostgreSQL.
type ActionTokenRepository struct {
	pool poolIface
}

// NewActionTokenRepository creates a new ActionTokenRepository.
func NewActionTokenRepository(pool poolIface) *ActionTokenRepository {
	return &ActionTokenRepository{pool: pool}
}

// Create stores a new action token record.
func (r *ActionTokenRepository) Create(ctx context.Context, token *auth.ActionToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO action_tokens (id, user_id, purpose, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		token.ID.String(),
		token.UserID.String(),
		string(token.Purpose),
		token.ExpiresAt,
		token.ConsumedAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("ACTION_TOKEN_CREATE_FAILED").
			With("operation", "insert action token").
			With("user_id", token.UserID.String()).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// MarkConsumed sets consumed_at only where it is still NULL. The single
// conditional UPDATE is the compare-and-swap: Postgres row locking lets at
// most one concurrent statement see the NULL.
func (r *ActionTokenRepository) MarkConsumed(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE action_tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("ACTION_TOKEN_CONSUME_FAILED").
			With("operation", "mark consumed").
			With("token_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: the token is either already consumed or unknown.
	var consumed bool
	err = r.pool.QueryRow(ctx, `SELECT consumed_at IS NOT NULL FROM action_tokens WHERE id = $1`, id.String()).
		Scan(&consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code(auth.CodeNotFound).With("token_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("ACTION_TOKEN_CONSUME_FAILED").
			With("operation", "check consumed").
			With("token_id", id.String()).
			Wrap(err)
	}
	if !consumed {
		// Lost a race with a concurrent writer that has since rolled back.
		return oops.Code("ACTION_TOKEN_CONSUME_FAILED").
			With("token_id", id.String()).
			Errorf("token state changed during consume")
	}
	return oops.Code(auth.CodeTokenConsumed).
		With("token_id", id.String()).
		Wrap(auth.ErrTokenConsumed)
}

// DeleteExpired removes records that expired before the given time.
func (r *ActionTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM action_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("ACTION_TOKEN_PURGE_FAILED").
			With("operation", "delete expired").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.ActionTokenRepository = (*ActionTokenRepository)(nil)

// RevocationRepository implements auth.RevocationRepository using PostgreSQL.
type RevocationRepository struct {
	pool poolIface
}

// NewRevocationRepository creates a new RevocationRepository.
func NewRevocationRepository(pool poolIface) *RevocationRepository {
	return &RevocationRepository{pool: pool}
}

// SetWatermark upserts the user's watermark, keeping the greater value.
// ULID strings sort lexically in time order, so GREATEST compares correctly.
func (r *RevocationRepository) SetWatermark(ctx context.Context, userID, revokedBefore ulid.ULID, revokedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_revocations (user_id, revoked_before, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			revoked_before = GREATEST(session_revocations.revoked_before, EXCLUDED.revoked_before),
			revoked_at = EXCLUDED.revoked_at
	`, userID.String(), revokedBefore.String(), revokedAt)
	if err != nil {
		return oops.Code("REVOCATION_SET_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// ListWatermarks returns every stored watermark keyed by user ID.
func (r *RevocationRepository) ListWatermarks(ctx context.Context) (map[ulid.ULID]ulid.ULID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, revoked_before FROM session_revocations`)
	if err != nil {
		return nil, oops.Code("REVOCATION_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	out := make(map[ulid.ULID]ulid.ULID)
	for rows.Next() {
		var userStr, watermarkStr string
		if err := rows.Scan(&userStr, &watermarkStr); err != nil {
			return nil, oops.Code("REVOCATION_LIST_FAILED").With("operation", "scan").Wrap(err)
		}
		userID, err := ulid.Parse(userStr)
		if err != nil {
			return nil, oops.Code("REVOCATION_INVALID_ROW").With("user_id", userStr).Wrap(err)
		}
		watermark, err := ulid.Parse(watermarkStr)
		if err != nil {
			return nil, oops.Code("REVOCATION_INVALID_ROW").With("user_id", userStr).Wrap(err)
		}
		out[userID] = watermark
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("REVOCATION_LIST_FAILED").With("operation", "iterate").Wrap(err)
	}
	return out, nil
}

var _ auth.RevocationRepository = (*RevocationRepository)(nil)
