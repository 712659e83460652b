// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// ActionTokenRepository stores action token records in a map.
type ActionTokenRepository struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.ActionToken
}

var _ auth.ActionTokenRepository = (*ActionTokenRepository)(nil)

// NewActionTokenRepository creates an empty ActionTokenRepository.
func NewActionTokenRepository() *ActionTokenRepository {
	return &ActionTokenRepository{tokens: make(map[ulid.ULID]*auth.ActionToken)}
}

// Create stores a copy of token.
func (r *ActionTokenRepository) Create(ctx context.Context, token *auth.ActionToken) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("ACTION_TOKEN_CREATE_FAILED").Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.ID]; exists {
		return oops.Code("ACTION_TOKEN_CREATE_FAILED").
			With("token_id", token.ID.String()).
			Errorf("token ID already exists")
	}
	c := *token
	c.ConsumedAt = copyTime(token.ConsumedAt)
	r.tokens[token.ID] = &c
	return nil
}

// MarkConsumed sets the consumed marker if unset. The check and set happen
// under one lock, so at most one caller per token succeeds.
func (r *ActionTokenRepository) MarkConsumed(ctx context.Context, id ulid.ULID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("ACTION_TOKEN_CONSUME_FAILED").Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[id]
	if !ok {
		return oops.Code(auth.CodeNotFound).With("token_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if token.ConsumedAt != nil {
		return oops.Code(auth.CodeTokenConsumed).With("token_id", id.String()).Wrap(auth.ErrTokenConsumed)
	}
	consumed := at
	token.ConsumedAt = &consumed
	return nil
}

// DeleteExpired removes tokens that expired before the given time.
func (r *ActionTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("ACTION_TOKEN_PURGE_FAILED").Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, token := range r.tokens {
		if token.ExpiresAt.Before(before) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored record.
func (r *ActionTokenRepository) Get(id ulid.ULID) (*auth.ActionToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok {
		return nil, false
	}
	c := *token
	c.ConsumedAt = copyTime(token.ConsumedAt)
	return &c, true
}

// Len returns the number of stored records.
func (r *ActionTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// RevocationRepository stores session watermarks in a map.
type RevocationRepository struct {
	mu         sync.Mutex
	watermarks map[ulid.ULID]ulid.ULID
}

var _ auth.RevocationRepository = (*RevocationRepository)(nil)

// NewRevocationRepository creates an empty RevocationRepository.
func NewRevocationRepository() *RevocationRepository {
	return &RevocationRepository{watermarks: make(map[ulid.ULID]ulid.ULID)}
}

// SetWatermark keeps the greater of the stored and given watermark.
func (r *RevocationRepository) SetWatermark(ctx context.Context, userID, revokedBefore ulid.ULID, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("REVOCATION_SET_FAILED").Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.watermarks[userID]; ok && current.Compare(revokedBefore) >= 0 {
		return nil
	}
	r.watermarks[userID] = revokedBefore
	return nil
}

// ListWatermarks returns a copy of every stored watermark.
func (r *RevocationRepository) ListWatermarks(ctx context.Context) (map[ulid.ULID]ulid.ULID, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("REVOCATION_LIST_FAILED").Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[ulid.ULID]ulid.ULID, len(r.watermarks))
	for k, v := range r.watermarks {
		out[k] = v
	}
	return out, nil
}
