// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process implementations of the auth
// repositories. State is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// UserRepository stores users in maps guarded by one mutex.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a copy of user. The uniqueness check and insert happen
// under the same lock.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}
	email := auth.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[email]; taken {
		return oops.Code(auth.CodeDuplicateEmail).Wrap(auth.ErrDuplicateEmail)
	}
	if _, taken := r.byID[user.ID]; taken {
		return oops.Code("USER_CREATE_FAILED").
			With("user_id", user.ID.String()).
			Errorf("user ID already exists")
	}

	stored := clone(user)
	stored.Email = email
	r.byID[user.ID] = stored
	r.byEmail[email] = user.ID
	return nil
}

// GetByID retrieves a copy of the user.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code(auth.CodeNotFound).With("user_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return clone(user), nil
}

// GetByEmail retrieves a copy of the user with the given email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, oops.Code(auth.CodeNotFound).Wrap(auth.ErrNotFound)
	}
	return clone(r.byID[id]), nil
}

// UpdatePassword replaces the hash and clears lockout state.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, id, func(u *auth.User) {
		u.PasswordHash = passwordHash
		u.FailedAttempts = 0
		u.LockedUntil = nil
	})
}

// SetEmailVerified sets the verified flag.
func (r *UserRepository) SetEmailVerified(ctx context.Context, id ulid.ULID, verified bool) error {
	return r.update(ctx, id, func(u *auth.User) { u.EmailVerified = verified })
}

// UpdateDisplayName changes the display name.
func (r *UserRepository) UpdateDisplayName(ctx context.Context, id ulid.ULID, displayName string) error {
	return r.update(ctx, id, func(u *auth.User) { u.DisplayName = displayName })
}

// RecordFailure increments the counter under the write lock.
func (r *UserRepository) RecordFailure(ctx context.Context, id ulid.ULID, policy auth.Lockout, now time.Time) (int, *time.Time, error) {
	var (
		attempts int
		until    *time.Time
	)
	err := r.update(ctx, id, func(u *auth.User) {
		u.FailedAttempts++
		if locked := policy.Until(u.FailedAttempts, now); locked != nil {
			u.LockedUntil = locked
		}
		attempts = u.FailedAttempts
		until = copyTime(u.LockedUntil)
	})
	if err != nil {
		return 0, nil, err
	}
	return attempts, until, nil
}

// ClearFailures resets the counter and lock.
func (r *UserRepository) ClearFailures(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, id, func(u *auth.User) {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	})
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *UserRepository) update(ctx context.Context, id ulid.ULID, apply func(*auth.User)) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_UPDATE_FAILED").Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return oops.Code(auth.CodeNotFound).With("user_id", id.String()).Wrap(auth.ErrNotFound)
	}
	apply(user)
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func clone(u *auth.User) *auth.User {
	c := *u
	c.LockedUntil = copyTime(u.LockedUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
