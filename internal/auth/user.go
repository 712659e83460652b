// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User represents an account in the credential store.
type User struct {
	ID             ulid.ULID
	Email          string
	DisplayName    string
	PasswordHash   string
	EmailVerified  bool
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PublicUser is the client-facing projection of a User. It never carries
// the password hash or lockout state.
type PublicUser struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewUser creates a validated, unverified User with a fresh ULID.
// The email is normalized; the password hash must already be computed.
func NewUser(email, displayName, passwordHash string) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Public returns the client-facing view of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID.String(),
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// IsLocked reports whether a lockout is in force.
func (u *User) IsLocked() bool {
	return u.LockRemaining() > 0
}

// LockRemaining returns how long the current lockout lasts, or zero.
func (u *User) LockRemaining() time.Duration {
	return DefaultLockout.Remaining(u.LockedUntil, time.Now())
}

// NormalizeEmail returns the canonical form used for uniqueness and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepository is the credential store.
// Implementations must be safe for concurrent use and must enforce email
// uniqueness atomically at write time.
type UserRepository interface {
	// Create stores a new user.
	// Returns an error matching ErrDuplicateEmail if the normalized email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	// Returns ErrNotFound if no user has the given ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces the password hash and clears lockout state.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SetEmailVerified sets the verified flag.
	SetEmailVerified(ctx context.Context, id ulid.ULID, verified bool) error

	// UpdateDisplayName changes the display name.
	UpdateDisplayName(ctx context.Context, id ulid.ULID, displayName string) error

	// RecordFailure increments the failed-login counter in one atomic step
	// and applies policy to the new count. It returns the counter and lock
	// deadline as stored.
	RecordFailure(ctx context.Context, id ulid.ULID, policy Lockout, now time.Time) (failedAttempts int, lockedUntil *time.Time, err error)

	// ClearFailures resets the failed-login counter and any lock.
	ClearFailures(ctx context.Context, id ulid.ULID) error
}
