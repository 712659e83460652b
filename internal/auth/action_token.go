// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Purpose binds an action token to the one operation it authorizes.
type Purpose string

// Action token purposes.
const (
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeResetPassword Purpose = "reset_password"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeVerifyEmail || p == PurposeResetPassword
}

// Default action token lifetimes.
const (
	VerifyEmailTokenExpiry   = time.Hour
	ResetPasswordTokenExpiry = 30 * time.Minute

	actionAudience = "action"
)

// ActionToken is the server-side record of an issued action token. The
// signed token carries the same ID, so the record is only needed for the
// single-use marker.
type ActionToken struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	Purpose    Purpose
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (t *ActionToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ActionTokenRepository manages action token records.
type ActionTokenRepository interface {
	// Create stores a new action token record.
	Create(ctx context.Context, token *ActionToken) error

	// MarkConsumed atomically sets the consumed marker if it is unset.
	// Returns an error matching ErrTokenConsumed if it was already set, or
	// ErrNotFound if no record exists.
	MarkConsumed(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeleteExpired removes records that expired before the given time and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ActionTokenConfig configures an ActionTokenIssuer.
type ActionTokenConfig struct {
	// Secret is the HMAC-SHA256 signing key. At least MinSecretLength bytes.
	Secret []byte
	// Issuer is written to and required in the iss claim.
	Issuer string
	// VerifyEmailTTL defaults to VerifyEmailTokenExpiry if zero.
	VerifyEmailTTL time.Duration
	// ResetPasswordTTL defaults to ResetPasswordTokenExpiry if zero.
	ResetPasswordTTL time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type actionClaims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
}

// ActionTokenIssuer mints and consumes single-use, purpose-bound tokens.
type ActionTokenIssuer struct {
	secret []byte
	issuer string
	ttls   map[Purpose]time.Duration
	repo   ActionTokenRepository
	now    func() time.Time
}

// NewActionTokenIssuer creates an ActionTokenIssuer.
func NewActionTokenIssuer(cfg ActionTokenConfig, repo ActionTokenRepository) (*ActionTokenIssuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("ACTION_TOKEN_INVALID_SECRET").
			With("min_length", MinSecretLength).
			Errorf("action token secret must be at least %d bytes", MinSecretLength)
	}
	if repo == nil {
		return nil, oops.Code("ACTION_TOKEN_INVALID_CONFIG").Errorf("action token repository is required")
	}

	ttls := map[Purpose]time.Duration{
		PurposeVerifyEmail:   cfg.VerifyEmailTTL,
		PurposeResetPassword: cfg.ResetPasswordTTL,
	}
	if ttls[PurposeVerifyEmail] == 0 {
		ttls[PurposeVerifyEmail] = VerifyEmailTokenExpiry
	}
	if ttls[PurposeResetPassword] == 0 {
		ttls[PurposeResetPassword] = ResetPasswordTokenExpiry
	}
	for purpose, ttl := range ttls {
		if ttl < 0 {
			return nil, oops.Code("ACTION_TOKEN_INVALID_CONFIG").
				With("purpose", string(purpose)).
				Errorf("action token TTL must be positive")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &ActionTokenIssuer{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttls:   ttls,
		repo:   repo,
		now:    now,
	}, nil
}

// DefaultTTL returns the lifetime used when Issue is called with ttl <= 0.
func (a *ActionTokenIssuer) DefaultTTL(purpose Purpose) time.Duration {
	return a.ttls[purpose]
}

// Issue records and signs a new action token for the user.
// A ttl <= 0 selects the purpose default.
func (a *ActionTokenIssuer) Issue(ctx context.Context, userID ulid.ULID, purpose Purpose, ttl time.Duration) (string, error) {
	if !purpose.Valid() {
		return "", oops.Code("ACTION_TOKEN_INVALID_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown action token purpose")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("ACTION_TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if ttl <= 0 {
		ttl = a.ttls[purpose]
	}

	now := a.now()
	record := &ActionToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	claims := actionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{actionAudience},
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        record.ID.String(),
		},
		Purpose: purpose,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", oops.Code("ACTION_TOKEN_SIGN_FAILED").
			With("purpose", string(purpose)).
			Wrap(err)
	}

	if err := a.repo.Create(ctx, record); err != nil {
		return "", oops.Code("ACTION_TOKEN_CREATE_FAILED").
			With("purpose", string(purpose)).
			With("user_id", userID.String()).
			Wrap(err)
	}

	return token, nil
}

// Consume verifies the token and atomically marks it used, returning the
// user it was issued to. Checks run in order: signature, expiry, purpose,
// then the single-use marker; a token presented for the wrong purpose is
// not consumed. Under concurrent calls exactly one succeeds and the rest
// fail with ErrTokenConsumed.
func (a *ActionTokenIssuer) Consume(ctx context.Context, token string, expected Purpose) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, newKindError(ErrInvalidSignature)
	}

	claims := &actionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, a.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(actionAudience),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ulid.ULID{}, newKindError(ErrTokenExpired)
		}
		return ulid.ULID{}, newKindError(ErrInvalidSignature)
	}

	if claims.Purpose != expected {
		return ulid.ULID{}, oops.Code(CodeWrongPurpose).
			With("expected", string(expected)).
			With("actual", string(claims.Purpose)).
			Wrap(ErrWrongPurpose)
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, newKindError(ErrInvalidSignature)
	}
	tokenID, err := ulid.Parse(claims.ID)
	if err != nil {
		return ulid.ULID{}, newKindError(ErrInvalidSignature)
	}

	if err := a.repo.MarkConsumed(ctx, tokenID, a.now()); err != nil {
		switch {
		case errors.Is(err, ErrTokenConsumed):
			return ulid.ULID{}, newKindError(ErrTokenConsumed)
		case errors.Is(err, ErrNotFound):
			return ulid.ULID{}, newKindError(ErrInvalidSignature)
		default:
			return ulid.ULID{}, oops.Code("ACTION_TOKEN_CONSUME_FAILED").
				With("token_id", tokenID.String()).
				Wrap(err)
		}
	}

	return userID, nil
}

// PurgeExpired deletes expired token records.
func (a *ActionTokenIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := a.repo.DeleteExpired(ctx, a.now())
	if err != nil {
		return 0, oops.Code("ACTION_TOKEN_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

func (a *ActionTokenIssuer) keyFunc(*jwt.Token) (any, error) {
	return a.secret, nil
}
