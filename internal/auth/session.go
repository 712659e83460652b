// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenExpiry = 24 * time.Hour // 24 hour expiry
	MinSecretLength    = 32             // bytes of HMAC key material

	sessionAudience = "session"
)

// Session is the verified content of a session token.
type Session struct {
	UserID    ulid.ULID
	TokenID   ulid.ULID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// RevocationRepository persists per-user revoked-before watermarks.
type RevocationRepository interface {
	// SetWatermark stores the watermark for a user. A watermark never moves
	// backwards: implementations keep the greater of the stored and given value.
	SetWatermark(ctx context.Context, userID, revokedBefore ulid.ULID, revokedAt time.Time) error

	// ListWatermarks returns every stored watermark keyed by user ID.
	ListWatermarks(ctx context.Context) (map[ulid.ULID]ulid.ULID, error)
}

// SessionConfig configures a SessionIssuer.
type SessionConfig struct {
	// Secret is the HMAC-SHA256 signing key. At least MinSecretLength bytes.
	Secret []byte
	// Issuer is written to and required in the iss claim.
	Issuer string
	// TTL is the session lifetime. Defaults to SessionTokenExpiry if zero.
	TTL time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// SessionIssuer mints and validates signed session tokens.
//
// Revocation is a per-user watermark: the token ID is a ULID, so it sorts by
// issue time, and RevokeAll records a fresh ULID that every earlier token
// sorts at or before. Validate reads the watermark from a sync.Map and takes
// no locks.
type SessionIssuer struct {
	secret      []byte
	issuer      string
	ttl         time.Duration
	revocations RevocationRepository
	watermarks  sync.Map // ulid.ULID -> ulid.ULID
	now         func() time.Time

	// Token IDs and watermarks come from one monotonic source so that IDs
	// minted within the same millisecond still sort in call order.
	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSessionIssuer creates a SessionIssuer. revocations may be nil, in which
// case watermarks live only in memory.
func NewSessionIssuer(cfg SessionConfig, revocations RevocationRepository) (*SessionIssuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("SESSION_INVALID_SECRET").
			With("min_length", MinSecretLength).
			Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = SessionTokenExpiry
	}
	if ttl < 0 {
		return nil, oops.Code("SESSION_INVALID_TTL").With("ttl", ttl.String()).Errorf("session TTL must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SessionIssuer{
		secret:      cfg.Secret,
		issuer:      cfg.Issuer,
		ttl:         ttl,
		revocations: revocations,
		now:         now,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// TTL returns the configured session lifetime.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new session token for the user.
func (s *SessionIssuer) Issue(userID ulid.ULID) (string, *Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}

	now := s.now()
	session := &Session{
		UserID:    userID,
		TokenID:   s.nextID(now),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{sessionAudience},
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        session.TokenID.String(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, oops.Code("SESSION_SIGN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, session, nil
}

// Validate verifies a session token and returns its session.
// Fails with ErrInvalidSignature, ErrTokenExpired, or ErrTokenRevoked.
func (s *SessionIssuer) Validate(token string) (*Session, error) {
	if token == "" {
		return nil, newKindError(ErrInvalidSignature)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newKindError(ErrTokenExpired)
		}
		return nil, newKindError(ErrInvalidSignature)
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, newKindError(ErrInvalidSignature)
	}
	tokenID, err := ulid.Parse(claims.ID)
	if err != nil || claims.IssuedAt == nil {
		return nil, newKindError(ErrInvalidSignature)
	}

	if wm, ok := s.watermarks.Load(userID); ok && tokenID.Compare(wm.(ulid.ULID)) <= 0 {
		return nil, newKindError(ErrTokenRevoked)
	}

	return &Session{
		UserID:    userID,
		TokenID:   tokenID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RevokeAll invalidates every token issued to the user before this call.
// The watermark is persisted first; the in-memory cache only advances once
// the store has accepted it.
func (s *SessionIssuer) RevokeAll(ctx context.Context, userID ulid.ULID) error {
	now := s.now()
	watermark := s.nextID(now)
	if s.revocations != nil {
		if err := s.revocations.SetWatermark(ctx, userID, watermark, now); err != nil {
			return oops.Code("SESSION_REVOKE_FAILED").
				With("user_id", userID.String()).
				Wrap(err)
		}
	}
	s.advance(userID, watermark)
	return nil
}

// Restore loads persisted watermarks into the cache and returns how many
// were read. It is safe to call repeatedly to pick up revocations made by
// other instances.
func (s *SessionIssuer) Restore(ctx context.Context) (int, error) {
	if s.revocations == nil {
		return 0, nil
	}
	stored, err := s.revocations.ListWatermarks(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_RESTORE_FAILED").Wrap(err)
	}
	for userID, watermark := range stored {
		s.advance(userID, watermark)
	}
	return len(stored), nil
}

// advance moves the cached watermark forward, never backwards.
func (s *SessionIssuer) advance(userID, watermark ulid.ULID) {
	for {
		current, loaded := s.watermarks.LoadOrStore(userID, watermark)
		if !loaded {
			return
		}
		if current.(ulid.ULID).Compare(watermark) >= 0 {
			return
		}
		if s.watermarks.CompareAndSwap(userID, current, watermark) {
			return
		}
	}
}

func (s *SessionIssuer) nextID(at time.Time) ulid.ULID {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy)
}

func (s *SessionIssuer) keyFunc(*jwt.Token) (any, error) {
	return s.secret, nil
}
