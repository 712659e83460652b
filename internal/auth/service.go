// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/pkg/errutil"
)

var tracer = otel.Tracer("authcore/auth")

// DefaultOperationTimeout bounds each store and hasher call.
const DefaultOperationTimeout = 5 * time.Second

// dummyPasswordHash is verified against when a user doesn't exist, so that
// login takes the same time either way. It is only used if the configured
// hasher cannot produce its own equalizer hash.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SessionManager issues, validates, and revokes session tokens.
type SessionManager interface {
	Issue(userID ulid.ULID) (string, *Session, error)
	Validate(token string) (*Session, error)
	RevokeAll(ctx context.Context, userID ulid.ULID) error
}

// ActionTokens issues and consumes single-use action tokens.
type ActionTokens interface {
	Issue(ctx context.Context, userID ulid.ULID, purpose Purpose, ttl time.Duration) (string, error)
	Consume(ctx context.Context, token string, expected Purpose) (ulid.ULID, error)
}

// OperationObserver records the outcome and latency of each operation.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
}

// ServiceDeps holds the collaborators of a Service.
type ServiceDeps struct {
	Users    UserRepository
	Hasher   PasswordHasher
	Sessions SessionManager
	Actions  ActionTokens
	Logger   *slog.Logger

	// Notifier defaults to a LogNotifier with no base URL.
	Notifier Notifier
	// Metrics is optional.
	Metrics OperationObserver
	// OperationTimeout defaults to DefaultOperationTimeout.
	OperationTimeout time.Duration
	// Lockout defaults to DefaultLockout.
	Lockout Lockout
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token string
	User  PublicUser
}

// Service orchestrates the credential store, hasher, and token issuers.
// Every error it returns matches one taxonomy sentinel (see KindOf).
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions SessionManager
	actions  ActionTokens
	notifier Notifier
	metrics  OperationObserver
	logger   *slog.Logger
	timeout  time.Duration
	lockout  Lockout

	// tasks tracks background reset deliveries.
	tasks sync.WaitGroup

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session manager is required")
	case deps.Actions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("action token issuer is required")
	case deps.Logger == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger is required")
	case deps.OperationTimeout < 0:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("operation timeout must be positive")
	}

	timeout := deps.OperationTimeout
	if timeout == 0 {
		timeout = DefaultOperationTimeout
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(deps.Logger, "")
	}
	lockout := deps.Lockout
	if lockout == (Lockout{}) {
		lockout = DefaultLockout
	}

	return &Service{
		users:    deps.Users,
		hasher:   deps.Hasher,
		sessions: deps.Sessions,
		actions:  deps.Actions,
		notifier: notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		timeout:  timeout,
		lockout:  lockout,
	}, nil
}

// Register creates an unverified account, signs the user in, and sends an
// email verification token.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (result *AuthResult, err error) {
	ctx, logger, end := s.begin(ctx, "register")
	defer end(&err)

	if err := ValidateRegistration(email, password, displayName); err != nil {
		return nil, err
	}

	hash, err := bounded(ctx, s.timeout, func(context.Context) (string, error) {
		return s.hasher.Hash(password)
	})
	if err != nil {
		return nil, s.surface(ctx, logger, "hash password", err)
	}

	user, err := NewUser(email, displayName, hash)
	if err != nil {
		return nil, s.surface(ctx, logger, "build user", err)
	}

	if err := s.run(ctx, func(ctx context.Context) error { return s.users.Create(ctx, user) }); err != nil {
		return nil, s.surface(ctx, logger, "create user", err)
	}

	token, _, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, s.surface(ctx, logger, "issue session", err)
	}

	// The account exists at this point; a lost verification mail can be
	// re-requested, so a failure here does not fail registration.
	if err := s.sendVerification(ctx, user); err != nil {
		logger.WarnContext(ctx, "verification token not delivered",
			"user_id", user.ID.String(), "error", err)
	}

	logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return &AuthResult{Token: token, User: user.Public()}, nil
}

// Login verifies credentials and issues a session. Unknown email, wrong
// password, and a locked account all fail with the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	ctx, logger, end := s.begin(ctx, "login")
	defer end(&err)

	if err := ValidateLogin(email, password); err != nil {
		return nil, err
	}

	user, err := bounded(ctx, s.timeout, func(ctx context.Context) (*User, error) {
		return s.users.GetByEmail(ctx, NormalizeEmail(email))
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, s.surface(ctx, logger, "look up user", err)
	}

	// Verification always runs so that an unknown email costs the same time.
	valid, err := bounded(ctx, s.timeout, func(context.Context) (bool, error) {
		if user == nil {
			_, verifyErr := s.hasher.Verify(password, s.equalizerHash())
			return false, verifyErr
		}
		return s.hasher.Verify(password, user.PasswordHash)
	})
	if err != nil && (user != nil || isTimeout(err)) {
		return nil, s.surface(ctx, logger, "verify password", err)
	}

	if user == nil {
		return nil, newKindError(ErrInvalidCredentials)
	}

	if !valid {
		s.recordFailure(ctx, logger, user.ID)
		return nil, newKindError(ErrInvalidCredentials)
	}

	// Lockout is checked after verification to keep timing uniform.
	if user.IsLocked() {
		logger.InfoContext(ctx, "login rejected for locked account",
			"user_id", user.ID.String(), "remaining", user.LockRemaining().String())
		return nil, newKindError(ErrInvalidCredentials)
	}

	if user.FailedAttempts != 0 || user.LockedUntil != nil {
		err := s.run(ctx, func(ctx context.Context) error { return s.users.ClearFailures(ctx, user.ID) })
		if err != nil {
			logger.WarnContext(ctx, "login failures not cleared", "user_id", user.ID.String(), "error", err)
		}
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, logger, user, password)
	}

	token, _, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, s.surface(ctx, logger, "issue session", err)
	}

	return &AuthResult{Token: token, User: user.Public()}, nil
}

// Logout revokes every session the user holds.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID) (err error) {
	ctx, logger, end := s.begin(ctx, "logout")
	defer end(&err)

	if err := s.run(ctx, func(ctx context.Context) error { return s.sessions.RevokeAll(ctx, userID) }); err != nil {
		return s.surface(ctx, logger, "revoke sessions", err)
	}
	return nil
}

// VerifyEmail consumes a verify_email token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (err error) {
	ctx, logger, end := s.begin(ctx, "verify_email")
	defer end(&err)

	if strings.TrimSpace(token) == "" {
		return newKindError(ErrInvalidSignature)
	}

	userID, err := bounded(ctx, s.timeout, func(ctx context.Context) (ulid.ULID, error) {
		return s.actions.Consume(ctx, token, PurposeVerifyEmail)
	})
	if err != nil {
		return s.surface(ctx, logger, "consume verification token", err)
	}

	err = s.run(ctx, func(ctx context.Context) error { return s.users.SetEmailVerified(ctx, userID, true) })
	if errors.Is(err, ErrNotFound) {
		return newKindError(ErrInvalidSignature)
	}
	if err != nil {
		return s.surface(ctx, logger, "mark email verified", err)
	}

	logger.InfoContext(ctx, "email verified", "user_id", userID.String())
	return nil
}

// ForgotPassword sends a reset_password token when the email belongs to an
// account. It succeeds whenever the input is well formed, whether or not the
// account exists or the token could be delivered. The lookup and delivery
// run in the background so the response time does not depend on whether the
// account exists; Wait blocks until they finish.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, logger, end := s.begin(ctx, "forgot_password")
	defer end(&err)

	if err := ValidateForgotPassword(email); err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	s.tasks.Go(func() { s.deliverReset(detached, logger, NormalizeEmail(email)) })
	return nil
}

// Wait blocks until background password reset deliveries have finished.
func (s *Service) Wait() {
	s.tasks.Wait()
}

func (s *Service) deliverReset(ctx context.Context, logger *slog.Logger, email string) {
	user, err := bounded(ctx, s.timeout, func(ctx context.Context) (*User, error) {
		return s.users.GetByEmail(ctx, email)
	})
	if errors.Is(err, ErrNotFound) {
		logger.DebugContext(ctx, "password reset requested for unknown email")
		return
	}
	if err != nil {
		errutil.LogErrorContext(ctx, logger, "password reset lookup failed", err)
		return
	}

	token, err := bounded(ctx, s.timeout, func(ctx context.Context) (string, error) {
		return s.actions.Issue(ctx, user.ID, PurposeResetPassword, 0)
	})
	if err != nil {
		errutil.LogErrorContext(ctx, logger, "issue reset token", err)
		return
	}
	if err := s.notifier.SendPasswordReset(ctx, user.Public(), token); err != nil {
		logger.WarnContext(ctx, "password reset token not delivered",
			"user_id", user.ID.String(), "error", err)
	}
}

// ResetPassword consumes a reset_password token, stores the new password,
// and revokes every existing session of the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, logger, end := s.begin(ctx, "reset_password")
	defer end(&err)

	if err := ValidateResetPassword(token, newPassword); err != nil {
		return err
	}

	userID, err := bounded(ctx, s.timeout, func(ctx context.Context) (ulid.ULID, error) {
		return s.actions.Consume(ctx, token, PurposeResetPassword)
	})
	if err != nil {
		return s.surface(ctx, logger, "consume reset token", err)
	}

	hash, err := bounded(ctx, s.timeout, func(context.Context) (string, error) {
		return s.hasher.Hash(newPassword)
	})
	if err != nil {
		return s.surface(ctx, logger, "hash password", err)
	}

	err = s.run(ctx, func(ctx context.Context) error { return s.users.UpdatePassword(ctx, userID, hash) })
	if errors.Is(err, ErrNotFound) {
		return newKindError(ErrInvalidSignature)
	}
	if err != nil {
		return s.surface(ctx, logger, "update password", err)
	}

	if err := s.run(ctx, func(ctx context.Context) error { return s.sessions.RevokeAll(ctx, userID) }); err != nil {
		return s.surface(ctx, logger, "revoke sessions", err)
	}

	logger.InfoContext(ctx, "password reset", "user_id", userID.String())
	return nil
}

// CurrentUser returns the public view of the user.
func (s *Service) CurrentUser(ctx context.Context, userID ulid.ULID) (user PublicUser, err error) {
	ctx, logger, end := s.begin(ctx, "current_user")
	defer end(&err)

	found, err := bounded(ctx, s.timeout, func(ctx context.Context) (*User, error) {
		return s.users.GetByID(ctx, userID)
	})
	if errors.Is(err, ErrNotFound) {
		return PublicUser{}, newKindError(ErrInvalidSignature)
	}
	if err != nil {
		return PublicUser{}, s.surface(ctx, logger, "look up user", err)
	}
	return found.Public(), nil
}

// UpdateDisplayName changes the user's display name and returns the
// updated public view.
func (s *Service) UpdateDisplayName(ctx context.Context, userID ulid.ULID, displayName string) (user PublicUser, err error) {
	ctx, logger, end := s.begin(ctx, "update_profile")
	defer end(&err)

	if err := ValidateProfile(displayName); err != nil {
		return PublicUser{}, err
	}

	name := strings.TrimSpace(displayName)
	err = s.run(ctx, func(ctx context.Context) error { return s.users.UpdateDisplayName(ctx, userID, name) })
	if errors.Is(err, ErrNotFound) {
		return PublicUser{}, newKindError(ErrInvalidSignature)
	}
	if err != nil {
		return PublicUser{}, s.surface(ctx, logger, "update display name", err)
	}

	found, err := bounded(ctx, s.timeout, func(ctx context.Context) (*User, error) {
		return s.users.GetByID(ctx, userID)
	})
	if errors.Is(err, ErrNotFound) {
		return PublicUser{}, newKindError(ErrInvalidSignature)
	}
	if err != nil {
		return PublicUser{}, s.surface(ctx, logger, "look up user", err)
	}

	logger.InfoContext(ctx, "display name updated", "user_id", userID.String())
	return found.Public(), nil
}

// AuthenticateToken validates a bearer session token.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (session *Session, err error) {
	ctx, logger, end := s.begin(ctx, "authenticate")
	defer end(&err)

	session, err = s.sessions.Validate(token)
	if err != nil {
		return nil, s.surface(ctx, logger, "validate session", err)
	}
	return session, nil
}

func (s *Service) sendVerification(ctx context.Context, user *User) error {
	token, err := bounded(ctx, s.timeout, func(ctx context.Context) (string, error) {
		return s.actions.Issue(ctx, user.ID, PurposeVerifyEmail, 0)
	})
	if err != nil {
		return err
	}
	return s.notifier.SendVerification(ctx, user.Public(), token)
}

// recordFailure counts a failed login in the store. The login fails either
// way, so store errors are only logged.
func (s *Service) recordFailure(ctx context.Context, logger *slog.Logger, id ulid.ULID) {
	type counted struct {
		attempts int
		until    *time.Time
	}
	c, err := bounded(ctx, s.timeout, func(ctx context.Context) (counted, error) {
		attempts, until, err := s.users.RecordFailure(ctx, id, s.lockout, time.Now())
		return counted{attempts, until}, err
	})
	if err != nil {
		logger.WarnContext(ctx, "login failure not recorded", "user_id", id.String(), "error", err)
		return
	}
	if c.attempts == s.lockout.Threshold {
		logger.InfoContext(ctx, "account locked after failed logins",
			"user_id", id.String(), "failed_attempts", c.attempts, "locked_until", c.until)
	}
}

// upgradeHash rehashes a password stored under a legacy algorithm or weaker
// parameters. Login succeeds regardless of the outcome.
func (s *Service) upgradeHash(ctx context.Context, logger *slog.Logger, user *User, password string) {
	hash, err := bounded(ctx, s.timeout, func(context.Context) (string, error) {
		return s.hasher.Hash(password)
	})
	if err == nil {
		err = s.run(ctx, func(ctx context.Context) error { return s.users.UpdatePassword(ctx, user.ID, hash) })
	}
	if err != nil {
		logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = hash
	logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// equalizerHash returns a hash produced with the configured parameters so
// that verifying against it costs the same as verifying a real one.
func (s *Service) equalizerHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("timing-equalizer-password")
		if err != nil {
			hash = dummyPasswordHash
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Service) run(ctx context.Context, fn func(context.Context) error) error {
	_, err := bounded(ctx, s.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// surface converts an internal error into a fresh taxonomy error. Anything
// that is not already a client-facing kind is logged with its full context
// and reported as ErrUnavailable.
func (s *Service) surface(ctx context.Context, logger *slog.Logger, step string, err error) error {
	switch kind := KindOf(err); kind {
	case ErrValidation:
		return err
	case nil, ErrNotFound, ErrUnavailable:
		errutil.LogErrorContext(ctx, logger, step+" failed", err)
		return newKindError(ErrUnavailable)
	default:
		return newKindError(kind)
	}
}

// begin opens a span and returns a logger scoped to the operation. The
// returned func ends the span and records metrics for the final error.
func (s *Service) begin(ctx context.Context, op string) (context.Context, *slog.Logger, func(*error)) {
	ctx, span := tracer.Start(ctx, "auth."+op,
		trace.WithAttributes(attribute.String("auth.operation", op)),
	)
	logger := logging.FromContext(ctx, s.logger).With("operation", op)
	start := time.Now()

	return ctx, logger, func(errp *error) {
		outcome := "ok"
		if err := *errp; err != nil {
			outcome = Outcome(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		if s.metrics != nil {
			s.metrics.ObserveOperation(op, outcome, time.Since(start))
		}
		span.End()
	}
}

// Outcome returns a low-cardinality label for err: the lower-cased taxonomy
// code, "ok" for nil, or "internal" for unclassified errors.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	kind := KindOf(err)
	if kind == nil {
		return "internal"
	}
	return strings.ToLower(kindCodes[kind])
}

// bounded runs fn under a deadline of timeout. fn runs on its own goroutine
// so that CPU-bound work such as hashing is bounded too; if the deadline
// passes first, fn is abandoned and an AUTH_OPERATION_TIMEOUT error returned.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: oops.Code("AUTH_OPERATION_PANIC").Errorf("operation panicked: %v", p)}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
		if r.err == nil || ctx.Err() == nil {
			return r.value, r.err
		}
	case <-ctx.Done():
	}
	var zero T
	return zero, oops.Code("AUTH_OPERATION_TIMEOUT").
		With("timeout", timeout.String()).
		Wrap(ctx.Err())
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
