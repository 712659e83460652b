// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth core over HTTP.
//
// Every route runs an ordered guard pipeline. Global stages: request id,
// observe (logging, metrics, error rendering), recover, CORS. Under
// /api/auth: rate limit, then per route the schema shape check, the field
// rules, and the bearer guard where the route needs a session. Any stage can
// short-circuit by returning an error; observe renders it.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const requestIDKey = "authcore.request_id"

// AuthService is the orchestrator the handlers drive.
type AuthService interface {
	Register(ctx context.Context, email, password, displayName string) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	Logout(ctx context.Context, userID ulid.ULID) error
	VerifyEmail(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	CurrentUser(ctx context.Context, userID ulid.ULID) (auth.PublicUser, error)
	UpdateDisplayName(ctx context.Context, userID ulid.ULID, displayName string) (auth.PublicUser, error)
	AuthenticateToken(ctx context.Context, token string) (*auth.Session, error)
}

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	RecordRateLimited(route string)
}

// Options configures a Server.
type Options struct {
	Service AuthService
	Logger  *slog.Logger
	// Metrics is optional.
	Metrics RequestObserver
	// Limiter is optional; nil disables rate limiting.
	Limiter *RateLimiter
	// CORSOrigins are glob patterns. Empty disables CORS headers.
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the fiber application serving /api/auth.
type Server struct {
	app     *fiber.App
	service AuthService
	logger  *slog.Logger
	metrics RequestObserver
	limiter *RateLimiter
	origins *originMatcher
}

// New builds the application and registers every route.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("auth service is required")
	}
	if opts.Logger == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("logger is required")
	}
	if _, err := compiledSchemas(); err != nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Wrap(err)
	}

	s := &Server{
		service: opts.Service,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		limiter: opts.Limiter,
	}
	if len(opts.CORSOrigins) > 0 {
		origins, err := newOriginMatcher(opts.CORSOrigins)
		if err != nil {
			return nil, err
		}
		s.origins = origins
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "authcore",
		DisableStartupMessage: true,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             64 * 1024,
		// Request values are handed to goroutines that can outlive the
		// handler when an operation times out.
		Immutable:    true,
		ErrorHandler: s.handleError,
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Use(requestid.New(requestid.Config{ContextKey: requestIDKey}))
	s.app.Use(s.observe)
	s.app.Use(fiberrecover.New())
	s.app.Use(s.cors)

	s.app.Get("/health", s.health)

	api := s.app.Group("/api/auth", s.rateLimit)
	api.Post("/register",
		shape(SchemaRegister),
		rules(func(r *RegisterRequest) error {
			return auth.ValidateRegistration(r.Email, r.Password, r.DisplayName)
		}),
		s.register,
	)
	api.Post("/login",
		shape(SchemaLogin),
		rules(func(r *LoginRequest) error { return auth.ValidateLogin(r.Email, r.Password) }),
		s.login,
	)
	api.Post("/logout", s.bearer, s.logout)
	api.Get("/me", s.bearer, s.me)
	api.Patch("/me",
		s.bearer,
		shape(SchemaUpdateProfile),
		rules(func(r *UpdateProfileRequest) error { return auth.ValidateProfile(r.DisplayName) }),
		s.updateProfile,
	)
	api.Post("/verify-email/:token", s.verifyEmail)
	api.Post("/forgot-password",
		shape(SchemaForgotPassword),
		rules(func(r *ForgotPasswordRequest) error { return auth.ValidateForgotPassword(r.Email) }),
		s.forgotPassword,
	)
	api.Post("/reset-password",
		shape(SchemaResetPassword),
		rules(func(r *ResetPasswordRequest) error {
			return auth.ValidateResetPassword(r.Token, r.NewPassword)
		}),
		s.resetPassword,
	)
}

// App exposes the fiber application, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server started", "addr", ln.Addr().String())
	if err := s.app.Listener(ln); err != nil {
		return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	s.logger.Info("http server stopped")
	return nil
}
