// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/logging"
)

// Locals keys.
const (
	localRequest = "authcore.request"
	localSession = "authcore.session"
)

// observe is the outermost stage. It attaches a request-scoped logger to
// the user context, renders any error from later stages, and records the
// final status.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()

	requestID, _ := c.Locals(requestIDKey).(string)
	logger := s.logger.With("request_id", requestID)
	c.SetUserContext(logging.WithContext(c.UserContext(), logger))

	if err := c.Next(); err != nil {
		if writeErr := s.handleError(c, err); writeErr != nil {
			return writeErr
		}
	}

	status := c.Response().StatusCode()
	elapsed := time.Since(start)
	route := c.Route().Path
	if s.metrics != nil {
		s.metrics.ObserveRequest(c.Method(), route, status, elapsed)
	}
	logger.DebugContext(c.UserContext(), "request completed",
		"method", c.Method(),
		"route", route,
		"status", status,
		"duration", elapsed,
	)
	return nil
}

// rateLimit rejects clients that exhausted their token bucket.
func (s *Server) rateLimit(c *fiber.Ctx) error {
	if s.limiter == nil {
		return c.Next()
	}
	allowed, retryAfter := s.limiter.Allow(c.IP())
	if !allowed {
		if s.metrics != nil {
			s.metrics.RecordRateLimited(c.Route().Path)
		}
		return &rateLimitError{retryAfter: retryAfter}
	}
	return c.Next()
}

// shape checks the body against the named request schema.
func shape(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := checkShape(name, c.Body()); err != nil {
			return err
		}
		return c.Next()
	}
}

// rules decodes the body into T, applies the field rules, and stores the
// request for the handler.
func rules[T any](check func(*T) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := new(T)
		if err := json.Unmarshal(c.Body(), req); err != nil {
			ve := &auth.ValidationError{}
			ve.Add("body", "Request body must be a JSON object")
			return ve
		}
		if err := check(req); err != nil {
			return err
		}
		c.Locals(localRequest, req)
		return c.Next()
	}
}

// requestFrom returns the request stored by rules.
func requestFrom[T any](c *fiber.Ctx) (*T, error) {
	req, ok := c.Locals(localRequest).(*T)
	if !ok {
		return nil, oops.Code("HTTP_REQUEST_MISSING").Errorf("request body was not decoded")
	}
	return req, nil
}

// bearer authenticates the Authorization header and stores the session.
func (s *Server) bearer(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return errMissingBearer
	}

	session, err := s.service.AuthenticateToken(c.UserContext(), strings.TrimSpace(token))
	if err != nil {
		if auth.KindOf(err) == auth.ErrUnavailable {
			return err
		}
		// Expired, revoked and forged sessions all read as unauthenticated.
		return oops.Code(auth.CodeInvalidSignature).
			With("reason", auth.Outcome(err)).
			Wrap(auth.ErrInvalidSignature)
	}
	c.Locals(localSession, session)

	logger := logging.FromContext(c.UserContext(), s.logger).With("user_id", session.UserID.String())
	c.SetUserContext(logging.WithContext(c.UserContext(), logger))
	return c.Next()
}

// sessionFrom returns the session stored by bearer.
func sessionFrom(c *fiber.Ctx) (*auth.Session, error) {
	session, ok := c.Locals(localSession).(*auth.Session)
	if !ok {
		return nil, oops.Code("HTTP_SESSION_MISSING").Errorf("route is not behind the bearer guard")
	}
	return session, nil
}

// originMatcher matches Origin headers against glob patterns such as
// "https://*.example.com".
type originMatcher struct {
	any      bool
	patterns []glob.Glob
}

func newOriginMatcher(patterns []string) (*originMatcher, error) {
	m := &originMatcher{}
	for _, p := range patterns {
		if p == "*" {
			m.any = true
			continue
		}
		g, err := glob.Compile(strings.ToLower(p), '.', ':', '/')
		if err != nil {
			return nil, oops.Code("HTTP_INVALID_CORS_ORIGIN").With("pattern", p).Wrap(err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

func (m *originMatcher) match(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// cors answers preflight requests and sets CORS headers for allowed
// origins. Disallowed origins get no CORS headers; the browser blocks them.
func (s *Server) cors(c *fiber.Ctx) error {
	origin := c.Get(fiber.HeaderOrigin)
	if origin == "" || s.origins == nil || !s.origins.match(origin) {
		if c.Method() == fiber.MethodOptions && origin != "" {
			return c.SendStatus(fiber.StatusForbidden)
		}
		return c.Next()
	}

	c.Vary(fiber.HeaderOrigin)
	c.Set(fiber.HeaderAccessControlAllowOrigin, origin)

	if c.Method() == fiber.MethodOptions {
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, PATCH, OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Authorization, Content-Type, X-Request-ID")
		c.Set(fiber.HeaderAccessControlMaxAge, "600")
		return c.SendStatus(fiber.StatusNoContent)
	}

	c.Set(fiber.HeaderAccessControlExposeHeaders, "X-Request-ID, Retry-After")
	return c.Next()
}
