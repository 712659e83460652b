// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/pkg/errutil"
)

// Transport-level rejections raised by the guards.
var (
	errMissingBearer = errors.New("bearer token required")
	errRateLimited   = errors.New("rate limit exceeded")
)

// rateLimitError carries the retry hint for the Retry-After header.
type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string        { return errRateLimited.Error() }
func (e *rateLimitError) Is(target error) bool { return target == errRateLimited }

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  []auth.FieldError `json:"errors,omitempty"`
}

type mapping struct {
	status  int
	message string
}

// Messages are deliberately generic: none reveals whether an account exists.
var kindMappings = map[error]mapping{
	auth.ErrValidation:         {http.StatusBadRequest, "Validation failed"},
	auth.ErrInvalidCredentials: {http.StatusUnauthorized, "Invalid email or password"},
	auth.ErrInvalidSignature:   {http.StatusUnauthorized, "Invalid or expired token"},
	auth.ErrTokenRevoked:       {http.StatusUnauthorized, "Invalid or expired token"},
	auth.ErrDuplicateEmail:     {http.StatusConflict, "Email already registered"},
	auth.ErrTokenExpired:       {http.StatusGone, "Token has expired"},
	auth.ErrTokenConsumed:      {http.StatusGone, "Token has already been used"},
	auth.ErrWrongPurpose:       {http.StatusGone, "Token is not valid for this action"},
	auth.ErrUnavailable:        {http.StatusServiceUnavailable, "Service temporarily unavailable"},
	// NotFound never leaves the service; treat a leak as a bad credential.
	auth.ErrNotFound: {http.StatusUnauthorized, "Invalid email or password"},
}

var internalError = mapping{http.StatusInternalServerError, "Internal server error"}

// mapError returns the status and body for err.
func mapError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, errMissingBearer):
		return http.StatusUnauthorized, errorResponse{Message: "Authentication required"}
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, errorResponse{Message: "Too many requests"}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, errorResponse{Message: http.StatusText(fe.Code)}
	}

	kind := auth.KindOf(err)
	m, ok := kindMappings[kind]
	if !ok {
		m = internalError
	}
	resp := errorResponse{Message: m.message}

	var ve *auth.ValidationError
	if errors.As(err, &ve) {
		resp.Errors = ve.Fields
	}
	return m.status, resp
}

// handleError writes the response for err and logs it. Server-side logs
// keep the internal detail the client never sees.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, resp := mapError(err)

	ctx := c.UserContext()
	logger := logging.FromContext(ctx, s.logger)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(ctx, logger, "request failed", err)
	} else {
		logger.DebugContext(ctx, "request rejected", "status", status, "error", err)
	}

	var rl *rateLimitError
	if errors.As(err, &rl) {
		seconds := int(rl.retryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
	}

	return c.Status(status).JSON(resp)
}
