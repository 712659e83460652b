// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Error kinds surfaced by the auth core. Every error returned from Service
// matches exactly one of these with errors.Is; the transport layer maps the
// kind to a status code and a generic message.
var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenConsumed      = errors.New("token has already been used")
	ErrWrongPurpose       = errors.New("token purpose mismatch")
	ErrInvalidSignature   = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrUnavailable        = errors.New("service unavailable")
)

// ErrNotFound is returned when a requested entity does not exist.
// It never leaves the auth core: Service maps it to ErrInvalidCredentials
// or a silent success depending on the operation.
var ErrNotFound = errors.New("not found")

// Error codes attached to oops errors created by this package.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeNotFound           = "NOT_FOUND"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenConsumed      = "TOKEN_ALREADY_CONSUMED"
	CodeWrongPurpose       = "WRONG_TOKEN_PURPOSE"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeTokenRevoked       = "TOKEN_REVOKED"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
)

var kindCodes = map[error]string{
	ErrValidation:         CodeValidation,
	ErrDuplicateEmail:     CodeDuplicateEmail,
	ErrInvalidCredentials: CodeInvalidCredentials,
	ErrNotFound:           CodeNotFound,
	ErrTokenExpired:       CodeTokenExpired,
	ErrTokenConsumed:      CodeTokenConsumed,
	ErrWrongPurpose:       CodeWrongPurpose,
	ErrInvalidSignature:   CodeInvalidSignature,
	ErrTokenRevoked:       CodeTokenRevoked,
	ErrUnavailable:        CodeUnavailable,
}

// newKindError returns a fresh coded error for a taxonomy sentinel.
func newKindError(kind error) error {
	return oops.Code(kindCodes[kind]).Wrap(kind)
}

var kinds = []error{
	ErrValidation,
	ErrDuplicateEmail,
	ErrInvalidCredentials,
	ErrNotFound,
	ErrTokenExpired,
	ErrTokenConsumed,
	ErrWrongPurpose,
	ErrInvalidSignature,
	ErrTokenRevoked,
	ErrUnavailable,
}

// KindOf returns the taxonomy sentinel err matches, or nil when err is nil
// or unclassified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level rejections. It matches ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

// Error implements error.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(msgs, "; ")
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a rejected field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e when it holds at least one field error, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
