// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"user@example.com", true},
		{"First.Last+tag@sub.example.co.uk", true},
		{"  padded@example.com  ", true},
		{"", false},
		{"no-at-sign", false},
		{"user@localhost", false},
		{"user@@example.com", false},
		{"user@-example.com", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.valid, auth.ValidateEmail(tt.email))
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantMsg  string
	}{
		{"valid", "Passw0rd!", ""},
		{"valid max length", "Aa1!" + strings.Repeat("a", 124), ""},
		{"too short", "Pa1!", "Password must be at least 8 characters long"},
		{"too long", "Aa1!" + strings.Repeat("a", 125), "Password must be at most 128 characters long"},
		{"no upper", "passw0rd!", "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"},
		{"no lower", "PASSW0RD!", "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"},
		{"no digit", "Password!", "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"},
		{"no special", "Passw0rdX", "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"},
		{"disallowed character", "Passw0rd!#", "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"},
		{"space", "Passw0rd! ", "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, auth.ValidatePassword(tt.password))
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.True(t, auth.ValidateDisplayName("Al"))
	assert.True(t, auth.ValidateDisplayName(strings.Repeat("é", 50)))
	assert.True(t, auth.ValidateDisplayName("  Bo  "))
	assert.False(t, auth.ValidateDisplayName("A"))
	assert.False(t, auth.ValidateDisplayName("   A   "))
	assert.False(t, auth.ValidateDisplayName(strings.Repeat("x", 51)))
}

func TestValidateRegistration_CollectsAllFields(t *testing.T) {
	err := auth.ValidateRegistration("bad", "short", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrValidation)
	errutil.AssertErrorCode(t, err, auth.CodeValidation)

	var ve *auth.ValidationError
	require.True(t, errors.As(err, &ve))
	fields := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"email", "password", "displayName"}, fields)
}

func TestValidateRegistration_Valid(t *testing.T) {
	require.NoError(t, auth.ValidateRegistration("new@example.com", "Passw0rd!", "New User"))
}

func TestValidateLogin(t *testing.T) {
	require.NoError(t, auth.ValidateLogin("user@example.com", "anything"))

	err := auth.ValidateLogin("user@example.com", "")
	var ve *auth.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 1)
	assert.Equal(t, auth.FieldError{Field: "password", Message: "Password is required"}, ve.Fields[0])
}

func TestValidateForgotPassword(t *testing.T) {
	require.NoError(t, auth.ValidateForgotPassword("user@example.com"))
	assert.ErrorIs(t, auth.ValidateForgotPassword("nope"), auth.ErrValidation)
}

func TestValidateResetPassword(t *testing.T) {
	require.NoError(t, auth.ValidateResetPassword("tok", "Passw0rd!"))

	err := auth.ValidateResetPassword(" ", "weak")
	var ve *auth.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 2)
	assert.Equal(t, "token", ve.Fields[0].Field)
	assert.Equal(t, "Token is required", ve.Fields[0].Message)
	assert.Equal(t, "newPassword", ve.Fields[1].Field)
}

func TestKindOf(t *testing.T) {
	assert.Nil(t, auth.KindOf(nil))
	assert.Nil(t, auth.KindOf(errors.New("boom")))
	assert.Equal(t, auth.ErrValidation, auth.KindOf(auth.ValidateForgotPassword("x")))
	assert.Equal(t, auth.ErrTokenExpired, auth.KindOf(errors.Join(errors.New("ctx"), auth.ErrTokenExpired)))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", auth.Outcome(nil))
	assert.Equal(t, "internal", auth.Outcome(errors.New("boom")))
	assert.Equal(t, "duplicate_email", auth.Outcome(auth.ErrDuplicateEmail))
}

func TestValidateProfile(t *testing.T) {
	require.NoError(t, auth.ValidateProfile("  New Name "))

	err := auth.ValidateProfile("x")
	var ve *auth.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 1)
	assert.Equal(t, auth.FieldError{
		Field:   "displayName",
		Message: "Display name must be between 2 and 50 characters",
	}, ve.Fields[0])
}
