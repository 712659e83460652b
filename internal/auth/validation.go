// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Input constraints.
const (
	MinPasswordLength    = 8
	MaxPasswordLength    = 128
	MinDisplayNameLength = 2
	MaxDisplayNameLength = 50
	MaxEmailLength       = 254
)

// Field validation messages returned to clients.
const (
	msgInvalidEmail       = "Please provide a valid email"
	msgPasswordRequired   = "Password is required"
	msgPasswordTooShort   = "Password must be at least 8 characters long"
	msgPasswordTooLong    = "Password must be at most 128 characters long"
	msgPasswordComplexity = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"
	msgDisplayNameLength  = "Display name must be between 2 and 50 characters"
	msgTokenRequired      = "Token is required"
)

// passwordSpecials is the set of special characters a password may (and must) use.
const passwordSpecials = "@$!%*?&"

// emailRegex accepts a dot-atom local part and a domain with at least one dot.
var emailRegex = regexp.MustCompile(
	"^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$",
)

// ValidateEmail reports whether email is syntactically acceptable.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	return emailRegex.MatchString(email)
}

// ValidatePassword applies the password policy: 8 to 128 characters drawn
// from letters, digits and @$!%*?&, with at least one upper case letter,
// one lower case letter, one digit and one special character.
// Returns the client message for the first violated rule, or "".
func ValidatePassword(password string) string {
	if len(password) < MinPasswordLength {
		return msgPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return msgPasswordTooLong
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return msgPasswordComplexity
		}
	}
	if !upper || !lower || !digit || !special {
		return msgPasswordComplexity
	}
	return ""
}

// ValidateDisplayName checks the trimmed display name length in characters.
func ValidateDisplayName(displayName string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(displayName))
	return n >= MinDisplayNameLength && n <= MaxDisplayNameLength
}

// ValidateRegistration validates register input.
func ValidateRegistration(email, password, displayName string) error {
	ve := &ValidationError{}
	if !ValidateEmail(email) {
		ve.Add("email", msgInvalidEmail)
	}
	if msg := ValidatePassword(password); msg != "" {
		ve.Add("password", msg)
	}
	if !ValidateDisplayName(displayName) {
		ve.Add("displayName", msgDisplayNameLength)
	}
	return wrapValidation(ve)
}

// ValidateProfile validates profile update input.
func ValidateProfile(displayName string) error {
	ve := &ValidationError{}
	if !ValidateDisplayName(displayName) {
		ve.Add("displayName", msgDisplayNameLength)
	}
	return wrapValidation(ve)
}

// ValidateLogin validates login input. Only presence is checked for the
// password so the policy cannot be discovered through login.
func ValidateLogin(email, password string) error {
	ve := &ValidationError{}
	if !ValidateEmail(email) {
		ve.Add("email", msgInvalidEmail)
	}
	if password == "" {
		ve.Add("password", msgPasswordRequired)
	}
	return wrapValidation(ve)
}

// ValidateForgotPassword validates forgot-password input.
func ValidateForgotPassword(email string) error {
	ve := &ValidationError{}
	if !ValidateEmail(email) {
		ve.Add("email", msgInvalidEmail)
	}
	return wrapValidation(ve)
}

// ValidateResetPassword validates reset-password input.
func ValidateResetPassword(token, newPassword string) error {
	ve := &ValidationError{}
	if strings.TrimSpace(token) == "" {
		ve.Add("token", msgTokenRequired)
	}
	if msg := ValidatePassword(newPassword); msg != "" {
		ve.Add("newPassword", msg)
	}
	return wrapValidation(ve)
}

func wrapValidation(ve *ValidationError) error {
	if err := ve.OrNil(); err != nil {
		return oops.Code(CodeValidation).With("fields", len(ve.Fields)).Wrap(err)
	}
	return nil
}
