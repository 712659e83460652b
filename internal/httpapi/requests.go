// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email       string `json:"email" jsonschema:"title=Email,maxLength=1024"`
	Password    string `json:"password" jsonschema:"title=Password,maxLength=1024"`
	DisplayName string `json:"displayName" jsonschema:"title=Display name,maxLength=1024"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" jsonschema:"title=Email,maxLength=1024"`
	Password string `json:"password" jsonschema:"title=Password,maxLength=1024"`
}

// ForgotPasswordRequest is the body of POST /api/auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" jsonschema:"title=Email,maxLength=1024"`
}

// ResetPasswordRequest is the body of POST /api/auth/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token" jsonschema:"title=Reset token,maxLength=4096"`
	NewPassword string `json:"newPassword" jsonschema:"title=New password,maxLength=1024"`
}

// UpdateProfileRequest is the body of PATCH /api/auth/me.
type UpdateProfileRequest struct {
	DisplayName string `json:"displayName" jsonschema:"title=Display name,maxLength=1024"`
}
