// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the authentication core: credential storage
// contracts, password hashing, session tokens, and single-use action tokens.
//
// # Domain Types
//
// Users should be created with NewUser, which normalizes the email and
// rejects an empty hash. Repository implementations receive pre-validated
// values and enforce email uniqueness atomically.
//
// # Tokens
//
//   - SessionIssuer - signed bearer tokens, revoked per user by watermark
//   - ActionTokenIssuer - purpose-bound tokens consumed at most once
//
// # Services
//
// Service orchestrates register, login, logout, email verification and the
// password reset flow. Every error it returns matches exactly one taxonomy
// sentinel; KindOf recovers it.
package auth
