// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// Notifier delivers action tokens to users. Delivery is out of band: the
// orchestrator never waits on the user reading the message.
type Notifier interface {
	SendVerification(ctx context.Context, user PublicUser, token string) error
	SendPasswordReset(ctx context.Context, user PublicUser, token string) error
}

// LogNotifier writes action links to the log instead of sending mail.
type LogNotifier struct {
	logger  *slog.Logger
	baseURL string
}

// NewLogNotifier creates a LogNotifier that builds links under baseURL.
func NewLogNotifier(logger *slog.Logger, baseURL string) *LogNotifier {
	return &LogNotifier{logger: logger, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendVerification logs the email verification link.
func (n *LogNotifier) SendVerification(ctx context.Context, user PublicUser, token string) error {
	n.logger.InfoContext(ctx, "email verification link",
		"user_id", user.ID,
		"link", n.baseURL+"/verify-email/"+url.PathEscape(token))
	return nil
}

// SendPasswordReset logs the password reset link.
func (n *LogNotifier) SendPasswordReset(ctx context.Context, user PublicUser, token string) error {
	n.logger.InfoContext(ctx, "password reset link",
		"user_id", user.ID,
		"link", n.baseURL+"/reset-password?token="+url.QueryEscape(token))
	return nil
}
