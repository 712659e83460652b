// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/httpapi"
	"github.com/holomush/authcore/internal/logging"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Register(ctx context.Context, email, password, displayName string) (*auth.AuthResult, error) {
	args := m.Called(ctx, email, password, displayName)
	result, _ := args.Get(0).(*auth.AuthResult)
	return result, args.Error(1)
}

func (m *mockService) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	args := m.Called(ctx, email, password)
	result, _ := args.Get(0).(*auth.AuthResult)
	return result, args.Error(1)
}

func (m *mockService) Logout(ctx context.Context, userID ulid.ULID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockService) VerifyEmail(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockService) ForgotPassword(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func (m *mockService) CurrentUser(ctx context.Context, userID ulid.ULID) (auth.PublicUser, error) {
	args := m.Called(ctx, userID)
	user, _ := args.Get(0).(auth.PublicUser)
	return user, args.Error(1)
}

func (m *mockService) UpdateDisplayName(ctx context.Context, userID ulid.ULID, displayName string) (auth.PublicUser, error) {
	args := m.Called(ctx, userID, displayName)
	user, _ := args.Get(0).(auth.PublicUser)
	return user, args.Error(1)
}

func (m *mockService) AuthenticateToken(ctx context.Context, token string) (*auth.Session, error) {
	args := m.Called(ctx, token)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

type recordedRequest struct {
	method string
	route  string
	status int
}

type fakeObserver struct {
	requests    []recordedRequest
	rateLimited []string
}

func (o *fakeObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.requests = append(o.requests, recordedRequest{method: method, route: route, status: status})
}

func (o *fakeObserver) RecordRateLimited(route string) {
	o.rateLimited = append(o.rateLimited, route)
}

func unavailable() error {
	return oops.Code(auth.CodeUnavailable).Wrap(auth.ErrUnavailable)
}

func newMockServer(t *testing.T, svc *mockService, observer *fakeObserver) *httpapi.Server {
	t.Helper()
	opts := httpapi.Options{Service: svc, Logger: logging.Discard()}
	if observer != nil {
		opts.Metrics = observer
	}
	s, err := httpapi.New(opts)
	require.NoError(t, err)
	return s
}

func TestAPI_UnavailableIs503(t *testing.T) {
	svc := &mockService{}
	svc.On("Login", mock.Anything, "a@x.com", goodPassword).Return(nil, unavailable())
	svc.On("AuthenticateToken", mock.Anything, "tok").Return(nil, unavailable())
	observer := &fakeObserver{}
	s := newMockServer(t, svc, observer)

	resp := do(t, s, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "a@x.com", "password": goodPassword,
	}, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Equal(t, "Service temporarily unavailable", resp.body["message"])

	resp = do(t, s, http.MethodGet, "/api/auth/me", nil, "tok")
	assert.Equal(t, http.StatusServiceUnavailable, resp.status, "bearer keeps unavailability distinct from bad tokens")

	svc.AssertExpectations(t)
	require.Len(t, observer.requests, 2)
	assert.Equal(t, recordedRequest{http.MethodPost, "/api/auth/login", http.StatusServiceUnavailable}, observer.requests[0])
}

func TestAPI_BearerMasksSessionOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"expired", oops.Code(auth.CodeTokenExpired).Wrap(auth.ErrTokenExpired)},
		{"revoked", oops.Code(auth.CodeTokenRevoked).Wrap(auth.ErrTokenRevoked)},
		{"signature", oops.Code(auth.CodeInvalidSignature).Wrap(auth.ErrInvalidSignature)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			svc.On("AuthenticateToken", mock.Anything, "tok").Return(nil, tt.err)
			s := newMockServer(t, svc, nil)

			resp := do(t, s, http.MethodPost, "/api/auth/logout", nil, "tok")
			assert.Equal(t, http.StatusUnauthorized, resp.status)
			assert.Equal(t, "Invalid or expired token", resp.body["message"])
			svc.AssertNotCalled(t, "Logout", mock.Anything, mock.Anything)
		})
	}
}

func TestAPI_PanicIs500(t *testing.T) {
	svc := &mockService{}
	svc.On("ForgotPassword", mock.Anything, "a@x.com").Run(func(mock.Arguments) {
		panic("boom")
	})
	s := newMockServer(t, svc, nil)

	resp := do(t, s, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "a@x.com"}, "")
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.Equal(t, "Internal server error", resp.body["message"])
}
