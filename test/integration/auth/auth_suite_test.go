// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/auth"
	authpg "github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/httpapi"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/internal/store/storetest"
)

func TestAuth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth API Integration Suite")
}

var secret = []byte("integration-secret-0123456789abcdef")

// testEnv holds the database and the service graph built on it.
type testEnv struct {
	ctx  context.Context
	pool *pgxpool.Pool
	pg   *storetest.Postgres

	Users       *authpg.UserRepository
	Tokens      *authpg.ActionTokenRepository
	Revocations *authpg.RevocationRepository

	Sessions *auth.SessionIssuer
	Actions  *auth.ActionTokenIssuer
	Notifier *captureNotifier
	Service  *auth.Service
	API      *httpapi.Server
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupAuthTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupAuthTestEnv() (*testEnv, error) {
	ctx := context.Background()

	pg, err := storetest.StartMigrated(ctx)
	if err != nil {
		return nil, err
	}

	pool, err := store.Connect(ctx, pg.URL, store.ConnectOptions{}, logging.Discard())
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, err
	}

	e := &testEnv{
		ctx:         ctx,
		pool:        pool,
		pg:          pg,
		Users:       authpg.NewUserRepository(pool),
		Tokens:      authpg.NewActionTokenRepository(pool),
		Revocations: authpg.NewRevocationRepository(pool),
		Notifier:    newCaptureNotifier(),
	}
	if err := e.buildService(); err != nil {
		e.cleanup()
		return nil, err
	}
	return e, nil
}

func (e *testEnv) buildService() error {
	var err error
	e.Sessions, err = auth.NewSessionIssuer(auth.SessionConfig{Secret: secret, Issuer: "authcore-it"}, e.Revocations)
	if err != nil {
		return err
	}
	e.Actions, err = auth.NewActionTokenIssuer(auth.ActionTokenConfig{Secret: secret, Issuer: "authcore-it"}, e.Tokens)
	if err != nil {
		return err
	}
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1})
	if err != nil {
		return err
	}
	e.Service, err = auth.NewService(auth.ServiceDeps{
		Users:    e.Users,
		Hasher:   hasher,
		Sessions: e.Sessions,
		Actions:  e.Actions,
		Notifier: e.Notifier,
		Logger:   logging.Discard(),
	})
	if err != nil {
		return err
	}
	e.API, err = httpapi.New(httpapi.Options{Service: e.Service, Logger: logging.Discard()})
	return err
}

func (e *testEnv) cleanup() {
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.pg.Terminate(e.ctx)
}

type captureNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{verification: map[string]string{}, reset: map[string]string{}}
}

func (n *captureNotifier) SendVerification(_ context.Context, user auth.PublicUser, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[user.Email] = token
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, user auth.PublicUser, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[user.Email] = token
	return nil
}

func (n *captureNotifier) VerificationToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

func (n *captureNotifier) ResetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reset[email]
}
