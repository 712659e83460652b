// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package storetest starts a disposable PostgreSQL for integration suites.
package storetest

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authcore/internal/store"
)

// Image is the server image every suite runs against.
const Image = "postgres:16-alpine"

// Postgres is a running container plus its connection string.
type Postgres struct {
	container *tcpostgres.PostgresContainer
	URL       string
}

// Start runs a fresh container. Postgres logs the ready line twice: once
// for the init-time server and once for the real one.
func Start(ctx context.Context) (*Postgres, error) {
	container, err := tcpostgres.Run(ctx, Image,
		tcpostgres.WithDatabase("authcore_test"),
		tcpostgres.WithUsername("authcore"),
		tcpostgres.WithPassword("authcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, oops.Code("TEST_DB_START_FAILED").Wrap(err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, oops.Code("TEST_DB_START_FAILED").Wrap(err)
	}
	return &Postgres{container: container, URL: url}, nil
}

// StartMigrated is Start followed by applying every embedded migration.
func StartMigrated(ctx context.Context) (*Postgres, error) {
	pg, err := Start(ctx)
	if err != nil {
		return nil, err
	}
	m, err := store.NewMigrator(pg.URL)
	if err == nil {
		err = m.Up()
		_ = m.Close()
	}
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, err
	}
	return pg, nil
}

// Terminate stops and removes the container.
func (p *Postgres) Terminate(ctx context.Context) error {
	if p == nil || p.container == nil {
		return nil
	}
	if err := p.container.Terminate(ctx); err != nil {
		return oops.Code("TEST_DB_STOP_FAILED").Wrap(err)
	}
	return nil
}
