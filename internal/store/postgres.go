// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store manages the PostgreSQL connection pool and schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
	// Attempts is the number of connection attempts. Defaults to 5.
	Attempts uint64
	// Backoff is the first retry delay; later delays grow exponentially.
	// Defaults to 500ms.
	Backoff time.Duration
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the database comes up.
func Connect(ctx context.Context, dsn string, opts ConnectOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 5
	}
	base := opts.Backoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var pool *pgxpool.Pool
	attempt := 0
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(base))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.WarnContext(ctx, "database not reachable, retrying",
				"attempt", attempt, "error", err)
			return retry.RetryableError(oops.Code("DB_CONNECT_FAILED").With("attempt", attempt).Wrap(err))
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}

	logger.InfoContext(ctx, "database connected", "attempts", attempt, "max_conns", cfg.MaxConns)
	return pool, nil
}
