// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/control"
	"github.com/holomush/authcore/internal/httpapi"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/pkg/errutil"
)

const (
	componentName   = "authcore"
	shutdownTimeout = 10 * time.Second
	readinessPing   = time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API",
		Long: `Start the HTTP API together with the metrics listener, the gRPC
health service, and the background maintenance loop.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.Setup(componentName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingOptions{
				Endpoint:    cfg.Observability.TracingEndpoint,
				SampleRatio: cfg.Observability.TraceSampleRatio,
				Service:     componentName,
				Version:     version,
			})
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					errutil.LogError(logger, "flushing traces", err)
				}
			}()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "startup failed", err)
				return err
			}
			return a.run(ctx)
		},
	}
}

type stores struct {
	users       auth.UserRepository
	tokens      auth.ActionTokenRepository
	revocations auth.RevocationRepository
}

// app owns every long-lived component of a serve process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	sessions *auth.SessionIssuer
	actions  *auth.ActionTokenIssuer
	obs      *observability.Server
	limiter  *httpapi.RateLimiter
	svc      *auth.Service
	api      *httpapi.Server

	ready atomic.Bool
}

// newApp connects the store and builds the service graph. Nothing listens
// until run.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.obs = observability.NewServer(cfg.Observability.MetricsAddr, a.isReady, logger)

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	secret := []byte(cfg.Auth.JWTSecret)
	a.sessions, err = auth.NewSessionIssuer(auth.SessionConfig{
		Secret: secret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.SessionTTL,
	}, st.revocations)
	if err != nil {
		return nil, err
	}
	restored, err := a.sessions.Restore(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("session revocations restored", "users", restored)

	a.actions, err = auth.NewActionTokenIssuer(auth.ActionTokenConfig{
		Secret:           secret,
		Issuer:           cfg.Auth.Issuer,
		VerifyEmailTTL:   cfg.Auth.VerifyEmailTTL,
		ResetPasswordTTL: cfg.Auth.ResetPasswordTTL,
	}, st.tokens)
	if err != nil {
		return nil, err
	}

	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Hasher.Params())
	if err != nil {
		return nil, err
	}

	a.svc, err = auth.NewService(auth.ServiceDeps{
		Users:            st.users,
		Hasher:           hasher,
		Sessions:         a.sessions,
		Actions:          a.actions,
		Logger:           logger,
		Notifier:         auth.NewLogNotifier(logger, cfg.Server.BaseURL),
		Metrics:          a.obs.Metrics(),
		OperationTimeout: cfg.Auth.OperationTimeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit.Enabled {
		a.limiter = httpapi.NewRateLimiter(httpapi.RateLimiterConfig{
			BurstCapacity: cfg.RateLimit.Burst,
			SustainedRate: cfg.RateLimit.Rate,
			IdleTTL:       cfg.RateLimit.IdleTTL,
			Registerer:    a.obs.Registry(),
		})
	}

	a.api, err = httpapi.New(httpapi.Options{
		Service:      a.svc,
		Logger:       logger,
		Metrics:      a.obs.Metrics(),
		Limiter:      a.limiter,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) (stores, error) {
	db := a.cfg.Database
	if db.Driver == config.DriverMemory {
		a.logger.Warn("using the in-memory credential store, data is lost on exit")
		return stores{
			users:       memory.NewUserRepository(),
			tokens:      memory.NewActionTokenRepository(),
			revocations: memory.NewRevocationRepository(),
		}, nil
	}

	pool, err := store.Connect(ctx, db.URL, store.ConnectOptions{
		MaxConns: db.MaxConns,
		Attempts: db.ConnectAttempts,
		Backoff:  db.ConnectBackoff,
	}, a.logger)
	if err != nil {
		return stores{}, err
	}
	a.pool = pool

	if db.AutoMigrate {
		if err := migrateUp(db.URL, a.logger); err != nil {
			return stores{}, err
		}
	}

	return stores{
		users:       postgres.NewUserRepository(pool),
		tokens:      postgres.NewActionTokenRepository(pool),
		revocations: postgres.NewRevocationRepository(pool),
	}, nil
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "closing migrator", closeErr)
		}
	}()

	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if err := m.Up(); err != nil {
		return err
	}
	logger.Info("migrations applied", "count", len(pending))
	return nil
}

// isReady backs the readiness endpoint.
func (a *app) isReady() bool {
	if !a.ready.Load() {
		return false
	}
	if a.pool == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), readinessPing)
	defer cancel()
	return a.pool.Ping(ctx) == nil
}

// run serves until ctx is cancelled or a listener fails, then shuts down.
func (a *app) run(parent context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", a.cfg.Server.Addr()).Wrap(err)
	}

	var ctl *control.GRPCServer
	if addr := a.cfg.Observability.ControlAddr; addr != "" {
		ctl, err = control.NewGRPCServer(componentName, a.logger)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ctlErr, err := ctl.Start(addr)
		if err != nil {
			_ = ln.Close()
			return err
		}
		go monitorServerErrors(ctx, cancel, ctlErr, "control-grpc", a.logger)
	}

	if a.cfg.Observability.MetricsAddr != "" {
		obsErr, err := a.obs.Start()
		if err != nil {
			_ = ln.Close()
			a.stopControl(ctl)
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErr, "observability", a.logger)
	}

	apiErr := make(chan error, 1)
	go func() {
		defer close(apiErr)
		if err := a.api.Serve(ln); err != nil {
			apiErr <- err
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErr, "http", a.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.maintain(ctx)
	}()

	a.ready.Store(true)
	if ctl != nil {
		ctl.SetServing(true)
	}
	a.logger.Info("authcore ready",
		"addr", ln.Addr().String(),
		"driver", a.cfg.Database.Driver,
		"rate_limit", a.limiter != nil,
	)

	<-ctx.Done()
	a.logger.Info("shutting down")
	a.ready.Store(false)
	if ctl != nil {
		ctl.SetServing(false)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := a.api.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(a.logger, "stopping http server", err)
	}
	wg.Wait()
	// Reset deliveries still in flight need the store, which close releases.
	a.svc.Wait()
	if err := a.obs.Stop(shutdownCtx); err != nil {
		errutil.LogError(a.logger, "stopping observability server", err)
	}
	a.stopControl(ctl)

	a.logger.Info("shutdown complete")
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func (a *app) stopControl(ctl *control.GRPCServer) {
	if ctl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctl.Stop(ctx); err != nil {
		errutil.LogError(a.logger, "stopping control server", err)
	}
}

// close releases the rate limiter and the pool. Safe to call on a
// partially built app.
func (a *app) close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// maintain purges expired action tokens and reloads revocation watermarks
// written by other replicas.
func (a *app) maintain(ctx context.Context) {
	purge := time.NewTicker(a.cfg.Maintenance.PurgeInterval)
	defer purge.Stop()
	refresh := time.NewTicker(a.cfg.Maintenance.RevocationRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			a.purgeExpired(ctx)
		case <-refresh.C:
			if _, err := a.sessions.Restore(ctx); err != nil {
				errutil.LogErrorContext(ctx, a.logger, "refreshing session revocations", err)
			}
		}
	}
}

func (a *app) purgeExpired(ctx context.Context) {
	n, err := a.actions.PurgeExpired(ctx)
	if err != nil {
		errutil.LogErrorContext(ctx, a.logger, "purging expired action tokens", err)
		return
	}
	a.obs.Metrics().RecordPurged(n)
	if n > 0 {
		a.logger.InfoContext(ctx, "purged expired action tokens", "count", n)
	}
}

// monitorServerErrors cancels ctx with the server's error so that one
// failed listener shuts the whole process down. A closed channel or a nil
// error means the server stopped on purpose.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		logger.Error("server error, triggering shutdown", "server", name, "error", err)
		cancel(oops.With("server", name).Wrap(err))
	case <-ctx.Done():
	}
}
