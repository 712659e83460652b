// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control provides the gRPC control interface used by operators and
// orchestrators to check the process.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves the standard gRPC health service. The overall status
// ("") and the component's own service name are kept in step.
type GRPCServer struct {
	component  string
	logger     *slog.Logger
	health     *health.Server
	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
	running    atomic.Bool
}

// NewGRPCServer creates a new control server. It reports NOT_SERVING until
// SetServing(true) is called.
func NewGRPCServer(component string, logger *slog.Logger) (*GRPCServer, error) {
	if component == "" {
		return nil, oops.Code("CONTROL_INVALID_CONFIG").Errorf("component name cannot be empty")
	}
	if logger == nil {
		return nil, oops.Code("CONTROL_INVALID_CONFIG").Errorf("logger is required")
	}
	s := &GRPCServer{
		component: component,
		logger:    logger,
		health:    health.NewServer(),
	}
	s.SetServing(false)
	return s, nil
}

// Start begins listening on addr.
// It returns an error channel that receives the server's exit error (or nil
// on graceful stop) exactly once.
func (s *GRPCServer) Start(addr string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, oops.Code("CONTROL_ALREADY_RUNNING").Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.Code("CONTROL_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	s.listener = listener
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.running.Store(true)

	srv := s.grpcServer
	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			s.logger.Error("control gRPC server error",
				"component", s.component,
				"error", err,
			)
		}
		errCh <- err
	}()

	s.logger.Info("control server started", "addr", listener.Addr().String())
	return errCh, nil
}

// SetServing flips the reported health status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.component, status)
}

// Addr returns the listen address, or "" before Start.
func (s *GRPCServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Running reports whether Start succeeded and Stop has not completed.
func (s *GRPCServer) Running() bool {
	return s.running.Load()
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs. If ctx
// expires first the server is stopped forcibly.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.Shutdown()

	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}

	s.running.Store(false)
	return nil
}

// CheckHealth queries the health service at addr. An empty service name
// asks for the overall status.
func CheckHealth(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code("CONTROL_DIAL_FAILED").With("addr", addr).Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code("CONTROL_CHECK_FAILED").
			With("addr", addr).
			With("service", service).
			Wrap(err)
	}
	return resp.GetStatus(), nil
}
