package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker reports whether backing stores are reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// GRPCServer exposes the standard gRPC health service for orchestrators.
type GRPCServer struct {
	port    int
	checker HealthChecker
	server  *grpc.Server
	health  *health.Server
}

// NewGRPCServer creates a gRPC server with the health service registered.
func NewGRPCServer(checker HealthChecker, port int) *GRPCServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		port:    port,
		checker: checker,
		server:  srv,
		health:  hs,
	}
}

// Start listens and serves until Stop is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	go s.watch(ctx)

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop gracefully stops the server.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Refresh updates the serving status from the checker.
func (s *GRPCServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.checker.Health(ctx); err != nil {
		slog.Warn("gRPC health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	return status
}

func (s *GRPCServer) watch(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
