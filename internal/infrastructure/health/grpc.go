package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"signal_trader/internal/core"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the grpc.health.v1 service name reported alongside the overall status
const ServiceName = "signal_trader.v1.SignalService"

const defaultPollInterval = 5 * time.Second

// GRPCServer serves grpc.health.v1 backed by a HealthManager
type GRPCServer struct {
	manager  *HealthManager
	logger   core.ILogger
	server   *grpc.Server
	health   *health.Server
	interval time.Duration
}

// NewGRPCServer creates the server. interval <= 0 uses the default poll interval.
func NewGRPCServer(manager *HealthManager, logger core.ILogger, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	s := &GRPCServer{
		manager:  manager,
		logger:   logger.WithField("component", "grpc_health"),
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		interval: interval,
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	s.refresh()
	return s
}

// refresh publishes the manager's aggregate state
func (s *GRPCServer) refresh() {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !s.manager.IsHealthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis and polls the manager until ctx is done
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.server.GracefulStop()
				return
			case <-ticker.C:
				s.refresh()
			}
		}
	}()

	s.logger.Info("Starting gRPC health server", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// ListenAndServe binds port and serves until ctx is done
func (s *GRPCServer) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on %d: %w", port, err)
	}
	return s.Serve(ctx, lis)
}
