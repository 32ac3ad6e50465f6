package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"fedmgr/config"
	"fedmgr/pkg/federation"
)

// Server is the control-plane endpoint siblings connect to. It answers
// the liveness probe through the standard gRPC health service; all other
// federation RPCs are business logic outside this core.
type Server struct {
	config *config.Config
	mgr    *federation.Manager
	grpc   *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// NewServer creates the control-plane server.
func NewServer(cfg *config.Config, mgr *federation.Manager, log *zap.Logger) *Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4 * 1024 * 1024), // 4MB
		grpc.MaxSendMsgSize(4 * 1024 * 1024), // 4MB
	}

	grpcServer := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		config: cfg,
		mgr:    mgr,
		grpc:   grpcServer,
		health: healthServer,
		log:    log.With(zap.String("component", "fed_server")),
	}
}

// Start listens on the configured control address and serves until ctx
// is canceled.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Cluster.ControlHost,
		s.config.Cluster.ControlPort)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	return s.Serve(ctx, listener)
}

// Serve runs the gRPC server on an existing listener until ctx is
// canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.log.Info("starting control-plane server",
		zap.String("address", listener.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		if err := s.grpc.Serve(listener); err != nil {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		// The listener died underneath us; surface it so the daemon's
		// lifecycle group can react instead of limping on without a
		// control plane.
		s.log.Error("grpc server error", zap.Error(err))
		_ = s.Stop()
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop stops the server gracefully, forcing after a timeout.
func (s *Server) Stop() error {
	s.log.Info("stopping control-plane server")
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn("force stopping server")
		s.grpc.Stop()
	}

	return nil
}
