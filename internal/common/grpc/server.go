package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server is a gRPC server exposing the standard health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer listens on port and registers the health service. Reflection is
// enabled when reflect is true.
func NewServer(port string, reflect bool, logger *zap.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	return newServer(lis, reflect, logger), nil
}

func newServer(lis net.Listener, reflect bool, logger *zap.Logger) *Server {
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
		grpc.StreamInterceptor(streamLoggingInterceptor(logger)),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	if reflect {
		reflection.Register(grpcServer)
	}

	return &Server{grpcServer: grpcServer, health: hs, listener: lis, logger: logger}
}

// SetServing marks service (empty for the whole server) serving or not.
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting gRPC health server", zap.String("addr", s.listener.Addr().String()))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks everything not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc error", zap.String("method", info.FullMethod), zap.Error(err))
		} else {
			logger.Debug("grpc call", zap.String("method", info.FullMethod))
		}
		return resp, err
	}
}

func streamLoggingInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug("grpc stream", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		if err != nil {
			logger.Warn("grpc stream error", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return err
	}
}
