package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ClientConfig holds gRPC client tuning for outbound cloud API connections.
type ClientConfig struct {
	KeepAlive time.Duration
	Timeout   time.Duration
}

// DefaultClientConfig pings no more often than Google front ends permit.
var DefaultClientConfig = ClientConfig{
	KeepAlive: 5 * time.Minute,
	Timeout:   20 * time.Second,
}

// ClientDialOptions returns the dial options applied to every outbound
// connection: keepalive and a logging interceptor.
func ClientDialOptions(logger *zap.Logger) []grpc.DialOption {
	return dialOptions(DefaultClientConfig, logger)
}

func dialOptions(cfg ClientConfig, logger *zap.Logger) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepAlive,
			Timeout: cfg.Timeout,
		}),
		grpc.WithUnaryInterceptor(clientLoggingInterceptor(logger)),
	}
}

// clientLoggingInterceptor logs outgoing gRPC calls
func clientLoggingInterceptor(logger *zap.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		duration := time.Since(start)

		if err != nil {
			logger.Warn("grpc call failed",
				zap.String("method", method),
				zap.Duration("duration", duration),
				zap.String("code", status.Code(err).String()),
				zap.Error(err))
		} else {
			logger.Debug("grpc call completed", zap.String("method", method), zap.Duration("duration", duration))
		}
		return err
	}
}
