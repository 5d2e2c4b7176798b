package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"
)

// MetricsInterceptor records every unary call and logs failures.
func MetricsInterceptor(m *metrics.Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := grpcstatus.Code(err)
		m.RecordGrpcRequest(info.FullMethod, code.String(), duration)
		if err != nil {
			logger.Debug("api call failed",
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}
		return resp, err
	}
}
