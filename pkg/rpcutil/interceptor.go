package rpcutil

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// LoggingInterceptor logs every handled RPC at debug level with its method
// name and duration. Mirrors the teacher's pkg/api ReadOnlyInterceptor shape:
// a grpc.UnaryServerInterceptor closure bound to a logger.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", MethodName(info.FullMethod)).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("rpc handled")
		return resp, err
	}
}

// MethodName extracts the bare method name from a gRPC full method path,
// e.g. "/twophase.Coordinator/InitiateTransaction" -> "InitiateTransaction".
func MethodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	if len(parts) == 0 {
		return fullMethod
	}
	return parts[len(parts)-1]
}
