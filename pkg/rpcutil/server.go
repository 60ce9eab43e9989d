package rpcutil

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// NewServer builds a grpc.Server wired with the logging interceptor. Callers
// register their own ServiceDesc(s) on the returned server before calling
// Serve on a listener obtained from Listen.
func NewServer(logger zerolog.Logger) *grpc.Server {
	return grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
}

// Listen opens a TCP listener on addr (host:port, or ":port").
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
