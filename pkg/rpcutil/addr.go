package rpcutil

import (
	"net"
	"strconv"
)

// OffsetPort rewrites the port component of a host:port address by adding
// offset, leaving the host untouched. Used wherever one service's address is
// derived from another's by a fixed port convention: a Raft node's
// client-facing port from its peer PORT.
func OffsetPort(addr string, offset int) string {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+offset))
}
