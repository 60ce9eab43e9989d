package framework

import (
	"context"
	"time"

	"github.com/quorumlabs/fabric/pkg/raft"
	"github.com/quorumlabs/fabric/pkg/rpcutil"
	"github.com/quorumlabs/fabric/pkg/twophase"
)

// TwoPCClient is a thin wrapper around the coordinator's gRPC client for
// use from end-to-end tests.
type TwoPCClient struct {
	addr string
}

// NewTwoPCClient builds a client targeting a coordinator's address.
func NewTwoPCClient(addr string) *TwoPCClient {
	return &TwoPCClient{addr: addr}
}

// InitiateTransaction dials the coordinator and runs one transaction,
// using a default 10s timeout as a test-harness convenience.
func (c *TwoPCClient) InitiateTransaction(ctx context.Context, operation string, params map[string]string) (*twophase.TransactionResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := rpcutil.Dial(cctx, c.addr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	return twophase.NewCoordinatorClient(cc).InitiateTransaction(cctx, &twophase.TransactionRequest{
		OperationType: operation,
		Parameters:    params,
	})
}

// RaftClient is a thin wrapper around a Raft node's client-facing gRPC
// service, for use from end-to-end tests.
type RaftClient struct {
	clientAddr string
}

// NewRaftClient builds a client targeting a Raft node's client-facing
// address directly (already offset by raft.ClientPortOffset).
func NewRaftClient(clientAddr string) *RaftClient {
	return &RaftClient{clientAddr: clientAddr}
}

// NewRaftClientForNode builds a client from a node's Raft peer address,
// deriving the client address with raft.ClientPortOffset.
func NewRaftClientForNode(peerAddr string) *RaftClient {
	return &RaftClient{clientAddr: rpcutil.OffsetPort(peerAddr, raft.ClientPortOffset)}
}

// SubmitOperation dials the node and submits one client operation,
// following whatever single-hop forwarding the node itself performs.
func (c *RaftClient) SubmitOperation(ctx context.Context, operation, clientID string) (*raft.ClientResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := rpcutil.Dial(cctx, c.clientAddr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	return raft.NewClientClient(cc).SubmitOperation(cctx, &raft.ClientRequest{
		Operation: operation,
		ClientID:  clientID,
	})
}
