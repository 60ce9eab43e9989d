package raft

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

// Node wires together an ElectionManager, a LogReplicator, and a
// ClientService into one running Raft participant: it serves PeerServer on
// its Raft port and ClientServer on its client port, and drives both
// background loops for as long as Start's context lives.
type Node struct {
	ID         string
	Addrs      map[string]string // nodeID -> Raft "host:port" address, including self
	Election   *ElectionManager
	Replicator *LogReplicator
	Client     *ClientService
	logger     zerolog.Logger
}

// NewNode builds a Node. addrs maps every cluster member's nodeID (self
// included) to its Raft peer address; client addresses are derived with
// ClientPortOffset.
func NewNode(nodeID string, addrs map[string]string, sm StateMachine, logger zerolog.Logger) *Node {
	peerIDs := make([]string, 0, len(addrs))
	for id := range addrs {
		peerIDs = append(peerIDs, id)
	}

	election := NewElectionManager(nodeID, peerIDs, logger)
	replicator := NewLogReplicator(nodeID, peerIDs, election, sm, logger)

	n := &Node{ID: nodeID, Addrs: addrs, Election: election, Replicator: replicator, logger: logger}

	client := NewClientService(nodeID, election, replicator, peerIDs, logger, n.clientAddr)
	n.Client = client
	return n
}

func (n *Node) clientAddr(nodeID string) string {
	return rpcutil.OffsetPort(n.Addrs[nodeID], ClientPortOffset)
}

// dial opens a PeerServer client connection to the peer identified by
// nodeID, resolving its address from Addrs. Implements PeerDialer.
func (n *Node) dial(ctx context.Context, nodeID string) (PeerServer, func(), error) {
	addr, ok := n.Addrs[nodeID]
	if !ok {
		return nil, nil, fmt.Errorf("unknown peer %q", nodeID)
	}
	cc, err := rpcutil.Dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	return NewPeerClient(cc), func() { cc.Close() }, nil
}

// RequestVote implements PeerServer.
func (n *Node) RequestVote(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	return n.Election.HandleVoteRequest(req), nil
}

// AppendEntries implements PeerServer, dispatching to the election manager
// for an empty-entries heartbeat or to the log replicator for a real
// replication call, matching RaftService's dispatch in the reference
// implementation.
func (n *Node) AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	if len(req.Entries) == 0 {
		return n.Election.HandleHeartbeat(req), nil
	}
	return n.Replicator.HandleAppendEntries(req), nil
}

// Status is a snapshot of this node's observable Raft state, used by the
// metrics collector that cmd/fabric's raft-node subcommand starts.
type Status struct {
	NodeID      string
	Role        Role
	Term        int64
	CommitIndex int64
	LastApplied int64
	LogLength   int64
}

// Status returns a snapshot of the node's current state.
func (n *Node) Status() Status {
	return Status{
		NodeID:      n.ID,
		Role:        n.Election.Role(),
		Term:        n.Election.Term(),
		CommitIndex: n.Replicator.CommitIndex(),
		LastApplied: n.Replicator.LastApplied(),
		LogLength:   n.Replicator.LogLength(),
	}
}

// Start runs both background loops (election timeout, leader replication)
// until ctx is cancelled, and blocks until they exit.
func (n *Node) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); n.Election.Run(ctx, n.dial) }()
	go func() { defer wg.Done(); n.Replicator.Run(ctx, n.dial) }()
	wg.Wait()
}

// ServePeer starts this node's Raft peer gRPC server, bound to its own
// Raft address, and blocks until ctx is cancelled.
func (n *Node) ServePeer(ctx context.Context) error {
	return n.servePeerOn(ctx, n.Addrs[n.ID])
}

func (n *Node) servePeerOn(ctx context.Context, addr string) error {
	lis, err := rpcutil.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := rpcutil.NewServer(n.logger)
	RegisterPeerServer(srv, n)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// ServeClient starts this node's client-facing gRPC server, bound to
// ClientPortOffset above its Raft address, and blocks until ctx is
// cancelled.
func (n *Node) ServeClient(ctx context.Context) error {
	lis, err := rpcutil.Listen(n.clientAddr(n.ID))
	if err != nil {
		return fmt.Errorf("failed to listen on client port: %w", err)
	}

	srv := rpcutil.NewServer(n.logger)
	RegisterClientServer(srv, n.Client)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
