package raft

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

// ClientService implements SubmitOperation: process the operation locally
// if this node is leader, or make a single-hop forward to whoever this
// node believes the leader is.
type ClientService struct {
	nodeID     string
	election   *ElectionManager
	replicator *LogReplicator
	peers      []string
	logger     zerolog.Logger
	clientAddr func(nodeID string) string
}

// NewClientService builds a ClientService. clientAddr resolves a peer's
// nodeID to its client-facing (SubmitOperation) address, i.e. the peer's
// Raft address with ClientPortOffset already applied.
func NewClientService(nodeID string, election *ElectionManager, replicator *LogReplicator, peers []string, logger zerolog.Logger, clientAddr func(nodeID string) string) *ClientService {
	return &ClientService{
		nodeID:     nodeID,
		election:   election,
		replicator: replicator,
		peers:      peers,
		logger:     logger,
		clientAddr: clientAddr,
	}
}

// SubmitOperation implements ClientServer.
func (c *ClientService) SubmitOperation(ctx context.Context, req *ClientRequest) (*ClientResponse, error) {
	c.logger.Info().Str("operation", req.Operation).Str("client_id", req.ClientID).Msg("received client request")

	if c.election.Role() != Leader {
		leaderID := c.findLeader(ctx)
		if leaderID != "" && leaderID != c.nodeID {
			c.logger.Info().Str("leader", leaderID).Msg("not leader, forwarding")
			return c.forwardToLeader(ctx, req, leaderID)
		}
		return &ClientResponse{Success: false, Message: "No leader currently available"}, nil
	}

	c.logger.Info().Msg("processing as leader")
	success, message, leader := c.replicator.AppendEntry(req.Operation, req.ClientID)
	return &ClientResponse{Success: success, Message: message, LeaderID: leader}, nil
}

// findLeader mirrors the reference implementation's best-effort discovery:
// trust VotedFor if it names someone other than ourselves, otherwise probe
// every peer's client service with a throwaway ping operation.
func (c *ClientService) findLeader(ctx context.Context) string {
	if v := c.election.VotedFor(); v != "" && v != c.nodeID {
		return v
	}

	for _, peer := range c.peers {
		if peer == c.nodeID {
			continue
		}
		resp, err := c.pingClientService(ctx, peer)
		if err != nil {
			continue
		}
		if resp.LeaderID != "" {
			return resp.LeaderID
		}
	}
	return ""
}

func (c *ClientService) pingClientService(ctx context.Context, peerID string) (*ClientResponse, error) {
	cctx, cancel := rpcutil.CallTimeout(ctx, 1*time.Second)
	defer cancel()

	cc, err := rpcutil.Dial(cctx, c.clientAddr(peerID))
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	return NewClientClient(cc).SubmitOperation(cctx, &ClientRequest{Operation: "ping", ClientID: "test"})
}

func (c *ClientService) forwardToLeader(ctx context.Context, req *ClientRequest, leaderID string) (*ClientResponse, error) {
	cctx, cancel := rpcutil.CallTimeout(ctx, 5*time.Second)
	defer cancel()

	cc, err := rpcutil.Dial(cctx, c.clientAddr(leaderID))
	if err != nil {
		return &ClientResponse{Success: false, Message: "Failed to contact leader " + leaderID, LeaderID: leaderID}, nil
	}
	defer cc.Close()

	resp, err := NewClientClient(cc).SubmitOperation(cctx, req)
	if err != nil {
		return &ClientResponse{Success: false, Message: "Failed to contact leader " + leaderID, LeaderID: leaderID}, nil
	}
	return resp, nil
}
