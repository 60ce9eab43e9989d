package twophase

import (
	"context"

	"google.golang.org/grpc"

	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

// This file hand-writes the gRPC service contracts this package needs. The
// retrieval pack that grounds this repository carries no .proto definitions
// for a transactional commit protocol, so each service is described directly
// as a grpc.ServiceDesc wired to the JSON codec in pkg/rpcutil, rather than
// generated from a schema. Wire messages are the plain structs in types.go.

// CoordinatorServer is implemented by a Coordinator to receive
// InitiateTransaction calls from clients.
type CoordinatorServer interface {
	InitiateTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error)
}

// VotingServer is implemented by a Participant's voting phase to receive
// VoteRequest calls from the coordinator.
type VotingServer interface {
	VoteRequest(ctx context.Context, req *VoteRequest) (*VoteResponse, error)
}

// DecisionServer is implemented by a Participant's decision phase to
// receive GlobalDecision calls from the coordinator.
type DecisionServer interface {
	GlobalDecision(ctx context.Context, req *GlobalDecisionMessage) (*DecisionAck, error)
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "twophase.Coordinator",
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InitiateTransaction",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(TransactionRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(CoordinatorServer).InitiateTransaction(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/twophase.Coordinator/InitiateTransaction"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(CoordinatorServer).InitiateTransaction(ctx, req.(*TransactionRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "twophase/coordinator.proto",
}

var votingServiceDesc = grpc.ServiceDesc{
	ServiceName: "twophase.ParticipantVotingPhase",
	HandlerType: (*VotingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "VoteRequest",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(VoteRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(VotingServer).VoteRequest(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/twophase.ParticipantVotingPhase/VoteRequest"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(VotingServer).VoteRequest(ctx, req.(*VoteRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "twophase/participant_voting.proto",
}

var decisionServiceDesc = grpc.ServiceDesc{
	ServiceName: "twophase.ParticipantDecisionPhase",
	HandlerType: (*DecisionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GlobalDecision",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(GlobalDecisionMessage)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(DecisionServer).GlobalDecision(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/twophase.ParticipantDecisionPhase/GlobalDecision"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(DecisionServer).GlobalDecision(ctx, req.(*GlobalDecisionMessage))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "twophase/participant_decision.proto",
}

// RegisterCoordinatorServer registers a CoordinatorServer implementation on
// a grpc.Server.
func RegisterCoordinatorServer(s *grpc.Server, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

// RegisterVotingServer registers a VotingServer implementation on a grpc.Server.
func RegisterVotingServer(s *grpc.Server, srv VotingServer) {
	s.RegisterService(&votingServiceDesc, srv)
}

// RegisterDecisionServer registers a DecisionServer implementation on a grpc.Server.
func RegisterDecisionServer(s *grpc.Server, srv DecisionServer) {
	s.RegisterService(&decisionServiceDesc, srv)
}

// coordinatorClient calls a remote Coordinator's InitiateTransaction.
type coordinatorClient struct{ cc *grpc.ClientConn }

func NewCoordinatorClient(cc *grpc.ClientConn) CoordinatorServer { return &coordinatorClient{cc} }

func (c *coordinatorClient) InitiateTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	resp := new(TransactionResponse)
	err := c.cc.Invoke(ctx, "/twophase.Coordinator/InitiateTransaction", req, resp, grpc.CallContentSubtype(rpcutil.CodecName))
	return resp, err
}

// votingClient calls a remote participant's VoteRequest.
type votingClient struct{ cc *grpc.ClientConn }

func NewVotingClient(cc *grpc.ClientConn) VotingServer { return &votingClient{cc} }

func (c *votingClient) VoteRequest(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	resp := new(VoteResponse)
	err := c.cc.Invoke(ctx, "/twophase.ParticipantVotingPhase/VoteRequest", req, resp, grpc.CallContentSubtype(rpcutil.CodecName))
	return resp, err
}

// decisionClient calls a remote participant's GlobalDecision.
type decisionClient struct{ cc *grpc.ClientConn }

func NewDecisionClient(cc *grpc.ClientConn) DecisionServer { return &decisionClient{cc} }

func (c *decisionClient) GlobalDecision(ctx context.Context, req *GlobalDecisionMessage) (*DecisionAck, error) {
	resp := new(DecisionAck)
	err := c.cc.Invoke(ctx, "/twophase.ParticipantDecisionPhase/GlobalDecision", req, resp, grpc.CallContentSubtype(rpcutil.CodecName))
	return resp, err
}
