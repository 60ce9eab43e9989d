package raft

import (
	"context"

	"google.golang.org/grpc"

	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

// PeerDialer opens a client connection to a peer, identified by the
// nodeID/address scheme the caller uses, returning a PeerServer client and
// a closer to release the connection. Node supplies the real
// gRPC-dialing implementation; tests supply in-memory fakes.
type PeerDialer func(ctx context.Context, peer string) (PeerServer, func(), error)

// PeerServer is implemented by a Node to receive RequestVote and
// AppendEntries calls from other nodes, hand-written as a grpc.ServiceDesc
// for the same reason as pkg/twophase: no generated stubs exist in the
// retrieval pack for this domain.
type PeerServer interface {
	RequestVote(ctx context.Context, req *VoteRequest) (*VoteResponse, error)
	AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}

// ClientServer is implemented by a Node to receive SubmitOperation calls
// from external clients (or a peer forwarding on a client's behalf).
type ClientServer interface {
	SubmitOperation(ctx context.Context, req *ClientRequest) (*ClientResponse, error)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: "raft.Raft",
	HandlerType: (*PeerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestVote",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(VoteRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(PeerServer).RequestVote(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/RequestVote"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(PeerServer).RequestVote(ctx, req.(*VoteRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "AppendEntries",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(AppendEntriesRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(PeerServer).AppendEntries(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.Raft/AppendEntries"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(PeerServer).AppendEntries(ctx, req.(*AppendEntriesRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft/raft.proto",
}

var clientServiceDesc = grpc.ServiceDesc{
	ServiceName: "raft.RaftClient",
	HandlerType: (*ClientServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitOperation",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ClientRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(ClientServer).SubmitOperation(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raft.RaftClient/SubmitOperation"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(ClientServer).SubmitOperation(ctx, req.(*ClientRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft/raft_client.proto",
}

// RegisterPeerServer registers a PeerServer implementation on a grpc.Server.
func RegisterPeerServer(s *grpc.Server, srv PeerServer) {
	s.RegisterService(&peerServiceDesc, srv)
}

// RegisterClientServer registers a ClientServer implementation on a grpc.Server.
func RegisterClientServer(s *grpc.Server, srv ClientServer) {
	s.RegisterService(&clientServiceDesc, srv)
}

type peerClient struct{ cc *grpc.ClientConn }

// NewPeerClient wraps cc as a PeerServer client.
func NewPeerClient(cc *grpc.ClientConn) PeerServer { return &peerClient{cc} }

func (c *peerClient) RequestVote(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	resp := new(VoteResponse)
	err := c.cc.Invoke(ctx, "/raft.Raft/RequestVote", req, resp, grpc.CallContentSubtype(rpcutil.CodecName))
	return resp, err
}

func (c *peerClient) AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	resp := new(AppendEntriesResponse)
	err := c.cc.Invoke(ctx, "/raft.Raft/AppendEntries", req, resp, grpc.CallContentSubtype(rpcutil.CodecName))
	return resp, err
}

type clientClient struct{ cc *grpc.ClientConn }

// NewClientClient wraps cc as a ClientServer client (the naming mirrors the
// reference's RaftClientStub: a client of the client-facing service).
func NewClientClient(cc *grpc.ClientConn) ClientServer { return &clientClient{cc} }

func (c *clientClient) SubmitOperation(ctx context.Context, req *ClientRequest) (*ClientResponse, error) {
	resp := new(ClientResponse)
	err := c.cc.Invoke(ctx, "/raft.RaftClient/SubmitOperation", req, resp, grpc.CallContentSubtype(rpcutil.CodecName))
	return resp, err
}
