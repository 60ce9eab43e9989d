package raft

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeerServer answers RequestVote/AppendEntries by delegating straight
// into another node's ElectionManager/LogReplicator, skipping gRPC/network
// entirely so election and replication tests run fast and deterministically.
type fakePeerServer struct {
	election   *ElectionManager
	replicator *LogReplicator
}

func (f *fakePeerServer) RequestVote(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	return f.election.HandleVoteRequest(req), nil
}

func (f *fakePeerServer) AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	if len(req.Entries) == 0 {
		return f.election.HandleHeartbeat(req), nil
	}
	return f.replicator.HandleAppendEntries(req), nil
}

// testCluster wires N in-memory nodes together with a PeerDialer that
// routes directly to each other's fakePeerServer.
type testCluster struct {
	ids     []string
	servers map[string]*fakePeerServer
}

func newTestCluster(t *testing.T, n int, sm func() StateMachine) *testCluster {
	t.Helper()
	c := &testCluster{servers: make(map[string]*fakePeerServer)}
	for i := 0; i < n; i++ {
		c.ids = append(c.ids, string(rune('A'+i)))
	}
	for _, id := range c.ids {
		election := NewElectionManager(id, c.ids, zerolog.Nop())
		var m StateMachine
		if sm != nil {
			m = sm()
		}
		replicator := NewLogReplicator(id, c.ids, election, m, zerolog.Nop())
		c.servers[id] = &fakePeerServer{election: election, replicator: replicator}
	}
	return c
}

func (c *testCluster) dialer() PeerDialer {
	return func(ctx context.Context, peer string) (PeerServer, func(), error) {
		return c.servers[peer], func() {}, nil
	}
}

func (c *testCluster) election(id string) *ElectionManager { return c.servers[id].election }
func (c *testCluster) replicator(id string) *LogReplicator { return c.servers[id].replicator }

func TestElectionManager_GrantsVoteToFirstRequesterInTerm(t *testing.T) {
	e := NewElectionManager("A", []string{"A", "B", "C"}, zerolog.Nop())

	resp := e.HandleVoteRequest(&VoteRequest{Term: 1, CandidateID: "B"})
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, "B", e.VotedFor())

	// Same term, different candidate: refused, already voted this term.
	resp2 := e.HandleVoteRequest(&VoteRequest{Term: 1, CandidateID: "C"})
	assert.False(t, resp2.VoteGranted)
}

func TestElectionManager_HigherTermResetsVote(t *testing.T) {
	e := NewElectionManager("A", []string{"A", "B", "C"}, zerolog.Nop())
	e.HandleVoteRequest(&VoteRequest{Term: 1, CandidateID: "B"})

	resp := e.HandleVoteRequest(&VoteRequest{Term: 2, CandidateID: "C"})
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, "C", e.VotedFor())
	assert.Equal(t, int64(2), e.Term())
}

func TestElectionManager_HeartbeatAfterLostElectionAdoptsLeaderTerm(t *testing.T) {
	e := NewElectionManager("A", []string{"A", "B", "C"}, zerolog.Nop())

	ctx := context.Background()
	e.startElection(ctx, func(ctx context.Context, peer string) (PeerServer, func(), error) {
		return nil, nil, assert.AnError
	})
	require.Equal(t, Follower, e.Role()) // no peers reachable, reverts to follower

	resp := e.HandleHeartbeat(&AppendEntriesRequest{Term: 5, LeaderID: "B"})
	assert.True(t, resp.Success)
	assert.Equal(t, Follower, e.Role())
	assert.Equal(t, int64(5), e.Term())
}

func TestElectionManager_StartElectionWinsMajority(t *testing.T) {
	cluster := newTestCluster(t, 3, nil)
	ctx := context.Background()

	a := cluster.election("A")
	a.startElection(ctx, cluster.dialer())

	assert.Equal(t, Leader, a.Role())
	assert.Equal(t, "A", cluster.election("B").VotedFor())
	assert.Equal(t, "A", cluster.election("C").VotedFor())
}

func TestElectionManager_RunRespondsToContextCancellation(t *testing.T) {
	e := NewElectionManager("A", []string{"A"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx, func(ctx context.Context, peer string) (PeerServer, func(), error) {
			return nil, nil, assert.AnError
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
