package raft

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_ClientAddrAppliesOffset(t *testing.T) {
	addrs := map[string]string{"A": "127.0.0.1:50051", "B": "127.0.0.1:50052"}
	n := NewNode("A", addrs, nil, zerolog.Nop())

	assert.Equal(t, "127.0.0.1:50141", n.clientAddr("A"))
	assert.Equal(t, "127.0.0.1:50142", n.clientAddr("B"))
}

func TestNode_StatusReflectsElectionAndReplicatorState(t *testing.T) {
	addrs := map[string]string{"A": "127.0.0.1:50051", "B": "127.0.0.1:50052"}
	n := NewNode("A", addrs, nil, zerolog.Nop())

	st := n.Status()
	assert.Equal(t, "A", st.NodeID)
	assert.Equal(t, Follower, st.Role)
	assert.Equal(t, int64(0), st.Term)
	assert.Equal(t, int64(1), st.LogLength) // sentinel entry

	n.Election.HandleVoteRequest(&VoteRequest{Term: 3, CandidateID: "B"})
	st = n.Status()
	assert.Equal(t, int64(3), st.Term)
}

func TestNode_AppendEntriesDispatchesToElectionOrReplicator(t *testing.T) {
	addrs := map[string]string{"A": "127.0.0.1:50051", "B": "127.0.0.1:50052"}
	n := NewNode("A", addrs, nil, zerolog.Nop())
	ctx := context.Background()

	// Empty entries: dispatched to the election manager as a heartbeat.
	resp, err := n.AppendEntries(ctx, &AppendEntriesRequest{Term: 1, LeaderID: "B"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, Follower, n.Election.Role())
	assert.Equal(t, int64(1), n.Election.Term())

	// Non-empty entries: dispatched to the replicator.
	resp, err = n.AppendEntries(ctx, &AppendEntriesRequest{
		Term:         1,
		LeaderID:     "B",
		Entries:      []LogEntry{{Term: 1, Command: "SET x 1", Index: 1}},
		PrevLogIndex: 0,
		LeaderCommit: 1,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), n.Replicator.CommitIndex())
}

func TestNode_RequestVoteDelegatesToElectionManager(t *testing.T) {
	addrs := map[string]string{"A": "127.0.0.1:50051", "B": "127.0.0.1:50052"}
	n := NewNode("A", addrs, nil, zerolog.Nop())

	resp, err := n.RequestVote(context.Background(), &VoteRequest{Term: 1, CandidateID: "B"})
	require.NoError(t, err)
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, "B", n.Election.VotedFor())
}

func TestNode_DialUnknownPeerFails(t *testing.T) {
	addrs := map[string]string{"A": "127.0.0.1:50051"}
	n := NewNode("A", addrs, nil, zerolog.Nop())

	_, _, err := n.dial(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestNode_StartExitsOnContextCancellation(t *testing.T) {
	addrs := map[string]string{"A": "127.0.0.1:50051"}
	n := NewNode("A", addrs, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		n.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not exit after context cancellation")
	}
}
