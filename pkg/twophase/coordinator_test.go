package twophase

import (
	"context"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// startTestParticipant brings up a real Participant's voting and decision
// gRPC servers on the given ports and returns a cancel func that tears both
// down, plus the ParticipantAddr pair a Coordinator needs to reach it.
func startTestParticipant(t *testing.T, id, serviceName string, votingPort, decisionPort int, seed int64) (ParticipantAddr, context.CancelFunc) {
	t.Helper()

	p := NewParticipant(id, serviceName, zerolog.Nop(), rand.New(rand.NewSource(seed)))
	ctx, cancel := context.WithCancel(context.Background())

	go p.Run(ctx)

	votingAddr := addrFor(votingPort)
	decisionAddr := addrFor(decisionPort)

	readyVoting := make(chan struct{})
	readyDecision := make(chan struct{})
	go func() {
		close(readyVoting)
		_ = ServeVoting(ctx, votingAddr, p)
	}()
	go func() {
		close(readyDecision)
		_ = ServeDecision(ctx, decisionAddr, p)
	}()
	<-readyVoting
	<-readyDecision
	// Give the listeners a moment to bind before the coordinator dials.
	time.Sleep(50 * time.Millisecond)

	return ParticipantAddr{Voting: votingAddr, Decision: decisionAddr}, cancel
}

func addrFor(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}

func TestCoordinator_InitiateTransaction_AllCommit(t *testing.T) {
	p1, cancel1 := startTestParticipant(t, "PARTICIPANT_1", "NotificationService", 58101, 58111, 1)
	defer cancel1()
	p2, cancel2 := startTestParticipant(t, "PARTICIPANT_2", "AnalyticsService", 58102, 58112, 1)
	defer cancel2()

	coord := NewCoordinator([]ParticipantAddr{p1, p2}, zerolog.Nop())

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	resp, err := coord.InitiateTransaction(ctx, &TransactionRequest{
		TransactionID: "txn-commit",
		OperationType: "notify_ride",
		Parameters:    map[string]string{},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "GLOBAL_COMMIT", resp.FinalDecision)
}

func TestCoordinator_InitiateTransaction_AbortOnRejection(t *testing.T) {
	// DriverService with no driver_id rejects unconditionally, forcing
	// GLOBAL_ABORT regardless of the other participant's vote.
	p1, cancel1 := startTestParticipant(t, "PARTICIPANT_1", "DriverService", 58201, 58211, 1)
	defer cancel1()
	p2, cancel2 := startTestParticipant(t, "PARTICIPANT_2", "NotificationService", 58202, 58212, 1)
	defer cancel2()

	coord := NewCoordinator([]ParticipantAddr{p1, p2}, zerolog.Nop())

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	resp, err := coord.InitiateTransaction(ctx, &TransactionRequest{
		TransactionID: "txn-abort",
		OperationType: "assign_driver",
		Parameters:    map[string]string{},
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "GLOBAL_ABORT", resp.FinalDecision)
}

func TestCoordinator_InitiateTransaction_UnreachableParticipantAborts(t *testing.T) {
	p1, cancel1 := startTestParticipant(t, "PARTICIPANT_1", "NotificationService", 58301, 58311, 1)
	defer cancel1()

	// Second participant's addresses have nothing listening.
	coord := NewCoordinator([]ParticipantAddr{
		p1,
		{Voting: addrFor(59998), Decision: addrFor(59999)},
	}, zerolog.Nop())

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	resp, err := coord.InitiateTransaction(ctx, &TransactionRequest{
		TransactionID: "txn-unreachable",
		OperationType: "notify_ride",
		Parameters:    map[string]string{},
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestCoordinator_InitiateTransaction_DecisionPhaseReachesDistinctDecisionPort(t *testing.T) {
	// Regression test: the coordinator must dial each participant's own
	// decision address rather than deriving one from the voting address,
	// since the two need not differ by any fixed offset.
	p1, cancel1 := startTestParticipant(t, "PARTICIPANT_1", "NotificationService", 58401, 58450, 1)
	defer cancel1()

	coord := NewCoordinator([]ParticipantAddr{p1}, zerolog.Nop())

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	resp, err := coord.InitiateTransaction(ctx, &TransactionRequest{
		TransactionID: "txn-distinct-ports",
		OperationType: "notify_ride",
		Parameters:    map[string]string{},
	})
	require.NoError(t, err)
	require.Equal(t, "GLOBAL_COMMIT", resp.FinalDecision)
}
