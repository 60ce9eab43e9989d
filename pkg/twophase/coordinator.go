package twophase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/metrics"
	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

// txnRecord is the coordinator's bookkeeping entry for one transaction,
// mirroring TwoPhaseCommitCoordinator.transaction_log in the reference
// implementation.
type txnRecord struct {
	Status    string
	Operation string
	StartedAt time.Time
	DecidedAt time.Time
}

// ParticipantAddr is the pair of addresses a coordinator needs to drive one
// participant through both phases of 2PC: the voting service address and
// the (separately listening) decision service address. The reference
// implementation's participant always starts two distinct gRPC servers
// (VOTING_PORT, DECISION_PORT), so a coordinator needs both explicitly
// rather than guessing one from the other.
type ParticipantAddr struct {
	Voting   string
	Decision string
}

// Coordinator drives InitiateTransaction across a fixed set of participants:
// a voting phase followed by a decision phase.
type Coordinator struct {
	participants []ParticipantAddr
	logger       zerolog.Logger

	mu  sync.Mutex
	log map[string]*txnRecord
}

// NewCoordinator builds a Coordinator over the given participants, in the
// order the coordinator refers to them as PARTICIPANT_1, PARTICIPANT_2, and
// so on.
func NewCoordinator(participants []ParticipantAddr, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		participants: participants,
		logger:       logger,
		log:          make(map[string]*txnRecord),
	}
}

func participantID(i int) string {
	return fmt.Sprintf("PARTICIPANT_%d", i+1)
}

// InitiateTransaction runs a complete two-phase commit: a voting phase
// across every participant followed by a decision phase broadcasting the
// global outcome.
func (c *Coordinator) InitiateTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	txnID := req.TransactionID
	if txnID == "" {
		txnID = uuid.NewString()
	}

	c.logger.Info().Str("txn_id", txnID).Str("operation", req.OperationType).Msg("starting 2PC transaction")

	c.mu.Lock()
	c.log[txnID] = &txnRecord{Status: "INITIATED", Operation: req.OperationType, StartedAt: time.Now()}
	c.mu.Unlock()

	timer := metrics.NewTimer()

	success, reason := c.votingPhase(ctx, txnID, req.OperationType, req.Parameters)

	var final Decision
	if success {
		final = GlobalCommit
		c.logger.Info().Str("txn_id", txnID).Msg("decision: GLOBAL_COMMIT (all participants ready)")
	} else {
		final = GlobalAbort
		c.logger.Info().Str("txn_id", txnID).Str("reason", reason).Msg("decision: GLOBAL_ABORT")
	}

	c.decisionPhase(ctx, txnID, final)
	timer.ObserveDuration(metrics.TransactionDuration)
	metrics.TransactionsTotal.WithLabelValues(final.String()).Inc()

	c.mu.Lock()
	if rec, ok := c.log[txnID]; ok {
		rec.Status = final.String()
		rec.DecidedAt = time.Now()
	}
	c.mu.Unlock()

	msg := fmt.Sprintf("Transaction %s", final.String())
	c.logger.Info().Str("txn_id", txnID).Str("status", final.String()).Msg("transaction completed")

	return &TransactionResponse{
		TransactionID: txnID,
		Success:       final == GlobalCommit,
		Message:       msg,
		Timestamp:     time.Now().Unix(),
		FinalDecision: final.String(),
	}, nil
}

// votingPhase sends VoteRequest to every participant and returns whether
// every one of them voted COMMIT.
func (c *Coordinator) votingPhase(ctx context.Context, txnID, operation string, params map[string]string) (bool, string) {
	var failed []failedParticipant

	for i, p := range c.participants {
		pid := participantID(i)
		log.RPCSent(c.logger, "Phase VOTING of Node COORDINATOR", "VoteRequest", "Phase VOTING of Node "+pid)

		resp, err := c.callVoteRequest(ctx, p.Voting, &VoteRequest{
			TransactionID: txnID,
			OperationType: operation,
			Parameters:    params,
			Timestamp:     time.Now().Unix(),
		})
		if err != nil {
			c.logger.Error().Err(err).Str("participant", pid).Msg("failed to contact participant")
			failed = append(failed, failedParticipant{ParticipantID: pid, Reason: "Network error: " + err.Error()})
			metrics.VotesTotal.WithLabelValues("unreachable", pid).Inc()
			continue
		}

		c.logger.Info().Str("participant", pid).Str("decision", resp.Decision.String()).Msg("received vote")
		metrics.VotesTotal.WithLabelValues(resp.Decision.String(), pid).Inc()
		if resp.Decision == VoteAbort {
			failed = append(failed, failedParticipant{ParticipantID: resp.ParticipantID, Reason: resp.Reason})
		}
	}

	c.logger.Info().
		Int("total_participants", len(c.participants)).
		Int("abort_votes", len(failed)).
		Msg("voting summary")

	if len(failed) > 0 {
		return false, describeFailures(failed)
	}
	return true, ""
}

// decisionPhase broadcasts the global decision to every participant and
// collects acknowledgments; unreachable participants are logged but do not
// change the already-final decision. Delivery is not retried, so a
// participant that misses the decision keeps its PREPARED entry.
func (c *Coordinator) decisionPhase(ctx context.Context, txnID string, decision Decision) {
	c.logger.Info().Str("decision", decision.String()).Msg("broadcasting decision to all participants")

	msg := &GlobalDecisionMessage{
		TransactionID: txnID,
		Decision:      decision,
		Timestamp:     time.Now().Unix(),
	}

	acked := 0
	for i, p := range c.participants {
		pid := participantID(i)
		log.RPCSent(c.logger, "Phase DECISION of Node COORDINATOR", "GlobalDecision", "Phase DECISION of Node "+pid)

		ack, err := c.callGlobalDecision(ctx, p.Decision, msg)
		if err != nil {
			c.logger.Error().Err(err).Str("participant", pid).Msg("failed to send decision")
			continue
		}
		c.logger.Info().Str("participant", pid).Str("status", ack.Status).Msg("decision acknowledged")
		acked++
	}

	c.logger.Info().Int("acked", acked).Int("total", len(c.participants)).Msg("decision phase summary")
}

func (c *Coordinator) callVoteRequest(ctx context.Context, addr string, req *VoteRequest) (*VoteResponse, error) {
	cctx, cancel := rpcutil.CallTimeout(ctx, 5*time.Second)
	defer cancel()

	cc, err := rpcutil.Dial(cctx, addr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	return NewVotingClient(cc).VoteRequest(cctx, req)
}

func (c *Coordinator) callGlobalDecision(ctx context.Context, decisionAddr string, req *GlobalDecisionMessage) (*DecisionAck, error) {
	cctx, cancel := rpcutil.CallTimeout(ctx, 5*time.Second)
	defer cancel()

	cc, err := rpcutil.Dial(cctx, decisionAddr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	return NewDecisionClient(cc).GlobalDecision(cctx, req)
}

// Serve starts the coordinator's gRPC server and blocks until ctx is
// cancelled or the listener fails.
func Serve(ctx context.Context, addr string, c *Coordinator) error {
	lis, err := rpcutil.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := rpcutil.NewServer(c.logger)
	RegisterCoordinatorServer(srv, c)

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
