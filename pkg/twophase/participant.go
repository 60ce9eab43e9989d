package twophase

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/metrics"
	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

// Participant hosts one service's voting and decision phases. The two
// phases communicate with an in-process channel rather than a network RPC:
// the reference implementation wires NotifyVote as a loopback gRPC call
// from the voting service to the decision service on the same node, but
// since both phases run in the same process here there is no reason to pay
// for a network round trip to talk to oneself.
type Participant struct {
	id          string
	serviceName string
	logger      zerolog.Logger
	validator   Validator
	rnd         *rand.Rand

	notifications chan voteNotificationJob

	mu       sync.Mutex
	prepared map[string]*PreparedTxn
}

// voteNotificationJob carries a VoteNotification across the channel from
// the voting phase to the decision phase, with reply as the return path
// NotifyVote blocks on.
type voteNotificationJob struct {
	notification *VoteNotification
	reply        chan *VoteAck
}

// NewParticipant builds a Participant for the given service, using rnd to
// drive its Validator's simulated acceptance decisions. Pass a seeded
// rand.Rand in tests for determinism. Call Run before serving traffic to
// start the decision phase's notification consumer.
func NewParticipant(id, serviceName string, logger zerolog.Logger, rnd *rand.Rand) *Participant {
	return &Participant{
		id:            id,
		serviceName:   serviceName,
		logger:        logger,
		validator:     ValidatorFor(serviceName),
		rnd:           rnd,
		notifications: make(chan voteNotificationJob),
		prepared:      make(map[string]*PreparedTxn),
	}
}

// Run consumes VoteNotification hand-offs from the voting phase until ctx
// is cancelled. It must run in its own goroutine before the voting phase
// starts accepting VoteRequest calls.
func (p *Participant) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.notifications:
			job.reply <- p.applyVoteNotification(job.notification)
		}
	}
}

// VoteRequest implements VotingServer: validate the operation, hand the
// vote off to the decision phase via NotifyVote, then answer the
// coordinator.
func (p *Participant) VoteRequest(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	log.RPCHandled(p.logger, "Phase VOTING of Node "+p.id, "VoteRequest", "Phase VOTING of Node COORDINATOR")

	ok, reason := p.validator(p.rnd, req.OperationType, req.Parameters)

	vote := VoteAbort
	if ok {
		vote = VoteCommit
	}
	p.logger.Info().Str("txn_id", req.TransactionID).Str("decision", vote.String()).Str("reason", reason).Msg("vote decision")

	nctx, ncancel := rpcutil.CallTimeout(ctx, 2*time.Second)
	defer ncancel()
	if _, err := p.NotifyVote(nctx, &VoteNotification{
		TransactionID: req.TransactionID,
		Vote:          vote,
		OperationType: req.OperationType,
		Parameters:    req.Parameters,
	}); err != nil {
		p.logger.Error().Err(err).Str("txn_id", req.TransactionID).Msg("failed to notify decision phase")
	}

	log.RPCSent(p.logger, "Phase VOTING of Node "+p.id, vote.String(), "Phase VOTING of Node COORDINATOR")

	return &VoteResponse{
		TransactionID: req.TransactionID,
		ParticipantID: p.id,
		Decision:      vote,
		Reason:        reason,
	}, nil
}

// NotifyVote is the in-process hand-off from the voting phase to the
// decision phase: it posts to the notifications channel Run consumes and
// blocks for the acknowledgment, rather than making a network call to
// itself the way the reference implementation's loopback gRPC call does.
func (p *Participant) NotifyVote(ctx context.Context, n *VoteNotification) (*VoteAck, error) {
	log.RPCSent(p.logger, "Phase VOTING of Node "+p.id, "NotifyVote", "Phase DECISION of Node "+p.id)

	job := voteNotificationJob{notification: n, reply: make(chan *VoteAck, 1)}

	select {
	case p.notifications <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ack := <-job.reply:
		log.RPCHandled(p.logger, "Phase DECISION of Node "+p.id, "NotifyVote", "Phase VOTING of Node "+p.id)
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// applyVoteNotification is Run's handling of one notification: a COMMIT
// vote moves the transaction into PREPARED state; an ABORT vote needs no
// preparation.
func (p *Participant) applyVoteNotification(n *VoteNotification) *VoteAck {
	if n.Vote == VoteCommit {
		p.mu.Lock()
		p.prepared[n.TransactionID] = &PreparedTxn{
			Operation:  n.OperationType,
			Parameters: n.Parameters,
			Timestamp:  time.Now(),
			Status:     "PREPARED",
			Vote:       n.Vote,
		}
		p.mu.Unlock()
		metrics.PreparedTxnsInFlight.Inc()
		p.logger.Info().Str("txn_id", n.TransactionID).Msg("transaction in PREPARED state, waiting for coordinator decision")
	} else {
		p.logger.Info().Str("txn_id", n.TransactionID).Msg("voted ABORT, no preparation needed")
	}

	return &VoteAck{TransactionID: n.TransactionID, Acknowledged: true}
}

// GlobalDecision implements DecisionServer: commit or abort the prepared
// transaction and acknowledge the coordinator.
func (p *Participant) GlobalDecision(ctx context.Context, req *GlobalDecisionMessage) (*DecisionAck, error) {
	log.RPCHandled(p.logger, "Phase DECISION of Node "+p.id, "GlobalDecision", "Phase DECISION of Node COORDINATOR")

	var status string
	if req.Decision == GlobalCommit {
		status = p.doCommit(req.TransactionID)
	} else {
		status = p.doAbort(req.TransactionID)
	}

	p.mu.Lock()
	if _, ok := p.prepared[req.TransactionID]; ok {
		delete(p.prepared, req.TransactionID)
		metrics.PreparedTxnsInFlight.Dec()
	}
	p.mu.Unlock()

	log.RPCSent(p.logger, "Phase DECISION of Node "+p.id, "ack:"+status, "Phase DECISION of Node COORDINATOR")

	return &DecisionAck{
		TransactionID: req.TransactionID,
		ParticipantID: p.id,
		Acknowledged:  true,
		Status:        status,
	}, nil
}

// doCommit performs the simulated side effect of committing, matching the
// per-service logging the reference implementation does in _do_commit.
func (p *Participant) doCommit(txnID string) string {
	p.mu.Lock()
	txn, ok := p.prepared[txnID]
	p.mu.Unlock()
	if !ok {
		return "COMMITTED"
	}

	switch p.serviceName {
	case "DriverService":
		p.logger.Info().Str("txn_id", txnID).Str("driver_id", txn.Parameters["driver_id"]).Msg("assigning driver to ride")
	case "PaymentService":
		p.logger.Info().Str("txn_id", txnID).
			Str("amount", txn.Parameters["amount"]).
			Str("rider_id", txn.Parameters["rider_id"]).
			Msg("charging rider")
	case "BookingService":
		p.logger.Info().Str("txn_id", txnID).Msg("creating booking record")
	case "NotificationService":
		p.logger.Info().Str("txn_id", txnID).Msg("sending ride confirmation notification")
	case "AnalyticsService":
		p.logger.Info().Str("txn_id", txnID).Msg("recording ride metrics")
	}

	return "COMMITTED"
}

// doAbort rolls back any reservation the PREPARED state implied.
func (p *Participant) doAbort(txnID string) string {
	p.mu.Lock()
	txn, ok := p.prepared[txnID]
	p.mu.Unlock()
	if ok {
		p.logger.Info().Str("txn_id", txnID).Str("operation", txn.Operation).Msg("rolling back prepared operation")
		switch p.serviceName {
		case "DriverService":
			p.logger.Info().Str("txn_id", txnID).Msg("releasing driver reservation")
		case "PaymentService":
			p.logger.Info().Str("txn_id", txnID).Msg("canceling payment authorization")
		}
	}
	return "ABORTED"
}

// ServeVoting starts the participant's voting-phase gRPC server, bound to
// VOTING_PORT, and blocks until ctx is cancelled.
func ServeVoting(ctx context.Context, addr string, p *Participant) error {
	lis, err := rpcutil.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := rpcutil.NewServer(p.logger)
	RegisterVotingServer(srv, p)

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

// ServeDecision starts the participant's decision-phase gRPC server, bound
// to DECISION_PORT, and blocks until ctx is cancelled.
func ServeDecision(ctx context.Context, addr string, p *Participant) error {
	lis, err := rpcutil.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := rpcutil.NewServer(p.logger)
	RegisterDecisionServer(srv, p)

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
