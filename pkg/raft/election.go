package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/metrics"
	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

const (
	electionTimeoutMin = 1500 * time.Millisecond
	electionTimeoutMax = 3000 * time.Millisecond
	heartbeatInterval  = 1 * time.Second
)

// ElectionManager owns a node's term/vote/role state and runs its
// randomized-timeout election loop and, while leader, its heartbeat loop.
//
// It deliberately omits the standard Raft "candidate's log is at least as
// up-to-date as mine" check from its vote-granting rule: a stale candidate
// can therefore win an election here, which the base specification calls
// out as a known violation of Leader Completeness rather than an oversight
// to silently fix.
type ElectionManager struct {
	nodeID string
	peers  []string // nodeID of every node in the cluster, self included
	rnd    *rand.Rand
	logger zerolog.Logger

	mu          sync.Mutex
	currentTerm int64
	votedFor    string
	votesRecvd  int
	role        Role
	lastHB      time.Time

	resetCh chan struct{}
}

// NewElectionManager builds an ElectionManager for nodeID among peers (the
// full cluster membership as node IDs, including nodeID itself).
func NewElectionManager(nodeID string, peers []string, logger zerolog.Logger) *ElectionManager {
	return &ElectionManager{
		nodeID:  nodeID,
		peers:   peers,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger,
		role:    Follower,
		lastHB:  time.Now(),
		resetCh: make(chan struct{}, 1),
	}
}

func (e *ElectionManager) randomTimeout() time.Duration {
	span := electionTimeoutMax - electionTimeoutMin
	return electionTimeoutMin + time.Duration(e.rnd.Int63n(int64(span)))
}

// Role returns the node's current role.
func (e *ElectionManager) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Term returns the node's current term.
func (e *ElectionManager) Term() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTerm
}

// VotedFor returns who this node voted for in the current term, which also
// doubles as this node's best guess at the current leader (see
// ClientService._find_leader in the reference implementation).
func (e *ElectionManager) VotedFor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.votedFor
}

func (e *ElectionManager) resetTimer() {
	select {
	case e.resetCh <- struct{}{}:
	default:
	}
}

// Run drives the election timeout loop until ctx is cancelled: waiting out
// a randomized timeout, starting an election when it fires, and restarting
// the countdown whenever resetTimer is signaled (a granted vote, a valid
// heartbeat, or stepping down).
func (e *ElectionManager) Run(ctx context.Context, dial PeerDialer) {
	e.logger.Info().Str("role", string(e.Role())).Msg("election loop started")

	timer := time.NewTimer(e.randomTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.randomTimeout())
		case <-timer.C:
			e.startElection(ctx, dial)
			timer.Reset(e.randomTimeout())
		}
	}
}

// HandleVoteRequest implements the RequestVote grant rule.
func (e *ElectionManager) HandleVoteRequest(req *VoteRequest) *VoteResponse {
	log.RPCHandled(e.logger, e.nodeID, "RequestVote", req.CandidateID)

	e.mu.Lock()
	defer e.mu.Unlock()

	resp := &VoteResponse{Term: e.currentTerm, VoteGranted: false}

	if req.Term > e.currentTerm {
		e.currentTerm = req.Term
		e.votedFor = ""
		e.role = Follower
	}

	if req.Term >= e.currentTerm && (e.votedFor == "" || e.votedFor == req.CandidateID) {
		e.votedFor = req.CandidateID
		resp.VoteGranted = true
		resp.Term = e.currentTerm
		e.logger.Info().Str("candidate", req.CandidateID).Int64("term", e.currentTerm).Msg("voted")
		e.resetTimer()
	}

	metrics.RaftTerm.Set(float64(e.currentTerm))
	return resp
}

// HandleHeartbeat implements AppendEntries' role for an empty-entries
// heartbeat: step down to follower, adopt the leader's term, and reset the
// election timer.
func (e *ElectionManager) HandleHeartbeat(req *AppendEntriesRequest) *AppendEntriesResponse {
	log.RPCHandled(e.logger, e.nodeID, "AppendEntries", req.LeaderID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Term >= e.currentTerm {
		if req.Term > e.currentTerm {
			e.votedFor = ""
		}
		e.currentTerm = req.Term
		e.role = Follower
		e.lastHB = time.Now()
		e.resetTimer()
		e.logger.Info().Str("leader", req.LeaderID).Msg("heartbeat received")
		metrics.RaftTerm.Set(float64(e.currentTerm))
		return &AppendEntriesResponse{Term: e.currentTerm, Success: true, MatchIndex: 0}
	}

	return &AppendEntriesResponse{Term: e.currentTerm, Success: false, MatchIndex: 0}
}

// startElection runs one election round: increment term, vote for self,
// solicit votes from every peer, and become leader on a majority.
func (e *ElectionManager) startElection(ctx context.Context, dial PeerDialer) {
	e.mu.Lock()
	if e.role == Leader {
		e.mu.Unlock()
		return
	}
	e.currentTerm++
	e.votedFor = e.nodeID
	e.role = Candidate
	e.votesRecvd = 1
	term := e.currentTerm
	e.mu.Unlock()

	e.logger.Info().Int64("term", term).Msg("starting election")

	var wg sync.WaitGroup
	for _, peer := range e.peers {
		if peer == e.selfAddr() {
			continue
		}
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.requestVoteFrom(ctx, dial, peer, term) {
				e.mu.Lock()
				e.votesRecvd++
				e.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	e.mu.Lock()
	majority := len(e.peers)/2 + 1
	won := e.votesRecvd >= majority
	if won {
		e.role = Leader
	} else {
		e.role = Follower
	}
	votes := e.votesRecvd
	e.mu.Unlock()

	if won {
		e.logger.Info().Int64("term", term).Int("votes", votes).Int("of", len(e.peers)).Msg("became leader")
		metrics.RaftElectionsTotal.WithLabelValues("won").Inc()
		metrics.RaftIsLeader.Set(1)
		go e.heartbeatLoop(ctx, dial)
	} else {
		metrics.RaftElectionsTotal.WithLabelValues("lost").Inc()
		metrics.RaftIsLeader.Set(0)
		e.resetTimer()
	}
}

// selfAddr identifies this node's own entry in peers. Nodes are addressed
// by nodeID in this package's peer list (see Node wiring), so self-skip
// compares against nodeID rather than a network address.
func (e *ElectionManager) selfAddr() string {
	return e.nodeID
}

func (e *ElectionManager) requestVoteFrom(ctx context.Context, dial PeerDialer, peerID string, term int64) bool {
	log.RPCSent(e.logger, e.nodeID, "RequestVote", peerID)

	client, closeFn, err := dial(ctx, peerID)
	if err != nil {
		return false
	}
	defer closeFn()

	cctx, cancel := rpcutil.CallTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := client.RequestVote(cctx, &VoteRequest{Term: term, CandidateID: e.nodeID})
	if err != nil {
		return false
	}
	return resp.VoteGranted
}

// heartbeatLoop sends empty AppendEntries to every peer every second while
// this node remains leader. Heartbeats always carry leader_commit=0: real
// commit-index propagation is the replication loop's job, not this one's
// (see the base specification's open questions).
func (e *ElectionManager) heartbeatLoop(ctx context.Context, dial PeerDialer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		if e.Role() != Leader {
			return
		}

		term := e.Term()
		for _, peer := range e.peers {
			if peer == e.selfAddr() {
				continue
			}
			peer := peer
			go func() {
				client, closeFn, err := dial(ctx, peer)
				if err != nil {
					return
				}
				defer closeFn()

				cctx, cancel := rpcutil.CallTimeout(ctx, 2*time.Second)
				defer cancel()

				log.RPCSent(e.logger, e.nodeID, "AppendEntries", peer)
				_, _ = client.AppendEntries(cctx, &AppendEntriesRequest{
					Term:     term,
					LeaderID: e.nodeID,
					Entries:  nil,
				})
			}()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
