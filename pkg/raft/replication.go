package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/metrics"
	"github.com/quorumlabs/fabric/pkg/rpcutil"
)

const replicationLoopInterval = 500 * time.Millisecond
const majorityWaitTimeout = 5 * time.Second
const majorityPollInterval = 100 * time.Millisecond

// LogReplicator owns a node's log and drives leader-side replication: a
// client-facing append_entry call that blocks until a majority has
// acknowledged, and a background loop that keeps every follower's log
// converged with the leader's.
type LogReplicator struct {
	nodeID   string
	peers    []string
	election *ElectionManager
	sm       StateMachine
	logger   zerolog.Logger

	mu          sync.Mutex
	log         []LogEntry
	commitIndex int64
	lastApplied int64
	nextIndex   map[string]int64
	matchIndex  map[string]int64
}

// NewLogReplicator builds a LogReplicator seeded with the sentinel entry at
// index 0, matching the reference implementation's log = [{term: 0,
// command: "INIT", index: 0}].
func NewLogReplicator(nodeID string, peers []string, election *ElectionManager, sm StateMachine, logger zerolog.Logger) *LogReplicator {
	if sm == nil {
		sm = NoopStateMachineFunc(func(index int64, command string) {})
	}
	return &LogReplicator{
		nodeID:     nodeID,
		peers:      peers,
		election:   election,
		sm:         sm,
		logger:     logger,
		log:        []LogEntry{{Term: 0, Command: "INIT", Index: 0}},
		nextIndex:  make(map[string]int64),
		matchIndex: make(map[string]int64),
	}
}

// CommitIndex returns the highest index known committed.
func (r *LogReplicator) CommitIndex() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitIndex
}

// LastApplied returns the highest index applied to the state machine.
func (r *LogReplicator) LastApplied() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

// LogLength returns the number of entries held, including the sentinel.
func (r *LogReplicator) LogLength() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.log))
}

// AppendEntry is the leader-side entry point for a client operation: append
// to the local log, then block until a majority of peers have replicated
// it or majorityWaitTimeout elapses.
func (r *LogReplicator) AppendEntry(command, clientID string) (bool, string, string) {
	if r.election.Role() != Leader {
		return false, "Not the leader", r.election.VotedFor()
	}

	r.mu.Lock()
	newIndex := int64(len(r.log))
	r.log = append(r.log, LogEntry{Term: r.election.Term(), Command: command, Index: newIndex})
	r.mu.Unlock()

	r.logger.Info().Str("entry", fmtEntry(LogEntry{Term: r.election.Term(), Command: command, Index: newIndex})).Msg("leader appended entry")
	metrics.RaftLogLength.Set(float64(r.LogLength()))

	if r.waitForMajorityAck(newIndex) {
		r.mu.Lock()
		r.commitIndex = newIndex
		r.mu.Unlock()
		r.logger.Info().Int64("index", newIndex).Msg("leader committed entry")
		r.applyCommittedEntries()
		return true, "Operation committed successfully", r.nodeID
	}

	return false, "Failed to replicate to majority", r.nodeID
}

func (r *LogReplicator) waitForMajorityAck(index int64) bool {
	deadline := time.Now().Add(majorityWaitTimeout)
	majority := len(r.peers)/2 + 1

	for time.Now().Before(deadline) {
		ackCount := 1
		r.mu.Lock()
		for peerID, matched := range r.matchIndex {
			if peerID == r.nodeID {
				continue
			}
			if matched >= index {
				ackCount++
			}
		}
		r.mu.Unlock()

		if ackCount >= majority {
			return true
		}
		time.Sleep(majorityPollInterval)
	}
	return false
}

func (r *LogReplicator) applyCommittedEntries() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.lastApplied < r.commitIndex {
		r.lastApplied++
		entry := r.log[r.lastApplied]
		r.logger.Info().Int64("index", r.lastApplied).Str("command", entry.Command).Msg("applying entry")
		r.sm.Apply(r.lastApplied, entry.Command)
	}
	metrics.RaftCommitIndex.Set(float64(r.commitIndex))
	metrics.RaftLastApplied.Set(float64(r.lastApplied))
}

// Run drives the leader replication loop until ctx is cancelled: every
// replicationLoopInterval, while this node is leader, send AppendEntries to
// every peer carrying whatever entries that peer is missing.
func (r *LogReplicator) Run(ctx context.Context, dial PeerDialer) {
	ticker := time.NewTicker(replicationLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.election.Role() != Leader {
				continue
			}
			for _, peer := range r.peers {
				if peer == r.nodeID {
					continue
				}
				r.sendAppendEntries(ctx, dial, peer)
			}
		}
	}
}

func (r *LogReplicator) sendAppendEntries(ctx context.Context, dial PeerDialer, peerID string) {
	r.mu.Lock()
	next, ok := r.nextIndex[peerID]
	if !ok {
		next = int64(len(r.log))
		r.nextIndex[peerID] = next
		r.matchIndex[peerID] = 0
	}

	entries := append([]LogEntry(nil), r.log[next:]...)
	prevLogIndex := next - 1
	var prevLogTerm int64
	if prevLogIndex >= 0 && int(prevLogIndex) < len(r.log) {
		prevLogTerm = r.log[prevLogIndex].Term
	}
	commitIndex := r.commitIndex
	term := r.election.Term()
	r.mu.Unlock()

	client, closeFn, err := dial(ctx, peerID)
	if err != nil {
		return
	}
	defer closeFn()

	cctx, cancel := rpcutil.CallTimeout(ctx, 2*time.Second)
	defer cancel()

	if len(entries) > 0 {
		log.RPCSent(r.logger, r.nodeID, fmt.Sprintf("AppendEntries(entries=%d)", len(entries)), peerID)
	}

	resp, err := client.AppendEntries(cctx, &AppendEntriesRequest{
		Term:         term,
		LeaderID:     r.nodeID,
		Entries:      entries,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		LeaderCommit: commitIndex,
	})
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if resp.Success {
		r.matchIndex[peerID] = prevLogIndex + int64(len(entries))
		r.nextIndex[peerID] = r.matchIndex[peerID] + 1
	} else {
		if r.nextIndex[peerID] > 1 {
			r.nextIndex[peerID]--
		} else {
			r.nextIndex[peerID] = 1
		}
	}
}

// HandleAppendEntries is the follower side of AppendEntries, covering both
// real replication (non-empty Entries) and the consistency check that
// precedes it.
func (r *LogReplicator) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	if len(req.Entries) > 0 {
		log.RPCHandled(r.logger, r.nodeID, fmt.Sprintf("AppendEntries(entries=%d)", len(req.Entries)), req.LeaderID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	term := r.election.Term()
	if req.Term < term {
		return &AppendEntriesResponse{Term: term, Success: false, MatchIndex: 0}
	}

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex >= int64(len(r.log)) {
			return &AppendEntriesResponse{Term: term, Success: false, MatchIndex: int64(len(r.log)) - 1}
		}
		if r.log[req.PrevLogIndex].Term != req.PrevLogTerm {
			return &AppendEntriesResponse{Term: term, Success: false, MatchIndex: req.PrevLogIndex - 1}
		}
	}

	if len(req.Entries) > 0 {
		insertIndex := req.PrevLogIndex + 1
		for i, entry := range req.Entries {
			logIndex := insertIndex + int64(i)
			if logIndex < int64(len(r.log)) {
				if r.log[logIndex].Term != entry.Term {
					r.log[logIndex] = entry
				}
			} else {
				r.log = append(r.log, entry)
			}
		}
		r.logger.Info().Int("count", len(req.Entries)).Msg("follower replicated entries from leader")
		metrics.RaftLogLength.Set(float64(len(r.log)))
	}

	if req.LeaderCommit > r.commitIndex {
		old := r.commitIndex
		r.commitIndex = req.LeaderCommit
		if maxIdx := int64(len(r.log)) - 1; r.commitIndex > maxIdx {
			r.commitIndex = maxIdx
		}
		if r.commitIndex > old {
			r.logger.Info().Int64("commit_index", r.commitIndex).Msg("follower updated commit index")
		}
	}

	r.applyCommittedEntriesLocked()

	return &AppendEntriesResponse{Term: term, Success: true, MatchIndex: int64(len(r.log)) - 1}
}

// applyCommittedEntriesLocked is applyCommittedEntries for callers already
// holding r.mu (HandleAppendEntries runs under lock, unlike the leader path
// which locks for itself).
func (r *LogReplicator) applyCommittedEntriesLocked() {
	for r.lastApplied < r.commitIndex {
		r.lastApplied++
		entry := r.log[r.lastApplied]
		r.logger.Info().Int64("index", r.lastApplied).Str("command", entry.Command).Msg("applying entry")
		r.sm.Apply(r.lastApplied, entry.Command)
	}
	metrics.RaftCommitIndex.Set(float64(r.commitIndex))
	metrics.RaftLastApplied.Set(float64(r.lastApplied))
}
