package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// NodeStatus is the subset of a Raft node's state the collector cares
// about. cmd/fabric's raft-node subcommand fills it field by field from
// pkg/raft.Node.Status.
type NodeStatus struct {
	NodeID      string
	Role        string
	Term        int64
	CommitIndex int64
	LastApplied int64
	LogLength   int64
}

// StatusSource supplies a point-in-time snapshot of a running raft.Node.
// Kept as an interface, rather than importing pkg/raft directly, so this
// package stays free of a dependency on the domain packages it reports on.
type StatusSource func() NodeStatus

// Collector periodically samples a raft.Node's status and updates the
// corresponding gauges, and logs a snapshot at debug level. The 2PC and
// per-call Raft metrics (TransactionsTotal, VotesTotal, RaftTerm, etc.) are
// updated inline at the call site as events happen; this collector exists
// for state that is easiest to observe as a snapshot rather than as discrete
// events, and to give operators a steady heartbeat in the logs.
type Collector struct {
	source StatusSource
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewCollector builds a Collector that samples source every tick. source
// may be nil, in which case Start is a no-op (useful for a 2PC-only process
// with no Raft node to report on).
func NewCollector(source StatusSource, logger zerolog.Logger) *Collector {
	return &Collector{
		source: source,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic sampling in the background.
func (c *Collector) Start() {
	if c.source == nil {
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	st := c.source()

	RaftTerm.Set(float64(st.Term))
	RaftCommitIndex.Set(float64(st.CommitIndex))
	RaftLastApplied.Set(float64(st.LastApplied))
	RaftLogLength.Set(float64(st.LogLength))
	if st.Role == "leader" {
		RaftIsLeader.Set(1)
	} else {
		RaftIsLeader.Set(0)
	}

	c.logger.Debug().
		Str("node_id", st.NodeID).
		Str("role", st.Role).
		Int64("term", st.Term).
		Int64("commit_index", st.CommitIndex).
		Int64("last_applied", st.LastApplied).
		Int64("log_length", st.LogLength).
		Msg("raft status snapshot")
}
