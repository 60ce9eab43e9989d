package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 2PC metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_transactions_total",
			Help: "Total number of 2PC transactions by final decision",
		},
		[]string{"decision"},
	)

	TransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_transaction_duration_seconds",
			Help:    "Time from InitiateTransaction to final decision, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PreparedTxnsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_prepared_txns_in_flight",
			Help: "Number of transactions currently held in PREPARED state on this participant",
		},
	)

	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_votes_total",
			Help: "Total number of votes the coordinator received, by vote (or unreachable) and participant ID (service label)",
		},
		[]string{"vote", "service"},
	)

	// Raft metrics
	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_raft_term",
			Help: "Current Raft term observed by this node",
		},
	)

	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_raft_is_leader",
			Help: "Whether this node currently believes itself to be leader (1) or not (0)",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_raft_commit_index",
			Help: "Highest log index known to be committed on this node",
		},
	)

	RaftLastApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_raft_last_applied",
			Help: "Highest log index applied to this node's state machine",
		},
	)

	RaftLogLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_raft_log_length",
			Help: "Number of entries in this node's log, including the sentinel",
		},
	)

	RaftElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_raft_elections_total",
			Help: "Total number of elections started by this node, by outcome",
		},
		[]string{"outcome"},
	)

	RaftAppendEntriesDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_raft_append_entries_duration_seconds",
			Help:    "Time taken for a leader append_entry call to reach majority replication",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionDuration)
	prometheus.MustRegister(PreparedTxnsInFlight)
	prometheus.MustRegister(VotesTotal)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftLastApplied)
	prometheus.MustRegister(RaftLogLength)
	prometheus.MustRegister(RaftElectionsTotal)
	prometheus.MustRegister(RaftAppendEntriesDuration)
}

// Handler returns the Prometheus HTTP handler for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
