package main

import (
	"net"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/quorumlabs/fabric/pkg/config"
	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/metrics"
	"github.com/quorumlabs/fabric/pkg/raft"
)

var raftNodeCmd = &cobra.Command{
	Use:   "raft-node",
	Short: "Run a Raft leader-election and log-replication node",
	Long: `Run a Raft node: peer RPC server, client-facing SubmitOperation
server, and the election/replication background loops.

Configuration is read from the environment:
  NODE_ID        this node's identifier
  PORT           port for the Raft peer service (default 50051)
  ALL_NODE_IDS   comma-separated ids of every node in the cluster
  METRICS_ADDR   address for the Prometheus /metrics endpoint (default :9101)

Every peer's address is derived from ALL_NODE_IDS by resolving <id>_ADDR
environment variables (e.g. A_ADDR=10.0.0.1:50051); a node missing an
explicit address falls back to this node's own host with its own port,
which only makes sense for same-host development clusters.`,
	RunE: runRaftNode,
}

func runRaftNode(cmd *cobra.Command, args []string) error {
	nodeID := config.String("NODE_ID", "A")
	port := config.Int("PORT", 50051)
	allNodeIDs := config.StringList("ALL_NODE_IDS")
	metricsAddr := config.String("METRICS_ADDR", ":9101")

	if len(allNodeIDs) == 0 {
		allNodeIDs = []string{nodeID}
	}

	selfAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	addrs := make(map[string]string, len(allNodeIDs))
	for _, id := range allNodeIDs {
		if id == nodeID {
			addrs[id] = selfAddr
			continue
		}
		addrs[id] = config.String(id+"_ADDR", selfAddr)
	}

	logger := log.WithNodeID(nodeID)
	sm := raft.NewKVStateMachine()
	n := raft.NewNode(nodeID, addrs, sm, logger)

	ctx, cancel := signalContext()
	defer cancel()

	collector := metrics.NewCollector(func() metrics.NodeStatus {
		st := n.Status()
		return metrics.NodeStatus{
			NodeID:      st.NodeID,
			Role:        string(st.Role),
			Term:        st.Term,
			CommitIndex: st.CommitIndex,
			LastApplied: st.LastApplied,
			LogLength:   st.LogLength,
		}
	}, logger)
	collector.Start()
	defer collector.Stop()

	go serveMetrics(ctx, metricsAddr, logger)

	logger.Info().Str("addr", selfAddr).Strs("peers", allNodeIDs).Msg("starting raft node")

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := n.ServePeer(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := n.ServeClient(ctx); err != nil {
			errCh <- err
		}
	}()

	go n.Start(ctx)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-done:
		return nil
	}
}
