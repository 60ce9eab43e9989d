package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quorumlabs/fabric/test/framework"
)

// TestRaftClusterElectsLeader spawns a 3-node cluster and waits for a node
// to log that it became leader.
func TestRaftClusterElectsLeader(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real fabric subprocesses, skipped in short mode")
	}

	cluster := framework.NewRaftCluster(framework.DefaultBinaryPath(), 58300, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}
	defer cluster.Stop()

	leader, err := cluster.WaitForLeader(10 * time.Second)
	if err != nil {
		t.Fatalf("no leader elected: %v", err)
	}
	t.Logf("node %s became leader", leader)
}

// TestRaftSubmitOperationForwardsToLeader submits an operation to a
// follower and expects it to be forwarded to whichever node is leader,
// rather than rejected outright.
func TestRaftSubmitOperationForwardsToLeader(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real fabric subprocesses, skipped in short mode")
	}

	cluster := framework.NewRaftCluster(framework.DefaultBinaryPath(), 58310, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}
	defer cluster.Stop()

	if _, err := cluster.WaitForLeader(10 * time.Second); err != nil {
		t.Fatalf("no leader elected: %v", err)
	}

	// Submit to node A regardless of whether it is the leader; the client
	// service single-hop forwards to the real leader if it is not.
	client := framework.NewRaftClientForNode(cluster.Addrs["A"])
	resp, err := client.SubmitOperation(ctx, "SET x 1", "e2e-test")
	if err != nil {
		t.Fatalf("SubmitOperation failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected operation to succeed, got message %q", resp.Message)
	}
}

// TestRaftClusterSurvivesLeaderKill kills the elected leader and expects
// a new one to be elected among the survivors.
func TestRaftClusterSurvivesLeaderKill(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real fabric subprocesses, skipped in short mode")
	}

	cluster := framework.NewRaftCluster(framework.DefaultBinaryPath(), 58320, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}
	defer cluster.Stop()

	firstLeader, err := cluster.WaitForLeader(10 * time.Second)
	if err != nil {
		t.Fatalf("no leader elected: %v", err)
	}

	if err := cluster.Nodes[firstLeader].Kill(); err != nil {
		t.Fatalf("failed to kill leader %s: %v", firstLeader, err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		for id, p := range cluster.Nodes {
			if id == firstLeader {
				continue
			}
			if strings.Contains(p.Logs(), "became leader") {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("no new leader elected after original leader was killed")
}
