package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumlabs/fabric/pkg/config"
	"github.com/quorumlabs/fabric/pkg/raft"
	"github.com/quorumlabs/fabric/pkg/rpcutil"
	"github.com/quorumlabs/fabric/pkg/twophase"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a topology file: drive a transaction or submit a Raft operation",
	Long: `Apply reads a cluster topology YAML file (kind: TwoPC or kind:
RaftCluster) and exercises it once:

  # Drive one 2PC transaction against a running coordinator
  fabric apply -f twopc.yaml --operation book_ride --param driver_id=d1

  # Submit one operation to a running Raft cluster, forwarded to the leader
  fabric apply -f raft.yaml --operation "SET x 1"`,
	RunE: runApplyCmd,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "topology YAML file (required)")
	applyCmd.Flags().String("operation", "", "operation to submit")
	applyCmd.Flags().StringArray("param", nil, "key=value parameter, repeatable (2PC only)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	operation, _ := cmd.Flags().GetString("operation")
	params, _ := cmd.Flags().GetStringArray("param")

	topo, err := config.LoadTopology(filename)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch topo.Kind {
	case "TwoPC":
		return applyTwoPC(ctx, topo.Coordinator, operation, params)
	case "RaftCluster":
		return applyRaft(ctx, topo.Nodes, operation)
	default:
		return fmt.Errorf("unsupported topology kind %q", topo.Kind)
	}
}

func applyTwoPC(ctx context.Context, coordinatorAddr, operation string, rawParams []string) error {
	if coordinatorAddr == "" {
		return fmt.Errorf("topology has no coordinator address")
	}

	params := make(map[string]string, len(rawParams))
	for _, p := range rawParams {
		for i := 0; i < len(p); i++ {
			if p[i] == '=' {
				params[p[:i]] = p[i+1:]
				break
			}
		}
	}

	cc, err := rpcutil.Dial(ctx, coordinatorAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer cc.Close()

	resp, err := twophase.NewCoordinatorClient(cc).InitiateTransaction(ctx, &twophase.TransactionRequest{
		OperationType: operation,
		Parameters:    params,
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	fmt.Printf("Transaction %s: %s\n", resp.TransactionID, resp.FinalDecision)
	return nil
}

func applyRaft(ctx context.Context, nodes map[string]string, operation string) error {
	if len(nodes) == 0 {
		return fmt.Errorf("topology has no nodes")
	}

	var clientAddr string
	for _, addr := range nodes {
		clientAddr = rpcutil.OffsetPort(addr, raft.ClientPortOffset)
		break
	}

	cc, err := rpcutil.Dial(ctx, clientAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to raft cluster: %w", err)
	}
	defer cc.Close()

	resp, err := raft.NewClientClient(cc).SubmitOperation(ctx, &raft.ClientRequest{
		Operation: operation,
		ClientID:  "fabric-cli",
	})
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	fmt.Printf("success=%v message=%q leader=%s\n", resp.Success, resp.Message, resp.LeaderID)
	return nil
}
