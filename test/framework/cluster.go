package framework

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quorumlabs/fabric/pkg/health"
)

// TwoPCCluster spawns a coordinator and a set of participant processes
// against the fabric binary, for driving end-to-end scenarios over real
// subprocesses rather than in-process fakes.
type TwoPCCluster struct {
	Binary              string
	Coordinator         *Process
	Participants        []*Process
	CoordinatorAddr     string
	ParticipantAddrs    []string
	ParticipantDecision []string
}

// TwoPCParticipantSpec describes one participant to spawn.
type TwoPCParticipantSpec struct {
	ID          string
	ServiceName string
}

// NewTwoPCCluster builds (but does not start) a coordinator plus one
// participant process per spec. Each participant gets its own voting and
// decision port (basePort+1..basePort+len(specs) for voting,
// basePort+len(specs)+1.. for decision); the coordinator is handed both
// address lists explicitly via PARTICIPANT_ADDRESSES and
// PARTICIPANT_DECISION_ADDRESSES, paired by position, rather than deriving
// one from the other.
func NewTwoPCCluster(binary string, basePort int, specs []TwoPCParticipantSpec) *TwoPCCluster {
	c := &TwoPCCluster{Binary: binary}

	coordinatorPort := basePort
	c.CoordinatorAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(coordinatorPort))

	votingAddrs := make([]string, len(specs))
	decisionAddrs := make([]string, len(specs))
	votingPort := basePort + 1
	decisionPort := basePort + 1 + len(specs)
	for i := range specs {
		votingAddrs[i] = net.JoinHostPort("127.0.0.1", strconv.Itoa(votingPort))
		decisionAddrs[i] = net.JoinHostPort("127.0.0.1", strconv.Itoa(decisionPort))
		votingPort++
		decisionPort++
	}
	c.ParticipantAddrs = votingAddrs
	c.ParticipantDecision = decisionAddrs

	for i, spec := range specs {
		_, votingPortStr, _ := net.SplitHostPort(votingAddrs[i])
		_, decisionPortStr, _ := net.SplitHostPort(decisionAddrs[i])

		p := NewProcess(binary)
		p.Args = []string{"participant"}
		p.Env = []string{
			"VOTING_PORT=" + votingPortStr,
			"DECISION_PORT=" + decisionPortStr,
			"PARTICIPANT_ID=" + spec.ID,
			"SERVICE_NAME=" + spec.ServiceName,
		}
		c.Participants = append(c.Participants, p)
	}

	c.Coordinator = NewProcess(binary)
	c.Coordinator.Args = []string{"coordinator"}
	c.Coordinator.Env = []string{
		"COORDINATOR_PORT=" + strconv.Itoa(coordinatorPort),
		"PARTICIPANT_ADDRESSES=" + joinAddrs(votingAddrs),
		"PARTICIPANT_DECISION_ADDRESSES=" + joinAddrs(decisionAddrs),
	}

	return c
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ","
		}
		out += a
	}
	return out
}

// Start launches every participant, then the coordinator, waiting for each
// voting port to accept TCP connections before moving on.
func (c *TwoPCCluster) Start(ctx context.Context) error {
	for i, p := range c.Participants {
		if err := p.Start(); err != nil {
			return fmt.Errorf("failed to start participant %d: %w", i, err)
		}
		if err := waitTCPReady(ctx, c.ParticipantAddrs[i], 5*time.Second); err != nil {
			return fmt.Errorf("participant %d never became ready: %w", i, err)
		}
	}

	if err := c.Coordinator.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	if err := waitTCPReady(ctx, c.CoordinatorAddr, 5*time.Second); err != nil {
		return fmt.Errorf("coordinator never became ready: %w", err)
	}
	return nil
}

// Stop terminates every spawned process.
func (c *TwoPCCluster) Stop() {
	_ = c.Coordinator.Stop()
	for _, p := range c.Participants {
		_ = p.Stop()
	}
}

// RaftCluster spawns N raft-node processes wired to each other via
// ALL_NODE_IDS and per-node <ID>_ADDR environment variables.
type RaftCluster struct {
	Binary string
	Nodes  map[string]*Process
	Addrs  map[string]string
	ids    []string
}

// NewRaftCluster builds (but does not start) n raft-node processes named
// A, B, C, ... on sequential localhost ports starting at basePort.
func NewRaftCluster(binary string, basePort, n int) *RaftCluster {
	c := &RaftCluster{Binary: binary, Nodes: make(map[string]*Process), Addrs: make(map[string]string)}

	for i := 0; i < n; i++ {
		id := string(rune('A' + i))
		c.ids = append(c.ids, id)
		c.Addrs[id] = net.JoinHostPort("127.0.0.1", strconv.Itoa(basePort+i))
	}

	allIDs := ""
	for i, id := range c.ids {
		if i > 0 {
			allIDs += ","
		}
		allIDs += id
	}

	for _, id := range c.ids {
		_, port, _ := net.SplitHostPort(c.Addrs[id])

		p := NewProcess(binary)
		p.Args = []string{"raft-node"}
		env := []string{
			"NODE_ID=" + id,
			"PORT=" + port,
			"ALL_NODE_IDS=" + allIDs,
		}
		for _, peer := range c.ids {
			if peer == id {
				continue
			}
			env = append(env, peer+"_ADDR="+c.Addrs[peer])
		}
		p.Env = env
		c.Nodes[id] = p
	}

	return c
}

// Start launches every node and waits for its Raft port to accept
// connections.
func (c *RaftCluster) Start(ctx context.Context) error {
	for _, id := range c.ids {
		if err := c.Nodes[id].Start(); err != nil {
			return fmt.Errorf("failed to start node %s: %w", id, err)
		}
	}
	for _, id := range c.ids {
		if err := waitTCPReady(ctx, c.Addrs[id], 5*time.Second); err != nil {
			return fmt.Errorf("node %s never became ready: %w", id, err)
		}
	}
	return nil
}

// Stop terminates every node.
func (c *RaftCluster) Stop() {
	for _, id := range c.ids {
		_ = c.Nodes[id].Stop()
	}
}

// WaitForLeader polls every node's log output for the "became leader"
// message until some node has logged it, or timeout elapses, and returns the
// first such node in ID order. It does not check that no other node has
// logged it too.
func (c *RaftCluster) WaitForLeader(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, id := range c.ids {
			if c.Nodes[id].Logs() != "" && containsBecameLeader(c.Nodes[id].Logs()) {
				return id, nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", fmt.Errorf("no node became leader within %s", timeout)
}

func containsBecameLeader(logs string) bool {
	return strings.Contains(logs, "became leader")
}

func waitTCPReady(ctx context.Context, addr string, timeout time.Duration) error {
	checker := health.NewTCPChecker(addr)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if res := checker.Check(ctx); res.Healthy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s did not become TCP-reachable within %s", addr, timeout)
}

// DefaultBinaryPath returns the path to the fabric binary, overridable by
// the FABRIC_BINARY environment variable for out-of-tree test runs.
func DefaultBinaryPath() string {
	if v := os.Getenv("FABRIC_BINARY"); v != "" {
		return v
	}
	return "./fabric"
}
