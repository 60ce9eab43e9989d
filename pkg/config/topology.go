package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Topology describes a cluster's static addressing, as an alternative to
// ALL_NODE_IDS / PARTICIPANT_ADDRESSES environment variables. Loaded by
// `fabric apply -f cluster.yaml`, adapted from the teacher's
// cmd/warren/apply.go YAML-resource pattern.
type Topology struct {
	Kind string `yaml:"kind"`

	// Coordinator/Participants populate a 2PC fabric topology (kind: TwoPC).
	Coordinator  string   `yaml:"coordinator,omitempty"`
	Participants []string `yaml:"participants,omitempty"`

	// Nodes populates a Raft cluster topology (kind: RaftCluster): node id -> peer address.
	Nodes map[string]string `yaml:"nodes,omitempty"`
}

// LoadTopology reads and parses a YAML topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse topology file: %w", err)
	}

	switch t.Kind {
	case "TwoPC":
		if t.Coordinator == "" || len(t.Participants) == 0 {
			return nil, fmt.Errorf("TwoPC topology requires coordinator and at least one participant")
		}
	case "RaftCluster":
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("RaftCluster topology requires at least one node")
		}
	default:
		return nil, fmt.Errorf("unknown topology kind %q", t.Kind)
	}

	return &t, nil
}

// NodeIDs returns the node ids of a RaftCluster topology in map iteration
// order; neither file order nor sorted order is preserved.
func (t *Topology) NodeIDs() []string {
	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	return ids
}
