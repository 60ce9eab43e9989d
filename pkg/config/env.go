// Package config centralizes how every process in this repository reads its
// configuration: typed environment-variable getters for the variables named
// in the specification (COORDINATOR_PORT, PARTICIPANT_ADDRESSES,
// PARTICIPANT_DECISION_ADDRESSES, VOTING_PORT, DECISION_PORT, PARTICIPANT_ID,
// SERVICE_NAME, NODE_ID, PORT, ALL_NODE_IDS), plus a YAML cluster-topology
// file loader for larger clusters where hand-rolling comma-separated env vars
// stops being pleasant. CLIENT_PORT is not read: a Raft node's client port is
// always its PORT plus raft.ClientPortOffset.
package config

import (
	"os"
	"strconv"
	"strings"
)

// String returns the environment variable named key, or def if unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the environment variable named key parsed as an int, or def if
// unset, empty, or unparseable.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// StringList splits a comma-separated environment variable into a trimmed,
// non-empty slice of entries. Returns nil if the variable is unset or empty.
func StringList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
