package controller

import (
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
)

// Memory records the last committed plan of every node. Entries are
// overwritten on commit and never deleted, so a node that drops out of the
// fleet and comes back is compared against what it last ran.
type Memory map[fleet.NodeID]report.Committed

// Get returns the committed plan for node.
func (m Memory) Get(node fleet.NodeID) (report.Committed, bool) {
	c, ok := m[node]
	return c, ok
}

// Commit overwrites the committed plan for node.
func (m Memory) Commit(node fleet.NodeID, c report.Committed) {
	m[node] = c
}

// Clone returns an independent copy.
func (m Memory) Clone() Memory {
	out := make(Memory, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
