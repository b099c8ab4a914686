package redis

import (
	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
)

// Redis key naming conventions. Every key starts with the ledger prefix,
// "volley:" by default.

// nodesKey is the Set of registered node IDs: volley:nodes
func (s *Ledger) nodesKey() string { return s.prefix + "nodes" }

// costsKey is the Hash of unit costs per kind: volley:costs
func (s *Ledger) costsKey() string { return s.prefix + "costs" }

// nodeKey is the Hash holding a node's total, base and used capacity:
// volley:node:{id}
func (s *Ledger) nodeKey(id fleet.NodeID) string { return s.prefix + "node:" + string(id) }

// nodeDispatchesKey is the Set of dispatch handles on a node:
// volley:node:{id}:dispatches
func (s *Ledger) nodeDispatchesKey(id fleet.NodeID) string {
	return s.nodeKey(id) + ":dispatches"
}

// nodeKindKey is the Set of dispatch handles of one kind on a node:
// volley:node:{id}:kind:{kind}
func (s *Ledger) nodeKindKey(id fleet.NodeID, k volley.Kind) string {
	return s.nodeKey(id) + ":kind:" + string(k)
}

// nodeHeldKey is the Hash of capacity held per handle on a node:
// volley:node:{id}:held
func (s *Ledger) nodeHeldKey(id fleet.NodeID) string { return s.nodeKey(id) + ":held" }

// recordPrefix prefixes dispatch record keys.
func (s *Ledger) recordPrefix() string { return s.prefix + "dispatch:" }

// recordKey is the msgpack-encoded dispatch record: volley:dispatch:{handle}
func (s *Ledger) recordKey(h fleet.Handle) string { return s.recordPrefix() + string(h) }
