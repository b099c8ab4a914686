package fleet

import (
	"context"
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/target"
)

// NodeID identifies a compute node.
type NodeID string

// String implements fmt.Stringer.
func (n NodeID) String() string { return string(n) }

// Node is a capacity reading for one compute node.
type Node struct {
	ID    NodeID  `json:"id"`
	Total float64 `json:"total"`
	Used  float64 `json:"used"`
}

// Free returns the unused capacity, never negative.
func (n Node) Free() float64 { return max(0, n.Total-n.Used) }

// Handle identifies a launched dispatch. Launch never returns an empty
// handle on success.
type Handle string

// DispatchKey is the exact argument tuple a dispatch is launched with.
// It is comparable and used directly as a map key.
type DispatchKey struct {
	Target  target.ID     `json:"target" msgpack:"target"`
	Kind    volley.Kind   `json:"kind" msgpack:"kind"`
	Delay   time.Duration `json:"delay" msgpack:"delay"`
	Mode    volley.Mode   `json:"mode" msgpack:"mode"`
	PlanKey string        `json:"plan_key" msgpack:"plan_key"`
}

// Dispatch is a live batch of threads on a node.
type Dispatch struct {
	Handle  Handle      `json:"handle" msgpack:"handle"`
	Node    NodeID      `json:"node" msgpack:"node"`
	Key     DispatchKey `json:"key" msgpack:"key"`
	Threads int         `json:"threads" msgpack:"threads"`
	Started time.Time   `json:"started" msgpack:"started"`
}

// Executor is the execution collaborator.
type Executor interface {
	// Dispatches lists the live dispatches on a node.
	Dispatches(ctx context.Context, node NodeID) ([]Dispatch, error)

	// Launch starts threads of key.Kind on node with the exact argument
	// tuple key. It returns a non-empty handle on success.
	Launch(ctx context.Context, node NodeID, key DispatchKey, threads int) (Handle, error)

	// Cancel stops every dispatch of kind on node. Cancelling nothing is
	// not an error.
	Cancel(ctx context.Context, node NodeID, kind volley.Kind) error

	// Costs returns the capacity one thread of each kind consumes.
	Costs(ctx context.Context) (volley.Costs, error)
}

// Capacity is the capacity collaborator.
type Capacity interface {
	// Nodes enumerates the nodes that can host dispatches.
	Nodes(ctx context.Context) ([]NodeID, error)

	// Usage reads a node's total and used capacity.
	Usage(ctx context.Context, node NodeID) (Node, error)
}

// Fleet is a backend that provides both collaborators.
type Fleet interface {
	Executor
	Capacity
}

// Index maps dispatches by key. When duplicates exist the first one wins.
func Index(ds []Dispatch) map[DispatchKey]Dispatch {
	out := make(map[DispatchKey]Dispatch, len(ds))
	for _, d := range ds {
		if _, ok := out[d.Key]; !ok {
			out[d.Key] = d
		}
	}
	return out
}

// CountByKind returns how many live dispatches of each kind are present.
func CountByKind(ds []Dispatch) map[volley.Kind]int {
	out := make(map[volley.Kind]int, 3)
	for _, d := range ds {
		out[d.Key.Kind]++
	}
	return out
}

// ThreadsByKind sums the threads of the given dispatches per kind.
func ThreadsByKind(ds []Dispatch) volley.Threads {
	var t volley.Threads
	for _, d := range ds {
		t.Add(d.Key.Kind, d.Threads)
	}
	return t
}
