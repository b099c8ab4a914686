package report

import (
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/target"
	"github.com/xraph/volley/timing"
)

// Launch is a dispatch the controller started.
type Launch struct {
	Node    fleet.NodeID      `json:"node"`
	Key     fleet.DispatchKey `json:"key"`
	Threads int               `json:"threads"`
	Handle  fleet.Handle      `json:"handle"`
}

// Rejection is a launch the executor refused.
type Rejection struct {
	Node    fleet.NodeID      `json:"node"`
	Key     fleet.DispatchKey `json:"key"`
	Threads int               `json:"threads"`
	Error   string            `json:"error"`
}

// Cancel records one per-kind cancel issued on a node.
type Cancel struct {
	Node  fleet.NodeID `json:"node"`
	Kind  volley.Kind  `json:"kind"`
	Error string       `json:"error,omitempty"`
}

// Node is the per-node part of a report.
type Node struct {
	ID fleet.NodeID `json:"id"`

	// Before is the capacity reading taken before any cancel.
	Before fleet.Node `json:"before"`

	// Capacity is the reading the allocation was computed from. It equals
	// Before unless the node was cancelled.
	Capacity fleet.Node `json:"capacity"`

	Cancelled bool           `json:"cancelled"`
	Settled   bool           `json:"settled"`
	Planned   volley.Threads `json:"planned"`
	Launched  volley.Threads `json:"launched"`

	// Live is the dispatch listing used for the existence check.
	Live []fleet.Dispatch `json:"live,omitempty"`

	// Skipped is set when a collaborator read failed and the node was left
	// alone for this tick.
	Skipped string `json:"skipped,omitempty"`
}

// Duplicates counts, per kind, the live dispatches beyond the first.
func (n Node) Duplicates() volley.Threads {
	var out volley.Threads
	for k, c := range fleet.CountByKind(n.Live) {
		if c > 1 {
			out.Add(k, c-1)
		}
	}
	return out
}

// Report is the record of one controller tick.
type Report struct {
	ID       string          `json:"id"`
	Seq      uint64          `json:"seq"`
	At       time.Time       `json:"at"`
	Elapsed  time.Duration   `json:"elapsed"`
	Snapshot target.Snapshot `json:"snapshot"`
	Mode     volley.Mode     `json:"mode"`
	Costs    volley.Costs    `json:"costs"`
	Raw      timing.Plan     `json:"raw"`
	Bucketed timing.Plan     `json:"bucketed"`
	PlanKey  string          `json:"plan_key"`

	// Late lists kinds whose bucketed delay moved more than one tick away
	// from the raw delay.
	Late []volley.Kind `json:"late,omitempty"`

	// AnchorWarning is set when Stabilize is not the longest operation.
	AnchorWarning string `json:"anchor_warning,omitempty"`

	Nodes      []Node      `json:"nodes"`
	Cancels    []Cancel    `json:"cancels,omitempty"`
	Launches   []Launch    `json:"launches,omitempty"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Planned sums the planned threads over all nodes.
func (r *Report) Planned() volley.Threads {
	var out volley.Threads
	for _, n := range r.Nodes {
		for _, k := range volley.Kinds {
			out.Add(k, n.Planned.Get(k))
		}
	}
	return out
}

// Launched sums the threads launched over all nodes.
func (r *Report) Launched() volley.Threads {
	var out volley.Threads
	for _, n := range r.Nodes {
		for _, k := range volley.Kinds {
			out.Add(k, n.Launched.Get(k))
		}
	}
	return out
}

// Fleet sums the pre-cancel capacity readings. Nodes whose usage could not
// be read contribute zero.
func (r *Report) Fleet() (total, used float64) {
	for _, n := range r.Nodes {
		total += n.Before.Total
		used += n.Before.Used
	}
	return total, used
}

// Changed reports whether the tick cancelled anything.
func (r *Report) Changed() bool { return len(r.Cancels) > 0 }

// Committed is what the controller remembers about a node: the target,
// mode and plan key of its last commit.
type Committed struct {
	Target  target.ID   `json:"target"`
	Mode    volley.Mode `json:"mode"`
	PlanKey string      `json:"plan_key"`
}
