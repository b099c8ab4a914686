package controller

import (
	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
	"github.com/xraph/volley/timing"
)

// TickPlan is the part of every dispatch key that is shared by all nodes
// in a tick.
type TickPlan struct {
	Target  target.ID   `json:"target"`
	Mode    volley.Mode `json:"mode"`
	Delays  timing.Plan `json:"delays"`
	PlanKey string      `json:"plan_key"`
}

// NewTickPlan builds the plan for a target from its bucketed delays.
func NewTickPlan(tid target.ID, mode volley.Mode, bucketed timing.Plan) TickPlan {
	return TickPlan{
		Target:  tid,
		Mode:    mode,
		Delays:  bucketed,
		PlanKey: timing.Key(string(tid), bucketed, mode),
	}
}

// Committed returns what memory records for a node running this plan.
func (p TickPlan) Committed() report.Committed {
	return report.Committed{Target: p.Target, Mode: p.Mode, PlanKey: p.PlanKey}
}

// Key returns the dispatch key for kind k. The delay is the bucketed one so
// that keys stay stable while the raw delay jitters inside a bucket.
func (p TickPlan) Key(k volley.Kind) fleet.DispatchKey {
	return fleet.DispatchKey{
		Target:  p.Target,
		Kind:    k,
		Delay:   p.Delays.Get(k),
		Mode:    p.Mode,
		PlanKey: p.PlanKey,
	}
}

// Decide reports whether node must be cancelled before it runs next. A
// node without a memory entry has nothing of ours to cancel.
func Decide(mem Memory, node fleet.NodeID, next report.Committed) bool {
	prev, ok := mem.Get(node)
	return ok && prev != next
}

// Launch is a dispatch the step function wants started.
type Launch struct {
	Key     fleet.DispatchKey
	Threads int
}

// Launches returns the dispatches to start on a node, in kind order. A kind
// is skipped when it has no threads or when a live dispatch carries exactly
// its key.
func Launches(threads volley.Threads, plan TickPlan, live []fleet.Dispatch) []Launch {
	idx := fleet.Index(live)
	var out []Launch
	for _, k := range volley.Kinds {
		n := threads.Get(k)
		if n <= 0 {
			continue
		}
		key := plan.Key(k)
		if _, ok := idx[key]; ok {
			continue
		}
		out = append(out, Launch{Key: key, Threads: n})
	}
	return out
}
