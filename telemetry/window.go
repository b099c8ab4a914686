package telemetry

import (
	"math"
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// HostMax is the node able to run the most threads of one kind.
type HostMax struct {
	Node    fleet.NodeID `json:"node"`
	Threads int          `json:"threads"`
}

// Capacity holds the fleet-shape signals of a single tick.
type Capacity struct {
	Total float64 `json:"total"`
	Used  float64 `json:"used"`
	Free  float64 `json:"free"`

	// Utilization is Used/Total, zero for an empty fleet.
	Utilization float64 `json:"utilization"`

	// AllIn is, per kind, the sum over nodes of floor(free/cost).
	AllIn volley.Threads `json:"all_in"`

	// SingleHost is, per kind, the node that fits the most threads.
	SingleHost map[volley.Kind]HostMax `json:"single_host"`

	// Fragmentation is the share of free capacity sitting on nodes too
	// small for even the cheapest thread.
	Fragmentation float64 `json:"fragmentation"`
}

// Measure computes the capacity signals of a report. Skipped nodes are
// left out.
func Measure(rep *report.Report) Capacity {
	c := Capacity{SingleHost: make(map[volley.Kind]HostMax, len(volley.Kinds))}
	cheapest := rep.Costs.Cheapest()
	var stranded float64

	for _, n := range rep.Nodes {
		if n.Skipped != "" {
			continue
		}
		c.Total += n.Before.Total
		c.Used += n.Before.Used

		free := n.Capacity.Free()
		c.Free += free
		if cheapest <= 0 || free < cheapest {
			stranded += free
		}
		for _, k := range volley.Kinds {
			cost := rep.Costs.Get(k)
			if !(cost > 0) || math.IsInf(cost, 1) {
				continue
			}
			fit := int(math.Floor(free / cost))
			c.AllIn.Add(k, fit)
			if best, ok := c.SingleHost[k]; !ok || fit > best.Threads {
				c.SingleHost[k] = HostMax{Node: n.ID, Threads: fit}
			}
		}
	}
	if c.Total > 0 {
		c.Utilization = c.Used / c.Total
	}
	if c.Free > 0 {
		c.Fragmentation = stranded / c.Free
	}
	return c
}

// Window is the aggregate of every report observed between two schedule
// activations.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Ticks            int     `json:"ticks"`
	ProductiveTicks  int     `json:"productive_ticks"`
	ProductiveUptime float64 `json:"productive_uptime"`

	Target        target.ID   `json:"target"`
	Mode          volley.Mode `json:"mode"`
	TargetChanges int         `json:"target_changes"`

	ModeTicks   map[volley.Mode]int            `json:"mode_ticks"`
	ModePlanned map[volley.Mode]volley.Threads `json:"mode_planned"`

	// Capacity is the fleet shape at the latest tick.
	Capacity        Capacity `json:"capacity"`
	UtilizationMean float64  `json:"utilization_mean"`

	Planned  volley.Threads `json:"planned"`
	Launched volley.Threads `json:"launched"`

	// Shortfall sums, per node and kind, the planned threads that were
	// neither launched nor already live under the tick's plan key. A kind
	// kept alive by an earlier launch under the same key adds nothing.
	Shortfall  volley.Threads `json:"shortfall"`
	Duplicates int            `json:"duplicates"`
	Late       int            `json:"late"`
	Launches   int            `json:"launches"`
	Cancels    int            `json:"cancels"`
	Rejections int            `json:"rejections"`

	// ETA is the mode-flip estimate from the slope between the window's
	// first and latest snapshots. Nil until two snapshots of the same
	// target are seen.
	ETA *target.Estimate `json:"eta,omitempty"`

	utilSum float64
	first   target.Snapshot
	latest  target.Snapshot
}

func newWindow(start time.Time) *Window {
	return &Window{
		Start:       start,
		ModeTicks:   make(map[volley.Mode]int),
		ModePlanned: make(map[volley.Mode]volley.Threads),
	}
}

// observe folds one report into the window.
func (w *Window) observe(rep *report.Report, th volley.Thresholds) {
	snap := rep.Snapshot
	if w.Ticks > 0 && snap.ID != w.Target {
		w.TargetChanges++
		w.first = snap
	}
	if w.Ticks == 0 {
		w.first = snap
	}
	w.latest = snap

	w.Ticks++
	w.End = rep.At
	w.Target = snap.ID
	w.Mode = rep.Mode
	if snap.Productive(th) {
		w.ProductiveTicks++
	}
	w.ProductiveUptime = float64(w.ProductiveTicks) / float64(w.Ticks)

	planned, launched := rep.Planned(), rep.Launched()
	w.ModeTicks[rep.Mode]++
	mp := w.ModePlanned[rep.Mode]
	for _, k := range volley.Kinds {
		mp.Add(k, planned.Get(k))
		w.Planned.Add(k, planned.Get(k))
		w.Launched.Add(k, launched.Get(k))
	}
	w.ModePlanned[rep.Mode] = mp

	for _, n := range rep.Nodes {
		short := shortfall(n, rep.PlanKey)
		for _, k := range volley.Kinds {
			w.Shortfall.Add(k, short.Get(k))
		}
		w.Duplicates += n.Duplicates().Total()
	}
	w.Late += len(rep.Late)
	w.Launches += len(rep.Launches)
	w.Cancels += len(rep.Cancels)
	w.Rejections += len(rep.Rejections)

	w.Capacity = Measure(rep)
	w.utilSum += w.Capacity.Utilization
	w.UtilizationMean = w.utilSum / float64(w.Ticks)

	w.ETA = nil
	if secs := w.latest.At.Sub(w.first.At).Seconds(); secs > 0 {
		dRatio := (w.latest.YieldRatio() - w.first.YieldRatio()) / secs
		dDelta := (w.latest.SecurityDelta() - w.first.SecurityDelta()) / secs
		est := target.EstimateNextMode(rep.Mode, snap.YieldRatio(), snap.SecurityDelta(), dRatio, dDelta, th)
		w.ETA = &est
	}
}

// shortfall is what a node planned but did not get running: planned minus
// launched minus the threads live under planKey, floored at zero per kind.
func shortfall(n report.Node, planKey string) volley.Threads {
	var current []fleet.Dispatch
	for _, d := range n.Live {
		if d.Key.PlanKey == planKey {
			current = append(current, d)
		}
	}
	live := fleet.ThreadsByKind(current)

	var out volley.Threads
	for _, k := range volley.Kinds {
		if short := n.Planned.Get(k) - n.Launched.Get(k) - live.Get(k); short > 0 {
			out.Set(k, short)
		}
	}
	return out
}

// clone returns a deep copy safe to hand to callers.
func (w *Window) clone() Window {
	out := *w
	out.ModeTicks = make(map[volley.Mode]int, len(w.ModeTicks))
	for k, v := range w.ModeTicks {
		out.ModeTicks[k] = v
	}
	out.ModePlanned = make(map[volley.Mode]volley.Threads, len(w.ModePlanned))
	for k, v := range w.ModePlanned {
		out.ModePlanned[k] = v
	}
	out.Capacity.SingleHost = make(map[volley.Kind]HostMax, len(w.Capacity.SingleHost))
	for k, v := range w.Capacity.SingleHost {
		out.Capacity.SingleHost[k] = v
	}
	if w.ETA != nil {
		eta := *w.ETA
		out.ETA = &eta
	}
	return out
}
