// Package memory provides an in-process fleet: a capacity ledger and
// executor that tracks dispatches in memory. It is safe for concurrent
// access and is intended for tests, development and the simulator.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/volley"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/id"
)

// Compile-time interface checks.
var (
	_ fleet.Executor = (*Fleet)(nil)
	_ fleet.Capacity = (*Fleet)(nil)
)

// epsilon absorbs float rounding in capacity checks.
const epsilon = 1e-9

// Option configures a Fleet.
type Option func(*Fleet)

// WithClock sets the clock used to stamp dispatch start times.
func WithClock(c clock.Clock) Option {
	return func(f *Fleet) { f.clock = c }
}

// WithCancelDelay makes cancellation asynchronous. A cancelled dispatch
// stays visible and keeps holding capacity for the next n reads of its
// node before it disappears.
func WithCancelDelay(n int) Option {
	return func(f *Fleet) { f.cancelDelay = n }
}

type entry struct {
	fleet.Dispatch
	stopping  bool
	remaining int
}

type node struct {
	total      float64
	base       float64
	dispatches map[fleet.Handle]*entry
}

// Fleet is an in-memory fleet.
type Fleet struct {
	mu sync.Mutex

	costs       volley.Costs
	clock       clock.Clock
	cancelDelay int
	nodes       map[fleet.NodeID]*node
	reject      func(fleet.NodeID, fleet.DispatchKey) error

	launches int
	cancels  int
}

// New returns an empty fleet whose threads cost the given unit costs.
func New(costs volley.Costs, opts ...Option) *Fleet {
	f := &Fleet{
		costs: costs,
		clock: clock.Real{},
		nodes: make(map[fleet.NodeID]*node),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ──────────────────────────────────────────────────
// Node management
// ──────────────────────────────────────────────────

// AddNode registers a node with the given total capacity. Re-adding an
// existing node updates its total and keeps its dispatches.
func (f *Fleet) AddNode(nid fleet.NodeID, total float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[nid]; ok {
		n.total = total
		return
	}
	f.nodes[nid] = &node{total: total, dispatches: make(map[fleet.Handle]*entry)}
}

// SetBaseUsage records capacity used on a node by something other than
// volley dispatches.
func (f *Fleet) SetBaseUsage(nid fleet.NodeID, used float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nid]
	if !ok {
		return fmt.Errorf("memory: %s: %w", nid, volley.ErrNodeNotFound)
	}
	n.base = used
	return nil
}

// RemoveNode forgets a node and every dispatch on it.
func (f *Fleet) RemoveNode(nid fleet.NodeID) {
	f.mu.Lock()
	delete(f.nodes, nid)
	f.mu.Unlock()
}

// RejectLaunches installs a filter consulted before every launch. A
// non-nil error from fn rejects the launch. Pass nil to clear it.
func (f *Fleet) RejectLaunches(fn func(fleet.NodeID, fleet.DispatchKey) error) {
	f.mu.Lock()
	f.reject = fn
	f.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Capacity
// ──────────────────────────────────────────────────

// Nodes implements fleet.Capacity. Nodes are returned sorted by ID.
func (f *Fleet) Nodes(_ context.Context) ([]fleet.NodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]fleet.NodeID, 0, len(f.nodes))
	for nid := range f.nodes {
		ids = append(ids, nid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Usage implements fleet.Capacity.
func (f *Fleet) Usage(_ context.Context, nid fleet.NodeID) (fleet.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nid]
	if !ok {
		return fleet.Node{}, fmt.Errorf("memory: %s: %w", nid, volley.ErrNodeNotFound)
	}
	f.settle(n)
	return fleet.Node{ID: nid, Total: n.total, Used: f.used(n)}, nil
}

// ──────────────────────────────────────────────────
// Executor
// ──────────────────────────────────────────────────

// Costs implements fleet.Executor.
func (f *Fleet) Costs(_ context.Context) (volley.Costs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.costs, nil
}

// SetCosts replaces the unit costs.
func (f *Fleet) SetCosts(c volley.Costs) {
	f.mu.Lock()
	f.costs = c
	f.mu.Unlock()
}

// Dispatches implements fleet.Executor. Results are ordered by start time
// then handle.
func (f *Fleet) Dispatches(_ context.Context, nid fleet.NodeID) ([]fleet.Dispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nid]
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", nid, volley.ErrNodeNotFound)
	}
	f.settle(n)
	out := make([]fleet.Dispatch, 0, len(n.dispatches))
	for _, e := range n.dispatches {
		out = append(out, e.Dispatch)
	}
	sortDispatches(out)
	return out, nil
}

// Launch implements fleet.Executor.
func (f *Fleet) Launch(_ context.Context, nid fleet.NodeID, key fleet.DispatchKey, threads int) (fleet.Handle, error) {
	if threads <= 0 {
		return "", volley.ErrInvalidThreads
	}
	if !key.Kind.Valid() {
		return "", fmt.Errorf("memory: launch: unknown kind %q", key.Kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nid]
	if !ok {
		return "", fmt.Errorf("memory: %s: %w", nid, volley.ErrNodeNotFound)
	}
	if f.reject != nil {
		if err := f.reject(nid, key); err != nil {
			return "", err
		}
	}

	need := float64(threads) * f.costs.Get(key.Kind)
	if free := n.total - f.used(n); need > free+epsilon {
		return "", fmt.Errorf("memory: launch %d %s threads on %s needs %.2f, %.2f free: %w",
			threads, key.Kind, nid, need, free, volley.ErrInsufficientCapacity)
	}

	h := fleet.Handle(id.NewDispatchID().String())
	n.dispatches[h] = &entry{Dispatch: fleet.Dispatch{
		Handle:  h,
		Node:    nid,
		Key:     key,
		Threads: threads,
		Started: f.clock.Now(),
	}}
	f.launches++
	return h, nil
}

// Cancel implements fleet.Executor.
func (f *Fleet) Cancel(_ context.Context, nid fleet.NodeID, kind volley.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nid]
	if !ok {
		return fmt.Errorf("memory: %s: %w", nid, volley.ErrNodeNotFound)
	}
	for h, e := range n.dispatches {
		if e.Key.Kind != kind || e.stopping {
			continue
		}
		f.cancels++
		if f.cancelDelay <= 0 {
			delete(n.dispatches, h)
			continue
		}
		e.stopping = true
		e.remaining = f.cancelDelay
	}
	return nil
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// Complete removes a finished dispatch, releasing its capacity.
func (f *Fleet) Complete(h fleet.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.nodes {
		if _, ok := n.dispatches[h]; ok {
			delete(n.dispatches, h)
			return nil
		}
	}
	return fmt.Errorf("memory: %s: %w", h, volley.ErrDispatchNotFound)
}

// All returns every dispatch on every node, ordered by start time then
// handle. Dispatches that are still stopping are included.
func (f *Fleet) All() []fleet.Dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fleet.Dispatch
	for _, n := range f.nodes {
		for _, e := range n.dispatches {
			out = append(out, e.Dispatch)
		}
	}
	sortDispatches(out)
	return out
}

// Launches returns how many dispatches have been launched.
func (f *Fleet) Launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

// Cancels returns how many dispatches have been cancelled.
func (f *Fleet) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// settle advances asynchronous cancellations by one read. Caller holds mu.
func (f *Fleet) settle(n *node) {
	for h, e := range n.dispatches {
		if !e.stopping {
			continue
		}
		if e.remaining <= 0 {
			delete(n.dispatches, h)
			continue
		}
		e.remaining--
	}
}

// used returns the capacity a node's dispatches hold. Caller holds mu.
func (f *Fleet) used(n *node) float64 {
	u := n.base
	for _, e := range n.dispatches {
		u += float64(e.Threads) * f.costs.Get(e.Key.Kind)
	}
	return u
}

func sortDispatches(ds []fleet.Dispatch) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].Started.Equal(ds[j].Started) {
			return ds[i].Started.Before(ds[j].Started)
		}
		return ds[i].Handle < ds[j].Handle
	})
}
