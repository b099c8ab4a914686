package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/volley"
	"github.com/xraph/volley/alloc"
	"github.com/xraph/volley/backoff"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/id"
	"github.com/xraph/volley/middleware"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
	"github.com/xraph/volley/timing"
)

// Controller runs the dispatch loop for one target at a time.
type Controller struct {
	executor fleet.Executor
	capacity fleet.Capacity
	selector *target.Selector

	extensions *ext.Registry
	middleware []middleware.Middleware
	clock      clock.Clock
	logger     *slog.Logger

	settlePolls    int
	settleStrategy backoff.Strategy

	warnEvery time.Duration
	warnBurst int
	rejectLog *rate.Limiter
	anchorLog *rate.Limiter

	seq atomic.Uint64

	// mu guards the fields below. The loop goroutine is the only writer.
	mu         sync.RWMutex
	tunables   Tunables
	memory     Memory
	last       *report.Report
	lastMode   volley.Mode
	lastTarget target.ID

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Controller over the given collaborators.
func New(executor fleet.Executor, capacity fleet.Capacity, selector *target.Selector, opts ...Option) (*Controller, error) {
	switch {
	case executor == nil:
		return nil, volley.ErrNoExecutor
	case capacity == nil:
		return nil, volley.ErrNoCapacity
	case selector == nil:
		return nil, volley.ErrNoTargetSource
	}

	c := &Controller{
		executor:  executor,
		capacity:  capacity,
		selector:  selector,
		clock:     clock.Real{},
		logger:    slog.Default(),
		tunables:  TunablesFrom(volley.DefaultConfig()),
		memory:    make(Memory),
		warnEvery: 10 * time.Second,
		warnBurst: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	if err := c.tunables.Validate(); err != nil {
		return nil, err
	}
	c.rejectLog = rate.NewLimiter(rate.Every(c.warnEvery), c.warnBurst)
	c.anchorLog = rate.NewLimiter(rate.Every(c.warnEvery), c.warnBurst)
	return c, nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Tunables returns the tunables the next tick will use.
func (c *Controller) Tunables() Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables
}

// SetTunables swaps the tunables. They apply from the next tick.
func (c *Controller) SetTunables(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.tunables = t
	c.mu.Unlock()
	c.logger.Info("controller tunables updated",
		slog.Duration("tick", t.Tick),
		slog.Duration("spacer", t.Spacer),
		slog.Duration("delay_bucket", t.DelayBucket),
	)
	return nil
}

// Memory returns a copy of the per-node plan memory.
func (c *Controller) Memory() Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memory.Clone()
}

// Last returns the report of the most recent completed tick, or nil.
func (c *Controller) Last() *report.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Extensions returns the registry receiving controller events.
func (c *Controller) Extensions() *ext.Registry { return c.extensions }

// ──────────────────────────────────────────────────
// Tick
// ──────────────────────────────────────────────────

// Tick runs one iteration of the control loop. A failure to read the
// target snapshot, the unit costs or the node list abandons the tick and
// is returned. Failures on a single node only skip that node.
func (c *Controller) Tick(ctx context.Context) (*report.Report, error) {
	return c.tick(ctx, id.NewTickID().String(), c.seq.Add(1))
}

func (c *Controller) tick(ctx context.Context, tickID string, seq uint64) (*report.Report, error) {
	start := c.clock.Now()
	tun := c.Tunables()

	tid := c.selector.Select(ctx)
	snap, err := c.selector.Snapshot(ctx, tid)
	if err != nil {
		c.logger.Warn("tick skipped: target snapshot failed",
			slog.String("target", string(tid)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("controller: %w", err)
	}
	costs, err := c.executor.Costs(ctx)
	if err != nil {
		c.logger.Warn("tick skipped: unit costs unavailable", slog.String("error", err.Error()))
		return nil, fmt.Errorf("controller: costs: %w", err)
	}
	nodes, err := c.capacity.Nodes(ctx)
	if err != nil {
		c.logger.Warn("tick skipped: node list unavailable", slog.String("error", err.Error()))
		return nil, fmt.Errorf("controller: nodes: %w", err)
	}

	mode := snap.Mode(tun.Thresholds)
	raw := timing.Compute(snap.Durations, tun.Spacer)
	bucketed := raw.Bucketed(tun.DelayBucket)
	plan := NewTickPlan(snap.ID, mode, bucketed)

	rep := &report.Report{
		ID:       tickID,
		Seq:      seq,
		At:       start,
		Snapshot: snap,
		Mode:     mode,
		Costs:    costs,
		Raw:      raw,
		Bucketed: bucketed,
		PlanKey:  plan.PlanKey,
		Late:     timing.LateKinds(raw, bucketed, tun.Tick),
	}
	if err := timing.CheckAnchor(snap.Durations); err != nil {
		rep.AnchorWarning = err.Error()
		if c.anchorLog.Allow() {
			c.logger.Warn("start delays clamped",
				slog.String("target", string(snap.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	c.emitChanges(ctx, snap.ID, mode)

	for _, nid := range nodes {
		rep.Nodes = append(rep.Nodes, c.tickNode(ctx, nid, plan, costs, rep))
	}
	rep.Elapsed = c.clock.Now().Sub(start)

	c.mu.Lock()
	c.last = rep
	c.mu.Unlock()

	c.extensions.EmitTickCompleted(ctx, rep)
	return rep, nil
}

// emitChanges reports target and mode switches against the previous tick.
func (c *Controller) emitChanges(ctx context.Context, tid target.ID, mode volley.Mode) {
	c.mu.Lock()
	prevTarget, prevMode := c.lastTarget, c.lastMode
	c.lastTarget, c.lastMode = tid, mode
	c.mu.Unlock()

	if prevTarget != "" && prevTarget != tid {
		c.logger.Info("target changed",
			slog.String("from", string(prevTarget)),
			slog.String("to", string(tid)),
		)
		c.extensions.EmitTargetChanged(ctx, prevTarget, tid)
	}
	if prevMode != "" && prevMode != mode {
		c.logger.Info("mode changed",
			slog.String("from", string(prevMode)),
			slog.String("to", string(mode)),
		)
		c.extensions.EmitModeChanged(ctx, prevMode, mode)
	}
}

// tickNode runs the step function on one node. A node whose reads fail is
// left uncommitted so the next tick repeats the comparison.
func (c *Controller) tickNode(ctx context.Context, nid fleet.NodeID, plan TickPlan, costs volley.Costs, rep *report.Report) report.Node {
	nr := report.Node{ID: nid}
	log := c.logger.With(slog.String("node", string(nid)))

	before, err := c.capacity.Usage(ctx, nid)
	if err != nil {
		nr.Skipped = "usage: " + err.Error()
		log.Warn("node skipped: usage unavailable", slog.String("error", err.Error()))
		return nr
	}
	nr.Before, nr.Capacity = before, before

	next := plan.Committed()
	c.mu.RLock()
	prev := c.memory[nid]
	cancel := Decide(c.memory, nid, next)
	c.mu.RUnlock()

	if cancel {
		log.Debug("plan changed, cancelling node",
			slog.String("from", prev.PlanKey),
			slog.String("to", next.PlanKey),
		)
		c.extensions.EmitPlanChanged(ctx, nid, prev, next)
		cancels := c.cancelAll(ctx, nid)
		rep.Cancels = append(rep.Cancels, cancels...)
		nr.Cancelled = true
		c.extensions.EmitNodeCancelled(ctx, nid, cancels)

		if c.settlePolls > 0 {
			nr.Settled = c.settle(ctx, nid)
		}

		after, err := c.capacity.Usage(ctx, nid)
		if err != nil {
			nr.Skipped = "usage after cancel: " + err.Error()
			log.Warn("node skipped: usage unavailable after cancel", slog.String("error", err.Error()))
			return nr
		}
		nr.Capacity = after
	}

	live, err := c.executor.Dispatches(ctx, nid)
	if err != nil {
		nr.Skipped = "dispatches: " + err.Error()
		log.Warn("node skipped: dispatch listing unavailable", slog.String("error", err.Error()))
		return nr
	}
	nr.Live = live

	nr.Planned = alloc.Allocate(nr.Capacity.Free(), costs, plan.Mode)
	for _, l := range Launches(nr.Planned, plan, live) {
		h, err := c.executor.Launch(ctx, nid, l.Key, l.Threads)
		if err != nil {
			rej := report.Rejection{Node: nid, Key: l.Key, Threads: l.Threads, Error: err.Error()}
			rep.Rejections = append(rep.Rejections, rej)
			if c.rejectLog.Allow() {
				log.Warn("dispatch rejected",
					slog.String("kind", string(l.Key.Kind)),
					slog.Int("threads", l.Threads),
					slog.String("error", err.Error()),
				)
			}
			c.extensions.EmitDispatchRejected(ctx, rej)
			continue
		}
		nr.Launched.Add(l.Key.Kind, l.Threads)
		launch := report.Launch{Node: nid, Key: l.Key, Threads: l.Threads, Handle: h}
		rep.Launches = append(rep.Launches, launch)
		c.extensions.EmitDispatchLaunched(ctx, launch)
	}

	c.mu.Lock()
	c.memory.Commit(nid, next)
	c.mu.Unlock()
	return nr
}

// cancelAll cancels every kind on a node. Cancel failures are recorded and
// do not stop the remaining kinds.
func (c *Controller) cancelAll(ctx context.Context, nid fleet.NodeID) []report.Cancel {
	out := make([]report.Cancel, 0, len(volley.Kinds))
	for _, k := range volley.Kinds {
		rc := report.Cancel{Node: nid, Kind: k}
		if err := c.executor.Cancel(ctx, nid, k); err != nil {
			rc.Error = err.Error()
			c.logger.Warn("cancel failed",
				slog.String("node", string(nid)),
				slog.String("kind", string(k)),
				slog.String("error", err.Error()),
			)
		}
		out = append(out, rc)
	}
	return out
}

// settle polls the node until no dispatch is listed. It reports whether the
// node drained within the configured polls.
func (c *Controller) settle(ctx context.Context, nid fleet.NodeID) bool {
	ok, err := backoff.Poll(ctx, c.clock, c.settleStrategy, c.settlePolls, func(ctx context.Context) (bool, error) {
		ds, err := c.executor.Dispatches(ctx, nid)
		if err != nil {
			return false, err
		}
		return len(ds) == 0, nil
	})
	switch {
	case err != nil:
		c.logger.Warn("cancel settle aborted",
			slog.String("node", string(nid)),
			slog.String("error", err.Error()),
		)
	case !ok:
		c.logger.Warn("cancelled dispatches still live",
			slog.String("node", string(nid)),
			slog.Int("polls", c.settlePolls),
		)
	}
	return ok
}

// ──────────────────────────────────────────────────
// Loop
// ──────────────────────────────────────────────────

// Run ticks until ctx is cancelled. Each tick runs through the middleware
// chain and is followed by a sleep of the tick period minus the time the
// tick took, never negative. Tick errors do not stop the loop.
func (c *Controller) Run(ctx context.Context) error {
	chain := middleware.Chain(c.middleware...)
	for {
		start := c.clock.Now()
		tk := &middleware.Tick{
			ID:      id.NewTickID().String(),
			Seq:     c.seq.Add(1),
			Started: start,
		}
		_ = chain(ctx, tk, func(ctx context.Context) error { //nolint:errcheck // failures are logged by the tick and the logging middleware
			rep, err := c.tick(ctx, tk.ID, tk.Seq)
			tk.Report = rep
			return err
		})

		wait := max(0, c.Tunables().Tick-c.clock.Now().Sub(start))
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Start launches the loop in a background goroutine.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return volley.ErrAlreadyStarted
	}
	c.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.stopCh:
		case <-runCtx.Done():
		}
		cancel()
	}()
	go func() {
		defer c.wg.Done()
		defer cancel()
		_ = c.Run(runCtx) //nolint:errcheck // Run only returns on cancellation
	}()

	tun := c.Tunables()
	c.logger.Info("controller started",
		slog.Duration("tick", tun.Tick),
		slog.Duration("spacer", tun.Spacer),
		slog.Duration("delay_bucket", tun.DelayBucket),
	)
	return nil
}

// Stop signals the loop to exit and waits for it, bounded by ctx.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("controller: stop: %w", ctx.Err())
	}
	c.logger.Info("controller stopped")
	return nil
}
