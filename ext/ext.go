package ext

import (
	"context"

	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Tick hooks
// ──────────────────────────────────────────────────

// TickCompleted is called after every controller tick that produced a
// report. Ticks abandoned on a target or costs read failure are not
// reported.
type TickCompleted interface {
	OnTickCompleted(ctx context.Context, r *report.Report) error
}

// ModeChanged is called when the recommended mode changes between ticks.
type ModeChanged interface {
	OnModeChanged(ctx context.Context, from, to volley.Mode) error
}

// TargetChanged is called when target selection switches targets.
type TargetChanged interface {
	OnTargetChanged(ctx context.Context, from, to target.ID) error
}

// ──────────────────────────────────────────────────
// Node hooks
// ──────────────────────────────────────────────────

// PlanChanged is called when a node's committed plan differs from the new
// one, before its dispatches are cancelled.
type PlanChanged interface {
	OnPlanChanged(ctx context.Context, node fleet.NodeID, from, to report.Committed) error
}

// NodeCancelled is called after every kind was cancelled on a node.
type NodeCancelled interface {
	OnNodeCancelled(ctx context.Context, node fleet.NodeID, cancels []report.Cancel) error
}

// DispatchLaunched is called after a dispatch was started.
type DispatchLaunched interface {
	OnDispatchLaunched(ctx context.Context, l report.Launch) error
}

// DispatchRejected is called when the executor refuses a launch.
type DispatchRejected interface {
	OnDispatchRejected(ctx context.Context, r report.Rejection) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
