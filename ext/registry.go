package ext

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type tickCompletedEntry struct {
	name string
	hook TickCompleted
}

type modeChangedEntry struct {
	name string
	hook ModeChanged
}

type targetChangedEntry struct {
	name string
	hook TargetChanged
}

type planChangedEntry struct {
	name string
	hook PlanChanged
}

type nodeCancelledEntry struct {
	name string
	hook NodeCancelled
}

type dispatchLaunchedEntry struct {
	name string
	hook DispatchLaunched
}

type dispatchRejectedEntry struct {
	name string
	hook DispatchRejected
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches controller events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register may be called while the controller is running; emits observe
// the extension set as of their start.
type Registry struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger

	tickCompleted    []tickCompletedEntry
	modeChanged      []modeChangedEntry
	targetChanged    []targetChangedEntry
	planChanged      []planChangedEntry
	nodeCancelled    []nodeCancelledEntry
	dispatchLaunched []dispatchLaunchedEntry
	dispatchRejected []dispatchRejectedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TickCompleted); ok {
		r.tickCompleted = append(r.tickCompleted, tickCompletedEntry{name, h})
	}
	if h, ok := e.(ModeChanged); ok {
		r.modeChanged = append(r.modeChanged, modeChangedEntry{name, h})
	}
	if h, ok := e.(TargetChanged); ok {
		r.targetChanged = append(r.targetChanged, targetChangedEntry{name, h})
	}
	if h, ok := e.(PlanChanged); ok {
		r.planChanged = append(r.planChanged, planChangedEntry{name, h})
	}
	if h, ok := e.(NodeCancelled); ok {
		r.nodeCancelled = append(r.nodeCancelled, nodeCancelledEntry{name, h})
	}
	if h, ok := e.(DispatchLaunched); ok {
		r.dispatchLaunched = append(r.dispatchLaunched, dispatchLaunchedEntry{name, h})
	}
	if h, ok := e.(DispatchRejected); ok {
		r.dispatchRejected = append(r.dispatchRejected, dispatchRejectedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extension, len(r.extensions))
	copy(out, r.extensions)
	return out
}

// ──────────────────────────────────────────────────
// Tick event emitters
// ──────────────────────────────────────────────────

// EmitTickCompleted notifies all extensions that implement TickCompleted.
func (r *Registry) EmitTickCompleted(ctx context.Context, rep *report.Report) {
	r.mu.RLock()
	entries := r.tickCompleted
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnTickCompleted(ctx, rep); err != nil {
			r.logHookError("OnTickCompleted", e.name, err)
		}
	}
}

// EmitModeChanged notifies all extensions that implement ModeChanged.
func (r *Registry) EmitModeChanged(ctx context.Context, from, to volley.Mode) {
	r.mu.RLock()
	entries := r.modeChanged
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnModeChanged(ctx, from, to); err != nil {
			r.logHookError("OnModeChanged", e.name, err)
		}
	}
}

// EmitTargetChanged notifies all extensions that implement TargetChanged.
func (r *Registry) EmitTargetChanged(ctx context.Context, from, to target.ID) {
	r.mu.RLock()
	entries := r.targetChanged
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnTargetChanged(ctx, from, to); err != nil {
			r.logHookError("OnTargetChanged", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Node event emitters
// ──────────────────────────────────────────────────

// EmitPlanChanged notifies all extensions that implement PlanChanged.
func (r *Registry) EmitPlanChanged(ctx context.Context, node fleet.NodeID, from, to report.Committed) {
	r.mu.RLock()
	entries := r.planChanged
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnPlanChanged(ctx, node, from, to); err != nil {
			r.logHookError("OnPlanChanged", e.name, err)
		}
	}
}

// EmitNodeCancelled notifies all extensions that implement NodeCancelled.
func (r *Registry) EmitNodeCancelled(ctx context.Context, node fleet.NodeID, cancels []report.Cancel) {
	r.mu.RLock()
	entries := r.nodeCancelled
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnNodeCancelled(ctx, node, cancels); err != nil {
			r.logHookError("OnNodeCancelled", e.name, err)
		}
	}
}

// EmitDispatchLaunched notifies all extensions that implement DispatchLaunched.
func (r *Registry) EmitDispatchLaunched(ctx context.Context, l report.Launch) {
	r.mu.RLock()
	entries := r.dispatchLaunched
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnDispatchLaunched(ctx, l); err != nil {
			r.logHookError("OnDispatchLaunched", e.name, err)
		}
	}
}

// EmitDispatchRejected notifies all extensions that implement DispatchRejected.
func (r *Registry) EmitDispatchRejected(ctx context.Context, rej report.Rejection) {
	r.mu.RLock()
	entries := r.dispatchRejected
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnDispatchRejected(ctx, rej); err != nil {
			r.logHookError("OnDispatchRejected", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	entries := r.shutdown
	r.mu.RUnlock()
	for _, e := range entries {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a hook returns an error. Hook errors
// never reach the controller.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
