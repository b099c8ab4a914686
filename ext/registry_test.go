package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/volley"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnTickCompleted(_ context.Context, _ *report.Report) error {
	e.calls = append(e.calls, "OnTickCompleted")
	return nil
}

func (e *allHooksExt) OnModeChanged(_ context.Context, _, _ volley.Mode) error {
	e.calls = append(e.calls, "OnModeChanged")
	return nil
}

func (e *allHooksExt) OnTargetChanged(_ context.Context, _, _ target.ID) error {
	e.calls = append(e.calls, "OnTargetChanged")
	return nil
}

func (e *allHooksExt) OnPlanChanged(_ context.Context, _ fleet.NodeID, _, _ report.Committed) error {
	e.calls = append(e.calls, "OnPlanChanged")
	return nil
}

func (e *allHooksExt) OnNodeCancelled(_ context.Context, _ fleet.NodeID, _ []report.Cancel) error {
	e.calls = append(e.calls, "OnNodeCancelled")
	return nil
}

func (e *allHooksExt) OnDispatchLaunched(_ context.Context, _ report.Launch) error {
	e.calls = append(e.calls, "OnDispatchLaunched")
	return nil
}

func (e *allHooksExt) OnDispatchRejected(_ context.Context, _ report.Rejection) error {
	e.calls = append(e.calls, "OnDispatchRejected")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// launchOnlyExt only implements the dispatch hooks.
type launchOnlyExt struct {
	calls []string
}

func (e *launchOnlyExt) Name() string { return "launch-only" }

func (e *launchOnlyExt) OnDispatchLaunched(_ context.Context, _ report.Launch) error {
	e.calls = append(e.calls, "OnDispatchLaunched")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnDispatchLaunched(_ context.Context, _ report.Launch) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	lo := &launchOnlyExt{}
	r.Register(all)
	r.Register(lo)

	ctx := context.Background()

	r.EmitDispatchLaunched(ctx, report.Launch{Node: "a", Threads: 3})
	if len(all.calls) != 1 || len(lo.calls) != 1 {
		t.Fatalf("expected one call each, got all=%v lo=%v", all.calls, lo.calls)
	}

	r.EmitDispatchRejected(ctx, report.Rejection{Node: "a"})
	if len(all.calls) != 2 || all.calls[1] != "OnDispatchRejected" {
		t.Fatalf("all: expected OnDispatchRejected as 2nd, got %v", all.calls)
	}
	if len(lo.calls) != 1 {
		t.Fatalf("lo: should still have 1 call, got %v", lo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	from := report.Committed{Target: "n00dles", Mode: volley.ModeReplenish, PlanKey: "k1"}
	to := report.Committed{Target: "n00dles", Mode: volley.ModeExtract, PlanKey: "k2"}

	r.EmitTickCompleted(ctx, &report.Report{Seq: 1})
	r.EmitModeChanged(ctx, volley.ModeReplenish, volley.ModeExtract)
	r.EmitTargetChanged(ctx, "n00dles", "foodnstuff")
	r.EmitPlanChanged(ctx, "a", from, to)
	r.EmitNodeCancelled(ctx, "a", []report.Cancel{{Node: "a", Kind: volley.Extract}})
	r.EmitDispatchLaunched(ctx, report.Launch{})
	r.EmitDispatchRejected(ctx, report.Rejection{})
	r.EmitShutdown(ctx)

	expected := []string{
		"OnTickCompleted", "OnModeChanged", "OnTargetChanged", "OnPlanChanged",
		"OnNodeCancelled", "OnDispatchLaunched", "OnDispatchRejected", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitDispatchLaunched(ctx, report.Launch{})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected two calls despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	r.EmitTickCompleted(ctx, &report.Report{})
	r.EmitModeChanged(ctx, volley.ModeExtract, volley.ModeStabilize)
	r.EmitTargetChanged(ctx, "a", "b")
	r.EmitPlanChanged(ctx, "a", report.Committed{}, report.Committed{})
	r.EmitNodeCancelled(ctx, "a", nil)
	r.EmitDispatchLaunched(ctx, report.Launch{})
	r.EmitDispatchRejected(ctx, report.Rejection{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitShutdown(context.Background())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnShutdown(_ context.Context) error {
	*e.order = append(*e.order, e.name)
	return nil
}
