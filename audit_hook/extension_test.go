package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/volley"
	ah "github.com/xraph/volley/audit_hook"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func launchKey() fleet.DispatchKey {
	return fleet.DispatchKey{
		Target:  "joesguns",
		Kind:    volley.Extract,
		Delay:   2 * time.Second,
		Mode:    volley.ModeExtract,
		PlanKey: "extract:joesguns",
	}
}

// ── Tests ────────────────────────────────────────────

func TestTargetChanged(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnTargetChanged(context.Background(), "n00dles", "joesguns"); err != nil {
		t.Fatalf("OnTargetChanged: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("expected an event")
	}
	if evt.Action != ah.ActionTargetChanged {
		t.Errorf("action = %q, want %q", evt.Action, ah.ActionTargetChanged)
	}
	if evt.Category != ah.CategoryTarget || evt.Resource != ah.ResourceTarget {
		t.Errorf("category/resource = %q/%q", evt.Category, evt.Resource)
	}
	if evt.ResourceID != "joesguns" {
		t.Errorf("resource id = %q, want joesguns", evt.ResourceID)
	}
	if evt.Metadata["from"] != "n00dles" {
		t.Errorf("from = %v, want n00dles", evt.Metadata["from"])
	}
}

func TestModeChanged(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	_ = e.OnModeChanged(context.Background(), volley.ModeReplenish, volley.ModeExtract)

	evt := rec.last()
	if evt.Action != ah.ActionModeChanged {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.Metadata["from"] != "replenish" || evt.Metadata["to"] != "extract" {
		t.Errorf("metadata = %v", evt.Metadata)
	}
}

func TestPlanChanged(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	from := report.Committed{Target: "joesguns", Mode: volley.ModeStabilize, PlanKey: "a"}
	to := report.Committed{Target: "joesguns", Mode: volley.ModeExtract, PlanKey: "b"}
	_ = e.OnPlanChanged(context.Background(), "home", from, to)

	evt := rec.last()
	if evt.ResourceID != "home" || evt.Category != ah.CategoryNode {
		t.Errorf("resource id/category = %q/%q", evt.ResourceID, evt.Category)
	}
	if evt.Metadata["from_plan"] != "a" || evt.Metadata["to_plan"] != "b" {
		t.Errorf("metadata = %v", evt.Metadata)
	}
	if evt.Metadata["to_mode"] != "extract" {
		t.Errorf("to_mode = %v", evt.Metadata["to_mode"])
	}
}

func TestNodeCancelled(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		rec := &mockRecorder{}
		e := ah.New(rec)
		_ = e.OnNodeCancelled(context.Background(), "home", []report.Cancel{
			{Node: "home", Kind: volley.Extract},
			{Node: "home", Kind: volley.Replenish},
		})

		evt := rec.last()
		if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
			t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
		}
		if evt.Metadata["failed"] != 0 {
			t.Errorf("failed = %v, want 0", evt.Metadata["failed"])
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		rec := &mockRecorder{}
		e := ah.New(rec)
		_ = e.OnNodeCancelled(context.Background(), "home", []report.Cancel{
			{Node: "home", Kind: volley.Extract},
			{Node: "home", Kind: volley.Stabilize, Error: "node offline"},
		})

		evt := rec.last()
		if evt.Severity != ah.SeverityWarning || evt.Outcome != ah.OutcomeFailure {
			t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
		}
		if evt.Reason != "stabilize: node offline" {
			t.Errorf("reason = %q", evt.Reason)
		}
		if evt.Metadata["failed"] != 1 {
			t.Errorf("failed = %v, want 1", evt.Metadata["failed"])
		}
	})
}

func TestDispatchLaunched(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	_ = e.OnDispatchLaunched(context.Background(), report.Launch{
		Node: "home", Key: launchKey(), Threads: 12, Handle: "h1",
	})

	evt := rec.last()
	if evt.Action != ah.ActionDispatchLaunched || evt.ResourceID != "h1" {
		t.Errorf("action/resource id = %q/%q", evt.Action, evt.ResourceID)
	}
	if evt.Metadata["threads"] != 12 {
		t.Errorf("threads = %v", evt.Metadata["threads"])
	}
	if evt.Metadata["delay_ms"] != int64(2000) {
		t.Errorf("delay_ms = %v", evt.Metadata["delay_ms"])
	}
	if evt.Metadata["kind"] != "extract" {
		t.Errorf("kind = %v", evt.Metadata["kind"])
	}
}

func TestDispatchRejected(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	_ = e.OnDispatchRejected(context.Background(), report.Rejection{
		Node: "home", Key: launchKey(), Threads: 12, Error: "out of memory",
	})

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "out of memory" {
		t.Errorf("reason = %q", evt.Reason)
	}
}

func TestShutdown(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	_ = e.OnShutdown(context.Background())

	evt := rec.last()
	if evt.Action != ah.ActionShutdown || evt.Category != ah.CategoryScheduler {
		t.Errorf("action/category = %q/%q", evt.Action, evt.Category)
	}
}

func TestWithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionPlanChanged))

	ctx := context.Background()
	_ = e.OnTargetChanged(ctx, "a", "b")
	_ = e.OnShutdown(ctx)
	if rec.count() != 0 {
		t.Fatalf("expected filtered actions to be dropped, got %d events", rec.count())
	}

	_ = e.OnPlanChanged(ctx, "home", report.Committed{}, report.Committed{PlanKey: "p"})
	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	e := ah.New(failing, ah.WithLogger(logger))

	if err := e.OnShutdown(context.Background()); err != nil {
		t.Fatalf("hook returned %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "backend down") {
		t.Errorf("expected recorder error to be logged, got %q", buf.String())
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := ah.New(ah.LogRecorder(logger))

	_ = e.OnDispatchRejected(context.Background(), report.Rejection{
		Node: "home", Key: launchKey(), Threads: 3, Error: "out of memory",
	})

	out := buf.String()
	for _, want := range []string{"level=WARN", "action=dispatch.rejected", "reason=\"out of memory\"", "node=home"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestRegistryFanOut(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	reg.EmitTargetChanged(ctx, "a", "b")
	reg.EmitShutdown(ctx)

	if rec.count() != 2 {
		t.Fatalf("expected 2 events through the registry, got %d", rec.count())
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 7 {
		t.Errorf("AllActions() = %d entries, want 7", got)
	}
}
