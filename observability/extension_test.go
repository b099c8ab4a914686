package observability_test

import (
	"context"
	"log/slog"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/volley"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/observability"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func gaugeValue(rm metricdata.ResourceMetrics, name string) (float64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[float64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_TickCompleted(t *testing.T) {
	e, reader := newTestExtension()
	r := &report.Report{
		Mode: volley.ModeExtract,
		Snapshot: target.Snapshot{ID: "n00dles", State: target.State{
			CurrentYield: 50, MaxYield: 100, SecurityLevel: 3, MinSecurity: 1,
		}},
		Nodes: []report.Node{
			{ID: "a", Before: fleet.Node{ID: "a", Total: 64, Used: 16}},
			{ID: "b", Before: fleet.Node{ID: "b", Total: 16, Used: 4}},
		},
	}
	if err := e.OnTickCompleted(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collect(t, reader)
	if got := counterTotal(rm, "volley.ticks"); got != 1 {
		t.Errorf("ticks = %d, want 1", got)
	}
	if v, ok := gaugeValue(rm, "volley.fleet.utilization"); !ok || v != 0.25 {
		t.Errorf("utilization = %v (%v), want 0.25", v, ok)
	}
	if v, ok := gaugeValue(rm, "volley.target.yield_ratio"); !ok || v != 0.5 {
		t.Errorf("yield ratio = %v (%v), want 0.5", v, ok)
	}
	if v, ok := gaugeValue(rm, "volley.target.security_delta"); !ok || v != 2 {
		t.Errorf("security delta = %v (%v), want 2", v, ok)
	}
}

func TestMetricsExtension_DispatchHooks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	launch := report.Launch{Node: "a", Key: fleet.DispatchKey{Kind: volley.Replenish}, Threads: 9}
	if err := e.OnDispatchLaunched(ctx, launch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	launch.Threads = 4
	_ = e.OnDispatchLaunched(ctx, launch)
	_ = e.OnDispatchRejected(ctx, report.Rejection{Node: "a", Key: fleet.DispatchKey{Kind: volley.Extract}})

	rm := collect(t, reader)
	if got := counterTotal(rm, "volley.dispatch.launched"); got != 2 {
		t.Errorf("launched = %d, want 2", got)
	}
	if got := counterTotal(rm, "volley.threads.launched"); got != 13 {
		t.Errorf("threads = %d, want 13", got)
	}
	if got := counterTotal(rm, "volley.dispatch.rejected"); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestMetricsExtension_ChangeHooks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnModeChanged(ctx, volley.ModeReplenish, volley.ModeExtract)
	_ = e.OnTargetChanged(ctx, "n00dles", "foodnstuff")
	_ = e.OnPlanChanged(ctx, "a", report.Committed{}, report.Committed{PlanKey: "k"})
	_ = e.OnPlanChanged(ctx, "b", report.Committed{}, report.Committed{PlanKey: "k"})
	_ = e.OnNodeCancelled(ctx, "a", nil)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"volley.mode.changed":   1,
		"volley.target.changed": 1,
		"volley.plan.changed":   2,
		"volley.node.cancelled": 1,
	} {
		if got := counterTotal(rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	r.EmitDispatchLaunched(context.Background(), report.Launch{Threads: 3, Key: fleet.DispatchKey{Kind: volley.Stabilize}})

	if got := counterTotal(collect(t, reader), "volley.threads.launched"); got != 3 {
		t.Errorf("threads via registry = %d, want 3", got)
	}
}

func TestMetricsExtension_DefaultMeterSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnTickCompleted(context.Background(), &report.Report{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnDispatchRejected(context.Background(), report.Rejection{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
