package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/volley"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.TickCompleted    = (*MetricsExtension)(nil)
	_ ext.ModeChanged      = (*MetricsExtension)(nil)
	_ ext.TargetChanged    = (*MetricsExtension)(nil)
	_ ext.PlanChanged      = (*MetricsExtension)(nil)
	_ ext.NodeCancelled    = (*MetricsExtension)(nil)
	_ ext.DispatchLaunched = (*MetricsExtension)(nil)
	_ ext.DispatchRejected = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/volley/observability"

// MetricsExtension records controller metrics through an OTel meter.
// Register it as a volley extension to track tick counts, launch and
// rejection rates, cancellations, plan churn and fleet utilization.
type MetricsExtension struct {
	Ticks            metric.Int64Counter
	ThreadsLaunched  metric.Int64Counter
	DispatchLaunched metric.Int64Counter
	DispatchRejected metric.Int64Counter
	NodesCancelled   metric.Int64Counter
	PlanChanges      metric.Int64Counter
	ModeChanges      metric.Int64Counter
	TargetChanges    metric.Int64Counter
	Utilization      metric.Float64Gauge
	YieldRatio       metric.Float64Gauge
	SecurityDelta    metric.Float64Gauge
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit)) //nolint:errcheck // noop fallback
		return c
	}
	gauge := func(name, desc string) metric.Float64Gauge {
		g, _ := meter.Float64Gauge(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return g
	}
	return &MetricsExtension{
		Ticks:            counter("volley.ticks", "Controller ticks completed", "{tick}"),
		ThreadsLaunched:  counter("volley.threads.launched", "Threads launched", "{thread}"),
		DispatchLaunched: counter("volley.dispatch.launched", "Dispatches launched", "{dispatch}"),
		DispatchRejected: counter("volley.dispatch.rejected", "Dispatch launches refused by the executor", "{dispatch}"),
		NodesCancelled:   counter("volley.node.cancelled", "Nodes whose dispatches were cancelled", "{node}"),
		PlanChanges:      counter("volley.plan.changed", "Committed plan changes", "{change}"),
		ModeChanges:      counter("volley.mode.changed", "Recommended mode changes", "{change}"),
		TargetChanges:    counter("volley.target.changed", "Target switches", "{change}"),
		Utilization:      gauge("volley.fleet.utilization", "Fleet used over total capacity"),
		YieldRatio:       gauge("volley.target.yield_ratio", "Target current over max yield"),
		SecurityDelta:    gauge("volley.target.security_delta", "Target security above its minimum"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Tick hooks ──────────────────────────────────────

// OnTickCompleted implements ext.TickCompleted.
func (m *MetricsExtension) OnTickCompleted(ctx context.Context, r *report.Report) error {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(r.Mode)),
		attribute.String("target", string(r.Snapshot.ID)),
	)
	m.Ticks.Add(ctx, 1, attrs)

	if total, used := r.Fleet(); total > 0 {
		m.Utilization.Record(ctx, used/total)
	}
	tgt := metric.WithAttributes(attribute.String("target", string(r.Snapshot.ID)))
	m.YieldRatio.Record(ctx, r.Snapshot.YieldRatio(), tgt)
	m.SecurityDelta.Record(ctx, r.Snapshot.SecurityDelta(), tgt)
	return nil
}

// OnModeChanged implements ext.ModeChanged.
func (m *MetricsExtension) OnModeChanged(ctx context.Context, _, to volley.Mode) error {
	m.ModeChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(to))))
	return nil
}

// OnTargetChanged implements ext.TargetChanged.
func (m *MetricsExtension) OnTargetChanged(ctx context.Context, _, _ target.ID) error {
	m.TargetChanges.Add(ctx, 1)
	return nil
}

// ── Node hooks ──────────────────────────────────────

// OnPlanChanged implements ext.PlanChanged.
func (m *MetricsExtension) OnPlanChanged(ctx context.Context, _ fleet.NodeID, _, _ report.Committed) error {
	m.PlanChanges.Add(ctx, 1)
	return nil
}

// OnNodeCancelled implements ext.NodeCancelled.
func (m *MetricsExtension) OnNodeCancelled(ctx context.Context, _ fleet.NodeID, _ []report.Cancel) error {
	m.NodesCancelled.Add(ctx, 1)
	return nil
}

// OnDispatchLaunched implements ext.DispatchLaunched.
func (m *MetricsExtension) OnDispatchLaunched(ctx context.Context, l report.Launch) error {
	attrs := metric.WithAttributes(attribute.String("kind", string(l.Key.Kind)))
	m.DispatchLaunched.Add(ctx, 1, attrs)
	m.ThreadsLaunched.Add(ctx, int64(l.Threads), attrs)
	return nil
}

// OnDispatchRejected implements ext.DispatchRejected.
func (m *MetricsExtension) OnDispatchRejected(ctx context.Context, r report.Rejection) error {
	m.DispatchRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(r.Key.Kind))))
	return nil
}
