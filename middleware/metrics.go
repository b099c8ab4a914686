package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for volley metrics.
const meterName = "github.com/xraph/volley"

// Metrics returns middleware that records per-tick metrics using the
// global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - volley.tick.duration (Float64Histogram): tick time in seconds,
//     with attributes: mode, status ("ok" or "error")
//   - volley.tick.executions (Int64Counter): total ticks,
//     with attributes: mode, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, dErr := meter.Float64Histogram(
		"volley.tick.duration",
		metric.WithDescription("Duration of controller ticks in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"volley.tick.executions",
		metric.WithDescription("Total number of controller ticks"),
		metric.WithUnit("{tick}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, t *Tick, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		mode := "unknown"
		if t.Report != nil {
			mode = string(t.Report.Mode)
		}

		attrs := metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
