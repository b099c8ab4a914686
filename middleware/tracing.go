package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for volley tracing.
const tracerName = "github.com/xraph/volley"

// Tracing returns middleware that wraps each tick in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is
// used and this middleware becomes a pass-through.
//
// The span starts with volley.tick.id and volley.tick.seq. Once the tick
// returns a report, volley.target, volley.mode, volley.plan_key and the
// launch, cancel and rejection counts are added.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *Tick, next Handler) error {
		ctx, span := tracer.Start(ctx, "volley.tick",
			trace.WithAttributes(
				attribute.String("volley.tick.id", t.ID),
				attribute.Int64("volley.tick.seq", int64(t.Seq)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if r := t.Report; r != nil {
			span.SetAttributes(
				attribute.String("volley.target", string(r.Snapshot.ID)),
				attribute.String("volley.mode", string(r.Mode)),
				attribute.String("volley.plan_key", r.PlanKey),
				attribute.Int("volley.launches", len(r.Launches)),
				attribute.Int("volley.cancels", len(r.Cancels)),
				attribute.Int("volley.rejections", len(r.Rejections)),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
