// Package observability provides an OpenTelemetry metrics extension for
// volley. The MetricsExtension implements controller hooks to record
// counters for ticks, launches, rejections, cancels and plan, mode and
// target changes, and gauges for fleet utilization and target state.
//
// For per-tick tracing and timing, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
