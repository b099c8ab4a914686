// Package telemetry aggregates controller reports into windowed signals:
// fleet utilization and fragmentation, how many threads the fleet could
// run per kind, planned versus launched threads, duplicate workers, late
// launches, productive uptime and a mode-flip estimate.
//
// The Aggregator is an ext.TickCompleted extension and only observes
// reports; nothing it computes feeds back into dispatch. Windows close on
// a cron schedule evaluated against report timestamps, so a controller
// driven by a fake clock produces reproducible windows.
package telemetry
