// Package volley provides a closed-loop batch dispatch scheduler for Go.
// It drives a fleet of compute nodes against a single remote target: each
// tick it picks an operation mode, packs every node's free capacity with a
// mode-weighted thread split, staggers start delays so launched work
// finishes in a fixed order, and tears down stale work whenever the plan
// changes.
//
// Volley is designed as a library. The root package holds the shared
// vocabulary (operation kinds, modes, per-kind vectors), configuration and
// sentinel errors. Subsystems live in their own packages:
//
//   - target: target selection, state snapshots and mode recommendation
//   - timing: start delays, delay bucketing and plan keys
//   - alloc: the capacity allocator
//   - controller: the dispatch control loop and per-node plan memory
//   - telemetry: windowed fleet signals for observability
//   - fleet: execution and capacity collaborator interfaces and backends
//
// # Quick Start
//
//	cfg := volley.DefaultConfig()
//	eng, err := engine.New(cfg, targets, executor, capacity,
//	    engine.WithLogger(logger),
//	)
//	if err != nil { ... }
//	err = eng.Start(ctx)
//
// # Operation kinds
//
// Every dispatch is one of three kinds. Extract harvests yield from the
// target, Replenish restores yield, and Stabilize brings the target's
// security level back toward its minimum. The controller favors one of
// them at a time according to the current [Mode].
package volley
