// Package alloc converts a node's free capacity into a per-kind thread
// plan. [Allocate] is deterministic and pure:
//
//  1. Weighted split: each mode assigns fixed weights to the three kinds
//     and every weighted kind receives floor(free*weight/cost) threads.
//  2. Minimum viable: a weighted kind that rounded to zero gets one thread
//     if a single unit fits in free capacity.
//  3. Fit correction: while the plan overshoots free capacity, the
//     non-zero kind with the highest unit cost loses a thread.
//  4. Greedy backfill: leftover capacity is filled one thread at a time,
//     trying the mode's primary kind, then Stabilize, Replenish, Extract.
//
// The returned plan never costs more than the free capacity it was given.
package alloc
