// Package controller is the closed-loop dispatch controller.
//
// Every tick the controller reads one target snapshot, derives the mode and
// the bucketed start delays from it, and then walks the fleet node by node:
//
//  1. compare the node's remembered (target, mode, plan key) with the new
//     one and cancel every kind on the node when they differ
//  2. re-read the node's capacity if anything was cancelled
//  3. allocate threads over the node's free capacity
//  4. launch each kind unless a live dispatch already carries the exact
//     same DispatchKey
//  5. commit the new plan to memory
//
// Launching is idempotent: ticks with an unchanged plan key find their
// dispatches live and launch nothing. The controller never waits for
// dispatched work to finish.
//
// The pure parts of a node step, Decide and Launches, are exported so they
// can be tested without collaborators. Tick composes them with the fleet's
// I/O and records everything it did in a report.Report.
package controller
