// Package sim simulates the world the controller acts on: a set of
// targets whose yield and security respond to completed operations, and a
// driver that plays the worker contract against an in-memory fleet.
//
// A worker launched with (target, delay, mode, plan key) sleeps delay,
// runs one operation and exits. The Driver models this by completing each
// dispatch at Started + Delay + the operation's duration and applying the
// operation's effect to the target. Registered as an extension, it steps
// after every controller tick at the tick's timestamp, so a controller on
// a fake clock drives a fully deterministic simulation.
package sim
