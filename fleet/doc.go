// Package fleet defines the collaborator interfaces the controller drives:
// an [Executor] that lists, launches and cancels dispatches on nodes, and
// a [Capacity] source that reports each node's total and used capacity.
//
// A dispatch is identified by its [DispatchKey], the exact argument tuple
// it was launched with. Two dispatches with equal keys on one node are the
// same logical batch; the controller's existence check is a key lookup.
//
// Backends:
//
//   - fleet/memory: an in-process ledger used by tests and the simulator
//   - fleet/redis: a Redis-backed ledger shared with external workers
//   - fleet/k8s: a capacity source backed by Kubernetes node allocatable
package fleet
