// Package ext defines the extension system for volley.
//
// Extensions are notified of controller events and can react to them,
// recording metrics, aggregating telemetry or streaming events to clients.
// Each hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnDispatchLaunched(ctx context.Context, l report.Launch) error {
//	    log.Printf("launched %d %s threads on %s", l.Threads, l.Key.Kind, l.Node)
//	    return nil
//	}
//
// # Tick Hooks
//
//   - [TickCompleted]: a controller tick finished and produced a report
//   - [ModeChanged]: the recommended mode differs from the previous tick
//   - [TargetChanged]: target selection picked a different target
//
// # Node Hooks
//
//   - [PlanChanged]: a node's committed plan is about to be replaced
//   - [NodeCancelled]: every kind was cancelled on a node
//   - [DispatchLaunched]: a dispatch was started on a node
//   - [DispatchRejected]: the executor refused a launch
//
// # Other Hooks
//
//   - [Shutdown]: the controller is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hooks run synchronously on
// the controller loop and their errors are logged, never propagated.
package ext
