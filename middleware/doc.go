// Package middleware provides composable middleware around controller ticks.
//
// A [Middleware] is a function that wraps one tick of the dispatch loop.
// Middleware are composed into a chain using [Chain] and applied around
// every tick. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs tick sequence, mode, launches and duration
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: bounds a tick with a deadline
//   - [Tracing]: wraps each tick in an OpenTelemetry span
//   - [Metrics]: records tick duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, t *middleware.Tick, next middleware.Handler) error {
//	        err := next(ctx)
//	        if t.Report != nil {
//	            // inspect what the tick did
//	        }
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
