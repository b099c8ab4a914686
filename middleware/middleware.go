package middleware

import (
	"context"
	"time"

	"github.com/xraph/volley/report"
)

// Tick describes one iteration of the controller loop. Report is nil until
// the handler returns, and stays nil when the tick failed before
// producing one.
type Tick struct {
	ID      string
	Seq     uint64
	Started time.Time
	Report  *report.Report
}

// Handler is the terminal function that runs the tick.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. Middleware MUST
// call next to continue the chain (unless short-circuiting on error).
type Middleware func(ctx context.Context, t *Tick, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *Tick, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}
