package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the tick.
// Panics are converted to errors and logged with a stack trace, so one
// bad tick never takes the loop down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *Tick, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tick panicked",
					slog.Uint64("seq", t.Seq),
					slog.String("tick_id", t.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in tick %d: %v", t.Seq, r)
			}
		}()
		return next(ctx)
	}
}
