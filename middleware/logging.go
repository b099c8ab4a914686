package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs every tick at Debug and failed
// ticks at Warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *Tick, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("tick failed",
				slog.Uint64("seq", t.Seq),
				slog.String("tick_id", t.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		attrs := []any{
			slog.Uint64("seq", t.Seq),
			slog.String("tick_id", t.ID),
			slog.Duration("elapsed", elapsed),
		}
		if r := t.Report; r != nil {
			attrs = append(attrs,
				slog.String("target", string(r.Snapshot.ID)),
				slog.String("mode", string(r.Mode)),
				slog.Int("cancels", len(r.Cancels)),
				slog.Int("launches", len(r.Launches)),
				slog.Int("rejections", len(r.Rejections)),
			)
		}
		logger.Debug("tick completed", attrs...)
		return nil
	}
}
