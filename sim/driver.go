package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/fleet/memory"
	"github.com/xraph/volley/report"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Driver)(nil)
	_ ext.TickCompleted = (*Driver)(nil)
)

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// Driver completes the dispatches of an in-memory fleet against a World.
type Driver struct {
	fleet  *memory.Fleet
	world  *World
	logger *slog.Logger

	mu        sync.Mutex
	due       map[fleet.Handle]time.Time
	completed int
}

// NewDriver creates a driver for f and w.
func NewDriver(f *memory.Fleet, w *World, opts ...DriverOption) *Driver {
	d := &Driver{
		fleet:  f,
		world:  w,
		logger: slog.Default(),
		due:    make(map[fleet.Handle]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements ext.Extension.
func (d *Driver) Name() string { return "sim-driver" }

// OnTickCompleted implements ext.TickCompleted by stepping to the tick's
// timestamp.
func (d *Driver) OnTickCompleted(ctx context.Context, rep *report.Report) error {
	d.Step(ctx, rep.At)
	return nil
}

// Step completes every dispatch due at or before now and returns how many
// it completed. A dispatch's due time is fixed the first time the driver
// sees it, from the target's durations at that moment.
func (d *Driver) Step(ctx context.Context, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	live := d.fleet.All()
	seen := make(map[fleet.Handle]struct{}, len(live))
	n := 0
	for _, ds := range live {
		seen[ds.Handle] = struct{}{}
		due, ok := d.due[ds.Handle]
		if !ok {
			st, err := d.world.State(ctx, ds.Key.Target)
			if err != nil {
				d.logger.Warn("sim: dispatch against unknown target",
					slog.String("handle", string(ds.Handle)),
					slog.String("error", err.Error()),
				)
				continue
			}
			due = ds.Started.Add(ds.Key.Delay + st.Durations.Get(ds.Key.Kind))
			d.due[ds.Handle] = due
		}
		if now.Before(due) {
			continue
		}
		if err := d.world.Apply(ds.Key.Target, ds.Key.Kind, ds.Threads); err != nil {
			d.logger.Warn("sim: apply failed", slog.String("error", err.Error()))
		}
		if err := d.fleet.Complete(ds.Handle); err != nil {
			d.logger.Warn("sim: complete failed", slog.String("error", err.Error()))
		}
		delete(d.due, ds.Handle)
		n++
	}
	for h := range d.due {
		if _, ok := seen[h]; !ok {
			delete(d.due, h)
		}
	}
	d.completed += n
	if n > 0 {
		d.logger.Debug("sim: dispatches completed", slog.Int("count", n))
	}
	return n
}

// Completed returns how many dispatches the driver has completed.
func (d *Driver) Completed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// Pending returns how many dispatches the driver is tracking.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.due)
}
