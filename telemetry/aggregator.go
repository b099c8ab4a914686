package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/volley"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/report"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Aggregator)(nil)
	_ ext.TickCompleted = (*Aggregator)(nil)
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger closed windows are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithThresholds sets the bands that define a productive tick and drive
// the mode-flip estimate.
func WithThresholds(th volley.Thresholds) Option {
	return func(a *Aggregator) { a.thresholds = th }
}

// WithSchedule sets the cron expression that closes windows.
func WithSchedule(expr string) Option {
	return func(a *Aggregator) { a.expr = expr }
}

// Aggregator folds tick reports into windows.
type Aggregator struct {
	logger *slog.Logger

	mu         sync.Mutex
	expr       string
	schedule   cronlib.Schedule
	thresholds volley.Thresholds
	current    *Window
	closeAt    time.Time
	last       *Window
	closed     int
}

// New creates an Aggregator. The default schedule is "@every 30s".
func New(opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		logger:     slog.Default(),
		expr:       "@every 30s",
		thresholds: volley.DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(a)
	}
	s, err := ParseSchedule(a.expr)
	if err != nil {
		return nil, err
	}
	a.schedule = s
	return a, nil
}

// Name implements ext.Extension.
func (a *Aggregator) Name() string { return "telemetry" }

// OnTickCompleted implements ext.TickCompleted.
func (a *Aggregator) OnTickCompleted(_ context.Context, rep *report.Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && !rep.At.Before(a.closeAt) {
		a.closeWindow()
	}
	if a.current == nil {
		a.current = newWindow(rep.At)
		a.closeAt = a.schedule.Next(rep.At)
	}
	a.current.observe(rep, a.thresholds)
	return nil
}

// closeWindow archives the open window. Caller holds mu.
func (a *Aggregator) closeWindow() {
	w := a.current
	a.last, a.current = w, nil
	a.closed++

	attrs := []any{
		slog.Time("start", w.Start),
		slog.Time("end", w.End),
		slog.Int("ticks", w.Ticks),
		slog.String("target", string(w.Target)),
		slog.String("mode", string(w.Mode)),
		slog.Float64("productive_uptime", w.ProductiveUptime),
		slog.Float64("utilization_mean", w.UtilizationMean),
		slog.Float64("fragmentation", w.Capacity.Fragmentation),
		slog.Int("launches", w.Launches),
		slog.Int("cancels", w.Cancels),
		slog.Int("rejections", w.Rejections),
		slog.Int("duplicates", w.Duplicates),
		slog.Int("late", w.Late),
	}
	if w.ETA != nil && w.ETA.Finite {
		attrs = append(attrs,
			slog.String("next_mode", string(w.ETA.Next)),
			slog.Duration("next_mode_eta", w.ETA.ETA),
		)
	}
	a.logger.Info("telemetry window closed", attrs...)
}

// Current returns a copy of the open window, or false before the first
// report.
func (a *Aggregator) Current() (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Window{}, false
	}
	return a.current.clone(), true
}

// Last returns a copy of the most recently closed window, or false if no
// window has closed yet.
func (a *Aggregator) Last() (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Window{}, false
	}
	return a.last.clone(), true
}

// Closed returns how many windows have closed.
func (a *Aggregator) Closed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Reconfigure swaps the schedule and thresholds. The open window keeps its
// close time; the new schedule applies from the next window.
func (a *Aggregator) Reconfigure(expr string, th volley.Thresholds) error {
	s, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.expr, a.schedule, a.thresholds = expr, s, th
	a.mu.Unlock()
	return nil
}
