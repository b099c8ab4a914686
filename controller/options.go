package controller

import (
	"log/slog"
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/backoff"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/middleware"
)

// Tunables are the scheduler settings that can change while the controller
// runs. New values take effect on the next tick.
type Tunables struct {
	Tick        time.Duration     `json:"tick"`
	Spacer      time.Duration     `json:"spacer"`
	DelayBucket time.Duration     `json:"delay_bucket"`
	Thresholds  volley.Thresholds `json:"thresholds"`
}

// TunablesFrom extracts the tunables from a Config.
func TunablesFrom(cfg volley.Config) Tunables {
	return Tunables{
		Tick:        cfg.Tick,
		Spacer:      cfg.Spacer,
		DelayBucket: cfg.DelayBucket,
		Thresholds:  cfg.Thresholds,
	}
}

// Validate applies the Config validation rules to the tunables.
func (t Tunables) Validate() error { return t.config().Validate() }

// Warnings reports the Config timing warnings for the tunables.
func (t Tunables) Warnings() []string { return t.config().Warnings() }

func (t Tunables) config() volley.Config {
	cfg := volley.DefaultConfig()
	cfg.Tick = t.Tick
	cfg.Spacer = t.Spacer
	cfg.DelayBucket = t.DelayBucket
	cfg.Thresholds = t.Thresholds
	return cfg
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock sets the clock driving the loop.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithTunables sets the initial tunables.
func WithTunables(t Tunables) Option {
	return func(c *Controller) { c.tunables = t }
}

// WithExtensions sets the registry that receives lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Controller) { c.extensions = r }
}

// WithMiddleware appends middleware wrapped around every tick run by Run.
// The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Controller) { c.middleware = append(c.middleware, mws...) }
}

// WithCancelSettle makes the controller wait for cancelled dispatches to
// disappear before it re-reads capacity. The node's dispatch listing is
// polled up to polls times, sleeping between polls as s dictates. A nil s
// uses backoff.DefaultStrategy.
func WithCancelSettle(polls int, s backoff.Strategy) Option {
	return func(c *Controller) {
		if s == nil {
			s = backoff.DefaultStrategy()
		}
		c.settlePolls = polls
		c.settleStrategy = s
	}
}

// WithWarnRate bounds how often rejection and anchor warnings are logged:
// burst warnings at once, then one per every.
func WithWarnRate(every time.Duration, burst int) Option {
	return func(c *Controller) {
		c.warnEvery = every
		c.warnBurst = burst
	}
}
