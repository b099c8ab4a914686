// Package backoff provides wait strategies and a clock-driven poll loop.
// The controller uses them to wait for cancelled dispatches to drain on
// executors that stop work asynchronously. Strategies are stateless and
// safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/xraph/volley/clock"
)

// Strategy computes the wait before poll attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the wait each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(max(attempt, 1)-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the strategy used for cancel settling:
// Exponential with 25ms initial and 1s max.
func DefaultStrategy() Strategy {
	return NewExponential(25*time.Millisecond, time.Second)
}

// ──────────────────────────────────────────────────
// Poll
// ──────────────────────────────────────────────────

// Poll calls done until it reports true, an error, or attempts polls have
// run, sleeping on clk between polls as s dictates. It reports whether done
// returned true. Attempts below one poll once.
func Poll(ctx context.Context, clk clock.Clock, s Strategy, attempts int, done func(context.Context) (bool, error)) (bool, error) {
	attempts = max(attempts, 1)
	for n := 1; ; n++ {
		ok, err := done(ctx)
		if err != nil || ok {
			return ok, err
		}
		if n >= attempts {
			return false, nil
		}
		if err := clk.Sleep(ctx, s.Delay(n)); err != nil {
			return false, err
		}
	}
}
