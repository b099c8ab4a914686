package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reports the current time and suspends the caller.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case. A non-positive d returns immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

// Compile-time interface checks.
var (
	_ Clock = Real{}
	_ Clock = (*Scaled)(nil)
	_ Clock = (*Fake)(nil)
)

// ──────────────────────────────────────────────────
// Real
// ──────────────────────────────────────────────────

// Real is the wall clock.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time { return time.Now() }

// Sleep implements Clock.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ──────────────────────────────────────────────────
// Scaled
// ──────────────────────────────────────────────────

// Scaled runs simulated time faster than wall time. With a scale of 60 one
// simulated minute passes per real second.
type Scaled struct {
	scale     float64
	startReal time.Time
	startSim  time.Time
}

// NewScaled creates a scaled clock starting at start. A non-positive scale
// is treated as 1.
func NewScaled(scale float64, start time.Time) *Scaled {
	if scale <= 0 {
		scale = 1
	}
	return &Scaled{scale: scale, startReal: time.Now(), startSim: start}
}

// Now implements Clock.
func (c *Scaled) Now() time.Time {
	elapsed := float64(time.Since(c.startReal)) * c.scale
	return c.startSim.Add(time.Duration(elapsed))
}

// Sleep implements Clock. The simulated duration is converted to wall time
// with a floor of one millisecond.
func (c *Scaled) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	wall := time.Duration(float64(d) / c.scale)
	if wall < time.Millisecond {
		wall = time.Millisecond
	}
	return sleep(ctx, wall)
}

// ──────────────────────────────────────────────────
// Fake
// ──────────────────────────────────────────────────

// Fake is a manually driven clock. Sleep advances the clock by the
// requested duration and returns at once, so a loop driven by a Fake runs
// as fast as the CPU allows while observing consistent virtual time.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(now time.Time)
}

// NewFake creates a fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now implements Clock.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep implements Clock.
func (c *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.sleeps = append(c.sleeps, d)
	now, hook := c.now, c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}
	return ctx.Err()
}

// OnSleep registers fn to run after every Sleep, outside the clock's lock.
// Tests use it to stop a loop after a number of iterations.
func (c *Fake) OnSleep(fn func(now time.Time)) {
	c.mu.Lock()
	c.onSleep = fn
	c.mu.Unlock()
}

// Sleeps returns the durations passed to Sleep so far.
func (c *Fake) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
