package volley

import (
	"fmt"
	"time"
)

// Thresholds hold the mode-selection bands. Slack and HardSlack are
// security-delta bands; the gap between them is a dead zone that resolves
// security fixes in two tiers.
type Thresholds struct {
	// MoneyFloor is the yield ratio below which the target needs Replenish.
	MoneyFloor float64 `json:"money_floor" yaml:"money_floor"`

	// Slack is the mild security-delta band.
	Slack float64 `json:"slack" yaml:"slack"`

	// HardSlack is the security delta above which Stabilize always wins.
	HardSlack float64 `json:"hard_slack" yaml:"hard_slack"`
}

// DefaultThresholds returns the standard mode-selection bands.
func DefaultThresholds() Thresholds {
	return Thresholds{MoneyFloor: 0.90, Slack: 3, HardSlack: 5}
}

// Config holds the scheduler tunables.
type Config struct {
	// Tick is the controller poll period.
	Tick time.Duration `json:"tick" yaml:"tick"`

	// Spacer separates the anchored finish times of consecutive kinds.
	Spacer time.Duration `json:"spacer" yaml:"spacer"`

	// DelayBucket is the grid start delays are rounded to before they
	// feed the plan key.
	DelayBucket time.Duration `json:"delay_bucket" yaml:"delay_bucket"`

	// Thresholds are the mode-selection bands.
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`

	// DefaultTarget is used when no candidate target qualifies.
	DefaultTarget string `json:"default_target" yaml:"default_target"`

	// PinnedTarget, when set, bypasses target selection entirely.
	PinnedTarget string `json:"pinned_target,omitempty" yaml:"pinned_target"`

	// TelemetrySchedule is the cron expression that closes telemetry
	// windows, e.g. "@every 30s".
	TelemetrySchedule string `json:"telemetry_schedule" yaml:"telemetry_schedule"`

	// TickTimeout bounds a single tick. Zero disables the deadline.
	TickTimeout time.Duration `json:"tick_timeout" yaml:"tick_timeout"`

	// ShutdownTimeout is the maximum time Stop waits for the loop to exit.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:              250 * time.Millisecond,
		Spacer:            200 * time.Millisecond,
		DelayBucket:       50 * time.Millisecond,
		Thresholds:        DefaultThresholds(),
		DefaultTarget:     "n00dles",
		TelemetrySchedule: "@every 30s",
		TickTimeout:       10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate rejects configurations the controller cannot run with.
// Configurations that run with degraded timing are reported by Warnings.
func (c Config) Validate() error {
	switch {
	case c.Tick <= 0:
		return fmt.Errorf("%w: tick must be positive, got %s", ErrInvalidConfig, c.Tick)
	case c.Spacer < 0:
		return fmt.Errorf("%w: spacer must not be negative, got %s", ErrInvalidConfig, c.Spacer)
	case c.DelayBucket < 0:
		return fmt.Errorf("%w: delay bucket must not be negative, got %s", ErrInvalidConfig, c.DelayBucket)
	case c.Thresholds.MoneyFloor < 0 || c.Thresholds.MoneyFloor > 1:
		return fmt.Errorf("%w: money floor must be within [0,1], got %g", ErrInvalidConfig, c.Thresholds.MoneyFloor)
	case c.Thresholds.Slack < 0:
		return fmt.Errorf("%w: slack must not be negative, got %g", ErrInvalidConfig, c.Thresholds.Slack)
	case c.Thresholds.Slack > c.Thresholds.HardSlack:
		return fmt.Errorf("%w: slack %g exceeds hard slack %g", ErrInvalidConfig, c.Thresholds.Slack, c.Thresholds.HardSlack)
	case c.DefaultTarget == "":
		return fmt.Errorf("%w: default target is required", ErrInvalidConfig)
	}
	return nil
}

// Warnings reports tunable combinations that keep the scheduler running
// but degrade its timing stability.
func (c Config) Warnings() []string {
	var warns []string
	if c.Spacer < c.Tick {
		warns = append(warns, fmt.Sprintf(
			"spacer %s is shorter than tick %s: consecutive finishes can land inside one loop period",
			c.Spacer, c.Tick))
	}
	if c.DelayBucket > c.Spacer {
		warns = append(warns, fmt.Sprintf(
			"delay bucket %s is larger than spacer %s: bucketing can reorder finishes",
			c.DelayBucket, c.Spacer))
	}
	return warns
}
