package timing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/volley"
)

// Plan holds the start delay of each operation kind.
type Plan struct {
	Extract   time.Duration `json:"extract"`
	Stabilize time.Duration `json:"stabilize"`
	Replenish time.Duration `json:"replenish"`
}

// Get returns the delay for kind k.
func (p Plan) Get(k volley.Kind) time.Duration {
	switch k {
	case volley.Extract:
		return p.Extract
	case volley.Stabilize:
		return p.Stabilize
	case volley.Replenish:
		return p.Replenish
	}
	return 0
}

// Compute returns the raw start delays for the given durations.
func Compute(d volley.Durations, spacer time.Duration) Plan {
	anchor := d.Stabilize
	return Plan{
		Extract:   max(0, anchor-d.Extract),
		Stabilize: max(0, anchor+spacer-d.Stabilize),
		Replenish: max(0, anchor+2*spacer-d.Replenish),
	}
}

// Bucket rounds d to the nearest multiple of step, halves away from zero.
// A non-positive step returns d unchanged.
func Bucket(d, step time.Duration) time.Duration {
	if step <= 0 {
		return d
	}
	return time.Duration(math.Round(float64(d)/float64(step))) * step
}

// Bucketed returns the plan with every delay rounded to step.
func (p Plan) Bucketed(step time.Duration) Plan {
	return Plan{
		Extract:   Bucket(p.Extract, step),
		Stabilize: Bucket(p.Stabilize, step),
		Replenish: Bucket(p.Replenish, step),
	}
}

// Key fingerprints a target, its bucketed delays and the mode. Equal
// inputs always produce equal keys and a change to any input changes it,
// down to a nanosecond of delay.
func Key(target string, bucketed Plan, mode volley.Mode) string {
	return fmt.Sprintf("%s|e%s|s%s|r%s|%s",
		target,
		keyMillis(bucketed.Extract),
		keyMillis(bucketed.Stabilize),
		keyMillis(bucketed.Replenish),
		mode,
	)
}

// keyMillis renders d in milliseconds, with a fractional part only when d
// is not a whole millisecond.
func keyMillis(d time.Duration) string {
	ms := d / time.Millisecond
	rem := d % time.Millisecond
	if rem == 0 {
		return strconv.FormatInt(int64(ms), 10)
	}
	if rem < 0 {
		rem = -rem
	}
	frac := strings.TrimRight(fmt.Sprintf("%06d", int64(rem)), "0")
	sign := ""
	if d < 0 && ms == 0 {
		sign = "-"
	}
	return sign + strconv.FormatInt(int64(ms), 10) + "." + frac
}

// CheckAnchor reports ErrAnchorNotLongest when Extract or Replenish
// outlasts Stabilize. The delays stay usable but the clamp at zero
// collapses the intended stagger.
func CheckAnchor(d volley.Durations) error {
	if d.Extract > d.Stabilize || d.Replenish > d.Stabilize {
		return fmt.Errorf("%w: extract %s, replenish %s, stabilize %s",
			volley.ErrAnchorNotLongest, d.Extract, d.Replenish, d.Stabilize)
	}
	return nil
}

// LateKinds returns the kinds whose raw delay differs from its bucketed
// delay by more than one tick.
func LateKinds(raw, bucketed Plan, tick time.Duration) []volley.Kind {
	var late []volley.Kind
	for _, k := range volley.Kinds {
		diff := raw.Get(k) - bucketed.Get(k)
		if diff < 0 {
			diff = -diff
		}
		if diff > tick {
			late = append(late, k)
		}
	}
	return late
}
