package volley

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies one of the three operation kinds a node can run.
type Kind string

// Operation kinds.
const (
	Extract   Kind = "extract"
	Replenish Kind = "replenish"
	Stabilize Kind = "stabilize"
)

// Kinds lists every operation kind in canonical order.
var Kinds = [...]Kind{Extract, Replenish, Stabilize}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case Extract, Replenish, Stabilize:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// ParseKind converts a kind tag back into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("volley: unknown operation kind %q", s)
	}
	return k, nil
}

// ──────────────────────────────────────────────────
// Per-kind vectors
// ──────────────────────────────────────────────────

// Costs holds the capacity consumed by one thread of each kind.
type Costs struct {
	Extract   float64 `json:"extract" yaml:"extract"`
	Replenish float64 `json:"replenish" yaml:"replenish"`
	Stabilize float64 `json:"stabilize" yaml:"stabilize"`
}

// Get returns the unit cost of kind k.
func (c Costs) Get(k Kind) float64 {
	switch k {
	case Extract:
		return c.Extract
	case Replenish:
		return c.Replenish
	case Stabilize:
		return c.Stabilize
	}
	return 0
}

// Validate reports an error unless every unit cost is positive and finite.
func (c Costs) Validate() error {
	for _, k := range Kinds {
		v := c.Get(k)
		if !(v > 0) || math.IsInf(v, 1) {
			return fmt.Errorf("%w: %s cost must be positive and finite, got %g", ErrInvalidConfig, k, v)
		}
	}
	return nil
}

// Cheapest returns the smallest positive unit cost, or 0 if none is positive.
func (c Costs) Cheapest() float64 {
	var lowest float64
	for _, k := range Kinds {
		v := c.Get(k)
		if v <= 0 {
			continue
		}
		if lowest == 0 || v < lowest {
			lowest = v
		}
	}
	return lowest
}

// Durations holds how long one operation of each kind takes against the
// current target.
type Durations struct {
	Extract   time.Duration `json:"extract"`
	Replenish time.Duration `json:"replenish"`
	Stabilize time.Duration `json:"stabilize"`
}

// Get returns the duration of kind k.
func (d Durations) Get(k Kind) time.Duration {
	switch k {
	case Extract:
		return d.Extract
	case Replenish:
		return d.Replenish
	case Stabilize:
		return d.Stabilize
	}
	return 0
}

// Threads is a per-kind thread count. Used as the allocator's output it is
// the node's thread plan for the tick.
type Threads struct {
	Extract   int `json:"extract"`
	Replenish int `json:"replenish"`
	Stabilize int `json:"stabilize"`
}

// Get returns the thread count of kind k.
func (t Threads) Get(k Kind) int {
	switch k {
	case Extract:
		return t.Extract
	case Replenish:
		return t.Replenish
	case Stabilize:
		return t.Stabilize
	}
	return 0
}

// Set stores n as the thread count of kind k.
func (t *Threads) Set(k Kind, n int) {
	switch k {
	case Extract:
		t.Extract = n
	case Replenish:
		t.Replenish = n
	case Stabilize:
		t.Stabilize = n
	}
}

// Add increments the thread count of kind k by n.
func (t *Threads) Add(k Kind, n int) { t.Set(k, t.Get(k)+n) }

// Total returns the sum of threads across all kinds.
func (t Threads) Total() int { return t.Extract + t.Replenish + t.Stabilize }

// Cost returns the capacity the plan consumes under the given unit costs.
func (t Threads) Cost(c Costs) float64 {
	return float64(t.Extract)*c.Extract +
		float64(t.Replenish)*c.Replenish +
		float64(t.Stabilize)*c.Stabilize
}

// IsZero reports whether no threads are planned.
func (t Threads) IsZero() bool { return t.Total() == 0 }
