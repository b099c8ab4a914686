package alloc

import (
	"math"

	"github.com/xraph/volley"
)

// epsilon absorbs float rounding when comparing committed cost to free
// capacity, e.g. 0.1+0.2 against 0.3.
const epsilon = 1e-9

// maxThreads caps the threads of one kind in a plan, keeping counts far
// from int overflow whatever the free/cost ratio.
const maxThreads = math.MaxInt32

// trimOrder breaks unit-cost ties when trimming: Extract goes first.
var trimOrder = [...]volley.Kind{volley.Extract, volley.Replenish, volley.Stabilize}

// Allocate splits free capacity into a thread plan for mode.
func Allocate(free float64, costs volley.Costs, mode volley.Mode) volley.Threads {
	var plan volley.Threads
	if !(free > 0) || math.IsInf(free, 1) {
		return plan
	}
	w := WeightsFor(mode)

	// Weighted split, then the minimum-viable bump.
	for _, k := range volley.Kinds {
		c := costs.Get(k)
		if w.Get(k) <= 0 || !usable(c) {
			continue
		}
		n := units(free*w.Get(k), c)
		if n == 0 && c <= free+epsilon {
			n = 1
		}
		plan.Set(k, n)
	}

	// Trim the most expensive kind until the plan fits.
	for plan.Cost(costs) > free+epsilon {
		k, ok := mostExpensive(plan, costs)
		if !ok {
			break
		}
		plan.Add(k, -1)
	}

	// Backfill leftover capacity. Remaining capacity only shrinks, so the
	// first kind in order that fits keeps fitting until it is exhausted.
	remaining := free - plan.Cost(costs)
	for _, k := range backfillOrder(mode) {
		c := costs.Get(k)
		if !usable(c) || c > remaining+epsilon {
			continue
		}
		n := min(units(remaining+epsilon, c), maxThreads-plan.Get(k))
		if n <= 0 {
			continue
		}
		plan.Add(k, n)
		remaining -= float64(n) * c
	}
	return plan
}

// units returns how many whole units of cost c fit in capacity, clamped to
// [0, maxThreads].
func units(capacity, c float64) int {
	r := math.Floor(capacity / c)
	switch {
	case math.IsNaN(r) || r <= 0:
		return 0
	case r >= maxThreads:
		return maxThreads
	}
	return int(r)
}

// mostExpensive returns the non-zero kind with the highest unit cost.
func mostExpensive(plan volley.Threads, costs volley.Costs) (volley.Kind, bool) {
	var (
		best     volley.Kind
		bestCost float64
		found    bool
	)
	for _, k := range trimOrder {
		if plan.Get(k) <= 0 {
			continue
		}
		if c := costs.Get(k); !found || c > bestCost {
			best, bestCost, found = k, c, true
		}
	}
	return best, found
}

// backfillOrder puts the mode's primary kind first, followed by
// Stabilize, Replenish and Extract.
func backfillOrder(mode volley.Mode) []volley.Kind {
	order := make([]volley.Kind, 0, 3)
	if p := mode.Primary(); p != "" {
		order = append(order, p)
	}
	for _, k := range [...]volley.Kind{volley.Stabilize, volley.Replenish, volley.Extract} {
		if k != mode.Primary() {
			order = append(order, k)
		}
	}
	return order
}

func usable(c float64) bool {
	return c > 0 && !math.IsInf(c, 1) && !math.IsNaN(c)
}
