package alloc

import "github.com/xraph/volley"

// Weights is the share of free capacity a mode gives each kind.
type Weights struct {
	Extract   float64 `json:"extract"`
	Replenish float64 `json:"replenish"`
	Stabilize float64 `json:"stabilize"`
}

// Get returns the weight of kind k.
func (w Weights) Get(k volley.Kind) float64 {
	switch k {
	case volley.Extract:
		return w.Extract
	case volley.Replenish:
		return w.Replenish
	case volley.Stabilize:
		return w.Stabilize
	}
	return 0
}

// WeightsFor returns the split used in mode m.
func WeightsFor(m volley.Mode) Weights {
	switch m {
	case volley.ModeStabilize:
		return Weights{Extract: 0, Replenish: 0.10, Stabilize: 0.90}
	case volley.ModeReplenish:
		return Weights{Extract: 0.05, Replenish: 0.70, Stabilize: 0.25}
	case volley.ModeExtract:
		return Weights{Extract: 0.60, Replenish: 0.20, Stabilize: 0.20}
	}
	return Weights{}
}
