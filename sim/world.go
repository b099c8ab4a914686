package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/target"
)

// Compile-time interface check.
var _ target.Source = (*World)(nil)

// Effect sizes per completed thread.
const (
	extractFraction   = 0.002
	extractSecurity   = 0.002
	replenishGrowth   = 0.004
	replenishSecurity = 0.004
	stabilizeAmount   = 0.05

	// slowdown is the duration penalty per point of security delta.
	slowdown = 0.1
)

// Spec describes a simulated target.
type Spec struct {
	ID            target.ID `json:"id" yaml:"id"`
	MaxYield      float64   `json:"max_yield" yaml:"max_yield"`
	MinSecurity   float64   `json:"min_security" yaml:"min_security"`
	RequiredLevel int       `json:"required_level" yaml:"required_level"`
	Locked        bool      `json:"locked" yaml:"locked"`

	// BaseExtract is the Extract duration at minimum security. Replenish
	// takes 3.2 times as long and Stabilize 4 times.
	BaseExtract time.Duration `json:"base_extract" yaml:"base_extract"`

	// Yield and Security are the starting state. Zero values start the
	// target at a quarter of its max yield and twice its min security.
	Yield    float64 `json:"yield" yaml:"yield"`
	Security float64 `json:"security" yaml:"security"`
}

// DefaultSpecs returns a small ladder of targets.
func DefaultSpecs() []Spec {
	return []Spec{
		{ID: "n00dles", MaxYield: 1.75e6, MinSecurity: 1, RequiredLevel: 1, BaseExtract: 2 * time.Second},
		{ID: "joesguns", MaxYield: 2.5e7, MinSecurity: 5, RequiredLevel: 10, BaseExtract: 8 * time.Second},
		{ID: "phantasy", MaxYield: 6e8, MinSecurity: 7, RequiredLevel: 100, BaseExtract: 30 * time.Second},
	}
}

type simTarget struct {
	spec     Spec
	yield    float64
	security float64
	applied  [3]int
}

func (t *simTarget) state() target.State {
	f := 1 + slowdown*max(0, t.security-t.spec.MinSecurity)
	base := time.Duration(float64(t.spec.BaseExtract) * f)
	return target.State{
		CurrentYield:  t.yield,
		MaxYield:      t.spec.MaxYield,
		SecurityLevel: t.security,
		MinSecurity:   t.spec.MinSecurity,
		Durations: volley.Durations{
			Extract:   base,
			Replenish: time.Duration(float64(base) * 3.2),
			Stabilize: 4 * base,
		},
	}
}

// World is a set of simulated targets. It implements target.Source and is
// safe for concurrent use.
type World struct {
	mu      sync.Mutex
	level   int
	order   []target.ID
	targets map[target.ID]*simTarget
}

// NewWorld creates a world at the given access level.
func NewWorld(level int, specs ...Spec) *World {
	w := &World{level: level, targets: make(map[target.ID]*simTarget, len(specs))}
	for _, s := range specs {
		t := &simTarget{spec: s, yield: s.Yield, security: s.Security}
		if t.yield == 0 {
			t.yield = s.MaxYield / 4
		}
		if t.security == 0 {
			t.security = 2 * s.MinSecurity
		}
		w.order = append(w.order, s.ID)
		w.targets[s.ID] = t
	}
	return w
}

// SetAccessLevel changes the level compared against RequiredLevel.
func (w *World) SetAccessLevel(level int) {
	w.mu.Lock()
	w.level = level
	w.mu.Unlock()
}

// Candidates implements target.Source.
func (w *World) Candidates(_ context.Context) ([]target.Candidate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]target.Candidate, 0, len(w.order))
	for _, tid := range w.order {
		s := w.targets[tid].spec
		out = append(out, target.Candidate{
			ID:            s.ID,
			MaxYield:      s.MaxYield,
			RequiredLevel: s.RequiredLevel,
			Authorized:    !s.Locked,
		})
	}
	return out, nil
}

// AccessLevel implements target.Source.
func (w *World) AccessLevel(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.level, nil
}

// State implements target.Source.
func (w *World) State(_ context.Context, tid target.ID) (target.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[tid]
	if !ok {
		return target.State{}, fmt.Errorf("sim: unknown target %q", tid)
	}
	return t.state(), nil
}

// Apply runs one completed operation of threads threads against a target.
func (w *World) Apply(tid target.ID, kind volley.Kind, threads int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[tid]
	if !ok {
		return fmt.Errorf("sim: unknown target %q", tid)
	}
	n := float64(threads)
	switch kind {
	case volley.Extract:
		t.yield -= t.yield * min(1, extractFraction*n)
		t.security += extractSecurity * n
		t.applied[0] += threads
	case volley.Replenish:
		t.yield = min(t.spec.MaxYield, t.yield*(1+replenishGrowth*n)+n)
		t.security += replenishSecurity * n
		t.applied[1] += threads
	case volley.Stabilize:
		t.security = max(t.spec.MinSecurity, t.security-stabilizeAmount*n)
		t.applied[2] += threads
	default:
		return fmt.Errorf("sim: unknown kind %q", kind)
	}
	return nil
}

// Applied returns how many threads of each kind have completed against a
// target.
func (w *World) Applied(tid target.ID) volley.Threads {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[tid]
	if !ok {
		return volley.Threads{}
	}
	return volley.Threads{Extract: t.applied[0], Replenish: t.applied[1], Stabilize: t.applied[2]}
}
