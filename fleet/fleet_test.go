package fleet_test

import (
	"testing"

	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
)

func TestNodeFree(t *testing.T) {
	if got := (fleet.Node{Total: 64, Used: 10}).Free(); got != 54 {
		t.Errorf("free = %g, want 54", got)
	}
	if got := (fleet.Node{Total: 8, Used: 10}).Free(); got != 0 {
		t.Errorf("overcommitted free = %g, want 0", got)
	}
}

func TestIndexAndCounts(t *testing.T) {
	k1 := fleet.DispatchKey{Target: "t", Kind: volley.Extract, Mode: volley.ModeExtract, PlanKey: "p"}
	k2 := k1
	k2.Kind = volley.Stabilize

	ds := []fleet.Dispatch{
		{Handle: "a", Key: k1, Threads: 3},
		{Handle: "b", Key: k1, Threads: 2},
		{Handle: "c", Key: k2, Threads: 5},
	}

	idx := fleet.Index(ds)
	if len(idx) != 2 {
		t.Fatalf("index size = %d, want 2", len(idx))
	}
	if idx[k1].Handle != "a" {
		t.Errorf("first duplicate should win, got %s", idx[k1].Handle)
	}

	counts := fleet.CountByKind(ds)
	if counts[volley.Extract] != 2 || counts[volley.Stabilize] != 1 {
		t.Errorf("counts = %v", counts)
	}

	threads := fleet.ThreadsByKind(ds)
	if threads.Extract != 5 || threads.Stabilize != 5 || threads.Replenish != 0 {
		t.Errorf("threads = %+v", threads)
	}
}
