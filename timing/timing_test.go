package timing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/timing"
)

const ms = time.Millisecond

func TestCompute_Scenario(t *testing.T) {
	d := volley.Durations{Extract: 800 * ms, Stabilize: 2000 * ms, Replenish: 1400 * ms}
	p := timing.Compute(d, 200*ms)

	want := timing.Plan{Extract: 1200 * ms, Stabilize: 200 * ms, Replenish: 1000 * ms}
	if p != want {
		t.Fatalf("Compute = %+v, want %+v", p, want)
	}

	// Every kind finishes at T + offset: extract at T, stabilize at T+spacer,
	// replenish at T+2*spacer.
	if p.Extract+d.Extract != 2000*ms ||
		p.Stabilize+d.Stabilize != 2200*ms ||
		p.Replenish+d.Replenish != 2400*ms {
		t.Errorf("finish times out of order: %+v", p)
	}
}

func TestCompute_ClampsAtZero(t *testing.T) {
	d := volley.Durations{Extract: 5000 * ms, Stabilize: 1000 * ms, Replenish: 3000 * ms}
	p := timing.Compute(d, 200*ms)
	if p.Extract != 0 || p.Replenish != 0 {
		t.Errorf("expected clamped delays, got %+v", p)
	}
	if p.Stabilize != 200*ms {
		t.Errorf("stabilize delay = %s, want 200ms", p.Stabilize)
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		in, step, want time.Duration
	}{
		{1200 * ms, 50 * ms, 1200 * ms},
		{1224 * ms, 50 * ms, 1200 * ms},
		{1225 * ms, 50 * ms, 1250 * ms},
		{1274 * ms, 50 * ms, 1250 * ms},
		{0, 50 * ms, 0},
		{1234 * ms, 0, 1234 * ms},
	}
	for _, tt := range tests {
		if got := timing.Bucket(tt.in, tt.step); got != tt.want {
			t.Errorf("Bucket(%s, %s) = %s, want %s", tt.in, tt.step, got, tt.want)
		}
	}
}

func TestBucket_AbsorbsSubBucketJitter(t *testing.T) {
	step := 100 * ms
	for center := 0 * ms; center <= 5000*ms; center += step {
		want := timing.Bucket(center, step)
		for jitter := -49 * ms; jitter <= 49*ms; jitter += 7 * ms {
			v := center + jitter
			if v < 0 {
				continue
			}
			if got := timing.Bucket(v, step); got != want {
				t.Fatalf("Bucket(%s) = %s, want %s (center %s)", v, got, want, center)
			}
		}
	}
}

func TestKey_Sensitivity(t *testing.T) {
	p := timing.Plan{Extract: 1200 * ms, Stabilize: 200 * ms, Replenish: 1000 * ms}
	base := timing.Key("n00dles", p, volley.ModeExtract)

	if again := timing.Key("n00dles", p, volley.ModeExtract); again != base {
		t.Fatalf("key not stable: %q vs %q", again, base)
	}
	if timing.Key("n00dles", p, volley.ModeReplenish) == base {
		t.Error("key must change with mode")
	}
	if timing.Key("joesguns", p, volley.ModeExtract) == base {
		t.Error("key must change with target")
	}
	shifted := p
	shifted.Replenish += 50 * ms
	if timing.Key("n00dles", shifted, volley.ModeExtract) == base {
		t.Error("key must change with bucketed delays")
	}

	for _, delta := range []time.Duration{700 * time.Microsecond, 500 * time.Microsecond, time.Nanosecond} {
		sub := p
		sub.Extract += delta
		if timing.Key("n00dles", sub, volley.ModeExtract) == base {
			t.Errorf("key must change with a %s delay shift", delta)
		}
	}
}

func TestKey_Format(t *testing.T) {
	tests := []struct {
		plan timing.Plan
		want string
	}{
		{timing.Plan{Extract: 3000 * ms, Stabilize: 200 * ms, Replenish: 1200 * ms}, "joesguns|e3000|s200|r1200|extract"},
		{timing.Plan{Extract: 3000*ms + 700*time.Microsecond}, "joesguns|e3000.7|s0|r0|extract"},
		{timing.Plan{Extract: 250 * time.Microsecond, Stabilize: 1}, "joesguns|e0.25|s0.000001|r0|extract"},
	}
	for _, tt := range tests {
		if got := timing.Key("joesguns", tt.plan, volley.ModeExtract); got != tt.want {
			t.Errorf("Key(%+v) = %q, want %q", tt.plan, got, tt.want)
		}
	}
}

func TestCheckAnchor(t *testing.T) {
	ok := volley.Durations{Extract: 800 * ms, Stabilize: 2000 * ms, Replenish: 1400 * ms}
	if err := timing.CheckAnchor(ok); err != nil {
		t.Fatalf("CheckAnchor: %v", err)
	}
	bad := volley.Durations{Extract: 800 * ms, Stabilize: 2000 * ms, Replenish: 2600 * ms}
	if err := timing.CheckAnchor(bad); !errors.Is(err, volley.ErrAnchorNotLongest) {
		t.Fatalf("expected ErrAnchorNotLongest, got %v", err)
	}
}

func TestLateKinds(t *testing.T) {
	raw := timing.Plan{Extract: 1200 * ms, Stabilize: 200 * ms, Replenish: 1430 * ms}
	bucketed := raw.Bucketed(1000 * ms)
	// extract: |1200-1000|=200, stabilize: |200-0|=200, replenish: |1430-1000|=430
	late := timing.LateKinds(raw, bucketed, 250*ms)
	if len(late) != 1 || late[0] != volley.Replenish {
		t.Fatalf("late = %v, want [replenish]", late)
	}
	if late := timing.LateKinds(raw, raw.Bucketed(50*ms), 250*ms); len(late) != 0 {
		t.Fatalf("late = %v, want none", late)
	}
}
