package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/volley/backoff"
	"github.com/xraph/volley/clock"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(50 * time.Millisecond)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 50*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 50ms", attempt, got)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(25*time.Millisecond, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 25 * time.Millisecond},
		{1, 25 * time.Millisecond},
		{2, 50 * time.Millisecond},
		{3, 100 * time.Millisecond},
		{4, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want 10s", got)
	}
	if got := e.Delay(40); got != 10*time.Second {
		t.Errorf("Delay(40) = %v, want 10s", got)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Errorf("Delay(%d) = %v, want within [0, 10s]", attempt, got)
			}
		}
	}
}

func TestPoll_StopsWhenDone(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	ok, err := backoff.Poll(context.Background(), clk, backoff.NewExponential(10*time.Millisecond, 0), 5,
		func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
	if err != nil || !ok {
		t.Fatalf("Poll = %v, %v; want true, nil", ok, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Errorf("sleeps = %v, want [10ms 20ms]", sleeps)
	}
}

func TestPoll_GivesUpAfterAttempts(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	ok, err := backoff.Poll(context.Background(), clk, backoff.NewConstant(time.Millisecond), 4,
		func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
	if err != nil || ok {
		t.Fatalf("Poll = %v, %v; want false, nil", ok, err)
	}
	if calls != 4 || len(clk.Sleeps()) != 3 {
		t.Errorf("calls = %d sleeps = %d, want 4 and 3", calls, len(clk.Sleeps()))
	}
}

func TestPoll_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := backoff.Poll(context.Background(), clock.NewFake(time.Unix(0, 0)), backoff.DefaultStrategy(), 3,
		func(context.Context) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
