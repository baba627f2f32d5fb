package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sw33tLie/spacescope/internal/clock"
	"github.com/sw33tLie/spacescope/pkg/stream"
)

type recorder struct {
	mu     sync.Mutex
	ops    []stream.Op
	errs   []error
	states []State
}

func (r *recorder) exec(_ context.Context, op stream.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func (r *recorder) onChange(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

func newTestController(r *recorder, maxAttempts int) (*Controller, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(r.exec, Config{Clock: clk, MaxAttempts: maxAttempts, OnChange: r.onChange})
	return c, clk
}

func TestCountdownThenSingleInvocation(t *testing.T) {
	r := &recorder{errs: []error{errors.New("still down")}}
	c, clk := newTestController(r, 0)

	if !c.Schedule(stream.Load{}) {
		t.Fatalf("Schedule refused on an idle controller")
	}
	if st := c.State(); !st.Active || st.SecondsRemaining != 3 || st.Attempt != 1 {
		t.Fatalf("initial state = %+v", st)
	}

	for want := 2; want >= 1; want-- {
		clk.Advance(time.Second)
		if st := c.State(); st.SecondsRemaining != want || r.calls() != 0 {
			t.Fatalf("after tick: remaining=%d calls=%d, want remaining=%d", st.SecondsRemaining, r.calls(), want)
		}
	}

	clk.Advance(time.Second)
	if r.calls() != 1 {
		t.Fatalf("executor calls = %d, want 1", r.calls())
	}
	if _, ok := r.ops[0].(stream.Load); !ok {
		t.Fatalf("re-invoked %v", r.ops[0])
	}

	// The failure started a fresh countdown.
	st := c.State()
	if !st.Active || st.SecondsRemaining != 3 || st.Attempt != 2 || st.InFlight {
		t.Fatalf("after failed attempt: %+v", st)
	}

	clk.Advance(3 * time.Second)
	if r.calls() != 2 {
		t.Fatalf("executor calls = %d, want 2", r.calls())
	}
	if c.Active() {
		t.Fatalf("success should clear the retry")
	}
	select {
	case <-c.Idle():
	default:
		t.Fatalf("Idle channel not closed after success")
	}
}

func TestObservedCountdown(t *testing.T) {
	r := &recorder{}
	c, clk := newTestController(r, 0)
	c.Schedule(stream.LoadMore{Page: 2})
	clk.Advance(3 * time.Second)

	var seconds []int
	for _, st := range r.states {
		if st.Active && !st.InFlight {
			seconds = append(seconds, st.SecondsRemaining)
		}
	}
	want := []int{3, 2, 1}
	if len(seconds) != len(want) {
		t.Fatalf("observed %v, want %v", seconds, want)
	}
	for i := range want {
		if seconds[i] != want[i] {
			t.Fatalf("observed %v, want %v", seconds, want)
		}
	}
	last := r.states[len(r.states)-1]
	if last.Active {
		t.Fatalf("last observed state should be idle, got %+v", last)
	}
}

func TestScheduleWhileActiveIsIgnored(t *testing.T) {
	r := &recorder{}
	c, clk := newTestController(r, 0)
	c.Schedule(stream.Load{})
	clk.Advance(time.Second)

	if c.Schedule(stream.Search{Query: "mars"}) {
		t.Fatalf("second Schedule accepted while counting")
	}
	if st := c.State(); st.SecondsRemaining != 2 {
		t.Fatalf("existing countdown disturbed: %+v", st)
	}
	clk.Advance(2 * time.Second)
	if r.calls() != 1 {
		t.Fatalf("calls = %d", r.calls())
	}
	if _, ok := r.ops[0].(stream.Load); !ok {
		t.Fatalf("wrong op retried: %v", r.ops[0])
	}
}

func TestCancelStopsCountdown(t *testing.T) {
	r := &recorder{}
	c, clk := newTestController(r, 0)
	c.Schedule(stream.Load{})
	clk.Advance(time.Second)
	c.Cancel()

	if c.Active() {
		t.Fatalf("still active after Cancel")
	}
	clk.Advance(10 * time.Second)
	if r.calls() != 0 {
		t.Fatalf("cancelled retry still ran")
	}
	if !c.Schedule(stream.Load{}) {
		t.Fatalf("Schedule refused after Cancel")
	}
}

func TestCancelDuringExecutionIgnoresResult(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	var c *Controller
	c = New(func(ctx context.Context, op stream.Op) error {
		c.Cancel()
		if ctx.Err() == nil {
			t.Errorf("attempt context not cancelled")
		}
		return errors.New("late failure")
	}, Config{Clock: clk})

	c.Schedule(stream.Load{})
	clk.Advance(3 * time.Second)
	if c.Active() {
		t.Fatalf("failure after Cancel restarted the countdown: %+v", c.State())
	}
}

func TestMaxAttempts(t *testing.T) {
	fail := errors.New("down")
	r := &recorder{errs: []error{fail, fail, fail}}
	c, clk := newTestController(r, 2)
	c.Schedule(stream.Load{})

	clk.Advance(3 * time.Second)
	if !c.Active() {
		t.Fatalf("gave up too early")
	}
	clk.Advance(3 * time.Second)
	if c.Active() {
		t.Fatalf("still active after MaxAttempts")
	}
	clk.Advance(10 * time.Second)
	if r.calls() != 2 {
		t.Fatalf("calls = %d, want 2", r.calls())
	}
}

func TestClosedControllerRefusesSchedule(t *testing.T) {
	c, _ := newTestController(&recorder{}, 0)
	c.Close()
	if c.Schedule(stream.Load{}) {
		t.Fatalf("Schedule accepted after Close")
	}
}

func TestCancelIfMatchesPendingOp(t *testing.T) {
	c, _ := newTestController(&recorder{}, 0)
	c.Schedule(stream.Load{})

	isSearch := func(op stream.Op) bool { return op.Kind() == stream.KindSearch }
	if c.CancelIf(isSearch) || !c.Active() {
		t.Fatalf("CancelIf cancelled a browse retry")
	}
	if !c.CancelIf(func(op stream.Op) bool { return op.Kind() == stream.KindBrowse }) || c.Active() {
		t.Fatalf("CancelIf did not cancel the matching retry")
	}
}
