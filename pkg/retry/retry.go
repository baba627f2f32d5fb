// Package retry implements the global countdown retry policy: one pending
// operation system-wide, re-invoked when a fixed countdown reaches zero.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/sw33tLie/spacescope/internal/clock"
	"github.com/sw33tLie/spacescope/internal/metrics"
	"github.com/sw33tLie/spacescope/pkg/stream"
)

const DefaultCountdown = 3

// Logger abstracts logging so callers can use logrus or any other logger
// that satisfies this interface.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}

// Executor re-invokes op. A nil error clears the retry; an error starts a
// new countdown.
type Executor func(ctx context.Context, op stream.Op) error

// State is a snapshot of the controller.
type State struct {
	Active           bool
	Pending          stream.Op
	SecondsRemaining int
	InFlight         bool
	// Attempt counts re-invocations of Pending, starting at 1 for the first
	// countdown.
	Attempt int
}

type Config struct {
	// Countdown is the number of one-second ticks before re-invoking.
	Countdown int
	// MaxAttempts bounds re-invocations. Zero means no bound.
	MaxAttempts int
	Clock       clock.Clock
	Log         Logger
	// OnChange receives every state change. It is called without the
	// controller's lock held.
	OnChange func(State)
}

type Controller struct {
	exec Executor
	cfg  Config

	mu     sync.Mutex
	state  State
	epoch  uint64
	timer  clock.Timer
	cancel context.CancelFunc
	idle   chan struct{}
	closed bool
}

func New(exec Executor, cfg Config) *Controller {
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Log == nil {
		cfg.Log = nopLogger{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Controller{exec: exec, cfg: cfg, idle: idle}
}

// State returns the current retry state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a retry is counting down or executing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

// Idle returns a channel that is closed while no retry is active.
func (c *Controller) Idle() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// Schedule starts a countdown for op. It returns false, ignoring op, when a
// retry is already active.
func (c *Controller) Schedule(op stream.Op) bool {
	c.mu.Lock()
	if c.state.Active || c.closed {
		c.mu.Unlock()
		return false
	}
	c.idle = make(chan struct{})
	c.epoch++
	c.startCountdownLocked(op, 1)
	st := c.state
	c.mu.Unlock()

	c.cfg.Log.Infof("retrying %s in %d seconds", op, st.SecondsRemaining)
	c.notify(st)
	return true
}

// Cancel clears any pending or executing retry. The result of an attempt
// already running is ignored.
func (c *Controller) Cancel() {
	c.CancelIf(nil)
}

// CancelIf cancels the active retry when match is nil or reports true for
// its pending operation.
func (c *Controller) CancelIf(match func(stream.Op) bool) bool {
	c.mu.Lock()
	if !c.state.Active || (match != nil && !match(c.state.Pending)) {
		c.mu.Unlock()
		return false
	}
	op := c.state.Pending
	c.clearLocked()
	st := c.state
	c.mu.Unlock()

	metrics.RetryAttemptsTotal.WithLabelValues(op.Kind().String(), "cancelled").Inc()
	c.cfg.Log.Debugf("retry of %s cancelled", op)
	c.notify(st)
	return true
}

// Close cancels any retry and refuses new ones.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Cancel()
}

func (c *Controller) startCountdownLocked(op stream.Op, attempt int) {
	c.state = State{
		Active:           true,
		Pending:          op,
		SecondsRemaining: c.cfg.Countdown,
		Attempt:          attempt,
	}
	epoch := c.epoch
	c.timer = c.cfg.Clock.AfterFunc(time.Second, func() { c.tick(epoch) })
}

func (c *Controller) clearLocked() {
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = State{}
	close(c.idle)
}

func (c *Controller) tick(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || !c.state.Active || c.state.InFlight {
		c.mu.Unlock()
		return
	}
	c.state.SecondsRemaining--
	if c.state.SecondsRemaining > 0 {
		c.timer = c.cfg.Clock.AfterFunc(time.Second, func() { c.tick(epoch) })
		st := c.state
		c.mu.Unlock()
		c.notify(st)
		return
	}

	c.timer = nil
	c.state.InFlight = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	st := c.state
	c.mu.Unlock()
	c.notify(st)

	c.cfg.Log.Debugf("retry attempt %d: %s", st.Attempt, st.Pending)
	err := c.exec(ctx, st.Pending)
	cancel()
	c.finish(epoch, st, err)
}

func (c *Controller) finish(epoch uint64, ran State, err error) {
	kind := ran.Pending.Kind().String()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.cancel = nil

	if err == nil {
		c.clearLocked()
		st := c.state
		c.mu.Unlock()
		metrics.RetryAttemptsTotal.WithLabelValues(kind, "success").Inc()
		c.notify(st)
		return
	}

	metrics.RetryAttemptsTotal.WithLabelValues(kind, "failure").Inc()
	if c.cfg.MaxAttempts > 0 && ran.Attempt >= c.cfg.MaxAttempts {
		c.clearLocked()
		st := c.state
		c.mu.Unlock()
		c.cfg.Log.Warnf("giving up on %s after %d attempts: %v", ran.Pending, ran.Attempt, err)
		c.notify(st)
		return
	}

	c.startCountdownLocked(ran.Pending, ran.Attempt+1)
	st := c.state
	c.mu.Unlock()
	c.cfg.Log.Infof("%s failed again (%v), retrying in %d seconds", ran.Pending, err, st.SecondsRemaining)
	c.notify(st)
}

func (c *Controller) notify(st State) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(st)
	}
}
