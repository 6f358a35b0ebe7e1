package netpulse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jpalmerr/netpulse/internal/clock"
)

const (
	defaultControllerInterval = 3 * time.Second
	defaultRetryDelay         = time.Second
)

// PollFunc is the operation a [Controller] runs on every tick.
//
// The context is cancelled when the controller stops. A returned error (or
// a panic, which is recovered) counts as a failed execution.
type PollFunc func(ctx context.Context) error

// ControllerState is a point-in-time copy of a controller's observable state.
type ControllerState struct {
	// IsPolling reports whether the controller is started.
	IsPolling bool

	// IsLoading is true only while the poll function is running.
	IsLoading bool

	// Err is the last failure, cleared by a successful execution, a start
	// or [Controller.ResetError].
	Err error

	// RetryCount is the number of retries scheduled since the last success.
	RetryCount int
}

// Controller runs one poll function on a fixed interval with bounded retries.
//
// A Controller is one independent feed: it never shares state with other
// controllers. Executions of the same controller never overlap; the next tick
// is armed only after the previous execution's outcome has been processed,
// so a slow poll function delays its own cadence rather than piling up.
//
// At most one timer is pending at any time. After each execution it is
// either a retry (after the retry delay) or, while polling, the next regular
// tick (after the interval). A successful manual [Controller.Execute]
// therefore restarts the cadence from its completion.
//
// Every start and stop bumps an epoch counter. Timers and executions capture
// the epoch they were created under and drop their results if it changed,
// so a poll that completes after [Controller.Stop] cannot resurrect the loop.
//
// All methods are safe for concurrent use. Callbacks run without internal
// locks held, so they may call Start, Stop, Toggle or ResetError.
type Controller struct {
	fn         PollFunc
	interval   time.Duration
	immediate  bool
	maxRetries int
	backOff    backoff.BackOff
	onError    func(error)
	onStart    func()
	onStop     func()
	clock      clock.Clock
	logger     *slog.Logger
	parent     context.Context

	// runMu serializes executions.
	runMu sync.Mutex

	mu         sync.Mutex
	polling    bool
	loading    bool
	err        error
	retryCount int
	epoch      uint64
	armSeq     uint64
	pending    clock.Timer
	runCtx     context.Context
	cancelRun  context.CancelFunc
}

// NewController creates a [Controller] around fn.
//
// Defaults: 3s interval, deferred first execution, no auto start, no retries,
// 1s retry delay. See the With* controller options.
//
// Returns an error if fn is nil or an option is invalid. With [WithAutoStart]
// the controller is already polling when NewController returns.
func NewController(fn PollFunc, opts ...ControllerOption) (*Controller, error) {
	if fn == nil {
		return nil, errors.New("poll function cannot be nil")
	}

	cfg := &controllerConfig{
		interval:   defaultControllerInterval,
		retryDelay: defaultRetryDelay,
		clock:      clock.Real{},
		parent:     context.Background(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	b := cfg.backOff
	if b == nil {
		b = backoff.NewConstantBackOff(cfg.retryDelay)
	}

	c := &Controller{
		fn:         fn,
		interval:   cfg.interval,
		immediate:  cfg.immediate,
		maxRetries: cfg.maxRetries,
		backOff:    b,
		onError:    cfg.onError,
		onStart:    cfg.onStart,
		onStop:     cfg.onStop,
		clock:      cfg.clock,
		logger:     logger,
		parent:     cfg.parent,
	}

	if cfg.autoStart {
		c.Start()
	}
	return c, nil
}

// Start begins polling. It is a no-op if the controller is already polling.
//
// Start clears the error and retry count, invokes onStart, then arms the
// first execution: immediately with [WithImmediate], otherwise after one
// interval. Start never blocks on the poll function.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.polling {
		c.mu.Unlock()
		return
	}
	c.polling = true
	c.err = nil
	c.retryCount = 0
	c.backOff.Reset()
	c.epoch++
	epoch := c.epoch
	c.runCtx, c.cancelRun = context.WithCancel(c.parent)
	c.mu.Unlock()

	c.logger.Debug("controller started", "interval", c.interval.String(), "immediate", c.immediate)
	if c.onStart != nil {
		c.onStart()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// onStart may have stopped or restarted the controller
	if !c.polling || c.epoch != epoch {
		return
	}
	delay := c.interval
	if c.immediate {
		delay = 0
	}
	c.armLocked(epoch, delay, false)
}

// Stop halts polling. It is a no-op if the controller is not polling.
//
// Stop cancels the pending tick or retry and the context passed to the poll
// function, then invokes onStop. An execution already in flight finishes,
// but its outcome is discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.polling {
		c.mu.Unlock()
		return
	}
	c.polling = false
	c.epoch++
	c.cancelPendingLocked()
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	c.mu.Unlock()

	c.logger.Debug("controller stopped")
	if c.onStop != nil {
		c.onStop()
	}
}

// Toggle stops a polling controller and starts a stopped one.
func (c *Controller) Toggle() {
	if c.IsPolling() {
		c.Stop()
		return
	}
	c.Start()
}

// ResetError clears the error and retry count without touching the schedule.
func (c *Controller) ResetError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
	c.retryCount = 0
	c.backOff.Reset()
}

// IsPolling reports whether the controller is started.
func (c *Controller) IsPolling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polling
}

// State returns a snapshot of the controller's observable state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerState{
		IsPolling:  c.polling,
		IsLoading:  c.loading,
		Err:        c.err,
		RetryCount: c.retryCount,
	}
}

// Execute runs the poll function once and returns its error.
//
// Execute waits for any execution in flight to finish first. On success the
// error and retry count are cleared. On failure the error is recorded and,
// while the retry budget lasts, another execution is scheduled after the
// retry delay; once the budget is spent onError is invoked and no retry is
// scheduled. While polling, a completed execution with no retry pending arms
// the next regular tick.
//
// Execute must not be called from the controller's own callbacks.
func (c *Controller) Execute(ctx context.Context) error {
	return c.execute(ctx, nil)
}

// scheduledRun identifies the timer that triggered an execution.
type scheduledRun struct {
	epoch uint64
	seq   uint64
	retry bool
}

func (c *Controller) execute(ctx context.Context, sched *scheduledRun) error {
	c.runMu.Lock()
	err, exhausted := c.run(ctx, sched)
	c.runMu.Unlock()

	if exhausted {
		c.logger.Warn("poll failed, retries exhausted", "max_retries", c.maxRetries, "error", err)
		if c.onError != nil {
			c.onError(err)
		}
	}
	return err
}

// run executes fn and applies its outcome. exhausted reports whether the
// failure must be surfaced through onError.
//
// A scheduled run is revalidated once runMu is held: the timer that fired it
// must still be the latest one armed in the current epoch, otherwise fn is
// not called. Manual runs adopt the current epoch.
func (c *Controller) run(ctx context.Context, sched *scheduledRun) (err error, exhausted bool) {
	c.mu.Lock()
	if sched != nil {
		if c.epoch != sched.epoch || c.armSeq != sched.seq || (!sched.retry && !c.polling) {
			c.mu.Unlock()
			return nil, false
		}
		c.pending = nil
		ctx = c.parent
		if c.polling && c.runCtx != nil {
			ctx = c.runCtx
		}
	}
	epoch := c.epoch
	c.loading = true
	c.mu.Unlock()

	err = c.call(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false

	if c.epoch != epoch {
		// stopped or restarted while running
		return err, false
	}

	if err == nil {
		c.err = nil
		c.retryCount = 0
		c.backOff.Reset()
		c.armIntervalLocked(epoch)
		return nil, false
	}

	c.err = err
	if delay, ok := c.nextRetryLocked(); ok {
		c.retryCount++
		c.logger.Debug("poll failed, retry scheduled",
			"retry", c.retryCount,
			"max_retries", c.maxRetries,
			"delay", delay.String(),
			"error", err,
		)
		c.armLocked(epoch, delay, true)
		return err, false
	}

	c.armIntervalLocked(epoch)
	return err, true
}

// call invokes fn, converting a panic into a *PanicError.
func (c *Controller) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverPanic(c.logger, "poll function", r)
		}
	}()
	return c.fn(ctx)
}

// nextRetryLocked reports the delay before the next retry, if the budget allows one.
func (c *Controller) nextRetryLocked() (time.Duration, bool) {
	if c.retryCount >= c.maxRetries {
		return 0, false
	}
	delay := c.backOff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	return delay, true
}

func (c *Controller) armIntervalLocked(epoch uint64) {
	if c.polling {
		c.armLocked(epoch, c.interval, false)
	}
}

// armLocked replaces the pending timer with one that fires after delay.
func (c *Controller) armLocked(epoch uint64, delay time.Duration, retry bool) {
	c.cancelPendingLocked()
	c.armSeq++
	seq := c.armSeq
	c.pending = c.clock.AfterFunc(delay, func() {
		c.fire(epoch, seq, retry)
	})
}

func (c *Controller) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// fire runs a scheduled execution if it is still the current one. The check
// is repeated by run after waiting for any execution in flight.
func (c *Controller) fire(epoch, seq uint64, retry bool) {
	c.mu.Lock()
	current := c.epoch == epoch && c.armSeq == seq && (retry || c.polling)
	c.mu.Unlock()
	if !current {
		return
	}

	_ = c.execute(c.parent, &scheduledRun{epoch: epoch, seq: seq, retry: retry})
}
