package netpulse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jpalmerr/netpulse/internal/clock"
)

var errPoll = errors.New("poll failed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, clk clock.Clock, fn PollFunc, opts ...ControllerOption) *Controller {
	t.Helper()
	opts = append([]ControllerOption{
		withControllerClock(clk),
		WithControllerLogger(discardLogger()),
	}, opts...)
	c, err := NewController(fn, opts...)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestNewController_NilFunc(t *testing.T) {
	if _, err := NewController(nil); err == nil {
		t.Error("NewController(nil) should return an error")
	}
}

func TestNewController_InvalidOptions(t *testing.T) {
	fn := func(context.Context) error { return nil }

	tests := []struct {
		name string
		opt  ControllerOption
	}{
		{"zero interval", WithInterval(0)},
		{"negative interval", WithInterval(-time.Second)},
		{"negative retries", WithMaxRetries(-1)},
		{"negative retry delay", WithRetryDelay(-time.Millisecond)},
		{"nil backoff", WithRetryBackOff(nil)},
		{"nil logger", WithControllerLogger(nil)},
		{"nil context", WithContext(nil)}, //nolint:staticcheck // exercising validation
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewController(fn, tt.opt); err == nil {
				t.Error("NewController() error = nil, want error")
			}
		})
	}
}

func TestController_AutoStart(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := newTestController(t, clk, func(context.Context) error { return nil }, WithAutoStart(true))

	if !c.IsPolling() {
		t.Error("IsPolling() = false after WithAutoStart(true)")
	}
	if got := clk.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestController_NoOverlappingExecutions(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32

	fn := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(time.Duration(rand.Intn(2000)) * time.Microsecond)
		inFlight.Add(-1)
		calls.Add(1)
		if rand.Intn(4) == 0 {
			return errPoll
		}
		return nil
	}

	c := newTestController(t, clock.Real{}, fn,
		WithInterval(time.Millisecond),
		WithImmediate(true),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)
	c.Start()

	// manual executions race the scheduled ones
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = c.Execute(context.Background())
			}
		}()
	}

	deadline := time.After(10 * time.Second)
	for calls.Load() < 100 {
		select {
		case <-deadline:
			t.Fatalf("only %d executions before deadline", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	c.Stop()
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent executions = %d, want 1", got)
	}
}

func TestController_RetryBudget(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))

	var calls, errorCalls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)

	c := newTestController(t, clk,
		func(context.Context) error {
			calls.Add(1)
			if fail.Load() {
				return errPoll
			}
			return nil
		},
		WithInterval(time.Second),
		WithImmediate(true),
		WithMaxRetries(3),
		WithRetryDelay(100*time.Millisecond),
		WithOnError(func(err error) {
			errorCalls.Add(1)
			if !errors.Is(err, errPoll) {
				t.Errorf("onError(%v), want %v", err, errPoll)
			}
		}),
	)
	c.Start()

	clk.Advance(0)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls after first tick = %d, want 1", got)
	}
	if got := c.State().RetryCount; got != 1 {
		t.Errorf("RetryCount after first failure = %d, want 1", got)
	}

	clk.Advance(300 * time.Millisecond)
	if got := calls.Load(); got != 4 {
		t.Errorf("calls after retries = %d, want 4", got)
	}
	if got := errorCalls.Load(); got != 1 {
		t.Errorf("onError calls = %d, want 1", got)
	}

	state := c.State()
	if state.RetryCount != 3 {
		t.Errorf("RetryCount after exhaustion = %d, want 3", state.RetryCount)
	}
	if !errors.Is(state.Err, errPoll) {
		t.Errorf("Err = %v, want %v", state.Err, errPoll)
	}
	if !state.IsPolling {
		t.Error("exhausted retries should not stop the controller")
	}

	// no further retry: next call is the regular tick one interval later
	clk.Advance(999 * time.Millisecond)
	if got := calls.Load(); got != 4 {
		t.Errorf("calls before next tick = %d, want 4", got)
	}

	fail.Store(false)
	clk.Advance(time.Millisecond)
	if got := calls.Load(); got != 5 {
		t.Errorf("calls after next tick = %d, want 5", got)
	}
	state = c.State()
	if state.RetryCount != 0 || state.Err != nil {
		t.Errorf("state after success = %+v, want cleared", state)
	}
	if got := errorCalls.Load(); got != 1 {
		t.Errorf("onError calls = %d, want 1", got)
	}
}

func TestController_ZeroRetriesReportsFirstFailure(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var errorCalls atomic.Int32

	c := newTestController(t, clk,
		func(context.Context) error { return errPoll },
		WithOnError(func(error) { errorCalls.Add(1) }),
	)

	if err := c.Execute(context.Background()); !errors.Is(err, errPoll) {
		t.Errorf("Execute() error = %v, want %v", err, errPoll)
	}
	if got := errorCalls.Load(); got != 1 {
		t.Errorf("onError calls = %d, want 1", got)
	}
	if got := clk.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0 when not polling", got)
	}
}

func TestController_ManualExecuteSchedulesRetryWhenStopped(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var calls atomic.Int32

	c := newTestController(t, clk,
		func(context.Context) error {
			calls.Add(1)
			return errPoll
		},
		WithMaxRetries(1),
		WithRetryDelay(50*time.Millisecond),
	)

	_ = c.Execute(context.Background())
	if got := clk.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want retry scheduled", got)
	}

	clk.Advance(50 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if got := clk.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestController_ExponentialBackOff(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0

	var mu sync.Mutex
	var at []time.Duration
	start := clk.Now()

	c := newTestController(t, clk,
		func(context.Context) error {
			mu.Lock()
			at = append(at, clk.Now().Sub(start))
			mu.Unlock()
			return errPoll
		},
		WithInterval(time.Hour),
		WithImmediate(true),
		WithMaxRetries(3),
		WithRetryBackOff(eb),
	)
	c.Start()
	clk.Advance(time.Second)

	want := []time.Duration{0, 100 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond}
	mu.Lock()
	defer mu.Unlock()
	if len(at) != len(want) {
		t.Fatalf("calls at %v, want %v", at, want)
	}
	for i := range want {
		if at[i] != want[i] {
			t.Errorf("call %d at %v, want %v", i, at[i], want[i])
		}
	}
}

func TestController_BackOffStopSkipsRetries(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var errorCalls atomic.Int32

	c := newTestController(t, clk,
		func(context.Context) error { return errPoll },
		WithMaxRetries(5),
		WithRetryBackOff(&backoff.StopBackOff{}),
		WithOnError(func(error) { errorCalls.Add(1) }),
	)

	_ = c.Execute(context.Background())
	if got := errorCalls.Load(); got != 1 {
		t.Errorf("onError calls = %d, want 1", got)
	}
	if got := c.State().RetryCount; got != 0 {
		t.Errorf("RetryCount = %d, want 0", got)
	}
}

func TestController_StartStopIdempotent(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var starts, stops atomic.Int32

	c := newTestController(t, clk,
		func(context.Context) error { return nil },
		WithOnStart(func() { starts.Add(1) }),
		WithOnStop(func() { stops.Add(1) }),
	)

	c.Stop()
	if got := stops.Load(); got != 0 {
		t.Errorf("onStop calls while stopped = %d, want 0", got)
	}

	c.Start()
	c.Start()
	if got := starts.Load(); got != 1 {
		t.Errorf("onStart calls = %d, want 1", got)
	}
	if got := clk.Pending(); got != 1 {
		t.Errorf("Pending() after double start = %d, want 1", got)
	}

	c.Stop()
	c.Stop()
	if got := stops.Load(); got != 1 {
		t.Errorf("onStop calls = %d, want 1", got)
	}
	if got := clk.Pending(); got != 0 {
		t.Errorf("Pending() after stop = %d, want 0", got)
	}
}

func TestController_Toggle(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := newTestController(t, clk, func(context.Context) error { return nil })

	c.Toggle()
	if !c.IsPolling() {
		t.Error("IsPolling() = false after first Toggle()")
	}
	c.Toggle()
	if c.IsPolling() {
		t.Error("IsPolling() = true after second Toggle()")
	}
}

func TestController_ImmediateFirstRun(t *testing.T) {
	tests := []struct {
		name      string
		immediate bool
		at0       int32
	}{
		{"immediate", true, 1},
		{"deferred", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewManual(time.Unix(0, 0))
			var calls atomic.Int32

			c := newTestController(t, clk,
				func(context.Context) error {
					calls.Add(1)
					return nil
				},
				WithInterval(time.Second),
				WithImmediate(tt.immediate),
			)
			c.Start()

			clk.Advance(0)
			if got := calls.Load(); got != tt.at0 {
				t.Errorf("calls at t=0 = %d, want %d", got, tt.at0)
			}

			clk.Advance(999 * time.Millisecond)
			if got := calls.Load(); got != tt.at0 {
				t.Errorf("calls at t=999ms = %d, want %d", got, tt.at0)
			}

			clk.Advance(time.Millisecond)
			if got := calls.Load(); got != tt.at0+1 {
				t.Errorf("calls at t=1s = %d, want %d", got, tt.at0+1)
			}
		})
	}
}

func TestController_ManualExecuteRestartsCadence(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var calls atomic.Int32

	c := newTestController(t, clk,
		func(context.Context) error {
			calls.Add(1)
			return nil
		},
		WithInterval(time.Second),
	)
	c.Start()

	clk.Advance(600 * time.Millisecond)
	_ = c.Execute(context.Background())

	clk.Advance(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls at t=1s = %d, want 1 (tick moved by manual execute)", got)
	}

	clk.Advance(600 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls at t=1.6s = %d, want 2", got)
	}
	if got := clk.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestController_StopFromOnError(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var c *Controller

	c = newTestController(t, clk,
		func(context.Context) error { return errPoll },
		WithImmediate(true),
		WithOnError(func(error) { c.Stop() }),
	)
	c.Start()
	clk.Advance(0)

	if c.IsPolling() {
		t.Error("IsPolling() = true after Stop() in onError")
	}
	if got := clk.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestController_StopFromOnStart(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var c *Controller

	c = newTestController(t, clk,
		func(context.Context) error { return nil },
		WithImmediate(true),
		WithOnStart(func() { c.Stop() }),
	)
	c.Start()

	if c.IsPolling() {
		t.Error("IsPolling() = true after Stop() in onStart")
	}
	if got := clk.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestController_StopDiscardsInFlightResult(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	entered := make(chan struct{})
	var errorCalls atomic.Int32

	c := newTestController(t, clk,
		func(ctx context.Context) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		},
		WithImmediate(true),
		WithOnError(func(error) { errorCalls.Add(1) }),
	)
	c.Start()

	advanced := make(chan struct{})
	go func() {
		clk.Advance(0)
		close(advanced)
	}()

	<-entered
	if !c.State().IsLoading {
		t.Error("IsLoading = false during execution")
	}
	c.Stop()

	select {
	case <-advanced:
	case <-time.After(time.Second):
		t.Fatal("execution did not observe cancellation")
	}

	state := c.State()
	if state.Err != nil || state.IsLoading || state.IsPolling {
		t.Errorf("state after discarded run = %+v, want zero", state)
	}
	if got := errorCalls.Load(); got != 0 {
		t.Errorf("onError calls = %d, want 0", got)
	}
	if got := clk.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestController_TickQueuedBehindRunDroppedAfterRestart(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls, errorCalls atomic.Int32

	c := newTestController(t, clk,
		func(ctx context.Context) error {
			calls.Add(1)
			entered <- struct{}{}
			<-release
			return ctx.Err()
		},
		WithInterval(time.Second),
		WithOnError(func(error) { errorCalls.Add(1) }),
	)
	c.Start()

	executed := make(chan struct{})
	go func() {
		_ = c.Execute(context.Background())
		close(executed)
	}()
	<-entered

	// the regular tick fires while the manual run holds the controller and
	// waits for it to finish
	advanced := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(advanced)
	}()
	deadline := time.Now().Add(time.Second)
	for clk.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("tick did not fire")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	c.Stop()
	c.Start()
	close(release)

	for _, done := range []chan struct{}{executed, advanced} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("execution did not finish")
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (tick from before the restart must not run)", got)
	}
	if got := errorCalls.Load(); got != 0 {
		t.Errorf("onError calls = %d, want 0", got)
	}
	state := c.State()
	if state.Err != nil || !state.IsPolling || state.RetryCount != 0 {
		t.Errorf("state = %+v, want polling with no error", state)
	}
	if got := clk.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want only the restarted tick", got)
	}
}

func TestController_RestartDuringRetryDropsOldRetry(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var calls atomic.Int32

	c := newTestController(t, clk,
		func(context.Context) error {
			calls.Add(1)
			return errPoll
		},
		WithInterval(time.Second),
		WithImmediate(true),
		WithMaxRetries(3),
		WithRetryDelay(100*time.Millisecond),
	)
	c.Start()
	clk.Advance(0)

	c.Stop()
	c.Start()
	if got := c.State().RetryCount; got != 0 {
		t.Errorf("RetryCount after restart = %d, want 0", got)
	}

	// only the fresh immediate run is pending
	if got := clk.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	clk.Advance(0)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestController_PanicIsNormalized(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := newTestController(t, clk, func(context.Context) error { panic("boom") })

	err := c.Execute(context.Background())

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Execute() error = %v, want *PanicError", err)
	}
	if pe.Value != "boom" {
		t.Errorf("PanicError.Value = %v, want boom", pe.Value)
	}
	if pe.CorrelationID == "" {
		t.Error("PanicError.CorrelationID is empty")
	}
	if c.State().IsLoading {
		t.Error("IsLoading = true after panic")
	}
}

func TestController_ResetError(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := newTestController(t, clk,
		func(context.Context) error { return errPoll },
		WithMaxRetries(2),
	)

	_ = c.Execute(context.Background())
	if c.State().Err == nil {
		t.Fatal("Err = nil after failure")
	}

	c.ResetError()
	state := c.State()
	if state.Err != nil || state.RetryCount != 0 {
		t.Errorf("state after ResetError() = %+v", state)
	}
}

func TestController_ContextCancelledOnStop(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewManual(time.Unix(0, 0))
	got := make(chan context.Context, 1)

	c := newTestController(t, clk,
		func(ctx context.Context) error {
			got <- ctx
			return nil
		},
		WithImmediate(true),
		WithContext(parent),
	)
	c.Start()
	clk.Advance(0)

	ctx := <-got
	if ctx.Err() != nil {
		t.Fatal("run context cancelled while polling")
	}
	c.Stop()
	if ctx.Err() == nil {
		t.Error("run context not cancelled by Stop()")
	}
}
