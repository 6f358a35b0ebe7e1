package netpulse

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jpalmerr/netpulse/internal/clock"
)

// controllerConfig holds mutable state during Controller construction.
type controllerConfig struct {
	interval   time.Duration
	immediate  bool
	autoStart  bool
	maxRetries int
	retryDelay time.Duration
	backOff    backoff.BackOff
	onError    func(error)
	onStart    func()
	onStop     func()
	logger     *slog.Logger
	clock      clock.Clock
	parent     context.Context
}

// ControllerOption configures a [Controller] during construction.
//
// Built-in options: [WithInterval], [WithImmediate], [WithAutoStart],
// [WithMaxRetries], [WithRetryDelay], [WithRetryBackOff], [WithOnError],
// [WithOnStart], [WithOnStop], [WithControllerLogger], [WithContext].
type ControllerOption func(*controllerConfig) error

// WithInterval sets the delay between the end of one execution and the
// next regular tick. Defaults to 3 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) ControllerOption {
	return func(cfg *controllerConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithImmediate makes the first execution happen right after start instead
// of one interval later.
func WithImmediate(immediate bool) ControllerOption {
	return func(cfg *controllerConfig) error {
		cfg.immediate = immediate
		return nil
	}
}

// WithAutoStart starts polling as part of [NewController].
func WithAutoStart(autoStart bool) ControllerOption {
	return func(cfg *controllerConfig) error {
		cfg.autoStart = autoStart
		return nil
	}
}

// WithMaxRetries sets how many retries follow a failed execution before
// onError is invoked. Zero (the default) reports the first failure.
//
// Returns an error if n is negative.
func WithMaxRetries(n int) ControllerOption {
	return func(cfg *controllerConfig) error {
		if n < 0 {
			return errors.New("max retries cannot be negative")
		}
		cfg.maxRetries = n
		return nil
	}
}

// WithRetryDelay sets a constant delay between a failure and its retry.
// Defaults to 1 second. Ignored when [WithRetryBackOff] is also given.
//
// Returns an error if the duration is negative.
func WithRetryDelay(d time.Duration) ControllerOption {
	return func(cfg *controllerConfig) error {
		if d < 0 {
			return errors.New("retry delay cannot be negative")
		}
		cfg.retryDelay = d
		return nil
	}
}

// WithRetryBackOff draws retry delays from b instead of a constant delay.
//
// The policy is reset after every success and on every start. If b returns
// [backoff.Stop] the remaining retries are skipped and onError is invoked.
//
// Example:
//
//	eb := backoff.NewExponentialBackOff()
//	eb.InitialInterval = 500 * time.Millisecond
//	c, err := netpulse.NewController(poll,
//	    netpulse.WithMaxRetries(5),
//	    netpulse.WithRetryBackOff(eb),
//	)
//
// Returns an error if b is nil.
func WithRetryBackOff(b backoff.BackOff) ControllerOption {
	return func(cfg *controllerConfig) error {
		if b == nil {
			return errors.New("backoff cannot be nil")
		}
		cfg.backOff = b
		return nil
	}
}

// WithOnError registers the function invoked once the retry budget of a
// failure is spent. Nil is ignored.
func WithOnError(fn func(error)) ControllerOption {
	return func(cfg *controllerConfig) error {
		cfg.onError = fn
		return nil
	}
}

// WithOnStart registers the function invoked on every effective start.
func WithOnStart(fn func()) ControllerOption {
	return func(cfg *controllerConfig) error {
		cfg.onStart = fn
		return nil
	}
}

// WithOnStop registers the function invoked on every effective stop.
func WithOnStop(fn func()) ControllerOption {
	return func(cfg *controllerConfig) error {
		cfg.onStop = fn
		return nil
	}
}

// WithControllerLogger sets the [slog.Logger] used by the controller.
// Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(cfg *controllerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithContext sets the parent of the contexts passed to scheduled
// executions. Cancelling it cancels in-flight polls but does not stop the
// controller.
//
// Returns an error if ctx is nil.
func WithContext(ctx context.Context) ControllerOption {
	return func(cfg *controllerConfig) error {
		if ctx == nil {
			return errors.New("context cannot be nil")
		}
		cfg.parent = ctx
		return nil
	}
}

func withControllerClock(c clock.Clock) ControllerOption {
	return func(cfg *controllerConfig) error {
		cfg.clock = c
		return nil
	}
}
