package netpulse

import (
	"errors"
	"log/slog"

	"github.com/jpalmerr/netpulse/internal/clock"
	"github.com/jpalmerr/netpulse/internal/metrics"
)

// registryConfig holds mutable state during Registry construction.
type registryConfig struct {
	fetcher    Fetcher
	logger     *slog.Logger
	clock      clock.Clock
	recorder   *metrics.Recorder
	updateHook func(TaskSnapshot)
}

// RegistryOption configures a [Registry] during construction.
//
// Built-in options: [WithFetcher], [WithRegistryLogger], [WithUpdateHook].
type RegistryOption func(*registryConfig) error

// WithFetcher replaces the default [HTTPFetcher].
//
// Example:
//
//	reg, err := netpulse.NewRegistry(
//	    netpulse.WithFetcher(netpulse.FetcherFunc(func(ctx context.Context, cfg netpulse.TaskConfig) (json.RawMessage, error) {
//	        return json.RawMessage(`{"ok":true}`), nil
//	    })),
//	)
//
// Returns an error if f is nil.
func WithFetcher(f Fetcher) RegistryOption {
	return func(cfg *registryConfig) error {
		if f == nil {
			return errors.New("fetcher cannot be nil")
		}
		cfg.fetcher = f
		return nil
	}
}

// WithRegistryLogger sets the [slog.Logger] used by the registry.
// Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(cfg *registryConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUpdateHook registers a function called after every change of a task:
// config updates, starts, stops, removals and completed fetches.
//
// The hook runs without the registry lock held, on the goroutine that made
// the change, so calls for the same key may arrive out of order when changes
// race. Use [Registry.Task] inside the hook to read the latest state.
// Panics are recovered and logged. Nil is ignored.
func WithUpdateHook(fn func(TaskSnapshot)) RegistryOption {
	return func(cfg *registryConfig) error {
		cfg.updateHook = fn
		return nil
	}
}

func withClock(c clock.Clock) RegistryOption {
	return func(cfg *registryConfig) error {
		cfg.clock = c
		return nil
	}
}

func withRecorder(rec *metrics.Recorder) RegistryOption {
	return func(cfg *registryConfig) error {
		cfg.recorder = rec
		return nil
	}
}
