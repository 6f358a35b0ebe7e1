package netpulse

import (
	"errors"
	"log/slog"
)

// sessionConfig holds mutable state during Session construction.
type sessionConfig struct {
	title     string
	tasks     []TaskSpec
	port      int
	logger    *slog.Logger
	metrics   bool
	callbacks []func(TaskSnapshot)
}

// Option is a function that configures a [Session] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithTask], [WithTasks], [WithPort], [WithTitle],
// [WithLogger], [WithMetricsEnabled], [WithUpdateCallback].
type Option func(*sessionConfig) error

// WithTask adds a single [TaskSpec] to the session.
//
// Can be called multiple times to add multiple tasks. At least one task must
// be configured for [New] to succeed. The TaskSpec's Config is applied on top
// of [DefaultTaskConfig]: a zero Interval keeps the default, every other
// field is taken as given, so start from DefaultTaskConfig when building
// specs by hand.
//
// Example:
//
//	cfg := netpulse.DefaultTaskConfig()
//	cfg.URL = "http://localhost:8000/api/connections"
//	s, err := netpulse.New(
//	    netpulse.WithTask(netpulse.TaskSpec{Key: "connections", Config: cfg, AutoStart: true}),
//	)
func WithTask(spec TaskSpec) Option {
	return func(cfg *sessionConfig) error {
		cfg.tasks = append(cfg.tasks, spec)
		return nil
	}
}

// WithTasks adds multiple [TaskSpec] values to the session.
//
// Equivalent to calling [WithTask] multiple times.
func WithTasks(specs ...TaskSpec) Option {
	return func(cfg *sessionConfig) error {
		cfg.tasks = append(cfg.tasks, specs...)
		return nil
	}
}

// WithPort sets the HTTP port for the API server.
//
// The API will be available at http://localhost:<port>/api/tasks.
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *sessionConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the session, its registry and
// its server.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *sessionConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetricsEnabled controls whether Prometheus metrics are recorded and
// served at /metrics. Enabled by default.
func WithMetricsEnabled(enabled bool) Option {
	return func(cfg *sessionConfig) error {
		cfg.metrics = enabled
		return nil
	}
}

// WithUpdateCallback registers a function to be called after every task change.
//
// The callback receives the task's current [TaskSnapshot], after the record
// store has been updated. For a removed task it receives the last snapshot.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the goroutine that
// changed the task, so a blocking callback delays that task's next tick.
// Panics within callbacks are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithUpdateCallback(cb func(TaskSnapshot)) Option {
	return func(cfg *sessionConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// WithTitle sets the instance title reported by /api/info.
//
// If not specified, defaults to "netpulse".
func WithTitle(title string) Option {
	return func(cfg *sessionConfig) error {
		cfg.title = title
		return nil
	}
}
