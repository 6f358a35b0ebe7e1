package netpulse

import (
	"encoding/json"
	"time"
)

const (
	defaultTaskInterval   = 3 * time.Second
	defaultTaskMaxRetries = 3
)

// TaskConfig is the fetch target and schedule of one registry task.
//
// A zero URL is allowed in a stored config but such a task can never start.
type TaskConfig struct {
	// URL is the JSON endpoint fetched on every tick.
	URL string

	// Interval is the delay between the end of one fetch and the next tick.
	Interval time.Duration

	// MaxRetries is the number of consecutive failed fetches after which the
	// task stops itself.
	MaxRetries int

	// Timeout bounds each fetch. Zero uses the fetcher's default.
	Timeout time.Duration

	// Headers are sent with every fetch.
	Headers map[string]string

	// Select narrows the payload to a dotted JSON path. Empty keeps the whole body.
	Select string

	// Immediate fetches right after start instead of one interval later.
	Immediate bool
}

// DefaultTaskConfig returns the config a task gets when first created.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Interval:   defaultTaskInterval,
		MaxRetries: defaultTaskMaxRetries,
	}
}

// clone returns a copy that shares no mutable state with c.
func (c TaskConfig) clone() TaskConfig {
	c.Headers = copyMap(c.Headers)
	return c
}

// options expresses every set field of c as a [ConfigOption].
func (c TaskConfig) options() []ConfigOption {
	opts := []ConfigOption{WithTaskURL(c.URL), WithTaskMaxRetries(c.MaxRetries)}
	if c.Interval != 0 {
		opts = append(opts, WithTaskInterval(c.Interval))
	}
	if c.Timeout != 0 {
		opts = append(opts, WithTaskTimeout(c.Timeout))
	}
	if c.Headers != nil {
		opts = append(opts, WithTaskHeaders(c.Headers))
	}
	if c.Select != "" {
		opts = append(opts, WithTaskSelect(c.Select))
	}
	if c.Immediate {
		opts = append(opts, WithTaskImmediate(true))
	}
	return opts
}

// TaskSnapshot is a point-in-time copy of one registry task.
type TaskSnapshot struct {
	// Key is the task's unique identifier.
	Key string

	// Config is the task's current configuration.
	Config TaskConfig

	// Data is the last successfully fetched payload, nil if never fetched.
	// Stopping a task keeps its data.
	Data json.RawMessage

	// IsPolling reports whether a tick is scheduled for the task.
	IsPolling bool

	// RetryCount is the number of consecutive failed fetches. It stays at
	// MaxRetries after the task gave up, and is reset by an explicit stop,
	// a start or a successful fetch.
	RetryCount int

	// LastError is the most recent fetch error, nil after a success.
	LastError error

	// LastFetchedAt is when Data was last replaced.
	LastFetchedAt time.Time

	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time
}

// GaveUp reports whether the task stopped itself after exhausting its retries.
func (s TaskSnapshot) GaveUp() bool {
	return !s.IsPolling && s.RetryCount > 0 && s.RetryCount >= s.Config.MaxRetries
}

// TaskSpec declares a task for a [Session].
type TaskSpec struct {
	// Key is the task's unique identifier.
	Key string

	// Config is applied with [Registry.SetConfig] when the session is built.
	Config TaskConfig

	// AutoStart starts polling when the session starts.
	AutoStart bool
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// copyBytes returns a copy of the byte slice, or nil if input is nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
