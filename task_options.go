package netpulse

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// ConfigOption changes one field of a [TaskConfig].
//
// ConfigOption implements the functional options pattern for
// [Registry.SetConfig]: every option passed is merged into the task's current
// config and every field not named keeps its value. Options return an error
// if validation fails, in which case the task's config is left unchanged.
type ConfigOption func(*TaskConfig) error

// WithTaskURL sets the endpoint the task fetches.
//
// An empty URL is accepted (the task then cannot start). A non-empty URL
// must be absolute with an http or https scheme.
func WithTaskURL(rawURL string) ConfigOption {
	return func(cfg *TaskConfig) error {
		trimmed := strings.TrimSpace(rawURL)
		if trimmed != "" {
			parsed, err := url.Parse(trimmed)
			if err != nil {
				return errors.New("invalid URL: " + err.Error())
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return errors.New("URL scheme must be http or https")
			}
		}
		cfg.URL = trimmed
		return nil
	}
}

// WithTaskInterval sets the delay between ticks.
//
// Changing the interval of a polling task does not reschedule the tick that
// is already pending; the new value is used when the next tick is armed.
//
// Returns an error if the interval is not positive.
func WithTaskInterval(d time.Duration) ConfigOption {
	return func(cfg *TaskConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.Interval = d
		return nil
	}
}

// WithTaskMaxRetries sets how many consecutive failures the task tolerates.
//
// Returns an error if n is negative.
func WithTaskMaxRetries(n int) ConfigOption {
	return func(cfg *TaskConfig) error {
		if n < 0 {
			return errors.New("max retries cannot be negative")
		}
		cfg.MaxRetries = n
		return nil
	}
}

// WithTaskTimeout bounds each fetch. Returns an error if d is negative.
func WithTaskTimeout(d time.Duration) ConfigOption {
	return func(cfg *TaskConfig) error {
		if d < 0 {
			return errors.New("timeout cannot be negative")
		}
		cfg.Timeout = d
		return nil
	}
}

// WithTaskHeaders replaces the headers sent with each fetch.
func WithTaskHeaders(headers map[string]string) ConfigOption {
	return func(cfg *TaskConfig) error {
		cfg.Headers = copyMap(headers)
		return nil
	}
}

// WithTaskSelect narrows stored payloads to a dotted JSON path such as
// "data.items". An empty path keeps the whole body.
func WithTaskSelect(path string) ConfigOption {
	return func(cfg *TaskConfig) error {
		p := strings.TrimSpace(path)
		if strings.HasPrefix(p, ".") || strings.HasSuffix(p, ".") || strings.Contains(p, "..") {
			return errors.New("select path has an empty segment")
		}
		cfg.Select = p
		return nil
	}
}

// WithTaskImmediate makes the first fetch happen right after start.
func WithTaskImmediate(immediate bool) ConfigOption {
	return func(cfg *TaskConfig) error {
		cfg.Immediate = immediate
		return nil
	}
}
