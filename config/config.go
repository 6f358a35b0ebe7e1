// Package config loads netpulse task definitions from a YAML or TOML file.
//
// This package enables running netpulse as a standalone binary with a
// configuration file, as an alternative to building a [netpulse.Session] in
// code.
//
// Example configuration:
//
//	port: 8080
//	title: Network monitor
//
//	defaults:
//	  interval: 3s
//	  max_retries: 3
//	  timeout: 10s
//
//	tasks:
//	  - key: connections
//	    url: http://localhost:8000/api/connections
//	    auto_start: true
//	  - key: icmp
//	    url: ${ICMP_URL:-http://localhost:8000/api/icmp}
//	    interval: 10s
//	    select: data.hosts
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort       = 8080
	defaultInterval   = 3 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 10 * time.Second

	// minInterval keeps a misconfigured task from hammering its backend.
	minInterval = 100 * time.Millisecond
	maxInterval = time.Hour
	minTimeout  = 100 * time.Millisecond
)

// Config is the root configuration structure for netpulse.
//
// Use [Load], [Parse] or [ParseTOML] to create a Config.
type Config struct {
	// Title is reported by /api/info. Defaults to "netpulse" if not set.
	Title string `yaml:"title" toml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port" toml:"port"`

	// DisableMetrics turns off the Prometheus /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics" toml:"disable_metrics"`

	// Defaults apply to every task that does not set the field itself.
	Defaults TaskDefaults `yaml:"defaults" toml:"defaults"`

	// Tasks defines the polling tasks.
	Tasks []TaskConfig `yaml:"tasks" toml:"tasks"`
}

// TaskDefaults holds the task settings shared by every task.
type TaskDefaults struct {
	// Interval defaults to 3s.
	Interval Duration `yaml:"interval" toml:"interval"`

	// MaxRetries defaults to 3. Zero gives up on the first failure.
	MaxRetries *int `yaml:"max_retries" toml:"max_retries"`

	// Timeout defaults to 10s.
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// TaskConfig defines a single polling task.
type TaskConfig struct {
	// Key is the task's unique identifier.
	Key string `yaml:"key" toml:"key"`

	// URL is the JSON endpoint to poll.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url" toml:"url"`

	// Interval overrides defaults.interval. Must be between 100ms and 1h.
	Interval Duration `yaml:"interval" toml:"interval"`

	// MaxRetries overrides defaults.max_retries.
	MaxRetries *int `yaml:"max_retries" toml:"max_retries"`

	// Timeout overrides defaults.timeout.
	Timeout Duration `yaml:"timeout" toml:"timeout"`

	// Headers are sent with every request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	// Select narrows the stored payload to a dotted JSON path.
	Select string `yaml:"select" toml:"select"`

	// AutoStart starts polling when the server starts. A task without a URL
	// cannot auto-start.
	AutoStart bool `yaml:"auto_start" toml:"auto_start"`

	// Immediate fetches right after start instead of one interval later.
	Immediate bool `yaml:"immediate" toml:"immediate"`
}

// Duration wraps time.Duration for YAML and TOML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, which go-toml uses for
// string values.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
// Group 1 is the name, group 2 is present when a default was given and
// group 3 is the default itself (possibly empty).
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
// An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		m := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(m[1]); ok {
			return value
		}
		if m[2] != "" {
			return m[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", m[1])
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a configuration file.
//
// Files ending in ".toml" are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URL and header values, defaults are
// applied and the result is validated.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML parses TOML configuration data. It accepts the same keys as
// [Parse], with tasks written as a [[tasks]] array of tables.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Defaults.Interval == 0 {
		c.Defaults.Interval = Duration(defaultInterval)
	}
	if c.Defaults.MaxRetries == nil {
		n := defaultMaxRetries
		c.Defaults.MaxRetries = &n
	}
	if c.Defaults.Timeout == 0 {
		c.Defaults.Timeout = Duration(defaultTimeout)
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if err := validateInterval("defaults.interval", c.Defaults.Interval); err != nil {
		return err
	}
	if err := validateTimeout("defaults.timeout", c.Defaults.Timeout); err != nil {
		return err
	}
	if *c.Defaults.MaxRetries < 0 {
		return fmt.Errorf("defaults.max_retries cannot be negative, got %d", *c.Defaults.MaxRetries)
	}

	if len(c.Tasks) == 0 {
		return errors.New("at least one task must be defined")
	}

	seen := make(map[string]int, len(c.Tasks))
	for i := range c.Tasks {
		tc := &c.Tasks[i]
		ctx := fmt.Sprintf("tasks[%d] (%s)", i, tc.Key)

		if tc.Key == "" {
			return fmt.Errorf("tasks[%d]: key is required", i)
		}
		if prev, dup := seen[tc.Key]; dup {
			return fmt.Errorf("%s: duplicate key, already used by tasks[%d]", ctx, prev)
		}
		seen[tc.Key] = i

		expanded, err := expandEnvVars(tc.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", ctx, err)
		}
		tc.URL = strings.TrimSpace(expanded)
		if err := validateURL(tc.URL); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}
		if tc.URL == "" && tc.AutoStart {
			return fmt.Errorf("%s: auto_start requires a url", ctx)
		}

		for k, v := range tc.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("%s: headers[%s]: %w", ctx, k, err)
			}
			tc.Headers[k] = expanded
		}

		if tc.Interval != 0 {
			if err := validateInterval(ctx+": interval", tc.Interval); err != nil {
				return err
			}
		}
		if tc.Timeout != 0 {
			if err := validateTimeout(ctx+": timeout", tc.Timeout); err != nil {
				return err
			}
		}
		if tc.MaxRetries != nil && *tc.MaxRetries < 0 {
			return fmt.Errorf("%s: max_retries cannot be negative, got %d", ctx, *tc.MaxRetries)
		}
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	return nil
}

func validateInterval(field string, d Duration) error {
	if d.Duration() < minInterval {
		return fmt.Errorf("%s must be at least %s, got %s", field, minInterval, d.Duration())
	}
	if d.Duration() > maxInterval {
		return fmt.Errorf("%s must not exceed %s, got %s", field, maxInterval, d.Duration())
	}
	return nil
}

func validateTimeout(field string, d Duration) error {
	if d.Duration() < minTimeout {
		return fmt.Errorf("%s must be at least %s, got %s", field, minTimeout, d.Duration())
	}
	return nil
}
