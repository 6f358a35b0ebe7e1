package config

import (
	"fmt"

	"github.com/jpalmerr/netpulse"
)

// BuildTasks converts parsed configuration into task specs for
// [netpulse.WithTasks], in file order.
//
// Each task starts from [netpulse.DefaultTaskConfig], takes the file's
// defaults and then its own overrides.
func BuildTasks(cfg *Config) ([]netpulse.TaskSpec, error) {
	specs := make([]netpulse.TaskSpec, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		spec, err := buildTask(cfg.Defaults, tc)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SessionOptions returns the session-level options described by cfg,
// including its tasks.
func SessionOptions(cfg *Config) ([]netpulse.Option, error) {
	specs, err := BuildTasks(cfg)
	if err != nil {
		return nil, err
	}
	return []netpulse.Option{
		netpulse.WithTasks(specs...),
		netpulse.WithPort(cfg.Port),
		netpulse.WithTitle(cfg.Title),
		netpulse.WithMetricsEnabled(!cfg.DisableMetrics),
	}, nil
}

func buildTask(defaults TaskDefaults, tc TaskConfig) (netpulse.TaskSpec, error) {
	interval := defaults.Interval
	if tc.Interval != 0 {
		interval = tc.Interval
	}
	timeout := defaults.Timeout
	if tc.Timeout != 0 {
		timeout = tc.Timeout
	}
	maxRetries := defaultMaxRetries
	if defaults.MaxRetries != nil {
		maxRetries = *defaults.MaxRetries
	}
	if tc.MaxRetries != nil {
		maxRetries = *tc.MaxRetries
	}

	opts := []netpulse.ConfigOption{
		netpulse.WithTaskURL(tc.URL),
		netpulse.WithTaskInterval(interval.Duration()),
		netpulse.WithTaskMaxRetries(maxRetries),
		netpulse.WithTaskTimeout(timeout.Duration()),
		netpulse.WithTaskSelect(tc.Select),
		netpulse.WithTaskImmediate(tc.Immediate),
	}
	if len(tc.Headers) > 0 {
		opts = append(opts, netpulse.WithTaskHeaders(tc.Headers))
	}

	taskCfg := netpulse.DefaultTaskConfig()
	for _, opt := range opts {
		if err := opt(&taskCfg); err != nil {
			return netpulse.TaskSpec{}, fmt.Errorf("task %q: %w", tc.Key, err)
		}
	}

	return netpulse.TaskSpec{
		Key:       tc.Key,
		Config:    taskCfg,
		AutoStart: tc.AutoStart,
	}, nil
}
