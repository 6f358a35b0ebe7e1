package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
tasks:
  - key: test
    url: https://example.com
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Defaults.Interval.Duration() != 3*time.Second {
		t.Errorf("Defaults.Interval = %v, want 3s", cfg.Defaults.Interval.Duration())
	}
	if cfg.Defaults.MaxRetries == nil || *cfg.Defaults.MaxRetries != 3 {
		t.Errorf("Defaults.MaxRetries = %v, want 3", cfg.Defaults.MaxRetries)
	}
	if cfg.Defaults.Timeout.Duration() != 10*time.Second {
		t.Errorf("Defaults.Timeout = %v, want 10s", cfg.Defaults.Timeout.Duration())
	}
	if len(cfg.Tasks) != 1 {
		t.Errorf("len(Tasks) = %d, want 1", len(cfg.Tasks))
	}
}

func TestParse_FullTaskConfig(t *testing.T) {
	yaml := `
port: 9090
title: Network monitor
disable_metrics: true

defaults:
  interval: 5s
  max_retries: 0
  timeout: 2s

tasks:
  - key: icmp
    url: https://api.example.com/icmp
    interval: 30s
    max_retries: 7
    timeout: 500ms
    headers:
      Authorization: Bearer token123
    select: data.hosts
    auto_start: true
    immediate: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Title != "Network monitor" {
		t.Errorf("Title = %q, want %q", cfg.Title, "Network monitor")
	}
	if !cfg.DisableMetrics {
		t.Error("DisableMetrics = false, want true")
	}
	if *cfg.Defaults.MaxRetries != 0 {
		t.Errorf("Defaults.MaxRetries = %d, want explicit 0", *cfg.Defaults.MaxRetries)
	}

	tc := cfg.Tasks[0]
	if tc.Key != "icmp" {
		t.Errorf("Key = %q, want %q", tc.Key, "icmp")
	}
	if tc.Interval.Duration() != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", tc.Interval.Duration())
	}
	if tc.MaxRetries == nil || *tc.MaxRetries != 7 {
		t.Errorf("MaxRetries = %v, want 7", tc.MaxRetries)
	}
	if tc.Timeout.Duration() != 500*time.Millisecond {
		t.Errorf("Timeout = %v, want 500ms", tc.Timeout.Duration())
	}
	if tc.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Headers[Authorization] = %q", tc.Headers["Authorization"])
	}
	if tc.Select != "data.hosts" {
		t.Errorf("Select = %q, want %q", tc.Select, "data.hosts")
	}
	if !tc.AutoStart || !tc.Immediate {
		t.Errorf("AutoStart = %v, Immediate = %v, want both true", tc.AutoStart, tc.Immediate)
	}
}

func TestParseTOML(t *testing.T) {
	data := `
port = 9191
title = "From TOML"

[defaults]
interval = "2s"
max_retries = 1

[[tasks]]
key = "connections"
url = "http://localhost:8000/api/connections"
auto_start = true

[[tasks]]
key = "sockets"
url = "http://localhost:8000/api/sockets"
interval = "750ms"

[tasks.headers]
X-Token = "abc"
`
	cfg, err := ParseTOML([]byte(data))
	if err != nil {
		t.Fatalf("ParseTOML() error = %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Port)
	}
	if cfg.Title != "From TOML" {
		t.Errorf("Title = %q, want %q", cfg.Title, "From TOML")
	}
	if cfg.Defaults.Interval.Duration() != 2*time.Second {
		t.Errorf("Defaults.Interval = %v, want 2s", cfg.Defaults.Interval.Duration())
	}
	if *cfg.Defaults.MaxRetries != 1 {
		t.Errorf("Defaults.MaxRetries = %d, want 1", *cfg.Defaults.MaxRetries)
	}
	if cfg.Defaults.Timeout.Duration() != 10*time.Second {
		t.Errorf("Defaults.Timeout = %v, want default 10s", cfg.Defaults.Timeout.Duration())
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(cfg.Tasks))
	}
	if !cfg.Tasks[0].AutoStart {
		t.Error("Tasks[0].AutoStart = false, want true")
	}
	if cfg.Tasks[1].Interval.Duration() != 750*time.Millisecond {
		t.Errorf("Tasks[1].Interval = %v, want 750ms", cfg.Tasks[1].Interval.Duration())
	}
	if cfg.Tasks[1].Headers["X-Token"] != "abc" {
		t.Errorf("Tasks[1].Headers = %v, want X-Token=abc", cfg.Tasks[1].Headers)
	}
}

func TestParseTOML_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"syntax", "port = \n", "failed to parse TOML"},
		{"bad duration", "[defaults]\ninterval = \"soon\"\n", "invalid duration"},
		{"no tasks", "port = 8080\n", "at least one task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTOML([]byte(tt.data))
			if err == nil {
				t.Fatal("ParseTOML() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_PicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "netpulse.yaml")
	if err := os.WriteFile(yamlPath, []byte("tasks:\n  - key: a\n    url: http://a.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tomlPath := filepath.Join(dir, "netpulse.toml")
	if err := os.WriteFile(tomlPath, []byte("[[tasks]]\nkey = \"b\"\nurl = \"http://b.example\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for path, wantKey := range map[string]string{yamlPath: "a", tomlPath: "b"} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s) error = %v", filepath.Base(path), err)
		}
		if cfg.Tasks[0].Key != wantKey {
			t.Errorf("Load(%s) key = %q, want %q", filepath.Base(path), cfg.Tasks[0].Key, wantKey)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error = %q, want read failure", err.Error())
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("NETPULSE_TEST_HOST", "backend.internal")
	t.Setenv("NETPULSE_TEST_TOKEN", "secret")

	yaml := `
tasks:
  - key: test
    url: https://${NETPULSE_TEST_HOST}/api/icmp
    headers:
      Authorization: Bearer ${NETPULSE_TEST_TOKEN}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Tasks[0].URL != "https://backend.internal/api/icmp" {
		t.Errorf("URL = %q", cfg.Tasks[0].URL)
	}
	if cfg.Tasks[0].Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization = %q", cfg.Tasks[0].Headers["Authorization"])
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
tasks:
  - key: test
    url: https://${NETPULSE_TEST_UNSET_VAR}/api
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() error = nil, want error for unset variable")
	}
	if !strings.Contains(err.Error(), "NETPULSE_TEST_UNSET_VAR") {
		t.Errorf("error = %q, want to name the variable", err.Error())
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no tasks",
			yaml:    "port: 8080\n",
			wantErr: "at least one task",
		},
		{
			name:    "missing key",
			yaml:    "tasks:\n  - url: https://example.com\n",
			wantErr: "key is required",
		},
		{
			name:    "duplicate key",
			yaml:    "tasks:\n  - key: a\n    url: https://a.example\n  - key: a\n    url: https://b.example\n",
			wantErr: "duplicate key",
		},
		{
			name:    "bad scheme",
			yaml:    "tasks:\n  - key: a\n    url: ftp://example.com\n",
			wantErr: "scheme must be http or https",
		},
		{
			name:    "missing scheme",
			yaml:    "tasks:\n  - key: a\n    url: example.com/api\n",
			wantErr: "must have a scheme",
		},
		{
			name:    "auto start without url",
			yaml:    "tasks:\n  - key: a\n    auto_start: true\n",
			wantErr: "auto_start requires a url",
		},
		{
			name:    "interval too short",
			yaml:    "tasks:\n  - key: a\n    url: https://a.example\n    interval: 10ms\n",
			wantErr: "interval must be at least",
		},
		{
			name:    "interval too long",
			yaml:    "tasks:\n  - key: a\n    url: https://a.example\n    interval: 2h\n",
			wantErr: "must not exceed",
		},
		{
			name:    "timeout too short",
			yaml:    "tasks:\n  - key: a\n    url: https://a.example\n    timeout: 1ms\n",
			wantErr: "timeout must be at least",
		},
		{
			name:    "negative max retries",
			yaml:    "tasks:\n  - key: a\n    url: https://a.example\n    max_retries: -1\n",
			wantErr: "max_retries cannot be negative",
		},
		{
			name:    "negative default max retries",
			yaml:    "defaults:\n  max_retries: -2\ntasks:\n  - key: a\n    url: https://a.example\n",
			wantErr: "defaults.max_retries",
		},
		{
			name:    "default interval too short",
			yaml:    "defaults:\n  interval: 1ms\ntasks:\n  - key: a\n    url: https://a.example\n",
			wantErr: "defaults.interval",
		},
		{
			name:    "port out of range",
			yaml:    "port: 70000\ntasks:\n  - key: a\n    url: https://a.example\n",
			wantErr: "port must be between",
		},
		{
			name:    "invalid yaml",
			yaml:    "tasks: [unclosed\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "invalid duration",
			yaml:    "tasks:\n  - key: a\n    url: https://a.example\n    interval: fast\n",
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_BlankURLWithoutAutoStart(t *testing.T) {
	cfg, err := Parse([]byte("tasks:\n  - key: later\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Tasks[0].URL != "" {
		t.Errorf("URL = %q, want empty", cfg.Tasks[0].URL)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1s", time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{"", 0, true},
		{"10", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && d.Duration() != tt.want {
				t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, d.Duration(), tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NETPULSE_TEST_SET", "value")
	t.Setenv("NETPULSE_TEST_EMPTY", "")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"no vars", "plain", "plain", false},
		{"set", "${NETPULSE_TEST_SET}", "value", false},
		{"set ignores default", "${NETPULSE_TEST_SET:-other}", "value", false},
		{"empty but set", "x${NETPULSE_TEST_EMPTY}y", "xy", false},
		{"unset with default", "${NETPULSE_TEST_NOPE:-fallback}", "fallback", false},
		{"unset with empty default", "a${NETPULSE_TEST_NOPE:-}b", "ab", false},
		{"multiple", "${NETPULSE_TEST_SET}-${NETPULSE_TEST_NOPE:-d}", "value-d", false},
		{"unset", "${NETPULSE_TEST_NOPE}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandEnvVars(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
