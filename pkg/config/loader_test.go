package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParse_SingleDocument(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v1alpha1
kind: Host
metadata:
  name: sim
spec:
  granularity: 10ms
  horizon: 30s
  alarms:
    - name: clock
      min_delay: 500ms
      max_delay: 1m
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host == nil {
		t.Fatal("expected Host resource")
	}
	spec := cfg.Host.Spec
	if spec.Granularity.Duration() != 10*time.Millisecond {
		t.Errorf("expected granularity 10ms, got %v", spec.Granularity.Duration())
	}
	if len(spec.Alarms) != 1 || spec.Alarms[0].MinDelay.Duration() != 500*time.Millisecond {
		t.Errorf("unexpected alarms: %+v", spec.Alarms)
	}
	if cfg.Process != nil {
		t.Error("expected no Process resource")
	}
}

func TestParse_MultiDocument(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v1alpha1
kind: Host
metadata:
  name: sim
spec:
  jitter: 5ms
  seed: 42
  alarms:
    - name: fast
      group: timers
    - name: slow
      group: timers
      min_delay: 10s
---
apiVersion: eventdriver.io/v1alpha1
kind: Process
metadata:
  name: controller
spec:
  alarm_group: timers
  rearm: alarm
  log_level: debug
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host.Spec.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Host.Spec.Seed)
	}
	if len(cfg.Host.Spec.Alarms) != 2 {
		t.Errorf("expected 2 alarms, got %d", len(cfg.Host.Spec.Alarms))
	}
	if cfg.Process.Spec.AlarmGroup != "timers" {
		t.Errorf("expected alarm_group timers, got %q", cfg.Process.Spec.AlarmGroup)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParse_UnsupportedAPIVersion(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v2
kind: Host
metadata:
  name: sim
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "unsupported apiVersion") {
		t.Errorf("expected unsupported apiVersion error, got %v", err)
	}
}

func TestParse_UnknownKind(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v1alpha1
kind: Airlock
metadata:
  name: a
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("expected unknown kind error, got %v", err)
	}
}

func TestParse_MissingKind(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v1alpha1
metadata:
  name: a
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "missing 'kind'") {
		t.Errorf("expected missing kind error, got %v", err)
	}
}

func TestParse_MultipleHosts(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v1alpha1
kind: Host
metadata:
  name: a
---
apiVersion: eventdriver.io/v1alpha1
kind: Host
metadata:
  name: b
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "multiple Host") {
		t.Errorf("expected multiple Host error, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != nil || cfg.Process != nil {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: Config{
				Host:    &Host{Spec: HostSpec{Alarms: []AlarmSpec{{Name: "clock", MinDelay: Duration(time.Second)}}}},
				Process: &Process{Spec: ProcessSpec{AlarmName: "clock", Rearm: RearmFrequency}},
			},
		},
		{
			name: "alarm without name",
			cfg: Config{
				Host: &Host{Spec: HostSpec{Alarms: []AlarmSpec{{Group: "g"}}}},
			},
			wantErr: "name is required",
		},
		{
			name: "duplicate alarm",
			cfg: Config{
				Host: &Host{Spec: HostSpec{Alarms: []AlarmSpec{{Name: "a"}, {Name: "a"}}}},
			},
			wantErr: "duplicate alarm name",
		},
		{
			name: "max below min",
			cfg: Config{
				Host: &Host{Spec: HostSpec{Alarms: []AlarmSpec{{
					Name:     "a",
					MinDelay: Duration(time.Minute),
					MaxDelay: Duration(time.Second),
				}}}},
			},
			wantErr: "max_delay must be >= min_delay",
		},
		{
			name: "negative jitter",
			cfg: Config{
				Host: &Host{Spec: HostSpec{Jitter: Duration(-time.Second)}},
			},
			wantErr: "jitter must be >= 0",
		},
		{
			name: "bad rearm policy",
			cfg: Config{
				Process: &Process{Spec: ProcessSpec{Rearm: "sometimes"}},
			},
			wantErr: "invalid rearm policy",
		},
		{
			name: "bad log level",
			cfg: Config{
				Process: &Process{Spec: ProcessSpec{LogLevel: "loud"}},
			},
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	cfg.Defaults()

	host := cfg.Host.Spec
	if host.Granularity != DefaultGranularity {
		t.Errorf("expected default granularity %v, got %v", DefaultGranularity.Duration(), host.Granularity.Duration())
	}
	if host.Horizon != DefaultHorizon {
		t.Errorf("expected default horizon 1m, got %v", host.Horizon.Duration())
	}
	if len(host.Alarms) != 1 || host.Alarms[0].Name != "clock" {
		t.Fatalf("expected default clock alarm, got %+v", host.Alarms)
	}
	if host.Alarms[0].MinDelay != DefaultMinDelay || host.Alarms[0].MaxDelay != DefaultMaxDelay {
		t.Errorf("expected default bounds [1s, 1h], got %+v", host.Alarms[0])
	}

	proc := cfg.Process.Spec
	if proc.Rearm != RearmAlarm {
		t.Errorf("expected default rearm %q, got %q", RearmAlarm, proc.Rearm)
	}
	if proc.AlarmName != "clock" {
		t.Errorf("expected default alarm_name clock, got %q", proc.AlarmName)
	}
	if proc.LogLevel != "info" {
		t.Errorf("expected default log_level info, got %q", proc.LogLevel)
	}
}

func TestProcessSpec_DefaultsKeepsGroup(t *testing.T) {
	p := ProcessSpec{AlarmGroup: "timers"}
	p.Defaults()

	if p.AlarmName != "" {
		t.Errorf("expected alarm_name to stay empty, got %q", p.AlarmName)
	}
}

func TestLoad_File(t *testing.T) {
	yaml := `
apiVersion: eventdriver.io/v1alpha1
kind: Process
metadata:
  name: test
spec:
  rearm: frequency
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Process == nil || cfg.Process.Spec.Rearm != RearmFrequency {
		t.Errorf("expected Process with rearm frequency, got %+v", cfg.Process)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{`duration: 5m`, 5 * time.Minute},
		{`duration: 30s`, 30 * time.Second},
		{`duration: 1h30m`, 90 * time.Minute},
		{`duration: 16ms`, 16 * time.Millisecond},
		{`duration: ""`, 0},
	}

	for _, tt := range tests {
		var obj struct {
			Duration Duration `yaml:"duration"`
		}
		if err := yaml.Unmarshal([]byte(tt.input), &obj); err != nil {
			t.Errorf("failed to parse %q: %v", tt.input, err)
			continue
		}
		if obj.Duration.Duration() != tt.expected {
			t.Errorf("input %q: expected %v, got %v", tt.input, tt.expected, obj.Duration.Duration())
		}
	}
}

func TestDuration_InvalidYAML(t *testing.T) {
	var obj struct {
		Duration Duration `yaml:"duration"`
	}
	if err := yaml.Unmarshal([]byte(`duration: soon`), &obj); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestDuration_JSON(t *testing.T) {
	data, err := json.Marshal(Duration(1500 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"1.5s"` {
		t.Errorf("expected \"1.5s\", got %s", data)
	}

	var d Duration
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d.Duration())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
