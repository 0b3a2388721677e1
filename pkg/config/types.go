// Package config loads host and process configuration for eventdriver.
//
// Configuration is YAML, one resource per document, each carrying an
// apiVersion and a kind:
//
//	apiVersion: eventdriver.io/v1alpha1
//	kind: Host
//	metadata:
//	  name: sim
//	spec:
//	  granularity: 16ms
//	  horizon: 1m
//	  alarms:
//	    - name: clock
//	      group: timers
//	      min_delay: 1s
//	      max_delay: 1h
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	APIVersion = "eventdriver.io/v1alpha1"

	KindHost    = "Host"
	KindProcess = "Process"
)

// Re-arm policies.
const (
	RearmAlarm     = "alarm"
	RearmFrequency = "frequency"
)

// TypeMeta describes the API version and kind of a resource.
type TypeMeta struct {
	APIVersion string `yaml:"apiVersion,omitempty" json:"apiVersion,omitempty"`
	Kind       string `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// ObjectMeta contains metadata that all resources have.
type ObjectMeta struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Host configures the environment that invokes the program.
type Host struct {
	TypeMeta `yaml:",inline" json:",inline"`
	Metadata ObjectMeta `yaml:"metadata" json:"metadata"`
	Spec     HostSpec   `yaml:"spec" json:"spec"`
}

// HostSpec defines a host's timing and alarms.
type HostSpec struct {
	// Granularity is the invocation resolution. Default 1/60s.
	Granularity Duration `yaml:"granularity,omitempty" json:"granularity,omitempty"`

	// Jitter is the most an invocation may be late.
	Jitter Duration `yaml:"jitter,omitempty" json:"jitter,omitempty"`

	// Seed drives jitter.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	// Horizon ends a simulated run. Default 1m.
	Horizon Duration `yaml:"horizon,omitempty" json:"horizon,omitempty"`

	Alarms []AlarmSpec `yaml:"alarms,omitempty" json:"alarms,omitempty"`
}

// AlarmSpec declares one host alarm.
type AlarmSpec struct {
	Name     string   `yaml:"name" json:"name"`
	Group    string   `yaml:"group,omitempty" json:"group,omitempty"`
	MinDelay Duration `yaml:"min_delay,omitempty" json:"min_delay,omitempty"`
	MaxDelay Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// Process configures the scheduled program.
type Process struct {
	TypeMeta `yaml:",inline" json:",inline"`
	Metadata ObjectMeta  `yaml:"metadata" json:"metadata"`
	Spec     ProcessSpec `yaml:"spec" json:"spec"`
}

// ProcessSpec selects how the scheduler finds and re-arms its host.
type ProcessSpec struct {
	AlarmName  string `yaml:"alarm_name,omitempty" json:"alarm_name,omitempty"`
	AlarmGroup string `yaml:"alarm_group,omitempty" json:"alarm_group,omitempty"`

	// Rearm is "alarm" (default) or "frequency".
	Rearm string `yaml:"rearm,omitempty" json:"rearm,omitempty"`

	// LogLevel is debug, info, warn or error. Default info.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// Duration wraps time.Duration for YAML/JSON marshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements custom YAML unmarshaling for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements custom YAML marshaling for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

// MarshalJSON writes the duration as a string like "1.5s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts the form written by MarshalJSON.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(bytes.TrimSpace(data), &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}
