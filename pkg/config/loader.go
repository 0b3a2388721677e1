package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all loaded configuration resources.
type Config struct {
	Host    *Host
	Process *Process
}

// Load reads configuration from a file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
// Supports multi-document YAML (separated by ---).
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))

	for {
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode YAML document: %w", err)
		}

		if raw == nil {
			continue
		}

		kind, _ := raw["kind"].(string)
		apiVersion, _ := raw["apiVersion"].(string)

		if apiVersion != "" && apiVersion != APIVersion {
			return nil, fmt.Errorf("unsupported apiVersion: %s (expected %s)", apiVersion, APIVersion)
		}

		docBytes, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal document: %w", err)
		}

		switch kind {
		case KindHost:
			var h Host
			if err := yaml.Unmarshal(docBytes, &h); err != nil {
				return nil, fmt.Errorf("failed to parse Host: %w", err)
			}
			if cfg.Host != nil {
				return nil, fmt.Errorf("multiple Host resources found")
			}
			cfg.Host = &h

		case KindProcess:
			var p Process
			if err := yaml.Unmarshal(docBytes, &p); err != nil {
				return nil, fmt.Errorf("failed to parse Process: %w", err)
			}
			if cfg.Process != nil {
				return nil, fmt.Errorf("multiple Process resources found")
			}
			cfg.Process = &p

		case "":
			return nil, fmt.Errorf("document missing 'kind' field")

		default:
			return nil, fmt.Errorf("unknown kind: %s", kind)
		}
	}

	return cfg, nil
}

// Defaults fills in missing resources and default values.
func (c *Config) Defaults() {
	if c.Host == nil {
		c.Host = &Host{TypeMeta: TypeMeta{APIVersion: APIVersion, Kind: KindHost}}
	}
	if c.Process == nil {
		c.Process = &Process{TypeMeta: TypeMeta{APIVersion: APIVersion, Kind: KindProcess}}
	}
	c.Host.Spec.Defaults()
	c.Process.Spec.Defaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host != nil {
		if err := c.Host.Spec.Validate(); err != nil {
			return fmt.Errorf("Host %q: %w", c.Host.Metadata.Name, err)
		}
	}
	if c.Process != nil {
		if err := c.Process.Spec.Validate(); err != nil {
			return fmt.Errorf("Process %q: %w", c.Process.Metadata.Name, err)
		}
	}
	return nil
}

// Default host settings.
const (
	DefaultGranularity = Duration(time.Second / 60)
	DefaultHorizon     = Duration(time.Minute)
	DefaultMinDelay    = Duration(time.Second)
	DefaultMaxDelay    = Duration(time.Hour)
)

// Defaults applies default values to the host spec. A host with no alarms
// gets a single alarm named "clock".
func (h *HostSpec) Defaults() {
	if h.Granularity == 0 {
		h.Granularity = DefaultGranularity
	}
	if h.Horizon == 0 {
		h.Horizon = DefaultHorizon
	}
	if len(h.Alarms) == 0 {
		h.Alarms = []AlarmSpec{{Name: "clock"}}
	}
	for i := range h.Alarms {
		a := &h.Alarms[i]
		if a.MinDelay == 0 {
			a.MinDelay = DefaultMinDelay
		}
		if a.MaxDelay == 0 {
			a.MaxDelay = DefaultMaxDelay
		}
	}
}

// Validate checks the host spec.
func (h *HostSpec) Validate() error {
	if h.Granularity < 0 {
		return fmt.Errorf("granularity must be >= 0")
	}
	if h.Jitter < 0 {
		return fmt.Errorf("jitter must be >= 0")
	}
	if h.Horizon < 0 {
		return fmt.Errorf("horizon must be >= 0")
	}
	names := make(map[string]bool)
	for i, a := range h.Alarms {
		if a.Name == "" {
			return fmt.Errorf("alarm %d: name is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate alarm name: %s", a.Name)
		}
		names[a.Name] = true
		if a.MinDelay < 0 {
			return fmt.Errorf("alarm %s: min_delay must be >= 0", a.Name)
		}
		if a.MaxDelay != 0 && a.MaxDelay < a.MinDelay {
			return fmt.Errorf("alarm %s: max_delay must be >= min_delay", a.Name)
		}
	}
	return nil
}

// Defaults applies default values to the process spec. With neither an
// alarm name nor a group, the process looks for the alarm named "clock".
func (p *ProcessSpec) Defaults() {
	if p.Rearm == "" {
		p.Rearm = RearmAlarm
	}
	if p.AlarmName == "" && p.AlarmGroup == "" && p.Rearm == RearmAlarm {
		p.AlarmName = "clock"
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
}

// Validate checks the process spec.
func (p *ProcessSpec) Validate() error {
	switch p.Rearm {
	case "", RearmAlarm, RearmFrequency:
	default:
		return fmt.Errorf("invalid rearm policy %q (expected %s or %s)", p.Rearm, RearmAlarm, RearmFrequency)
	}
	if p.LogLevel != "" {
		if _, err := ParseLevel(p.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}
