// Package scenario runs scripted scheduler scenarios against a simulated
// host and checks the resulting trace with CEL assertions.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NavarchProject/eventdriver/pkg/config"
)

var (
	// ErrUnknownRoutine is returned for commands naming an undeclared routine.
	ErrUnknownRoutine = errors.New("unknown routine")

	// ErrAssertionFailed is returned by Run when any assertion fails.
	ErrAssertionFailed = errors.New("assertion failed")
)

// Routine types.
const (
	RoutinePeriodic = "periodic"
	RoutineSequence = "sequence"
	RoutineRetry    = "retry"
)

// Scenario defines a scripted run of the scheduler.
type Scenario struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Host        config.HostSpec    `yaml:"host,omitempty"`
	Process     config.ProcessSpec `yaml:"process,omitempty"`
	Routines    []RoutineSpec      `yaml:"routines,omitempty"`
	Commands    []Command          `yaml:"commands,omitempty"`
	Assertions  []Assertion        `yaml:"assertions,omitempty"`
}

// RoutineSpec declares a client routine. Every run of a routine records a
// firing under a label: the routine name for each periodic run or retry
// attempt, "<routine>.<step>" for sequence steps, and "<routine>.done" when a
// sequence completes or a retry succeeds.
type RoutineSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// Start starts the routine on the first invocation.
	Start bool `yaml:"start,omitempty"`

	// Periodic and retry timing.
	Interval config.Duration `yaml:"interval,omitempty"`
	Ticks    uint64          `yaml:"ticks,omitempty"`

	// Runs stops a periodic routine after that many runs. Zero means no limit.
	Runs int `yaml:"runs,omitempty"`

	Steps []StepSpec `yaml:"steps,omitempty"`

	// Retry settings. FailTimes attempts fail before one succeeds.
	MaxAttempts int     `yaml:"max_attempts,omitempty"`
	Multiplier  float64 `yaml:"multiplier,omitempty"`
	FailTimes   int     `yaml:"fail_times,omitempty"`

	// Jitter spreads retry delays by +/- that fraction, drawn from the run
	// seed.
	Jitter float64 `yaml:"jitter,omitempty"`
}

// StepSpec is one step of a sequence routine.
type StepSpec struct {
	Name  string          `yaml:"name"`
	Delay config.Duration `yaml:"delay,omitempty"`
	Ticks uint64          `yaml:"ticks,omitempty"`
}

// Command is an external command delivered by the host at a fixed time.
//
//	start <routine>
//	stop <routine>
//	wake
//	schedule <label> <seconds>
//	schedule_ticks <label> <ticks>
type Command struct {
	At config.Duration `yaml:"at"`
	Do string          `yaml:"do"`
}

// Assertion is a CEL expression evaluated after the run. It must yield a bool.
type Assertion struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// Command verbs.
const (
	VerbStart         = "start"
	VerbStop          = "stop"
	VerbWake          = "wake"
	VerbSchedule      = "schedule"
	VerbScheduleTicks = "schedule_ticks"
)

// Action is a parsed command.
type Action struct {
	Verb    string
	Target  string
	Seconds float64
	Ticks   uint64
}

// ParseAction parses a command string.
func ParseAction(s string) (Action, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Action{}, fmt.Errorf("empty command")
	}

	a := Action{Verb: fields[0]}
	switch a.Verb {
	case VerbWake:
		if len(fields) != 1 {
			return Action{}, fmt.Errorf("%s takes no arguments", a.Verb)
		}
	case VerbStart, VerbStop:
		if len(fields) != 2 {
			return Action{}, fmt.Errorf("%s requires a routine name", a.Verb)
		}
		a.Target = fields[1]
	case VerbSchedule:
		if len(fields) != 3 {
			return Action{}, fmt.Errorf("%s requires a label and a delay in seconds", a.Verb)
		}
		secs, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Action{}, fmt.Errorf("invalid delay %q: %w", fields[2], err)
		}
		a.Target, a.Seconds = fields[1], secs
	case VerbScheduleTicks:
		if len(fields) != 3 {
			return Action{}, fmt.Errorf("%s requires a label and a tick count", a.Verb)
		}
		n, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return Action{}, fmt.Errorf("invalid tick count %q: %w", fields[2], err)
		}
		a.Target, a.Ticks = fields[1], n
	default:
		return Action{}, fmt.Errorf("unknown command %q", a.Verb)
	}
	return a, nil
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario from YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Validate checks the scenario for errors.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if err := s.Host.Validate(); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	if err := s.Process.Validate(); err != nil {
		return fmt.Errorf("process: %w", err)
	}

	routines := make(map[string]bool)
	for i, r := range s.Routines {
		if r.Name == "" {
			return fmt.Errorf("routine %d: name is required", i)
		}
		if routines[r.Name] {
			return fmt.Errorf("duplicate routine name: %s", r.Name)
		}
		routines[r.Name] = true
		if err := r.validate(); err != nil {
			return fmt.Errorf("routine %s: %w", r.Name, err)
		}
	}

	for i, c := range s.Commands {
		if c.At < 0 {
			return fmt.Errorf("command %d: at must be >= 0", i)
		}
		a, err := ParseAction(c.Do)
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		if (a.Verb == VerbStart || a.Verb == VerbStop) && !routines[a.Target] {
			return fmt.Errorf("command %d: %w: %s", i, ErrUnknownRoutine, a.Target)
		}
	}

	for i, a := range s.Assertions {
		if a.Expr == "" {
			return fmt.Errorf("assertion %d: expr is required", i)
		}
	}
	return nil
}

func (r RoutineSpec) validate() error {
	switch r.Type {
	case RoutinePeriodic:
		if r.Interval <= 0 && r.Ticks == 0 {
			return fmt.Errorf("periodic routine needs interval or ticks")
		}
		if r.Runs < 0 {
			return fmt.Errorf("runs must be >= 0")
		}
	case RoutineSequence:
		if len(r.Steps) == 0 {
			return fmt.Errorf("sequence routine needs at least one step")
		}
		names := make(map[string]bool)
		for i, step := range r.Steps {
			if step.Name == "" {
				return fmt.Errorf("step %d: name is required", i)
			}
			if names[step.Name] {
				return fmt.Errorf("duplicate step name: %s", step.Name)
			}
			names[step.Name] = true
			if step.Delay < 0 {
				return fmt.Errorf("step %s: delay must be >= 0", step.Name)
			}
		}
	case RoutineRetry:
		if r.MaxAttempts < 0 || r.FailTimes < 0 {
			return fmt.Errorf("max_attempts and fail_times must be >= 0")
		}
		if r.Interval < 0 {
			return fmt.Errorf("interval must be >= 0")
		}
		if r.Jitter < 0 || r.Jitter > 1 {
			return fmt.Errorf("jitter must be within [0, 1]")
		}
	default:
		return fmt.Errorf("unknown routine type %q", r.Type)
	}
	return nil
}

// labels returns every firing label the routine can record.
func (r RoutineSpec) labels() []string {
	switch r.Type {
	case RoutinePeriodic:
		return []string{r.Name}
	case RoutineRetry:
		return []string{r.Name, r.Name + ".done"}
	}
	out := make([]string, 0, len(r.Steps)+1)
	for _, step := range r.Steps {
		out = append(out, r.Name+"."+step.Name)
	}
	return append(out, r.Name+".done")
}
