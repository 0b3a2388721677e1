package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/host"
)

// Firing records one run of a scenario callback.
type Firing struct {
	Label string `json:"label"`

	// HostTime is the host time of the invocation that ran it.
	HostTime time.Duration `json:"host_time"`

	// Tick and Time are the scheduler clocks when it ran.
	Tick uint64        `json:"tick"`
	Time time.Duration `json:"time"`
}

// Report is the result of running a scenario.
type Report struct {
	RunID     string    `json:"run_id"`
	Scenario  string    `json:"scenario"`
	Seed      int64     `json:"seed"`
	StartedAt time.Time `json:"started_at"`
	Wall      string    `json:"wall"`

	StopReason string `json:"stop_reason"`
	Dormant    bool   `json:"dormant"`
	Ticks      uint64 `json:"ticks"`

	// Time is the final scheduler time since start.
	Time time.Duration `json:"time"`

	Wakes         int                 `json:"wakes"`
	Invocations   []host.Invocation   `json:"invocations"`
	Firings       []Firing            `json:"firings"`
	AlarmRequests []host.AlarmRequest `json:"alarm_requests,omitempty"`
	Assertions    []AssertionResult   `json:"assertions,omitempty"`
	Error         string              `json:"error,omitempty"`

	// labels holds every label a firing could carry, so assertions can
	// index labels that never fired.
	labels []string
}

// Passed reports whether the run finished without error and every
// assertion held.
func (r *Report) Passed() bool {
	if r.Error != "" {
		return false
	}
	for _, a := range r.Assertions {
		if !a.Passed {
			return false
		}
	}
	return true
}

// Failed returns the assertions that did not pass.
func (r *Report) Failed() []AssertionResult {
	var out []AssertionResult
	for _, a := range r.Assertions {
		if !a.Passed {
			out = append(out, a)
		}
	}
	return out
}

// FiringsOf returns the scheduler times at which label fired.
func (r *Report) FiringsOf(label string) []time.Duration {
	var out []time.Duration
	for _, f := range r.Firings {
		if f.Label == label {
			out = append(out, f.Time)
		}
	}
	return out
}

// WriteJSON writes the report to filename.
func (r *Report) WriteJSON(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// variables builds the CEL activation for the report.
func (r *Report) variables() map[string]any {
	fired := make(map[string][]float64, len(r.labels))
	firedTicks := make(map[string][]int64, len(r.labels))
	for _, l := range r.labels {
		fired[l] = []float64{}
		firedTicks[l] = []int64{}
	}
	for _, f := range r.Firings {
		fired[f.Label] = append(fired[f.Label], f.Time.Seconds())
		firedTicks[f.Label] = append(firedTicks[f.Label], int64(f.Tick))
	}

	delays := make([]float64, 0, len(r.AlarmRequests))
	for _, a := range r.AlarmRequests {
		delays = append(delays, a.Delay.Seconds())
	}

	return map[string]any{
		"fired":        fired,
		"fired_ticks":  firedTicks,
		"invocations":  int64(len(r.Invocations)),
		"alarm_delays": delays,
		"wakes":        int64(r.Wakes),
		"dormant":      r.Dormant,
		"ticks":        int64(r.Ticks),
		"time":         r.Time.Seconds(),
		"stop_reason":  r.StopReason,
	}
}
