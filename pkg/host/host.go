// Package host provides the environments that invoke a scheduled program:
// a deterministic simulated host for scenarios and tests, and a realtime host
// driven by wall-clock timers.
//
// A host owns the alarms and the polling rate the scheduler re-arms after
// every drive. It invokes the program through the Process interface and
// decides, from what the program asked for, when to invoke it next.
package host

import (
	"context"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

// Trigger names what caused an invocation.
type Trigger string

const (
	TriggerStart     Trigger = "start"
	TriggerCommand   Trigger = "command"
	TriggerAlarm     Trigger = "alarm"
	TriggerImmediate Trigger = "immediate"
	TriggerPoll      Trigger = "poll"
)

// Invocation describes one call into the program.
type Invocation struct {
	// Seq numbers invocations from 1.
	Seq int `json:"seq"`

	// At is the host time of the invocation, measured from the start of Run.
	At time.Duration `json:"at"`

	// Elapsed is the host time since the previous invocation.
	Elapsed time.Duration `json:"elapsed"`

	Trigger Trigger `json:"trigger"`

	// Alarm is the name of the alarm that fired, for TriggerAlarm.
	Alarm string `json:"alarm,omitempty"`

	// Argument is the command delivered with this invocation, if any.
	Argument string `json:"argument,omitempty"`
}

// Process is a program a host invokes.
type Process interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// ProcessFunc adapts a function to Process.
type ProcessFunc func(ctx context.Context, inv Invocation) error

func (f ProcessFunc) Invoke(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// HooksFunc builds the hooks for one invocation. It may return zero Hooks.
type HooksFunc func(inv Invocation) scheduler.Hooks

// Drive returns a Process that runs s once per invocation, passing the
// invocation's elapsed time. hooks may be nil.
func Drive(s *scheduler.Scheduler, hooks HooksFunc) Process {
	return ProcessFunc(func(ctx context.Context, inv Invocation) error {
		var h scheduler.Hooks
		if hooks != nil {
			h = hooks(inv)
		}
		_, err := s.Run(ctx, inv.Elapsed, h)
		return err
	})
}

// AlarmRequest records one Start of a host alarm.
type AlarmRequest struct {
	At    time.Duration `json:"at"`
	Alarm string        `json:"alarm"`
	Delay time.Duration `json:"delay"`
}

// directory indexes alarms by name and group.
type directory[A any] struct {
	byName  map[string]A
	byGroup map[string][]A
}

func newDirectory[A any]() directory[A] {
	return directory[A]{
		byName:  make(map[string]A),
		byGroup: make(map[string][]A),
	}
}

func (d *directory[A]) add(name, group string, a A) {
	d.byName[name] = a
	if group != "" {
		d.byGroup[group] = append(d.byGroup[group], a)
	}
}
