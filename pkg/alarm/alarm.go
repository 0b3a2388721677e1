// Package alarm decides how a scheduler asks its host to be invoked again.
//
// The host never runs the program on its own accord; after every invocation
// the scheduler inspects its queues and either requests an immediate
// re-invocation, arms a one-shot alarm for the delay until the next timed
// entry, or does nothing and goes dormant.
package alarm

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAlarm is returned by Require when neither the name nor the group
// resolves to an alarm.
var ErrNoAlarm = errors.New("no alarm resolved")

// Alarm is a re-armable one-shot alarm exposed by the host.
type Alarm interface {
	// Name identifies the alarm within its host.
	Name() string

	// Bounds returns the minimum and maximum delay the host accepts.
	Bounds() (min, max time.Duration)

	// SetDelay configures the delay used by the next Start.
	SetDelay(d time.Duration)

	// Start arms the alarm; the host invokes the program once the configured
	// delay has elapsed.
	Start()

	// TriggerNow asks the host to invoke the program at its next opportunity.
	TriggerNow()
}

// Directory locates alarms exposed by a host.
type Directory interface {
	// Alarm returns the alarm with the given name.
	Alarm(name string) (Alarm, bool)

	// Group returns the alarms that belong to the named group.
	Group(name string) []Alarm
}

// Set is the collection of alarms a scheduler re-arms together.
type Set []Alarm

// Resolve looks up the named alarm and every alarm in group, in that order,
// skipping duplicates. Empty name or group are ignored. An empty Set is not
// an error: re-arming an empty Set does nothing.
func Resolve(dir Directory, name, group string) Set {
	if dir == nil {
		return nil
	}

	var set Set
	seen := make(map[string]bool)
	add := func(a Alarm) {
		if a == nil || seen[a.Name()] {
			return
		}
		seen[a.Name()] = true
		set = append(set, a)
	}

	if name != "" {
		if a, ok := dir.Alarm(name); ok {
			add(a)
		}
	}
	if group != "" {
		for _, a := range dir.Group(group) {
			add(a)
		}
	}
	return set
}

// Require is Resolve for callers that cannot run without an alarm.
func Require(dir Directory, name, group string) (Set, error) {
	set := Resolve(dir, name, group)
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: name=%q group=%q", ErrNoAlarm, name, group)
	}
	return set, nil
}

// Pending summarizes a scheduler's queues after a drain.
type Pending struct {
	// TickEntries is the number of entries left in the tick queue.
	TickEntries int

	// TimeEntries is the number of entries left in the time queue.
	TimeEntries int

	// NextTime is the due point of the time queue's head. Only meaningful
	// when TimeEntries > 0.
	NextTime time.Duration

	// Now is the scheduler's accumulated wall-clock time.
	Now time.Duration
}

// Empty reports whether both queues are empty.
func (p Pending) Empty() bool {
	return p.TickEntries == 0 && p.TimeEntries == 0
}

// Kind is the outcome of a re-arm decision.
type Kind string

const (
	// KindDormant means both queues are empty and nothing was requested.
	KindDormant Kind = "dormant"

	// KindImmediate means the host was asked to invoke again right away.
	KindImmediate Kind = "immediate"

	// KindDelayed means the host was asked to invoke again after Delay.
	KindDelayed Kind = "delayed"

	// KindUnarmed means work is pending but no alarm could be addressed.
	KindUnarmed Kind = "unarmed"
)

// Decision records what a Rearmer asked of the host.
type Decision struct {
	Kind  Kind
	Delay time.Duration

	// Frequency is set by FrequencyRearmer.
	Frequency Frequency
}

// Rearmer applies a re-arm policy to the host after each drain.
type Rearmer interface {
	Rearm(p Pending) Decision
}

// Nop is a Rearmer that never touches the host. Its decisions still
// describe what would have been requested.
type Nop struct{}

// Rearm implements Rearmer.
func (Nop) Rearm(p Pending) Decision {
	d := Plan(p, 0, 0)
	if d.Kind != KindDormant {
		d.Kind = KindUnarmed
	}
	return d
}

// Plan computes the decision for p against an alarm accepting delays in
// [min, max]. A max of zero disables the upper bound.
func Plan(p Pending, min, max time.Duration) Decision {
	switch {
	case p.TickEntries > 0:
		return Decision{Kind: KindImmediate}
	case p.TimeEntries > 0:
		return Decision{Kind: KindDelayed, Delay: Clamp(p.NextTime-p.Now, min, max)}
	default:
		return Decision{Kind: KindDormant}
	}
}

// Clamp limits d to [min, max]. A max of zero disables the upper bound.
func Clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		d = min
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
