// Package routine provides the recurring client shapes built on the
// scheduler: a periodic task and a multi-step sequence.
//
// Both are explicit state machines. Each scheduled continuation carries the
// generation it was scheduled under; stopping or restarting a routine bumps
// the generation so stale continuations still sitting in a queue do nothing
// when they are drained.
package routine

import (
	"context"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

// Periodic runs Run repeatedly, rescheduling itself after every run.
type Periodic struct {
	// Name identifies the routine in logs and traces.
	Name string

	// Interval is the time between runs. Ignored when Ticks is non-zero.
	Interval time.Duration

	// Ticks, when non-zero, reschedules on the tick queue instead.
	Ticks uint64

	// Run is the body of the routine.
	Run scheduler.Callback

	active bool
	gen    uint64
	runs   int
	next   *scheduler.Handle
}

// Start schedules the first run with no delay. Starting an active routine
// restarts it.
func (p *Periodic) Start(s *scheduler.Scheduler) {
	p.next.Cancel()
	p.gen++
	p.active = true
	p.next = p.schedule(s, true)
}

// Stop prevents further runs. A run already in progress completes but does
// not reschedule.
func (p *Periodic) Stop() {
	p.active = false
	p.gen++
	p.next.Cancel()
	p.next = nil
}

// Active reports whether the routine will run again.
func (p *Periodic) Active() bool {
	return p.active
}

// Runs returns how many times Run has been called.
func (p *Periodic) Runs() int {
	return p.runs
}

func (p *Periodic) schedule(s *scheduler.Scheduler, first bool) *scheduler.Handle {
	gen := p.gen
	cb := func(ctx context.Context, s *scheduler.Scheduler) error {
		return p.fire(ctx, s, gen)
	}
	if p.Ticks > 0 {
		if first {
			return s.ScheduleTicks(0, cb)
		}
		return s.ScheduleTicks(p.Ticks, cb)
	}
	if first {
		return s.ScheduleAfter(0, cb)
	}
	return s.ScheduleAfter(p.Interval, cb)
}

func (p *Periodic) fire(ctx context.Context, s *scheduler.Scheduler, gen uint64) error {
	if !p.active || gen != p.gen {
		return nil
	}
	p.next = nil
	p.runs++

	if p.Run != nil {
		if err := p.Run(ctx, s); err != nil {
			p.active = false
			return err
		}
	}

	// Run may have stopped or restarted the routine.
	if !p.active || gen != p.gen {
		return nil
	}
	p.next = p.schedule(s, false)
	return nil
}
