package routine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

// ErrRunning is returned by Sequence.Start when the sequence is already
// running.
var ErrRunning = errors.New("sequence already running")

// Step is one stage of a Sequence. Its delay is measured from the end of the
// previous step (or from Start for the first step).
type Step struct {
	Name string

	// Delay waits on the time queue. Ignored when Ticks is non-zero.
	Delay time.Duration

	// Ticks waits on the tick queue. A step with neither Delay nor Ticks runs
	// in the same drive as the preceding step.
	Ticks uint64

	Do scheduler.Callback
}

// Sequence runs its steps in order, one continuation at a time.
type Sequence struct {
	Name  string
	Steps []Step

	// OnDone runs after the last step completes.
	OnDone scheduler.Callback

	stage     int
	active    bool
	gen       uint64
	completed int
	next      *scheduler.Handle
}

// Start begins the sequence from its first step. An empty sequence completes
// immediately and runs OnDone with ctx.
func (q *Sequence) Start(ctx context.Context, s *scheduler.Scheduler) error {
	if q.active {
		return fmt.Errorf("%s: %w", q.Name, ErrRunning)
	}
	q.gen++
	q.stage = 0
	q.active = true

	if len(q.Steps) == 0 {
		return q.finish(ctx, s)
	}
	q.next = q.schedule(s)
	return nil
}

// Abort stops the sequence at its current stage.
func (q *Sequence) Abort() {
	q.active = false
	q.gen++
	q.next.Cancel()
	q.next = nil
}

// Active reports whether the sequence is running.
func (q *Sequence) Active() bool {
	return q.active
}

// Stage returns the index of the next step to run.
func (q *Sequence) Stage() int {
	return q.stage
}

// Completed returns how many times the sequence ran to the end.
func (q *Sequence) Completed() int {
	return q.completed
}

func (q *Sequence) schedule(s *scheduler.Scheduler) *scheduler.Handle {
	gen, stage := q.gen, q.stage
	step := q.Steps[stage]
	cb := func(ctx context.Context, s *scheduler.Scheduler) error {
		return q.fire(ctx, s, gen, stage)
	}
	if step.Ticks > 0 {
		return s.ScheduleTicks(step.Ticks, cb)
	}
	if step.Delay > 0 {
		return s.ScheduleAfter(step.Delay, cb)
	}
	// The time queue drains last, so a zero-delay entry there runs in the
	// current drive whichever queue the previous step came from.
	return s.ScheduleAfter(0, cb)
}

func (q *Sequence) fire(ctx context.Context, s *scheduler.Scheduler, gen uint64, stage int) error {
	if !q.active || gen != q.gen || stage != q.stage {
		return nil
	}
	q.next = nil

	step := q.Steps[stage]
	if step.Do != nil {
		if err := step.Do(ctx, s); err != nil {
			q.active = false
			return fmt.Errorf("%s step %q: %w", q.Name, step.Name, err)
		}
	}
	if !q.active || gen != q.gen {
		return nil
	}

	q.stage++
	if q.stage == len(q.Steps) {
		return q.finish(ctx, s)
	}
	q.next = q.schedule(s)
	return nil
}

func (q *Sequence) finish(ctx context.Context, s *scheduler.Scheduler) error {
	q.active = false
	q.completed++
	if q.OnDone != nil {
		return q.OnDone(ctx, s)
	}
	return nil
}
