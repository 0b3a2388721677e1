// Package scheduler provides a cooperative deferred-execution scheduler for
// programs hosted by an environment that only ever invokes them for a short,
// bounded slice of work.
//
// Callers register future work against one of two clocks: a tick counter
// advanced once per host invocation, or a wall-clock accumulator advanced by
// the host-reported elapsed time. Each invocation calls Drive (or Run), which
// advances both clocks, runs every entry that has become due, and asks the
// host to invoke the program again when the next entry will be due.
//
// Everything runs on the caller's goroutine. A callback "waits" by scheduling
// its own continuation and returning. Scheduled times are lower bounds: a slow
// host may invoke Drive arbitrarily late.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/alarm"
	"github.com/NavarchProject/eventdriver/pkg/clock"
	"github.com/NavarchProject/eventdriver/pkg/queue"
)

// Callback is a unit of scheduled work. It runs synchronously inside Drive
// and may schedule further work on s, including a zero-delay continuation of
// itself. A returned error aborts the rest of the drain and is returned from
// Drive.
type Callback func(ctx context.Context, s *Scheduler) error

// State is the scheduler's lifecycle state.
type State string

const (
	// StateDormant means both queues are empty.
	StateDormant State = "dormant"

	// StateArmed means work is pending.
	StateArmed State = "armed"

	// StateDraining means Drive is running due entries.
	StateDraining State = "draining"
)

// Scheduler owns the clock state and both pending-action queues. It is
// constructed once per process run and never persisted. It is not safe for
// concurrent use.
type Scheduler struct {
	clock clock.State
	ticks queue.Queue[uint64, *Handle]
	timed queue.Queue[time.Duration, *Handle]

	rearmer  alarm.Rearmer
	logger   *slog.Logger
	metrics  *Metrics
	draining bool
	last     alarm.Decision
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRearmer sets the policy used to ask the host for the next invocation.
// The default, alarm.Nop, never touches the host.
func WithRearmer(r alarm.Rearmer) Option {
	return func(s *Scheduler) {
		s.rearmer = r
	}
}

// WithAlarms re-arms the given host alarms after every drive.
func WithAlarms(alarms alarm.Set) Option {
	return WithRearmer(alarm.NewTimerRearmer(alarms))
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics records scheduler activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a Scheduler at tick 0, time 0 with empty queues.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		rearmer: alarm.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleTicks runs cb once the tick counter reaches its current value plus
// delay. A nil cb schedules the wake sentinel. A zero delay scheduled from a
// callback runs within the same drive.
func (s *Scheduler) ScheduleTicks(delay uint64, cb Callback) *Handle {
	when := s.clock.Ticks() + delay
	if when < delay {
		when = math.MaxUint64
	}
	h := &Handle{queue: QueueTick, callback: cb, tickWhen: when}
	s.ticks.Push(when, h)
	s.metrics.setPending(s.ticks.Len(), s.timed.Len())
	return h
}

// ScheduleTime runs cb once delaySeconds of host time have passed. Negative
// delays are treated as zero. A nil cb schedules the wake sentinel.
func (s *Scheduler) ScheduleTime(delaySeconds float64, cb Callback) *Handle {
	return s.ScheduleAfter(secondsToDuration(delaySeconds), cb)
}

// ScheduleAfter is ScheduleTime taking a time.Duration.
func (s *Scheduler) ScheduleAfter(delay time.Duration, cb Callback) *Handle {
	if delay < 0 {
		delay = 0
	}
	when := s.clock.SinceStart() + delay
	if when < delay {
		when = math.MaxInt64
	}
	h := &Handle{queue: QueueTime, callback: cb, timeWhen: when}
	s.timed.Push(when, h)
	s.metrics.setPending(s.ticks.Len(), s.timed.Len())
	return h
}

// Wake schedules the wake sentinel on the time queue after delaySeconds.
func (s *Scheduler) Wake(delaySeconds float64) *Handle {
	return s.ScheduleTime(delaySeconds, nil)
}

// Drive is the per-invocation entry point. elapsed is the host-reported time
// since the previous invocation. It returns true when a wake sentinel fired.
//
// If a callback fails, Drive returns immediately with a *FaultError. Entries
// that already ran are gone; due entries not yet reached stay queued and run
// on the next call. The host is not re-armed on failure.
func (s *Scheduler) Drive(ctx context.Context, elapsed time.Duration) (bool, error) {
	s.advance(elapsed)
	wake, err := s.drain(ctx)
	if err != nil {
		return false, err
	}
	s.rearm()
	return wake, nil
}

// Hooks are optional callbacks run around a drive by Run.
type Hooks struct {
	// Pre runs after the clocks advance, before anything is drained.
	Pre Callback

	// Argument runs after Pre, before draining. Hosts use it to handle the
	// command that caused this invocation.
	Argument Callback

	// Main runs after draining, only if a wake sentinel fired.
	Main Callback

	// Post runs last, before the host is re-armed.
	Post Callback
}

// Run drives one invocation with hooks. Re-arming happens after Main and Post
// so that work they schedule is reflected in the request to the host. It
// returns whether Main ran.
func (s *Scheduler) Run(ctx context.Context, elapsed time.Duration, hooks Hooks) (bool, error) {
	s.advance(elapsed)
	if err := s.hook(ctx, hooks.Pre); err != nil {
		return false, err
	}
	if err := s.hook(ctx, hooks.Argument); err != nil {
		return false, err
	}

	wake, err := s.drain(ctx)
	if err != nil {
		return false, err
	}

	ranMain := false
	if wake && hooks.Main != nil {
		if err := hooks.Main(ctx, s); err != nil {
			return false, err
		}
		ranMain = true
	}
	if err := s.hook(ctx, hooks.Post); err != nil {
		return ranMain, err
	}

	s.rearm()
	return ranMain, nil
}

func (s *Scheduler) hook(ctx context.Context, cb Callback) error {
	if cb == nil {
		return nil
	}
	return cb(ctx, s)
}

// advance moves both clocks forward for a new invocation.
func (s *Scheduler) advance(elapsed time.Duration) {
	s.clock.Advance(elapsed)
	s.metrics.observeDrive()
}

// drain runs every due entry, tick queue first.
func (s *Scheduler) drain(ctx context.Context) (bool, error) {
	s.draining = true
	defer func() {
		s.draining = false
		s.metrics.setPending(s.ticks.Len(), s.timed.Len())
	}()

	wake := false
	for {
		e, ok := s.ticks.PopDue(s.clock.Ticks())
		if !ok {
			break
		}
		w, err := s.fire(ctx, e.Value)
		if err != nil {
			return false, err
		}
		wake = wake || w
	}
	for {
		e, ok := s.timed.PopDue(s.clock.SinceStart())
		if !ok {
			break
		}
		w, err := s.fire(ctx, e.Value)
		if err != nil {
			return false, err
		}
		wake = wake || w
	}
	return wake, nil
}

// fire runs a popped entry. The entry is already out of its queue.
func (s *Scheduler) fire(ctx context.Context, h *Handle) (bool, error) {
	if h.cancelled {
		s.metrics.observeSkipped(h.queue)
		s.logger.Debug("skipping cancelled action",
			slog.String("queue", string(h.queue)),
			slog.String("when", h.whenString()),
		)
		return false, nil
	}
	h.fired = true

	if h.callback == nil {
		s.metrics.observeWake(h.queue)
		return true, nil
	}

	s.metrics.observeFired(h.queue)
	if err := h.callback(ctx, s); err != nil {
		s.metrics.observeFault(h.queue)
		s.logger.Warn("scheduled action failed",
			slog.String("queue", string(h.queue)),
			slog.String("when", h.whenString()),
			slog.Uint64("tick", s.clock.Ticks()),
			slog.String("error", err.Error()),
		)
		return false, &FaultError{Queue: h.queue, When: h.whenString(), Tick: s.clock.Ticks(), Err: err}
	}
	return false, nil
}

func (s *Scheduler) rearm() {
	p := s.Pending()
	d := s.rearmer.Rearm(p)
	s.last = d
	s.metrics.observeRearm(d)
	s.logger.Debug("rearmed host",
		slog.String("decision", string(d.Kind)),
		slog.Duration("delay", d.Delay),
		slog.Int("tick_entries", p.TickEntries),
		slog.Int("time_entries", p.TimeEntries),
	)
}

// Pending summarizes both queues. Cancelled entries not yet drained are
// counted.
func (s *Scheduler) Pending() alarm.Pending {
	p := alarm.Pending{
		TickEntries: s.ticks.Len(),
		TimeEntries: s.timed.Len(),
		Now:         s.clock.SinceStart(),
	}
	if e, ok := s.timed.Peek(); ok {
		p.NextTime = e.When
	}
	return p
}

// LastDecision returns the most recent re-arm decision.
func (s *Scheduler) LastDecision() alarm.Decision {
	return s.last
}

// State returns the scheduler's lifecycle state.
func (s *Scheduler) State() State {
	switch {
	case s.draining:
		return StateDraining
	case s.ticks.Len() > 0 || s.timed.Len() > 0:
		return StateArmed
	default:
		return StateDormant
	}
}

// Ticks returns the tick counter.
func (s *Scheduler) Ticks() uint64 {
	return s.clock.Ticks()
}

// TimeSinceStart returns the wall-clock accumulator.
func (s *Scheduler) TimeSinceStart() time.Duration {
	return s.clock.SinceStart()
}

func secondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	d := seconds * float64(time.Second)
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(math.Round(d))
}
