package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/alarm"
	"github.com/NavarchProject/eventdriver/pkg/clock"
)

// RealtimeOption configures a Realtime host.
type RealtimeOption func(*Realtime)

// WithClock sets the time source.
func WithClock(clk clock.Clock) RealtimeOption {
	return func(r *Realtime) {
		r.clock = clk
	}
}

// WithTickPeriod sets the polling unit used for update frequencies and
// immediate re-invocation.
func WithTickPeriod(d time.Duration) RealtimeOption {
	return func(r *Realtime) {
		if d > 0 {
			r.tickPeriod = d
		}
	}
}

// WithRealtimeLogger sets the logger.
func WithRealtimeLogger(logger *slog.Logger) RealtimeOption {
	return func(r *Realtime) {
		r.logger = logger
	}
}

// Realtime invokes a process against wall-clock time. Alarms are backed by
// clock timers and commands arrive through Send. Run owns all host state;
// only Send and Trace may be called from other goroutines.
type Realtime struct {
	clock      clock.Clock
	tickPeriod time.Duration
	logger     *slog.Logger
	commands   chan string

	alarms    directory[*RealtimeAlarm]
	order     []*RealtimeAlarm
	frequency alarm.Frequency
	immediate bool

	start time.Time
	last  time.Duration

	mu    sync.Mutex
	trace []Invocation
}

// NewRealtime returns a realtime host.
func NewRealtime(opts ...RealtimeOption) *Realtime {
	r := &Realtime{
		clock:      clock.Real(),
		tickPeriod: DefaultGranularity,
		logger:     slog.Default(),
		commands:   make(chan string, 16),
		alarms:     newDirectory[*RealtimeAlarm](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddAlarm declares an alarm with the given bounds.
func (r *Realtime) AddAlarm(name, group string, min, max time.Duration) *RealtimeAlarm {
	a := &RealtimeAlarm{host: r, name: name, min: min, max: max, delay: min}
	r.alarms.add(name, group, a)
	r.order = append(r.order, a)
	return a
}

// Alarm implements alarm.Directory.
func (r *Realtime) Alarm(name string) (alarm.Alarm, bool) {
	a, ok := r.alarms.byName[name]
	if !ok {
		return nil, false
	}
	return a, true
}

// Group implements alarm.Directory.
func (r *Realtime) Group(name string) []alarm.Alarm {
	members := r.alarms.byGroup[name]
	out := make([]alarm.Alarm, 0, len(members))
	for _, a := range members {
		out = append(out, a)
	}
	return out
}

// SetUpdateFrequency implements alarm.FrequencySetter.
func (r *Realtime) SetUpdateFrequency(f alarm.Frequency) {
	r.frequency = f
}

// Send delivers a command to the running process. It blocks until the host
// accepts it or ctx is done.
func (r *Realtime) Send(ctx context.Context, arg string) error {
	select {
	case r.commands <- arg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trace returns the invocations made so far.
func (r *Realtime) Trace() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.trace...)
}

// Run invokes p once immediately and then whenever it is due, until ctx is
// done or p fails. It returns ctx.Err() on cancellation.
func (r *Realtime) Run(ctx context.Context, p Process) error {
	r.start = r.clock.Now()
	r.last = 0

	timer := r.clock.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	inv := Invocation{Trigger: TriggerStart}
	seq := 0
	for {
		seq++
		inv.Seq = seq
		inv.At = r.clock.Since(r.start)
		inv.Elapsed = inv.At - r.last
		r.last = inv.At
		r.record(inv)

		r.immediate = false
		if err := p.Invoke(ctx, inv); err != nil {
			return fmt.Errorf("invocation %d at %v: %w", inv.Seq, inv.At, err)
		}

		wait, trigger, name, armed := r.next()
		var timerC <-chan time.Time
		if armed {
			timer.Reset(wait)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case arg := <-r.commands:
			timer.Stop()
			inv = Invocation{Trigger: TriggerCommand, Argument: arg}
		case <-timerC:
			inv = Invocation{Trigger: trigger, Alarm: name}
			if trigger == TriggerAlarm {
				r.disarm(name)
			}
		}
	}
}

func (r *Realtime) record(inv Invocation) {
	r.mu.Lock()
	r.trace = append(r.trace, inv)
	r.mu.Unlock()
	r.logger.Debug("invoking process",
		slog.Int("seq", inv.Seq),
		slog.Duration("at", inv.At),
		slog.String("trigger", string(inv.Trigger)),
	)
}

// next returns how long to wait for the earliest timed reason to invoke.
func (r *Realtime) next() (time.Duration, Trigger, string, bool) {
	now := r.clock.Since(r.start)
	var (
		best    time.Duration
		trigger Trigger
		name    string
		found   bool
	)
	consider := func(wait time.Duration, t Trigger, n string) {
		if wait < 0 {
			wait = 0
		}
		if !found || wait < best {
			best, trigger, name, found = wait, t, n, true
		}
	}

	if r.immediate {
		consider(r.tickPeriod, TriggerImmediate, "")
	}
	for _, a := range r.order {
		if a.armed && a.fireAt != never {
			consider(a.fireAt-now, TriggerAlarm, a.name)
		}
	}
	if n := r.frequency.Ticks(); n > 0 {
		consider(r.last+time.Duration(n)*r.tickPeriod-now, TriggerPoll, "")
	}
	return best, trigger, name, found
}

// disarm stops every alarm due by now, including name.
func (r *Realtime) disarm(name string) {
	now := r.clock.Since(r.start)
	for _, a := range r.order {
		if a.armed && (a.name == name || a.fireAt <= now) {
			a.armed = false
		}
	}
}

// RealtimeAlarm is a host alarm of a Realtime host.
type RealtimeAlarm struct {
	host     *Realtime
	name     string
	min, max time.Duration
	delay    time.Duration
	armed    bool
	fireAt   time.Duration
}

func (a *RealtimeAlarm) Name() string { return a.name }

func (a *RealtimeAlarm) Bounds() (time.Duration, time.Duration) { return a.min, a.max }

func (a *RealtimeAlarm) SetDelay(d time.Duration) {
	a.delay = alarm.Clamp(d, a.min, a.max)
}

// Start (re)starts the countdown from now. A countdown that would overflow
// never expires.
func (a *RealtimeAlarm) Start() {
	a.armed = true
	a.fireAt = addSat(a.host.clock.Since(a.host.start), a.delay)
}

// TriggerNow requests an invocation one tick period from now.
func (a *RealtimeAlarm) TriggerNow() {
	a.host.immediate = true
}
