package host

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/alarm"
)

// DefaultGranularity is the simulated host's invocation resolution.
const DefaultGranularity = time.Second / 60

// StopReason says why a simulated run ended.
type StopReason string

const (
	StopDormant  StopReason = "dormant"
	StopHorizon  StopReason = "horizon"
	StopCanceled StopReason = "canceled"
	StopFault    StopReason = "fault"
)

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithGranularity sets the invocation resolution. Every invocation happens
// on a multiple of it.
func WithGranularity(d time.Duration) SimOption {
	return func(s *Sim) {
		if d > 0 {
			s.granularity = d
		}
	}
}

// WithJitter makes invocations up to d late. Lateness is drawn from the
// seeded source.
func WithJitter(d time.Duration) SimOption {
	return func(s *Sim) {
		if d > 0 {
			s.jitter = d
		}
	}
}

// WithSeed seeds the jitter source.
func WithSeed(seed int64) SimOption {
	return func(s *Sim) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithHorizon ends the run before the first invocation later than d.
// Zero means no horizon.
func WithHorizon(d time.Duration) SimOption {
	return func(s *Sim) {
		s.horizon = d
	}
}

// WithSimLogger sets the logger.
func WithSimLogger(logger *slog.Logger) SimOption {
	return func(s *Sim) {
		s.logger = logger
	}
}

type command struct {
	at  time.Duration
	arg string
}

// Sim is a deterministic discrete-time host. It invokes the process at
// t=0 and then whenever one of its alarms expires, an immediate invocation
// was requested, the polling rate comes due, or an external command arrives.
//
// Sim is not safe for concurrent use.
type Sim struct {
	granularity time.Duration
	jitter      time.Duration
	horizon     time.Duration
	rng         *rand.Rand
	logger      *slog.Logger

	alarms    directory[*SimAlarm]
	order     []*SimAlarm
	commands  []command
	frequency alarm.Frequency

	now       time.Duration
	last      time.Duration
	immediate bool
	seq       int
	stop      StopReason

	trace    []Invocation
	alarmLog []AlarmRequest
}

// NewSim returns a simulated host.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		granularity: DefaultGranularity,
		rng:         rand.New(rand.NewSource(1)),
		logger:      slog.Default(),
		alarms:      newDirectory[*SimAlarm](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAlarm declares an alarm. Delays requested of it are clamped into
// [min, max]; a zero max means no upper bound.
func (s *Sim) AddAlarm(name, group string, min, max time.Duration) *SimAlarm {
	a := &SimAlarm{sim: s, name: name, group: group, min: min, max: max, delay: min}
	s.alarms.add(name, group, a)
	s.order = append(s.order, a)
	return a
}

// Alarm implements alarm.Directory.
func (s *Sim) Alarm(name string) (alarm.Alarm, bool) {
	a, ok := s.alarms.byName[name]
	if !ok {
		return nil, false
	}
	return a, true
}

// Group implements alarm.Directory.
func (s *Sim) Group(name string) []alarm.Alarm {
	members := s.alarms.byGroup[name]
	out := make([]alarm.Alarm, 0, len(members))
	for _, a := range members {
		out = append(out, a)
	}
	return out
}

// SetUpdateFrequency implements alarm.FrequencySetter.
func (s *Sim) SetUpdateFrequency(f alarm.Frequency) {
	s.frequency = f
}

// Command queues an external command delivered as the argument of the first
// invocation at or after host time at.
func (s *Sim) Command(at time.Duration, arg string) {
	s.commands = append(s.commands, command{at: at, arg: arg})
	sort.SliceStable(s.commands, func(i, j int) bool {
		return s.commands[i].at < s.commands[j].at
	})
}

// Now returns the current host time.
func (s *Sim) Now() time.Duration {
	return s.now
}

// Trace returns every invocation made so far.
func (s *Sim) Trace() []Invocation {
	return append([]Invocation(nil), s.trace...)
}

// AlarmLog returns every alarm start, in order.
func (s *Sim) AlarmLog() []AlarmRequest {
	return append([]AlarmRequest(nil), s.alarmLog...)
}

// StopReason returns why the last Run ended.
func (s *Sim) StopReason() StopReason {
	return s.stop
}

// Dormant reports whether nothing would ever invoke the process again.
func (s *Sim) Dormant() bool {
	_, _, ok := s.next()
	return !ok
}

// Run invokes p until the host goes dormant, the horizon passes, ctx is
// done, or p returns an error. A process error is returned wrapped.
func (s *Sim) Run(ctx context.Context, p Process) error {
	inv := Invocation{Trigger: TriggerStart}
	if len(s.commands) > 0 && s.commands[0].at <= 0 {
		inv.Argument = s.commands[0].arg
		s.commands = s.commands[1:]
	}

	for {
		if err := ctx.Err(); err != nil {
			s.stop = StopCanceled
			return err
		}

		if err := s.invoke(ctx, p, inv); err != nil {
			s.stop = StopFault
			return err
		}

		at, trigger, ok := s.next()
		if !ok {
			s.stop = StopDormant
			s.logger.Debug("host dormant", slog.Duration("at", s.now))
			return nil
		}
		at = s.delay(at)
		if s.horizon > 0 && at > s.horizon {
			s.stop = StopHorizon
			s.logger.Debug("host horizon reached", slog.Duration("at", s.now))
			return nil
		}
		inv = s.advance(at, trigger)
	}
}

func (s *Sim) invoke(ctx context.Context, p Process, inv Invocation) error {
	s.seq++
	inv.Seq = s.seq
	inv.At = s.now
	inv.Elapsed = s.now - s.last
	s.last = s.now
	s.trace = append(s.trace, inv)

	s.logger.Debug("invoking process",
		slog.Int("seq", inv.Seq),
		slog.Duration("at", inv.At),
		slog.String("trigger", string(inv.Trigger)),
	)
	if err := p.Invoke(ctx, inv); err != nil {
		return fmt.Errorf("invocation %d at %v: %w", inv.Seq, inv.At, err)
	}
	return nil
}

// next returns the earliest host time something wants an invocation, on the
// invocation grid and strictly after now.
func (s *Sim) next() (time.Duration, Trigger, bool) {
	var (
		best    time.Duration
		trigger Trigger
		found   bool
	)
	consider := func(at time.Duration, t Trigger) {
		at = s.quantize(at)
		if at == never {
			return
		}
		if !found || at < best {
			best, trigger, found = at, t, true
		}
	}

	if s.immediate {
		consider(s.now, TriggerImmediate)
	}
	for _, a := range s.order {
		if a.armed && a.fireAt != never {
			consider(a.fireAt, TriggerAlarm)
		}
	}
	if n := s.frequency.Ticks(); n > 0 {
		consider(s.last+time.Duration(n)*s.granularity, TriggerPoll)
	}
	if len(s.commands) > 0 {
		consider(s.commands[0].at, TriggerCommand)
	}
	return best, trigger, found
}

// never marks a deadline too far out to reach.
const never = time.Duration(math.MaxInt64)

// addSat adds b >= 0 to a, saturating at never.
func addSat(a, b time.Duration) time.Duration {
	if b > never-a {
		return never
	}
	return a + b
}

// ceilSlot rounds at up to the invocation grid, saturating at never.
func (s *Sim) ceilSlot(at time.Duration) time.Duration {
	g := s.granularity
	if at > never-(g-1) {
		return never
	}
	return (at + g - 1) / g * g
}

// quantize rounds at up to the invocation grid, no earlier than the next
// slot after now.
func (s *Sim) quantize(at time.Duration) time.Duration {
	slot := s.ceilSlot(at)
	if slot <= s.now {
		slot = s.ceilSlot(addSat(s.now/s.granularity*s.granularity, s.granularity))
	}
	return slot
}

func (s *Sim) delay(at time.Duration) time.Duration {
	if s.jitter <= 0 {
		return at
	}
	late := time.Duration(s.rng.Int63n(int64(s.jitter) + 1))
	return s.quantize(addSat(at, late))
}

// advance moves host time to at and collects what is due there. An alarm is
// due once its grid slot is reached.
func (s *Sim) advance(at time.Duration, trigger Trigger) Invocation {
	s.now = at
	s.immediate = false
	inv := Invocation{Trigger: trigger}

	for _, a := range s.order {
		if a.armed && a.fireAt != never && s.ceilSlot(a.fireAt) <= at {
			a.armed = false
			if inv.Alarm == "" {
				inv.Alarm = a.name
			}
		}
	}
	if len(s.commands) > 0 && s.commands[0].at <= at {
		inv.Argument = s.commands[0].arg
		s.commands = s.commands[1:]
		inv.Trigger = TriggerCommand
	}
	return inv
}

// SimAlarm is a host alarm of a Sim.
type SimAlarm struct {
	sim      *Sim
	name     string
	group    string
	min, max time.Duration
	delay    time.Duration
	armed    bool
	fireAt   time.Duration
	starts   int
}

func (a *SimAlarm) Name() string { return a.name }

// Group returns the group the alarm was declared in.
func (a *SimAlarm) Group() string { return a.group }

func (a *SimAlarm) Bounds() (time.Duration, time.Duration) { return a.min, a.max }

// SetDelay sets the countdown used by the next Start, clamped into the
// alarm's bounds.
func (a *SimAlarm) SetDelay(d time.Duration) {
	a.delay = alarm.Clamp(d, a.min, a.max)
}

// Delay returns the current countdown.
func (a *SimAlarm) Delay() time.Duration { return a.delay }

// Start (re)starts the countdown from the current host time. A countdown
// that would overflow host time never expires.
func (a *SimAlarm) Start() {
	a.armed = true
	a.fireAt = addSat(a.sim.now, a.delay)
	a.starts++
	a.sim.alarmLog = append(a.sim.alarmLog, AlarmRequest{
		At:    a.sim.now,
		Alarm: a.name,
		Delay: a.delay,
	})
}

// TriggerNow requests an invocation at the next grid slot.
func (a *SimAlarm) TriggerNow() {
	a.sim.immediate = true
}

// Armed reports whether the countdown is running.
func (a *SimAlarm) Armed() bool { return a.armed }

// Starts returns how many times Start was called.
func (a *SimAlarm) Starts() int { return a.starts }
