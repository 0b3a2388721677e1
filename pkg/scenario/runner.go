package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/NavarchProject/eventdriver/pkg/alarm"
	"github.com/NavarchProject/eventdriver/pkg/clock"
	"github.com/NavarchProject/eventdriver/pkg/config"
	"github.com/NavarchProject/eventdriver/pkg/host"
	"github.com/NavarchProject/eventdriver/pkg/retry"
	"github.com/NavarchProject/eventdriver/pkg/routine"
	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

// errFlaky is returned by retry routines for the attempts meant to fail.
var errFlaky = errors.New("scripted failure")

// Runner executes scenarios.
type Runner struct {
	scenario *Scenario
	logger   *slog.Logger
	metrics  *scheduler.Metrics
	seed     int64
	seedSet  bool
	realtime bool
	clock    clock.Clock
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithSeed overrides the scenario's jitter seed.
func WithSeed(seed int64) RunnerOption {
	return func(r *Runner) {
		r.seed = seed
		r.seedSet = true
	}
}

// WithMetrics records scheduler metrics into m.
func WithMetrics(m *scheduler.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRealtime runs the scenario against wall-clock time instead of the
// simulated host. The run lasts until the host horizon.
func WithRealtime(clk clock.Clock) RunnerOption {
	return func(r *Runner) {
		r.realtime = true
		r.clock = clk
	}
}

// NewRunner creates a new scenario runner.
func NewRunner(scenario *Scenario, opts ...RunnerOption) *Runner {
	r := &Runner{
		scenario: scenario,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	return r
}

// Run executes the scenario and returns its report. The report is returned
// even when the run fails; the error wraps ErrAssertionFailed when the run
// completed but an assertion did not hold.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	hostSpec := r.scenario.Host
	hostSpec.Alarms = append([]config.AlarmSpec(nil), hostSpec.Alarms...)
	hostSpec.Defaults()
	procSpec := r.scenario.Process
	procSpec.Defaults()

	seed := hostSpec.Seed
	if r.seedSet {
		seed = r.seed
	}

	evaluator, err := NewEvaluator(r.scenario.Assertions)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Scenario:  r.scenario.Name,
		Seed:      seed,
		StartedAt: time.Now(),
		labels:    r.labels(),
	}

	r.logger.Info("starting scenario",
		slog.String("name", r.scenario.Name),
		slog.String("run_id", report.RunID),
		slog.Int("routines", len(r.scenario.Routines)),
		slog.Int("commands", len(r.scenario.Commands)),
		slog.Bool("realtime", r.realtime),
	)

	var (
		sched  *scheduler.Scheduler
		runErr error
	)
	if r.realtime {
		sched, runErr = r.runRealtime(ctx, hostSpec, procSpec, report)
	} else {
		sched, runErr = r.runSim(ctx, hostSpec, procSpec, seed, report)
	}

	report.Wall = time.Since(report.StartedAt).Round(time.Millisecond).String()
	report.Ticks = sched.Ticks()
	report.Time = sched.TimeSinceStart()
	report.Dormant = sched.State() == scheduler.StateDormant
	if runErr != nil {
		report.Error = runErr.Error()
		r.logger.Error("scenario failed", slog.String("error", runErr.Error()))
		return report, fmt.Errorf("scenario %q: %w", r.scenario.Name, runErr)
	}

	report.Assertions = evaluator.Evaluate(report)
	if failed := report.Failed(); len(failed) > 0 {
		for _, a := range failed {
			r.logger.Warn("assertion failed",
				slog.String("name", a.Name),
				slog.String("expr", a.Expr),
				slog.String("error", a.Error),
			)
		}
		return report, fmt.Errorf("%w: %d of %d", ErrAssertionFailed, len(failed), len(report.Assertions))
	}

	r.logger.Info("scenario completed successfully",
		slog.Int("invocations", len(report.Invocations)),
		slog.Int("firings", len(report.Firings)),
	)
	return report, nil
}

func (r *Runner) runSim(ctx context.Context, hs config.HostSpec, ps config.ProcessSpec, seed int64, report *Report) (*scheduler.Scheduler, error) {
	sim := host.NewSim(
		host.WithGranularity(hs.Granularity.Duration()),
		host.WithJitter(hs.Jitter.Duration()),
		host.WithSeed(seed),
		host.WithHorizon(hs.Horizon.Duration()),
		host.WithSimLogger(r.logger),
	)
	for _, a := range hs.Alarms {
		sim.AddAlarm(a.Name, a.Group, a.MinDelay.Duration(), a.MaxDelay.Duration())
	}
	for _, c := range r.scenario.Commands {
		sim.Command(c.At.Duration(), c.Do)
	}

	sched := r.newScheduler(sim, sim, ps, hs.Granularity.Duration())
	p := newProcess(sched, r.scenario, report, r.logger)
	err := sim.Run(ctx, host.Drive(sched, p.hooks))

	report.Invocations = sim.Trace()
	report.AlarmRequests = sim.AlarmLog()
	report.StopReason = string(sim.StopReason())
	return sched, err
}

func (r *Runner) runRealtime(ctx context.Context, hs config.HostSpec, ps config.ProcessSpec, report *Report) (*scheduler.Scheduler, error) {
	rt := host.NewRealtime(
		host.WithClock(r.clock),
		host.WithTickPeriod(hs.Granularity.Duration()),
		host.WithRealtimeLogger(r.logger),
	)
	for _, a := range hs.Alarms {
		rt.AddAlarm(a.Name, a.Group, a.MinDelay.Duration(), a.MaxDelay.Duration())
	}

	sched := r.newScheduler(rt, rt, ps, hs.Granularity.Duration())
	p := newProcess(sched, r.scenario, report, r.logger)

	runCtx, cancel := context.WithTimeout(ctx, hs.Horizon.Duration())
	defer cancel()
	go r.sendCommands(runCtx, rt)

	err := rt.Run(runCtx, host.Drive(sched, p.hooks))
	report.Invocations = rt.Trace()
	report.StopReason = string(host.StopCanceled)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		report.StopReason = string(host.StopHorizon)
		err = nil
	}
	return sched, err
}

// sendCommands delivers the scenario's commands at their wall-clock offsets.
func (r *Runner) sendCommands(ctx context.Context, rt *host.Realtime) {
	commands := append([]Command(nil), r.scenario.Commands...)
	sort.SliceStable(commands, func(i, j int) bool {
		return commands[i].At < commands[j].At
	})

	start := r.clock.Now()
	for _, c := range commands {
		if wait := c.At.Duration() - r.clock.Since(start); wait > 0 {
			timer := r.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C():
			}
		}
		if err := rt.Send(ctx, c.Do); err != nil {
			return
		}
	}
}

func (r *Runner) newScheduler(dir alarm.Directory, fs alarm.FrequencySetter, ps config.ProcessSpec, tick time.Duration) *scheduler.Scheduler {
	opts := []scheduler.Option{
		scheduler.WithLogger(r.logger),
		scheduler.WithMetrics(r.metrics),
	}
	if ps.Rearm == config.RearmFrequency {
		return scheduler.New(append(opts, scheduler.WithRearmer(alarm.NewFrequencyRearmer(fs, tick)))...)
	}

	alarms, err := alarm.Require(dir, ps.AlarmName, ps.AlarmGroup)
	if err != nil {
		r.logger.Warn("re-arming disabled", slog.String("error", err.Error()))
	}
	return scheduler.New(append(opts, scheduler.WithAlarms(alarms))...)
}

func (r *Runner) labels() []string {
	var out []string
	for _, rs := range r.scenario.Routines {
		out = append(out, rs.labels()...)
	}
	for _, c := range r.scenario.Commands {
		if a, err := ParseAction(c.Do); err == nil && (a.Verb == VerbSchedule || a.Verb == VerbScheduleTicks) {
			out = append(out, a.Target)
		}
	}
	return out
}

// controller starts and stops one declared routine.
type controller interface {
	start(ctx context.Context, s *scheduler.Scheduler) error
	stop()
}

// process is the scheduled program a scenario runs: its routines plus the
// handling of host commands.
type process struct {
	sched    *scheduler.Scheduler
	report   *Report
	logger   *slog.Logger
	routines map[string]controller
	starts   []string
	hostTime time.Duration

	// rng drives retry jitter, seeded from the run seed.
	rng *rand.Rand
}

func newProcess(s *scheduler.Scheduler, sc *Scenario, report *Report, logger *slog.Logger) *process {
	p := &process{
		sched:    s,
		report:   report,
		logger:   logger,
		routines: make(map[string]controller, len(sc.Routines)),
		rng:      rand.New(rand.NewSource(report.Seed)),
	}
	for _, rs := range sc.Routines {
		p.routines[rs.Name] = p.controllerFor(rs)
		if rs.Start {
			p.starts = append(p.starts, rs.Name)
		}
	}
	return p
}

func (p *process) hooks(inv host.Invocation) scheduler.Hooks {
	p.hostTime = inv.At
	h := scheduler.Hooks{
		Main: func(ctx context.Context, s *scheduler.Scheduler) error {
			p.report.Wakes++
			p.logger.Debug("woken", slog.Uint64("tick", s.Ticks()))
			return nil
		},
	}
	if inv.Seq == 1 && len(p.starts) > 0 {
		h.Pre = func(ctx context.Context, s *scheduler.Scheduler) error {
			for _, name := range p.starts {
				if err := p.routines[name].start(ctx, s); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if inv.Argument != "" {
		arg := inv.Argument
		h.Argument = func(ctx context.Context, s *scheduler.Scheduler) error {
			return p.apply(ctx, s, arg)
		}
	}
	return h
}

func (p *process) apply(ctx context.Context, s *scheduler.Scheduler, arg string) error {
	a, err := ParseAction(arg)
	if err != nil {
		return err
	}
	p.logger.Debug("command",
		slog.String("verb", a.Verb),
		slog.String("target", a.Target),
		slog.Duration("host_time", p.hostTime),
	)

	switch a.Verb {
	case VerbWake:
		s.Wake(0)
	case VerbSchedule:
		s.ScheduleTime(a.Seconds, p.record(a.Target))
	case VerbScheduleTicks:
		s.ScheduleTicks(a.Ticks, p.record(a.Target))
	case VerbStart, VerbStop:
		c, ok := p.routines[a.Target]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRoutine, a.Target)
		}
		if a.Verb == VerbStop {
			c.stop()
			return nil
		}
		return c.start(ctx, s)
	}
	return nil
}

// record returns a callback that records a firing of label.
func (p *process) record(label string) scheduler.Callback {
	return func(ctx context.Context, s *scheduler.Scheduler) error {
		p.fired(label, s)
		return nil
	}
}

func (p *process) fired(label string, s *scheduler.Scheduler) {
	f := Firing{
		Label:    label,
		HostTime: p.hostTime,
		Tick:     s.Ticks(),
		Time:     s.TimeSinceStart(),
	}
	p.report.Firings = append(p.report.Firings, f)
	p.logger.Debug("fired",
		slog.String("label", label),
		slog.Uint64("tick", f.Tick),
		slog.Duration("time", f.Time),
	)
}

func (p *process) controllerFor(rs RoutineSpec) controller {
	switch rs.Type {
	case RoutineSequence:
		q := &routine.Sequence{Name: rs.Name, OnDone: p.record(rs.Name + ".done")}
		for _, step := range rs.Steps {
			q.Steps = append(q.Steps, routine.Step{
				Name:  step.Name,
				Delay: step.Delay.Duration(),
				Ticks: step.Ticks,
				Do:    p.record(rs.Name + "." + step.Name),
			})
		}
		return &sequenceController{seq: q}
	case RoutineRetry:
		return &retryController{p: p, spec: rs}
	default:
		pc := &periodicController{limit: rs.Runs}
		pc.routine = &routine.Periodic{
			Name:     rs.Name,
			Interval: rs.Interval.Duration(),
			Ticks:    rs.Ticks,
			Run: func(ctx context.Context, s *scheduler.Scheduler) error {
				p.fired(rs.Name, s)
				if pc.limit > 0 && pc.routine.Runs() >= pc.limit {
					pc.routine.Stop()
				}
				return nil
			},
		}
		return pc
	}
}

type periodicController struct {
	routine *routine.Periodic
	limit   int
}

func (c *periodicController) start(ctx context.Context, s *scheduler.Scheduler) error {
	c.routine.Start(s)
	return nil
}

func (c *periodicController) stop() { c.routine.Stop() }

type sequenceController struct {
	seq *routine.Sequence
}

// start restarts a running sequence from its first step.
func (c *sequenceController) start(ctx context.Context, s *scheduler.Scheduler) error {
	if c.seq.Active() {
		c.seq.Abort()
	}
	return c.seq.Start(ctx, s)
}

func (c *sequenceController) stop() { c.seq.Abort() }

type retryController struct {
	p       *process
	spec    RoutineSpec
	attempt *retry.Attempt
	tries   int
}

func (c *retryController) start(ctx context.Context, s *scheduler.Scheduler) error {
	if c.attempt != nil {
		c.attempt.Cancel()
	}
	c.tries = 0
	cfg := retry.Config{
		MaxAttempts:  c.spec.MaxAttempts,
		InitialDelay: c.spec.Interval.Duration(),
		Multiplier:   c.spec.Multiplier,
		Jitter:       c.spec.Jitter,
		Rand:         c.p.rng,
	}
	c.attempt = retry.Schedule(s, cfg, c.try, c.done)
	return nil
}

func (c *retryController) try(ctx context.Context, s *scheduler.Scheduler) error {
	c.tries++
	c.p.fired(c.spec.Name, s)
	if c.tries <= c.spec.FailTimes {
		return errFlaky
	}
	return nil
}

func (c *retryController) done(ctx context.Context, s *scheduler.Scheduler, err error) error {
	if err != nil {
		c.p.logger.Warn("retry gave up",
			slog.String("routine", c.spec.Name),
			slog.Int("attempts", c.attempt.Attempts()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	c.p.fired(c.spec.Name+".done", s)
	return nil
}

func (c *retryController) stop() {
	if c.attempt != nil {
		c.attempt.Cancel()
	}
}
