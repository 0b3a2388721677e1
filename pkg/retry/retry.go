// Package retry retries scheduler callbacks with exponential backoff.
//
// Nothing here blocks: each attempt is a continuation on the scheduler's
// time queue, so a routine that retries keeps the host free between attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// A value of 0 means retry until the attempt is cancelled or ctx is done.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delays.
	// 0.0 means no jitter, 0.1 means +/- 10% of the delay.
	Jitter float64

	// Rand is the jitter source. Nil uses the package-level source, which
	// makes jittered delays irreproducible.
	Rand *rand.Rand

	// RetryableFunc determines if an error should trigger a retry.
	// If nil, all non-nil errors are considered retryable.
	RetryableFunc func(error) bool
}

// DefaultConfig returns a reasonable default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

func (c Config) uniform() float64 {
	if c.Rand != nil {
		return c.Rand.Float64()
	}
	return rand.Float64()
}

func (c Config) withDefaults() Config {
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	return c
}

// DoneFunc receives the outcome of a retried operation: nil on success, the
// last error otherwise. Its return value is the return value of the final
// attempt's callback.
type DoneFunc func(ctx context.Context, s *scheduler.Scheduler, err error) error

// Attempt tracks one retried operation.
type Attempt struct {
	cfg      Config
	fn       scheduler.Callback
	done     DoneFunc
	delay    time.Duration
	attempts int
	lastErr  error
	finished bool
	next     *scheduler.Handle
}

// Schedule runs fn as a scheduler continuation, retrying failures with
// backoff. The first attempt is queued on the tick queue with no delay, so it
// runs in the current drive when called from a tick callback. done may be nil, in
// which case a final failure is returned from the callback as a fault.
func Schedule(s *scheduler.Scheduler, cfg Config, fn scheduler.Callback, done DoneFunc) *Attempt {
	cfg = cfg.withDefaults()
	a := &Attempt{
		cfg:   cfg,
		fn:    fn,
		done:  done,
		delay: cfg.InitialDelay,
	}
	a.next = s.ScheduleTicks(0, a.run)
	return a
}

// Cancel stops further attempts. done is not called. It reports whether an
// attempt was still pending.
func (a *Attempt) Cancel() bool {
	if a.finished {
		return false
	}
	a.finished = true
	return a.next.Cancel()
}

// Attempts returns how many times fn has run.
func (a *Attempt) Attempts() int {
	return a.attempts
}

// Done reports whether the operation finished, succeeded or not.
func (a *Attempt) Done() bool {
	return a.finished
}

// Err returns the most recent error from fn.
func (a *Attempt) Err() error {
	return a.lastErr
}

func (a *Attempt) run(ctx context.Context, s *scheduler.Scheduler) error {
	if a.finished {
		return nil
	}
	a.next = nil

	if err := ctx.Err(); err != nil {
		if a.lastErr != nil {
			return a.finish(ctx, s, errors.Join(err, a.lastErr))
		}
		return a.finish(ctx, s, err)
	}

	a.attempts++
	err := a.fn(ctx, s)
	if err == nil {
		a.lastErr = nil
		return a.finish(ctx, s, nil)
	}
	a.lastErr = err

	if a.cfg.RetryableFunc != nil && !a.cfg.RetryableFunc(err) {
		return a.finish(ctx, s, err)
	}

	// Don't wait after the last attempt
	if a.cfg.MaxAttempts > 0 && a.attempts >= a.cfg.MaxAttempts {
		return a.finish(ctx, s, err)
	}

	a.next = s.ScheduleAfter(a.backoff(), a.run)
	return nil
}

// backoff returns the delay before the next attempt and grows it for the one
// after.
func (a *Attempt) backoff() time.Duration {
	actualDelay := a.delay
	if a.cfg.Jitter > 0 {
		jitterRange := float64(a.delay) * a.cfg.Jitter
		actualDelay = a.delay + time.Duration(a.cfg.uniform()*2*jitterRange-jitterRange)
	}
	a.delay = time.Duration(math.Min(float64(a.delay)*a.cfg.Multiplier, float64(a.cfg.MaxDelay)))
	return actualDelay
}

func (a *Attempt) finish(ctx context.Context, s *scheduler.Scheduler, err error) error {
	a.finished = true
	if a.done != nil {
		return a.done(ctx, s, err)
	}
	return err
}

// IsTemporary returns true if the error is temporary/transient.
// This can be used as a RetryableFunc.
func IsTemporary(err error) bool {
	type temporary interface {
		Temporary() bool
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true // Default to retrying unknown errors
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	type timeout interface {
		Timeout() bool
	}
	var t timeout
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}

// Combine returns a RetryableFunc that returns true if any of the given functions return true.
func Combine(funcs ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, f := range funcs {
			if f(err) {
				return true
			}
		}
		return false
	}
}
