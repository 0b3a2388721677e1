package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

type outcome struct {
	called bool
	err    error
	at     time.Duration
}

func (o *outcome) done(ctx context.Context, s *scheduler.Scheduler, err error) error {
	o.called = true
	o.err = err
	o.at = s.TimeSinceStart()
	return nil
}

func driveN(t *testing.T, s *scheduler.Scheduler, n int, elapsed time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.Drive(context.Background(), elapsed); err != nil {
			t.Fatalf("Drive() error = %v", err)
		}
	}
}

func TestSchedule_SuccessOnFirstAttempt(t *testing.T) {
	s := scheduler.New()
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Second}
	var out outcome

	a := Schedule(s, cfg, func(ctx context.Context, s *scheduler.Scheduler) error {
		return nil
	}, out.done)
	driveN(t, s, 1, 0)

	if !out.called || out.err != nil {
		t.Errorf("done called=%v err=%v, want called with nil", out.called, out.err)
	}
	if a.Attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", a.Attempts())
	}
	if !a.Done() {
		t.Error("Done() = false, want true")
	}
}

func TestSchedule_SuccessOnRetry(t *testing.T) {
	s := scheduler.New()
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
	var out outcome

	tries := 0
	a := Schedule(s, cfg, func(ctx context.Context, s *scheduler.Scheduler) error {
		tries++
		if tries < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, out.done)

	// Attempts at 0s, 1s, 3s.
	driveN(t, s, 1, 0)
	driveN(t, s, 6, 500*time.Millisecond)

	if !out.called || out.err != nil {
		t.Fatalf("done called=%v err=%v, want called with nil", out.called, out.err)
	}
	if out.at != 3*time.Second {
		t.Errorf("finished at %v, want 3s", out.at)
	}
	if a.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", a.Attempts())
	}
}

func TestSchedule_MaxAttemptsExceeded(t *testing.T) {
	s := scheduler.New()
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 1}
	var out outcome
	failure := errors.New("persistent error")

	a := Schedule(s, cfg, func(ctx context.Context, s *scheduler.Scheduler) error {
		return failure
	}, out.done)
	driveN(t, s, 10, time.Second)

	if !errors.Is(out.err, failure) {
		t.Errorf("expected %v, got %v", failure, out.err)
	}
	if a.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", a.Attempts())
	}
	if s.State() != scheduler.StateDormant {
		t.Errorf("State() = %v, want %v", s.State(), scheduler.StateDormant)
	}
}

func TestSchedule_BackoffCapped(t *testing.T) {
	s := scheduler.New()
	cfg := Config{
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Second,
		Multiplier:   4,
	}
	var at []time.Duration
	Schedule(s, cfg, func(ctx context.Context, s *scheduler.Scheduler) error {
		at = append(at, s.TimeSinceStart())
		return errors.New("again")
	}, nil)

	driveN(t, s, 8, time.Second)

	// Attempts at 1s, then +1s, then +2s capped.
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}
	if len(at) != len(want) {
		t.Fatalf("attempts at %v, want %v", at, want)
	}
	for i := range want {
		if at[i] != want[i] {
			t.Errorf("attempt %d at %v, want %v", i, at[i], want[i])
		}
	}
}

func TestSchedule_SeededJitterIsReproducible(t *testing.T) {
	attemptTimes := func(seed int64) []time.Duration {
		s := scheduler.New()
		cfg := Config{
			MaxAttempts:  4,
			InitialDelay: time.Second,
			Multiplier:   1,
			Jitter:       0.5,
			Rand:         rand.New(rand.NewSource(seed)),
		}
		var at []time.Duration
		Schedule(s, cfg, func(ctx context.Context, s *scheduler.Scheduler) error {
			at = append(at, s.TimeSinceStart())
			return errors.New("again")
		}, nil)
		driveN(t, s, 1, 0)
		for i := 0; i < 5000 && len(at) < 4; i++ {
			s.Drive(context.Background(), time.Millisecond)
		}
		return at
	}

	first, second := attemptTimes(7), attemptTimes(7)
	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("attempts = %d and %d, want 4", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("attempt %d at %v and %v, want identical runs", i, first[i], second[i])
		}
	}
	for i := 1; i < len(first); i++ {
		gap := first[i] - first[i-1]
		if gap < 500*time.Millisecond || gap > 1501*time.Millisecond {
			t.Errorf("gap %d = %v, want within [0.5s, 1.5s]", i, gap)
		}
	}
}

func TestSchedule_NonRetryableError(t *testing.T) {
	s := scheduler.New()
	permanent := errors.New("permanent error")
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		RetryableFunc: func(err error) bool {
			return !errors.Is(err, permanent)
		},
	}
	var out outcome

	a := Schedule(s, cfg, func(ctx context.Context, s *scheduler.Scheduler) error {
		return permanent
	}, out.done)
	driveN(t, s, 3, time.Second)

	if !errors.Is(out.err, permanent) {
		t.Errorf("expected %v, got %v", permanent, out.err)
	}
	if a.Attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", a.Attempts())
	}
}

func TestSchedule_NilDoneReturnsFault(t *testing.T) {
	s := scheduler.New()
	failure := errors.New("broken")

	Schedule(s, Config{MaxAttempts: 1}, func(ctx context.Context, s *scheduler.Scheduler) error {
		return failure
	}, nil)

	_, err := s.Drive(context.Background(), 0)
	var fault *scheduler.FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("Drive() error = %v, want *scheduler.FaultError", err)
	}
	if !errors.Is(err, failure) {
		t.Errorf("Drive() error = %v, want wrapping %v", err, failure)
	}
}

func TestSchedule_ContextCancelled(t *testing.T) {
	s := scheduler.New()
	ctx, cancel := context.WithCancel(context.Background())
	var out outcome
	failure := errors.New("temporary error")

	a := Schedule(s, Config{InitialDelay: time.Second}, func(ctx context.Context, s *scheduler.Scheduler) error {
		return failure
	}, out.done)

	if _, err := s.Drive(ctx, 0); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	cancel()
	if _, err := s.Drive(ctx, time.Second); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}

	if !errors.Is(out.err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", out.err)
	}
	if !errors.Is(out.err, failure) {
		t.Errorf("expected last error %v to be joined, got %v", failure, out.err)
	}
	if a.Attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", a.Attempts())
	}
}

func TestAttempt_Cancel(t *testing.T) {
	s := scheduler.New()
	var out outcome

	a := Schedule(s, Config{InitialDelay: time.Second}, func(ctx context.Context, s *scheduler.Scheduler) error {
		return errors.New("again")
	}, out.done)
	driveN(t, s, 1, 0)

	if !a.Cancel() {
		t.Error("Cancel() = false, want true while a retry is pending")
	}
	driveN(t, s, 5, time.Second)

	if a.Attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", a.Attempts())
	}
	if out.called {
		t.Error("done called after Cancel")
	}
	if a.Cancel() {
		t.Error("second Cancel() = true, want false")
	}
}

func TestSchedule_FromCallbackRunsSameDrive(t *testing.T) {
	s := scheduler.New()
	var a *Attempt
	s.ScheduleTicks(0, func(ctx context.Context, s *scheduler.Scheduler) error {
		a = Schedule(s, Config{MaxAttempts: 1}, func(ctx context.Context, s *scheduler.Scheduler) error {
			return nil
		}, nil)
		return nil
	})

	driveN(t, s, 1, 0)

	if a == nil || !a.Done() {
		t.Fatal("retry scheduled from a tick callback did not finish in the same drive")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxAttempts != 4 {
		t.Errorf("expected MaxAttempts 4, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != time.Second {
		t.Errorf("expected InitialDelay 1s, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("expected MaxDelay 30s, got %v", cfg.MaxDelay)
	}
}

type tempErr struct{ temporary, timeout bool }

func (e tempErr) Error() string   { return "temp" }
func (e tempErr) Temporary() bool { return e.temporary }
func (e tempErr) Timeout() bool   { return e.timeout }

func TestIsTemporary(t *testing.T) {
	if IsTemporary(tempErr{temporary: false}) {
		t.Error("expected non-temporary error to not be retryable")
	}
	if !IsTemporary(tempErr{temporary: true}) {
		t.Error("expected temporary error to be retryable")
	}
	if !IsTemporary(errors.New("plain")) {
		t.Error("expected unknown error to be retryable")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(tempErr{timeout: true}) {
		t.Error("expected timeout error")
	}
	if IsTimeout(errors.New("plain")) {
		t.Error("expected plain error to not be a timeout")
	}
}

func TestCombine(t *testing.T) {
	err1 := errors.New("error1")
	err2 := errors.New("error2")
	err3 := errors.New("error3")

	combined := Combine(
		func(err error) bool { return errors.Is(err, err1) },
		func(err error) bool { return errors.Is(err, err2) },
	)

	if !combined(err1) {
		t.Error("expected err1 to be retryable")
	}
	if !combined(err2) {
		t.Error("expected err2 to be retryable")
	}
	if combined(err3) {
		t.Error("expected err3 to not be retryable")
	}
}
