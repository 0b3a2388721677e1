package clock

import (
	"math"
	"time"
)

// State is the scheduler's clock: a tick counter advanced by exactly one per
// invocation and a wall-clock accumulator advanced by the host-reported
// elapsed time. Both only grow. The zero value starts at tick 0, 0s.
//
// State is not safe for concurrent use; it belongs to a single scheduler.
type State struct {
	ticks      uint64
	sinceStart time.Duration
}

// Advance records one invocation that happened elapsed after the previous
// one. Negative elapsed values are treated as zero, and the accumulator
// saturates instead of wrapping. The tick counter saturates likewise.
func (s *State) Advance(elapsed time.Duration) {
	if s.ticks < math.MaxUint64 {
		s.ticks++
	}
	if elapsed <= 0 {
		return
	}
	if elapsed > math.MaxInt64-s.sinceStart {
		s.sinceStart = math.MaxInt64
		return
	}
	s.sinceStart += elapsed
}

// Ticks returns the number of invocations recorded so far.
func (s *State) Ticks() uint64 {
	return s.ticks
}

// SinceStart returns the accumulated wall-clock time since the first
// invocation's reference point.
func (s *State) SinceStart() time.Duration {
	return s.sinceStart
}
