// Package clock holds the time sources used by the scheduler and its hosts.
//
// State is the scheduler's own pair of counters: a tick count and an
// accumulated wall-clock duration, both advanced once per host invocation.
// Clock is the host-side source of real time used by the realtime host.
package clock

import "time"

// Clock provides the time operations a realtime host needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// NewTimer creates a new Timer that will send the current time on its
	// channel after at least duration d.
	NewTimer(d time.Duration) Timer
}

// Timer wraps time.Timer functionality.
type Timer interface {
	// C returns the channel on which the time is delivered.
	C() <-chan time.Time

	// Stop prevents the Timer from firing. It returns true if the call
	// stops the timer, false if the timer has already expired or been stopped.
	Stop() bool

	// Reset changes the timer to expire after duration d.
	Reset(d time.Duration) bool
}
