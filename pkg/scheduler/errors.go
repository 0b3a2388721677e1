package scheduler

import "fmt"

// FaultError is returned by Drive when a scheduled callback fails.
type FaultError struct {
	// Queue is the queue the failing entry came from.
	Queue QueueKind

	// When is the entry's due point, formatted for its queue.
	When string

	// Tick is the tick counter at the time of the failure.
	Tick uint64

	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s queue action due at %s failed on tick %d: %v", e.Queue, e.When, e.Tick, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
