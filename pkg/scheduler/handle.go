package scheduler

import (
	"strconv"
	"time"
)

// QueueKind names one of the scheduler's two queues.
type QueueKind string

const (
	QueueTick QueueKind = "tick"
	QueueTime QueueKind = "time"
)

// Handle refers to one scheduled entry. Scheduling the same callback twice
// yields two independent handles.
type Handle struct {
	queue    QueueKind
	callback Callback
	tickWhen uint64
	timeWhen time.Duration

	cancelled bool
	fired     bool
}

// Cancel marks the entry dead. It stays in its queue and is skipped when
// drained, so ordering of the remaining entries is unaffected. Cancel returns
// false if the entry already ran or was already cancelled.
func (h *Handle) Cancel() bool {
	if h == nil || h.fired || h.cancelled {
		return false
	}
	h.cancelled = true
	return true
}

// Pending reports whether the entry has neither run nor been cancelled.
func (h *Handle) Pending() bool {
	return h != nil && !h.fired && !h.cancelled
}

// Fired reports whether the entry ran (or, for a wake sentinel, signalled).
func (h *Handle) Fired() bool {
	return h != nil && h.fired
}

// Cancelled reports whether Cancel took effect.
func (h *Handle) Cancelled() bool {
	return h != nil && h.cancelled
}

// Queue returns the queue the entry was placed in.
func (h *Handle) Queue() QueueKind {
	return h.queue
}

// IsWake reports whether the entry is a wake sentinel.
func (h *Handle) IsWake() bool {
	return h.callback == nil
}

// TickWhen returns the absolute tick of a tick-queue entry.
func (h *Handle) TickWhen() uint64 {
	return h.tickWhen
}

// TimeWhen returns the absolute time of a time-queue entry.
func (h *Handle) TimeWhen() time.Duration {
	return h.timeWhen
}

func (h *Handle) whenString() string {
	if h.queue == QueueTick {
		return "tick " + strconv.FormatUint(h.tickWhen, 10)
	}
	return h.timeWhen.String()
}
