package sched

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type state int32

const (
	statePending state = iota
	stateDue
	stateRunning
	stateFinished
	stateCancelled
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateDue:
		return "due"
	case stateRunning:
		return "running"
	case stateFinished:
		return "finished"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Handle refers to one scheduled task.
//
// Cancellation is best-effort: a task whose timer already fired may still
// run once after Cancel returned false. Callers check Done or Cancelled and
// replace the handle; there is no compare-and-swap between the owner's check
// and its reschedule.
type Handle struct {
	key   string
	delay time.Duration
	due   time.Time
	timer *clock.Timer
	state atomic.Int32
}

func newHandle(key string, delay time.Duration, due time.Time) *Handle {
	return &Handle{key: key, delay: delay, due: due}
}

// Key returns the lane the task runs in
func (h *Handle) Key() string { return h.key }

// Delay returns the delay the task was scheduled with
func (h *Handle) Delay() time.Duration { return h.delay }

// Due returns when the task was meant to run
func (h *Handle) Due() time.Time { return h.due }

// Done reports whether the timer is no longer pending: the task is queued,
// running, finished or cancelled.
func (h *Handle) Done() bool {
	return h == nil || state(h.state.Load()) != statePending
}

// Cancelled reports whether the task was cancelled before it ran
func (h *Handle) Cancelled() bool {
	return h != nil && state(h.state.Load()) == stateCancelled
}

// Running reports whether the task is executing right now
func (h *Handle) Running() bool {
	return h != nil && state(h.state.Load()) == stateRunning
}

// Finished reports whether the task ran to completion
func (h *Handle) Finished() bool {
	return h != nil && state(h.state.Load()) == stateFinished
}

// Cancel stops a task that has not started yet. It reports whether the task
// will not run.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	for {
		cur := state(h.state.Load())
		switch cur {
		case statePending, stateDue:
			if h.state.CompareAndSwap(int32(cur), int32(stateCancelled)) {
				if h.timer != nil {
					h.timer.Stop()
				}
				return true
			}
		case stateCancelled:
			return true
		default:
			return false
		}
	}
}

// String returns the handle state, for status output
func (h *Handle) String() string {
	if h == nil {
		return "none"
	}
	return state(h.state.Load()).String()
}
