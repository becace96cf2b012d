package sched

import (
	"context"
	"sync"
	"time"
)

// Runner is the part of a scheduler the stream pool uses
type Runner interface {
	Schedule(key string, delay time.Duration, task Task) *Handle
	Submit(key string, task Task) *Handle
}

var (
	_ Runner = (*Scheduler)(nil)
	_ Runner = (*Manual)(nil)
)

// Entry is one task recorded by Manual
type Entry struct {
	Key    string
	Delay  time.Duration
	Handle *Handle
	task   Task
}

// Manual is a Runner that never runs anything by itself. Tests record what
// was scheduled and run tasks one at a time, ignoring delays.
type Manual struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewManual creates an empty manual scheduler
func NewManual() *Manual { return &Manual{} }

// Schedule records task
func (m *Manual) Schedule(key string, delay time.Duration, task Task) *Handle {
	h := newHandle(key, delay, time.Time{})
	if delay <= 0 {
		h.state.Store(int32(stateDue))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &Entry{Key: key, Delay: delay, Handle: h, task: task})
	return h
}

// Submit records task with no delay
func (m *Manual) Submit(key string, task Task) *Handle {
	return m.Schedule(key, 0, task)
}

// Entries returns everything scheduled so far, run or not
func (m *Manual) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = *e
	}
	return out
}

// Delays returns the delays scheduled under key, in order
func (m *Manual) Delays(key string) []time.Duration {
	var out []time.Duration
	for _, e := range m.Entries() {
		if e.Key == key {
			out = append(out, e.Delay)
		}
	}
	return out
}

// Waiting returns the entries under key that neither ran nor were cancelled
func (m *Manual) Waiting(key string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Key == key && runnable(e.Handle) {
			out = append(out, e)
		}
	}
	return out
}

func runnable(h *Handle) bool {
	s := state(h.state.Load())
	return s == statePending || s == stateDue
}

// RunNext runs the oldest due task under key, or the oldest pending one when
// nothing is due. An empty key matches any. It reports whether a task ran.
func (m *Manual) RunNext(key string) bool {
	m.mu.Lock()
	var next, pending *Entry
	for _, e := range m.entries {
		if key != "" && e.Key != key {
			continue
		}
		switch state(e.Handle.state.Load()) {
		case stateDue:
			next = e
		case statePending:
			if pending == nil {
				pending = e
			}
		}
		if next != nil {
			break
		}
	}
	if next == nil {
		next = pending
	}
	m.mu.Unlock()
	if next == nil {
		return false
	}

	h := next.Handle
	for {
		cur := h.state.Load()
		if state(cur) != statePending && state(cur) != stateDue {
			return false
		}
		if h.state.CompareAndSwap(cur, int32(stateRunning)) {
			break
		}
	}
	next.task(context.Background())
	h.state.Store(int32(stateFinished))
	return true
}

// RunAll runs tasks until none are left or limit tasks ran
func (m *Manual) RunAll(limit int) int {
	n := 0
	for n < limit && m.RunNext("") {
		n++
	}
	return n
}
