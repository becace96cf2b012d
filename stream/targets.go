package stream

import (
	"sync"
	"sync/atomic"
)

// Targets is an ordered set of sinks. Reads and deliveries work on an
// immutable snapshot; changes swap in a new slice.
type Targets struct {
	mu   sync.Mutex
	list atomic.Pointer[[]Writable]
}

// NewTargets creates an empty target list
func NewTargets() *Targets {
	t := &Targets{}
	t.list.Store(&[]Writable{})
	return t
}

// Snapshot returns the current targets. The slice must not be modified.
func (t *Targets) Snapshot() []Writable {
	return *t.list.Load()
}

// Len returns the number of targets
func (t *Targets) Len() int {
	return len(t.Snapshot())
}

// Contains reports whether w is registered
func (t *Targets) Contains(w Writable) bool {
	for _, existing := range t.Snapshot() {
		if existing == w {
			return true
		}
	}
	return false
}

// Add appends w unless the same sink is already present
func (t *Targets) Add(w Writable) bool {
	if w == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	current := *t.list.Load()
	for _, existing := range current {
		if existing == w {
			return false
		}
	}
	next := make([]Writable, len(current), len(current)+1)
	copy(next, current)
	next = append(next, w)
	t.list.Store(&next)
	return true
}

// Remove drops w and reports whether it was present
func (t *Targets) Remove(w Writable) bool {
	return t.removeWhere(func(existing Writable) bool { return existing == w }) > 0
}

// RemoveID drops every target with the given id
func (t *Targets) RemoveID(id string) int {
	return t.removeWhere(func(existing Writable) bool { return existing.ID() == id })
}

// Clear drops all targets
func (t *Targets) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list.Store(&[]Writable{})
}

func (t *Targets) removeWhere(match func(Writable) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := *t.list.Load()
	next := make([]Writable, 0, len(current))
	for _, existing := range current {
		if !match(existing) {
			next = append(next, existing)
		}
	}
	removed := len(current) - len(next)
	if removed > 0 {
		t.list.Store(&next)
	}
	return removed
}

// Deliver writes line to every valid target. Targets whose connection is no
// longer valid are removed in the same pass. It returns the number pruned.
func (t *Targets) Deliver(origin, line string) int {
	var dead []Writable
	for _, w := range t.Snapshot() {
		if !w.IsConnectionValid() {
			dead = append(dead, w)
			continue
		}
		w.WriteLine(origin, line)
	}
	if len(dead) == 0 {
		return 0
	}
	return t.removeWhere(func(existing Writable) bool {
		for _, d := range dead {
			if existing == d {
				return true
			}
		}
		return false
	})
}
