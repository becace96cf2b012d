package stream

import (
	"strings"
	"sync"

	"github.com/michieltjampens/dcafs-sub002/config"
)

// Trigger is a stream life cycle event that can run commands
type Trigger string

// Trigger kinds
const (
	TriggerHello  Trigger = "hello"
	TriggerOpen   Trigger = "open"
	TriggerClose  Trigger = "close"
	TriggerIdle   Trigger = "idle"
	TriggerWakeup Trigger = "wakeup"
)

// CommandPrefix marks a triggered command meant for the admin command surface
// instead of the stream itself.
const CommandPrefix = "cmd:"

// ParseTrigger converts a config value into a Trigger, ignoring case
func ParseTrigger(s string) (Trigger, bool) {
	switch t := Trigger(strings.ToLower(strings.TrimSpace(s))); t {
	case TriggerHello, TriggerOpen, TriggerClose, TriggerIdle, TriggerWakeup:
		return t, true
	}
	return "", false
}

// Triggers maps trigger kinds to the commands they run, in insertion order
type Triggers struct {
	mu    sync.RWMutex
	order []Trigger
	cmds  map[Trigger][]string
}

// NewTriggers creates an empty trigger table
func NewTriggers() *Triggers {
	return &Triggers{cmds: make(map[Trigger][]string)}
}

// Add binds cmd to t
func (tr *Triggers) Add(t Trigger, cmd string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.cmds[t]; !ok {
		tr.order = append(tr.order, t)
	}
	tr.cmds[t] = append(tr.cmds[t], cmd)
}

// Commands returns a copy of the commands bound to t
func (tr *Triggers) Commands(t Trigger) []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return append([]string(nil), tr.cmds[t]...)
}

// Len returns the total number of bound commands
func (tr *Triggers) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	n := 0
	for _, cmds := range tr.cmds {
		n += len(cmds)
	}
	return n
}

// Clear removes every binding
func (tr *Triggers) Clear() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.order = nil
	tr.cmds = make(map[Trigger][]string)
}

// Load replaces the table with the given config entries. Unknown kinds are
// returned so the caller can report them.
func (tr *Triggers) Load(entries []config.TriggerConfig) []string {
	tr.Clear()
	var unknown []string
	for _, e := range entries {
		t, ok := ParseTrigger(e.When)
		if !ok {
			unknown = append(unknown, e.When)
			continue
		}
		tr.Add(t, e.Command)
	}
	return unknown
}

// Export returns the table as config entries
func (tr *Triggers) Export() []config.TriggerConfig {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	var out []config.TriggerConfig
	for _, t := range tr.order {
		for _, cmd := range tr.cmds[t] {
			out = append(out, config.TriggerConfig{When: string(t), Command: cmd})
		}
	}
	return out
}
