package pool

import (
	"strings"

	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Processing object kinds addressable by the router
const (
	KindFilter = "filter"
	KindMath   = "math"
	KindEditor = "editor"
)

// Processor is a named processing object. Its output goes to its targets.
type Processor interface {
	ID() string
	Targets() *stream.Targets
}

// AddProcessor registers a processing object under kind and its id
func (p *Pool) AddProcessor(kind string, proc Processor) error {
	kind = strings.ToLower(kind)
	p.procMu.Lock()
	defer p.procMu.Unlock()

	table, ok := p.processors[kind]
	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Pool", "AddProcessor", "kind "+kind)
	}
	id := normalize(proc.ID())
	if _, exists := table[id]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateStream, "Pool", "AddProcessor", kind+" "+proc.ID())
	}
	table[id] = proc
	return nil
}

// AddFilter registers a filter
func (p *Pool) AddFilter(proc Processor) error { return p.AddProcessor(KindFilter, proc) }

// AddMath registers a math object
func (p *Pool) AddMath(proc Processor) error { return p.AddProcessor(KindMath, proc) }

// AddEditor registers an editor
func (p *Pool) AddEditor(proc Processor) error { return p.AddProcessor(KindEditor, proc) }

// Processor returns the processing object of kind with id
func (p *Pool) Processor(kind, id string) (Processor, bool) {
	p.procMu.RLock()
	defer p.procMu.RUnlock()
	proc, ok := p.processors[strings.ToLower(kind)][normalize(id)]
	return proc, ok
}

// ParseSource splits a source spec into type and value. Without a colon the
// type is "id".
func ParseSource(spec string) (kind, value string) {
	kind, value, found := strings.Cut(strings.TrimSpace(spec), ":")
	if !found {
		return "id", kind
	}
	return strings.ToLower(strings.TrimSpace(kind)), strings.TrimSpace(value)
}

// AddForwarding registers sink on whatever spec resolves to right now.
// Streams created later are not matched.
func (p *Pool) AddForwarding(spec string, sink stream.Writable) bool {
	if sink == nil {
		return false
	}
	kind, value := ParseSource(spec)

	switch kind {
	case "id", "title":
		m := p.lookup(value)
		if m == nil {
			p.logger.Warn("No stream for forwarding", "source", spec, "sink", sink.ID())
			return false
		}
		m.s.Targets().Add(sink)
		return true

	case "label", "ll":
		for _, m := range p.all() {
			if strings.HasPrefix(m.s.Label(), value) {
				m.s.Targets().Add(sink)
				return true
			}
		}
		p.logger.Warn("No stream with label", "label", value, "sink", sink.ID())
		return false

	case "generic", "gen":
		subs := strings.Split(value, ",")
		found := false
		for _, m := range p.all() {
			if matchesGeneric(m.s.Label(), subs) {
				m.s.Targets().Add(sink)
				found = true
			}
		}
		if !found {
			p.logger.Warn("No stream for generic", "generic", value, "sink", sink.ID())
		}
		return found

	case KindFilter, KindMath, KindEditor:
		proc, ok := p.Processor(kind, value)
		if !ok {
			p.logger.Warn("No processor for forwarding", "kind", kind, "id", value, "sink", sink.ID())
			return false
		}
		proc.Targets().Add(sink)
		return true

	default:
		p.logger.Warn("Unknown forwarding type", "type", kind, "source", spec)
		return false
	}
}

func matchesGeneric(label string, subs []string) bool {
	if !strings.HasPrefix(label, "generic:") && !strings.HasPrefix(label, "gen:") {
		return false
	}
	for _, sub := range subs {
		if sub = strings.TrimSpace(sub); sub != "" && strings.Contains(label, sub) {
			return true
		}
	}
	return false
}

// RemoveForwarding drops sink from every stream and processing object
func (p *Pool) RemoveForwarding(sink stream.Writable) bool {
	removed := false
	for _, m := range p.all() {
		if m.s.Targets().Remove(sink) {
			removed = true
		}
	}

	p.procMu.RLock()
	defer p.procMu.RUnlock()
	for _, table := range p.processors {
		for _, proc := range table {
			if proc.Targets().Remove(sink) {
				removed = true
			}
		}
	}
	return removed
}

// repoint swaps from for to in the targets of every stream and processing
// object. A nil to only removes.
func (p *Pool) repoint(from, to stream.Writable) {
	swap := func(t *stream.Targets) {
		if t.Remove(from) && to != nil {
			t.Add(to)
		}
	}
	for _, m := range p.all() {
		swap(m.s.Targets())
	}

	p.procMu.RLock()
	defer p.procMu.RUnlock()
	for _, table := range p.processors {
		for _, proc := range table {
			swap(proc.Targets())
		}
	}
}

// Tunnel makes two streams forward to each other
func (p *Pool) Tunnel(a, b string) error {
	ma, mb := p.lookup(a), p.lookup(b)
	if ma == nil || mb == nil {
		return errors.WrapInvalid(errors.ErrUnknownStream, "Pool", "Tunnel", "find "+a+" and "+b)
	}
	wa, okA := ma.s.(stream.Writable)
	wb, okB := mb.s.(stream.Writable)
	if !okA || !okB {
		return errors.WrapInvalid(errors.ErrReadOnly, "Pool", "Tunnel", "link "+a+" and "+b)
	}
	ma.s.Targets().Add(wb)
	mb.s.Targets().Add(wa)
	return nil
}

// ToggleEcho makes a stream its own target, or stops it. It returns the new state.
func (p *Pool) ToggleEcho(id string) (bool, error) {
	m := p.lookup(id)
	if m == nil {
		return false, errors.WrapInvalid(errors.ErrUnknownStream, "Pool", "ToggleEcho", "find "+id)
	}
	w, ok := m.s.(stream.Writable)
	if !ok {
		return false, errors.WrapInvalid(errors.ErrReadOnly, "Pool", "ToggleEcho", "echo "+id)
	}
	if m.s.Targets().Remove(w) {
		return false, nil
	}
	m.s.Targets().Add(w)
	return true, nil
}
