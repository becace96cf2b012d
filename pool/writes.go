package pool

import (
	"strings"

	"github.com/google/uuid"

	"github.com/michieltjampens/dcafs-sub002/confirm"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

func (p *Pool) writable(id string) (*managed, stream.Writable) {
	m := p.lookup(id)
	if m == nil {
		p.logger.Warn("Write to unknown stream", "stream", id)
		return nil, nil
	}
	w, ok := m.s.(stream.Writable)
	if !ok {
		p.logger.Warn("Write to read-only stream", "stream", id)
		return nil, nil
	}
	return m, w
}

// WriteToStream writes text to a stream. When text holds several ';'
// separated steps, a reply is expected, or earlier steps are still waiting,
// the write goes through the stream's tracker. It returns the text queued or
// written, empty on failure.
func (p *Pool) WriteToStream(id, text, reply string) string {
	m, w := p.writable(id)
	if w == nil {
		return ""
	}

	if _, isHex, _ := confirm.ParseHex(text); isHex {
		if !confirm.Write(w, text) {
			return ""
		}
		return text
	}

	key := m.s.ID()
	if t := p.tracker(key); t != nil && !t.Done() && !t.IsEmpty() {
		t.AddPayload(text, reply)
		return text
	}
	if strings.Contains(text, confirm.StepSeparator) || reply != "" {
		t := p.newTracker(m, w, key, "", nil)
		t.AddPayload(text, reply)
		return text
	}

	if !confirm.Write(w, text) {
		p.logger.Debug("Write failed", "stream", key)
		return ""
	}
	return text
}

// WriteWithReply sends payload step by step, each step waiting for reply,
// and tells listener the outcome under ref. An empty ref gets a generated one.
func (p *Pool) WriteWithReply(listener confirm.Listener, ref, id, payload, reply string) bool {
	m, w := p.writable(id)
	if w == nil {
		return false
	}
	if ref == "" {
		ref = uuid.NewString()
	}

	key := ref + "_" + m.s.ID()
	t := p.tracker(key)
	if t == nil || t.Done() {
		t = p.newTracker(m, w, key, ref, listener)
	}
	return t.AddPayload(payload, reply)
}

func (p *Pool) tracker(key string) *confirm.Tracker {
	p.trackerMu.Lock()
	defer p.trackerMu.Unlock()
	return p.trackers[key]
}

// newTracker registers a fresh tracker under key, replacing a finished or
// empty one, and makes it a target of the stream so it sees replies.
func (p *Pool) newTracker(m *managed, w stream.Writable, key, ref string, listener confirm.Listener) *confirm.Tracker {
	t := confirm.New(w, confirm.Config{
		Key:        key,
		Ref:        ref,
		Attempts:   p.cfg.ConfirmAttempts,
		Timeout:    p.cfg.ConfirmTimeout,
		Clock:      p.clock,
		Logger:     p.logger,
		OnComplete: p.trackerDone,
	})
	t.Subscribe(listener)

	p.trackerMu.Lock()
	old := p.trackers[key]
	p.trackers[key] = t
	n := len(p.trackers)
	p.trackerMu.Unlock()

	if old != nil {
		m.s.Targets().Remove(old)
		old.Cancel()
	}
	m.s.Targets().Add(t)
	p.metrics.RecordTrackers(n)
	return t
}

// trackerDone deregisters a finished tracker
func (p *Pool) trackerDone(t *confirm.Tracker, ok bool) {
	p.trackerMu.Lock()
	if p.trackers[t.Key()] == t {
		delete(p.trackers, t.Key())
	}
	n := len(p.trackers)
	p.trackerMu.Unlock()

	if m := p.lookup(t.Target().ID()); m != nil {
		m.s.Targets().Remove(t)
	}
	p.metrics.RecordTrackers(n)
	p.metrics.RecordTrackerDone(ok)
}

// Trackers returns the keys of all registered trackers
func (p *Pool) Trackers() []string {
	p.trackerMu.Lock()
	defer p.trackerMu.Unlock()
	return sortedKeys(p.trackers)
}

func (p *Pool) trackersFor(id string) []*confirm.Tracker {
	p.trackerMu.Lock()
	defer p.trackerMu.Unlock()
	var out []*confirm.Tracker
	for _, t := range p.trackers {
		if strings.EqualFold(t.Target().ID(), id) {
			out = append(out, t)
		}
	}
	return out
}
