// Package confirm implements the write-and-await-reply protocol used to talk
// to devices over plain byte streams.
//
// A Tracker holds a queue of steps, each a line to write and the reply that
// confirms it. It writes the head step, waits for a matching line from the
// stream and moves on. A step without expected reply completes as soon as it
// is written. When no reply arrives within the timeout the step is written
// again, and after the last attempt the tracker fails. Every tracker also has
// a maximum lifetime of steps*attempts*timeout counted from the last Add, so
// none can linger forever.
//
// The tracker is itself a stream.Writable: registered as a target on the
// stream it writes to, it sees every received line. Once finished it reports
// an invalid connection and the stream's next delivery drops it.
package confirm

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Defaults for the attempt and timeout budget
const (
	DefaultAttempts = 3
	DefaultTimeout  = 3 * time.Second
)

// StepSeparator splits one payload into steps
const StepSeparator = ";"

// Listener is told the outcome of a tracker
type Listener interface {
	ConfirmDone(ref string, ok bool)
}

// ListenerFunc adapts a function to a Listener
type ListenerFunc func(ref string, ok bool)

// ConfirmDone calls f
func (f ListenerFunc) ConfirmDone(ref string, ok bool) { f(ref, ok) }

// Step is one line to write and the reply that confirms it
type Step struct {
	Text  string
	Reply string
}

// Config configures a Tracker
type Config struct {
	Key      string // registry key, ref_streamId or streamId
	Ref      string // reported to listeners
	Attempts int
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	// OnComplete runs once when the tracker finishes, after the listeners
	OnComplete func(t *Tracker, ok bool)
}

// Tracker sequences steps over one stream
type Tracker struct {
	key        string
	ref        string
	attempts   int
	timeout    time.Duration
	clock      clock.Clock
	logger     *slog.Logger
	onComplete func(*Tracker, bool)
	target     stream.Writable

	mu        sync.Mutex
	steps     []Step
	inflight  bool
	attempt   int
	gen       uint64
	timer     *clock.Timer
	lifetime  *clock.Timer
	expiresAt time.Time
	done      bool
	ok        bool
	listeners []Listener
}

// New creates a tracker writing to target
func New(target stream.Writable, cfg Config) *Tracker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Key == "" {
		cfg.Key = target.ID()
	}
	return &Tracker{
		key:        cfg.Key,
		ref:        cfg.Ref,
		attempts:   cfg.Attempts,
		timeout:    cfg.Timeout,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With("component", "confirm", "tracker", cfg.Key),
		onComplete: cfg.OnComplete,
		target:     target,
	}
}

// Split turns a payload into steps that all expect reply
func Split(payload, reply string) []Step {
	parts := strings.Split(payload, StepSeparator)
	steps := make([]Step, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		steps = append(steps, Step{Text: p, Reply: reply})
	}
	return steps
}

// Key returns the registry key
func (t *Tracker) Key() string { return t.key }

// Ref returns the reference reported to listeners
func (t *Tracker) Ref() string { return t.ref }

// Target returns the stream written to
func (t *Tracker) Target() stream.Writable { return t.target }

// Subscribe adds a listener for the outcome
func (t *Tracker) Subscribe(l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Add queues steps and starts sending if idle. It returns false when the
// tracker already finished.
func (t *Tracker) Add(steps ...Step) bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.steps = append(t.steps, steps...)
	t.armLifetime()
	t.mu.Unlock()

	t.pump()
	return true
}

// AddPayload splits payload on ';' and queues the parts with reply
func (t *Tracker) AddPayload(payload, reply string) bool {
	return t.Add(Split(payload, reply)...)
}

// IsEmpty reports whether no steps are waiting
func (t *Tracker) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps) == 0
}

// Done reports whether the tracker finished
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Succeeded reports whether every step was confirmed
func (t *Tracker) Succeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done && t.ok
}

// ExpiresAt returns the end of the tracker's lifetime
func (t *Tracker) ExpiresAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiresAt
}

// Info describes the tracker state in one line
func (t *Tracker) Info() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Sprintf("%s done ok=%t", t.key, t.ok)
	}
	if len(t.steps) == 0 {
		return fmt.Sprintf("%s empty", t.key)
	}
	head := t.steps[0]
	return fmt.Sprintf("%s -> %s, sent '%s' awaiting '%s' attempt %d/%d, %d step(s) left",
		t.key, t.target.ID(), head.Text, head.Reply, t.attempt+1, t.attempts, len(t.steps))
}

// Cancel stops the tracker and reports failure to the listeners
func (t *Tracker) Cancel() {
	t.finish(false, "cancelled")
}

// ID implements stream.Writable
func (t *Tracker) ID() string { return "confirm:" + t.key }

// IsConnectionValid implements stream.Writable. A finished tracker is invalid.
func (t *Tracker) IsConnectionValid() bool {
	return !t.Done()
}

// WriteLine receives a line from the stream
func (t *Tracker) WriteLine(_ string, line string) bool {
	t.receive(line)
	return true
}

// WriteString receives data from the stream
func (t *Tracker) WriteString(data string) bool {
	t.receive(data)
	return true
}

// WriteBytes receives raw data from the stream
func (t *Tracker) WriteBytes(data []byte) bool {
	t.receive(string(data))
	return true
}

// Matches reports whether line confirms reply. A reply ending in '*'
// matches any line with that prefix.
func Matches(reply, line string) bool {
	line = strings.TrimSpace(line)
	if prefix, ok := strings.CutSuffix(reply, "*"); ok {
		return strings.HasPrefix(line, prefix)
	}
	return line == reply
}

func (t *Tracker) receive(line string) {
	t.mu.Lock()
	if t.done || !t.inflight || len(t.steps) == 0 {
		t.mu.Unlock()
		return
	}
	head := t.steps[0]
	if head.Reply == "" || !Matches(head.Reply, line) {
		t.mu.Unlock()
		return
	}
	t.logger.Debug("Step confirmed", "text", head.Text, "reply", line)
	t.advance()
	t.mu.Unlock()

	t.pump()
}

// advance drops the head step. Caller holds mu.
func (t *Tracker) advance() {
	t.steps = t.steps[1:]
	t.inflight = false
	t.attempt = 0
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// pump writes the head step unless one is in flight. Writes happen without
// holding mu, a local stream answers synchronously.
func (t *Tracker) pump() {
	for {
		t.mu.Lock()
		if t.done || t.inflight {
			t.mu.Unlock()
			return
		}
		if len(t.steps) == 0 {
			t.mu.Unlock()
			t.finish(true, "")
			return
		}
		step := t.steps[0]
		t.inflight = true
		t.gen++
		gen := t.gen
		t.mu.Unlock()

		written := Write(t.target, step.Text)

		t.mu.Lock()
		if t.done || gen != t.gen {
			t.mu.Unlock()
			return
		}
		if written && step.Reply == "" {
			t.advance()
			t.mu.Unlock()
			continue
		}
		if !written {
			t.logger.Debug("Write failed, waiting to retry", "text", step.Text)
		}
		t.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(gen) })
		t.mu.Unlock()
		return
	}
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	if t.done || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.attempt++
	if t.attempt >= t.attempts {
		head := t.steps[0]
		t.mu.Unlock()
		t.finish(false, fmt.Sprintf("no '%s' after %d attempts of '%s'", head.Reply, t.attempts, head.Text))
		return
	}
	t.inflight = false
	t.gen++
	t.timer = nil
	t.mu.Unlock()

	t.pump()
}

// armLifetime restarts the maximum lifetime timer. Caller holds mu.
func (t *Tracker) armLifetime() {
	if t.lifetime != nil {
		t.lifetime.Stop()
	}
	life := time.Duration(len(t.steps)*t.attempts) * t.timeout
	if life <= 0 {
		life = time.Duration(t.attempts) * t.timeout
	}
	t.expiresAt = t.clock.Now().Add(life)
	t.lifetime = t.clock.AfterFunc(life, func() {
		t.finish(false, "lifetime exceeded")
	})
}

func (t *Tracker) finish(ok bool, reason string) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.ok = ok
	t.inflight = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.lifetime != nil {
		t.lifetime.Stop()
		t.lifetime = nil
	}
	listeners := append([]Listener(nil), t.listeners...)
	onComplete := t.onComplete
	t.mu.Unlock()

	if ok {
		t.logger.Debug("Tracker completed")
	} else {
		t.logger.Warn("Tracker failed", "reason", reason)
	}
	for _, l := range listeners {
		l.ConfirmDone(t.ref, ok)
	}
	if onComplete != nil {
		onComplete(t, ok)
	}
}

// Write sends text to w. A "\h(..)" payload is sent as raw hex bytes, a
// trailing "\0" suppresses the line terminator.
func Write(w stream.Writable, text string) bool {
	if data, ok, err := ParseHex(text); ok {
		if err != nil {
			return false
		}
		return w.WriteBytes(data)
	}
	if trimmed, ok := strings.CutSuffix(text, `\0`); ok {
		return w.WriteString(trimmed)
	}
	if trimmed, ok := strings.CutSuffix(text, "\x00"); ok {
		return w.WriteString(trimmed)
	}
	return w.WriteLine("", text)
}

// ParseHex decodes a "\h(0A 1B,FF)" payload. ok is false when text has no
// hex prefix.
func ParseHex(text string) (data []byte, ok bool, err error) {
	inner, found := strings.CutPrefix(text, `\h(`)
	if !found {
		return nil, false, nil
	}
	inner = strings.TrimSuffix(inner, ")")
	inner = strings.NewReplacer(" ", "", ",", "", "0x", "", "0X", "").Replace(inner)
	data, err = hex.DecodeString(inner)
	if err != nil {
		return nil, true, fmt.Errorf("invalid hex payload %q: %w", text, err)
	}
	return data, true, nil
}
