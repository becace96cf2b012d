package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// MockType is the transport name MockRegistry registers
const MockType = "mock"

// ErrMockConnection is returned by mocks that simulate a failed link
var ErrMockConnection = errors.New("mock connection error")

// Line is one write seen by a mock
type Line struct {
	Origin string
	Data   string
}

// MockSink is a Writable that records everything written to it
type MockSink struct {
	mu    sync.Mutex
	id    string
	valid bool
	lines []Line
	raw   [][]byte
}

// NewMockSink creates a valid sink
func NewMockSink(id string) *MockSink {
	return &MockSink{id: id, valid: true}
}

// ID returns the sink id
func (s *MockSink) ID() string { return s.id }

// WriteString records data without origin
func (s *MockSink) WriteString(data string) bool {
	return s.WriteLine("", data)
}

// WriteLine records a line
func (s *MockSink) WriteLine(origin, line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return false
	}
	s.lines = append(s.lines, Line{Origin: origin, Data: line})
	return true
}

// WriteBytes records raw data
func (s *MockSink) WriteBytes(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return false
	}
	s.raw = append(s.raw, append([]byte(nil), data...))
	return true
}

// IsConnectionValid reports the switchable validity
func (s *MockSink) IsConnectionValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// SetValid switches validity
func (s *MockSink) SetValid(valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = valid
}

// Lines returns a copy of the recorded lines
func (s *MockSink) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.lines...)
}

// Data returns only the recorded payloads
func (s *MockSink) Data() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.Data
	}
	return out
}

// Bytes returns the raw writes
func (s *MockSink) Bytes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.raw...)
}

// Count returns the number of recorded lines
func (s *MockSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// MockStream is an in-memory stream. Connect succeeds unless Fail is set.
type MockStream struct {
	*stream.Base

	mu           sync.Mutex
	fail         bool
	dropOnOpen   bool
	connects     int
	disconnects  int
	written      []string
	writtenBytes [][]byte
	altered      map[string]string
}

// NewMockStream creates a mock stream from cfg
func NewMockStream(cfg config.StreamConfig, deps stream.Deps) *MockStream {
	if cfg.Type == "" {
		cfg.Type = MockType
	}
	return &MockStream{Base: stream.NewBase(cfg, deps), altered: make(map[string]string)}
}

// SetFail makes subsequent connects fail or succeed
func (m *MockStream) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// SetDropOnOpen makes subsequent connects succeed and then lose the link
// before Connect returns, like a remote that closes right after accepting.
func (m *MockStream) SetDropOnOpen(drop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropOnOpen = drop
}

// Connect simulates one attempt
func (m *MockStream) Connect(_ context.Context) bool {
	m.mu.Lock()
	m.connects++
	fail, drop := m.fail, m.dropOnOpen
	m.mu.Unlock()
	if fail {
		return false
	}
	m.Opened()
	if drop {
		m.Closed(false)
	}
	return true
}

// Disconnect closes the simulated link
func (m *MockStream) Disconnect() bool {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	m.Closed(true)
	return true
}

// Drop simulates the remote end closing the link
func (m *MockStream) Drop() {
	m.Closed(false)
}

// Feed pushes a received frame through the stream
func (m *MockStream) Feed(line string) {
	m.Receive(line)
}

// Connects returns the number of connect attempts
func (m *MockStream) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Disconnects returns the number of disconnect calls
func (m *MockStream) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// WriteString records data as written to the link
func (m *MockStream) WriteString(data string) bool {
	if !m.IsConnectionValid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, data)
	return true
}

// WriteLine records line plus the stream's delimiter
func (m *MockStream) WriteLine(_ string, line string) bool {
	return m.WriteString(line + m.EOL())
}

// WriteBytes records raw data
func (m *MockStream) WriteBytes(data []byte) bool {
	if !m.IsConnectionValid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writtenBytes = append(m.writtenBytes, append([]byte(nil), data...))
	return true
}

// Written returns everything written as text
func (m *MockStream) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

// WrittenBytes returns everything written as raw bytes
func (m *MockStream) WrittenBytes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writtenBytes...)
}

// Alter stores transport specific settings
func (m *MockStream) Alter(key, value string) bool {
	m.mu.Lock()
	m.altered[key] = value
	m.mu.Unlock()
	m.UpdateConfig(func(cfg *config.StreamConfig) {
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]string)
		}
		cfg.Extra[key] = value
	})
	return true
}

// MockRegistry returns a registry with the mock transport, and a lookup for
// the instances it created keyed by lower-case id.
func MockRegistry() (*stream.Registry, func(id string) *MockStream) {
	var mu sync.Mutex
	created := make(map[string]*MockStream)

	reg := stream.NewRegistry()
	_ = reg.Register(stream.RegistrationConfig{
		Name:        MockType,
		Description: "in-memory test stream",
		Factory: func(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
			m := NewMockStream(cfg, deps)
			if cfg.Extra["fail"] == "true" {
				m.SetFail(true)
			}
			mu.Lock()
			created[strings.ToLower(cfg.ID)] = m
			mu.Unlock()
			return m, nil
		},
	})
	return reg, func(id string) *MockStream {
		mu.Lock()
		defer mu.Unlock()
		return created[strings.ToLower(id)]
	}
}

// Event is one listener notification
type Event struct {
	Kind string
	ID   string
}

// MockListener records stream life cycle notifications
type MockListener struct {
	mu     sync.Mutex
	events []Event
}

// NewMockListener creates an empty recorder
func NewMockListener() *MockListener { return &MockListener{} }

func (l *MockListener) add(kind, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: kind, ID: id})
}

// NotifyOpened records an open
func (l *MockListener) NotifyOpened(id string) { l.add("opened", id) }

// NotifyClosed records a close
func (l *MockListener) NotifyClosed(id string) { l.add("closed", id) }

// NotifyIdle records an idle episode
func (l *MockListener) NotifyIdle(id string) { l.add("idle", id) }

// NotifyActive records the end of an idle episode
func (l *MockListener) NotifyActive(id string) { l.add("active", id) }

// RequestReconnection records a request and accepts it
func (l *MockListener) RequestReconnection(id string) bool {
	l.add("reconnect", id)
	return true
}

// Events returns a copy of the recorded events
func (l *MockListener) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Count returns how often kind was recorded
func (l *MockListener) Count(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
