package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockPublisher is an in-memory stand-in for the NATS client used by the
// nats output. It is safe for concurrent use.
type MockPublisher struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	closed   bool
}

// NewMockPublisher creates an empty publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][][]byte)}
}

// Publish stores data under subject
func (c *MockPublisher) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)
	return nil
}

// IsConnected reports whether Close was not called yet
func (c *MockPublisher) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close marks the publisher closed
func (c *MockPublisher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Messages returns the payloads published on subject
func (c *MockPublisher) Messages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([][]byte(nil), c.messages[subject]...)
}

// Subjects returns every subject published to
func (c *MockPublisher) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.messages))
	for s := range c.messages {
		out = append(out, s)
	}
	return out
}

// WaitFor polls cond until it holds or timeout expires
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout after %s waiting for %s", timeout, msg)
}
