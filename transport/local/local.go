// Package local provides a stream without external connection. Whatever is
// written to it is received as if it came from a device, which lets
// processors feed their results back into the routing.
package local

import (
	"context"
	"strings"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Type is the transport name used in configuration
const Type = "local"

// Stream loops written data back to its targets
type Stream struct {
	*stream.Base
}

var (
	_ stream.Stream   = (*Stream)(nil)
	_ stream.Writable = (*Stream)(nil)
)

// New creates a local stream
func New(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
	return &Stream{Base: stream.NewBase(cfg, deps)}, nil
}

// Connect always succeeds
func (s *Stream) Connect(_ context.Context) bool {
	s.Opened()
	return true
}

// Disconnect marks the stream closed
func (s *Stream) Disconnect() bool {
	s.Closed(true)
	return true
}

// WriteString receives data with trailing line endings removed
func (s *Stream) WriteString(data string) bool {
	return s.WriteLine("", data)
}

// WriteLine receives line
func (s *Stream) WriteLine(_ string, line string) bool {
	if !s.IsConnectionValid() {
		return false
	}
	s.Receive(strings.TrimRight(line, "\r\n"))
	return true
}

// WriteBytes receives data as text
func (s *Stream) WriteBytes(data []byte) bool {
	return s.WriteString(string(data))
}
