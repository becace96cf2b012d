// Package stream defines the contracts shared by every data link in dcafs and
// the common state transports embed.
//
// A Stream owns one external connection. Frames read from it are passed to
// Base.Receive, which stamps the activity time, reports the end of an idle
// episode to the Listener and delivers the frame to the stream's Targets.
// Streams never decide on their own to reconnect; they tell the Listener that
// the connection closed and ask it for a reconnection.
package stream

import (
	"context"

	"github.com/michieltjampens/dcafs-sub002/config"
)

// Writable is anything that accepts outgoing data: streams, trackers,
// processing objects and output sinks.
type Writable interface {
	ID() string
	WriteString(data string) bool
	// WriteLine writes data followed by the sink's line terminator. origin is
	// the id of the stream the data came from, empty when written directly.
	WriteLine(origin, line string) bool
	WriteBytes(data []byte) bool
	IsConnectionValid() bool
}

// Listener receives life cycle events from streams. Implementations must not
// block, the calls happen on I/O goroutines.
type Listener interface {
	NotifyOpened(id string)
	NotifyClosed(id string)
	NotifyIdle(id string)
	NotifyActive(id string)
	RequestReconnection(id string) bool
}

// Stream is one configured external data connection.
type Stream interface {
	ID() string
	Type() string
	Label() string
	SetLabel(label string)
	EOL() string
	SetEOL(eol string)
	// ReaderIdleSeconds is the allowed silence before the stream counts as
	// idle, -1 disables idle monitoring.
	ReaderIdleSeconds() int
	SetReaderIdleSeconds(ttl int)
	// LastTimestamp is the epoch millis of the last received frame, -1 if none.
	LastTimestamp() int64

	// Connect performs one connection attempt. It may block but never panics.
	Connect(ctx context.Context) bool
	// Disconnect closes the connection. Calling it twice is harmless.
	Disconnect() bool
	IsConnectionValid() bool
	Info() string

	Targets() *Targets
	Triggers() *Triggers
	SetListener(l Listener)
	// MarkIdle flags the start of an idle episode. It reports false when the
	// stream was already idle.
	MarkIdle() bool
	// Config returns the stream settings as they are now, for storing.
	Config() config.StreamConfig
}

// Alterer is implemented by transports with settings beyond the common ones,
// such as a serial baud rate.
type Alterer interface {
	Alter(key, value string) bool
}
