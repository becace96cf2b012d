// Package nats provides a sink that publishes every line on a NATS subject.
package nats

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/natsclient"
	"github.com/michieltjampens/dcafs-sub002/output"
)

// Type is the sink type used in configuration
const Type = "nats"

// DefaultPrefix is used when no subject is configured
const DefaultPrefix = "dcafs"

const publishTimeout = 2 * time.Second

// Publisher is the part of the NATS client the sink needs
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsConnected() bool
}

// Output publishes lines to <prefix>.<origin>, or to <prefix> when the line
// has no origin
type Output struct {
	id     string
	prefix string
	pub    Publisher
	deps   output.Deps
	closed atomic.Bool
}

var (
	_ output.Sink = (*Output)(nil)
	_ Publisher   = (*natsclient.Client)(nil)
)

// New creates the sink on top of a connected publisher
func New(cfg config.SinkConfig, pub Publisher, deps output.Deps) (*Output, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSOutput", "New", "publisher")
	}
	prefix := strings.TrimSuffix(cfg.Subject, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, " \t*>") {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSOutput", "New", "subject "+prefix)
	}
	id := cfg.ID
	if id == "" {
		id = "nats:" + prefix
	}
	return &Output{
		id:     id,
		prefix: prefix,
		pub:    pub,
		deps:   deps.WithDefaults("nats-output", id),
	}, nil
}

// ID returns the sink id
func (o *Output) ID() string { return o.id }

// Subject returns the subject a line from origin is published on
func (o *Output) Subject(origin string) string {
	origin = subjectToken(origin)
	if origin == "" {
		return o.prefix
	}
	return o.prefix + "." + origin
}

// subjectToken lowercases origin and replaces characters NATS does not allow
// in a token
func subjectToken(origin string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, strings.ToLower(strings.TrimSpace(origin)))
}

// IsConnectionValid follows the NATS connection. A sink that is down is
// pruned by the streams delivering to it.
func (o *Output) IsConnectionValid() bool {
	return !o.closed.Load() && o.pub.IsConnected()
}

// WriteLine publishes line on the subject of origin
func (o *Output) WriteLine(origin, line string) bool {
	return o.publish(o.Subject(origin), []byte(line))
}

// WriteString publishes data on the prefix subject
func (o *Output) WriteString(data string) bool {
	return o.publish(o.prefix, []byte(data))
}

// WriteBytes publishes data on the prefix subject
func (o *Output) WriteBytes(data []byte) bool {
	return o.publish(o.prefix, data)
}

func (o *Output) publish(subject string, data []byte) bool {
	if o.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.pub.Publish(ctx, subject, data); err != nil {
		o.deps.Logger.Debug("Publish failed", "subject", subject, "error", err)
		o.deps.Metrics.RecordSinkWrite(o.id, false, 1)
		return false
	}
	o.deps.Metrics.RecordSinkWrite(o.id, true, 1)
	return true
}

// Close stops publishing. The connection belongs to the caller.
func (o *Output) Close() error {
	o.closed.Store(true)
	return nil
}
