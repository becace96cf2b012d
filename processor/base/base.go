// Package base holds the state shared by the line processing objects:
// identity, targets, counters and the delivery of results.
package base

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/michieltjampens/dcafs-sub002/metric"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Func transforms one line. It returns the result and whether it passes on.
type Func func(line string) (string, bool, error)

// Deps holds what a processing object needs from its host
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics
	Clock   clock.Clock
}

// Processor is embedded by every processing object
type Processor struct {
	kind    string
	id      string
	fn      Func
	targets *stream.Targets
	logger  *slog.Logger
	metrics *metric.Metrics
	clock   clock.Clock

	processed    atomic.Int64
	dropped      atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

// New creates the shared part of a processing object
func New(kind, id string, fn Func, deps Deps) *Processor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Processor{
		kind:    kind,
		id:      id,
		fn:      fn,
		targets: stream.NewTargets(),
		logger:  deps.Logger.With("component", kind, "id", id),
		metrics: deps.Metrics,
		clock:   deps.Clock,
	}
}

// ID returns the processor id
func (p *Processor) ID() string { return p.id }

// Kind returns filter, math or editor
func (p *Processor) Kind() string { return p.kind }

// Targets returns where results go
func (p *Processor) Targets() *stream.Targets { return p.targets }

// Logger returns the processor logger
func (p *Processor) Logger() *slog.Logger { return p.logger }

// IsConnectionValid is always true, a processor lives as long as the pool
func (p *Processor) IsConnectionValid() bool { return true }

// WriteString processes data as one line
func (p *Processor) WriteString(data string) bool {
	return p.WriteLine("", data)
}

// WriteBytes processes data as one line
func (p *Processor) WriteBytes(data []byte) bool {
	return p.WriteLine("", string(data))
}

// WriteLine runs line through the processor and delivers the result with
// the processor id as origin. It only reports false on an error.
func (p *Processor) WriteLine(origin, line string) bool {
	p.lastActivity.Store(p.clock.Now().UnixMilli())
	out, pass, err := p.fn(line)
	switch {
	case err != nil:
		p.errors.Add(1)
		p.metrics.RecordProcessed(p.id, "error")
		p.logger.Debug("Processing failed", "origin", origin, "line", line, "error", err)
		return false
	case !pass:
		p.dropped.Add(1)
		p.metrics.RecordProcessed(p.id, "dropped")
		return true
	}
	p.processed.Add(1)
	p.metrics.RecordProcessed(p.id, "passed")
	p.targets.Deliver(p.id, out)
	return true
}

// Stats returns the counters since creation
func (p *Processor) Stats() (passed, dropped, errors int64) {
	return p.processed.Load(), p.dropped.Load(), p.errors.Load()
}

// Info returns a one-line status
func (p *Processor) Info() string {
	passed, dropped, errs := p.Stats()
	last := "never"
	if ms := p.lastActivity.Load(); ms > 0 {
		last = p.clock.Since(time.UnixMilli(ms)).Truncate(time.Second).String() + " ago"
	}
	return fmt.Sprintf("%s:%s passed=%d dropped=%d errors=%d targets=%d last=%s",
		p.kind, p.id, passed, dropped, errs, p.targets.Len(), last)
}
