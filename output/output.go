// Package output holds what the sinks share. Sinks implement stream.Writable
// and are registered as targets of streams or processing objects.
package output

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/michieltjampens/dcafs-sub002/metric"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Sink is a Writable that holds resources
type Sink interface {
	stream.Writable
	Close() error
}

// Deps holds what a sink needs from its host
type Deps struct {
	Logger   *slog.Logger
	Metrics  *metric.Metrics
	Registry *metric.MetricsRegistry
	Clock    clock.Clock
}

// WithDefaults fills in a logger tagged with component and a real clock
func (d Deps) WithDefaults(component, id string) Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("component", component, "sink", id)
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Metrics == nil {
		d.Metrics = d.Registry.CoreMetrics()
	}
	return d
}
