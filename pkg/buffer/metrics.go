package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/michieltjampens/dcafs-sub002/metric"
)

// bufferMetrics mirrors the statistics in Prometheus. All methods accept a
// nil receiver.
type bufferMetrics struct {
	writes      prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dcafs",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Items written to the buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dcafs",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items dropped because the buffer was full",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dcafs",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Items currently queued",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dcafs",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Fill ratio of the buffer (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	if m == nil {
		return
	}
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
