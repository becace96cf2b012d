package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dcafs"

// Metrics contains the stream core metrics. All Record methods are safe
// to call on a nil receiver so callers can run without a registry.
type Metrics struct {
	StreamConnected    *prometheus.GaugeVec
	ConnectAttempts    *prometheus.CounterVec
	ReconnectDelay     *prometheus.HistogramVec
	IdleEpisodes       *prometheus.CounterVec
	LinesReceived      *prometheus.CounterVec
	TargetsPruned      *prometheus.CounterVec
	TrackersActive     prometheus.Gauge
	TrackersCompleted  *prometheus.CounterVec
	CommandsHandled    *prometheus.CounterVec
	SchedulerTaskDelay prometheus.Histogram
	ProcessedLines     *prometheus.CounterVec
	SinkWrites         *prometheus.CounterVec
}

// NewMetrics creates the stream core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		StreamConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connected",
				Help:      "Stream connection state (0=down, 1=up)",
			},
			[]string{"stream"},
		),
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connect_attempts_total",
				Help:      "Connection attempts per stream by result",
			},
			[]string{"stream", "result"},
		),
		ReconnectDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reconnect_delay_seconds",
				Help:      "Backoff delay scheduled after a failed connect",
				Buckets:   []float64{1, 5, 10, 15, 20, 30, 60, 120},
			},
			[]string{"stream"},
		),
		IdleEpisodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "idle_episodes_total",
				Help:      "Number of times a stream went silent for longer than its ttl",
			},
			[]string{"stream"},
		),
		LinesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "lines_received_total",
				Help:      "Frames received per stream",
			},
			[]string{"stream"},
		),
		TargetsPruned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "targets_pruned_total",
				Help:      "Targets removed during delivery because they were no longer valid",
			},
			[]string{"source"},
		),
		TrackersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "confirm",
				Name:      "trackers_active",
				Help:      "Confirmation trackers waiting for replies",
			},
		),
		TrackersCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "confirm",
				Name:      "trackers_completed_total",
				Help:      "Confirmation trackers completed by result",
			},
			[]string{"result"},
		),
		CommandsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "commands_total",
				Help:      "Admin commands handled by command word",
			},
			[]string{"command"},
		),
		SchedulerTaskDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_lag_seconds",
				Help:      "Time between a task becoming due and starting to run",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		ProcessedLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "lines_total",
				Help:      "Lines handled by processing objects by result (passed, dropped, error)",
			},
			[]string{"processor", "result"},
		),
		SinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "output",
				Name:      "writes_total",
				Help:      "Lines written to output sinks by result",
			},
			[]string{"sink", "result"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StreamConnected,
		m.ConnectAttempts,
		m.ReconnectDelay,
		m.IdleEpisodes,
		m.LinesReceived,
		m.TargetsPruned,
		m.TrackersActive,
		m.TrackersCompleted,
		m.CommandsHandled,
		m.SchedulerTaskDelay,
		m.ProcessedLines,
		m.SinkWrites,
	}
}

// RecordConnected updates the connection state of a stream
func (m *Metrics) RecordConnected(stream string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.StreamConnected.WithLabelValues(stream).Set(value)
}

// RecordConnectAttempt counts a connect attempt
func (m *Metrics) RecordConnectAttempt(stream string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.ConnectAttempts.WithLabelValues(stream, result).Inc()
}

// RecordReconnectDelay observes a scheduled backoff delay
func (m *Metrics) RecordReconnectDelay(stream string, delay time.Duration) {
	if m == nil {
		return
	}
	m.ReconnectDelay.WithLabelValues(stream).Observe(delay.Seconds())
}

// RecordIdle counts an idle episode
func (m *Metrics) RecordIdle(stream string) {
	if m == nil {
		return
	}
	m.IdleEpisodes.WithLabelValues(stream).Inc()
}

// RecordLine counts a received frame
func (m *Metrics) RecordLine(stream string) {
	if m == nil {
		return
	}
	m.LinesReceived.WithLabelValues(stream).Inc()
}

// RecordPruned counts targets dropped during delivery
func (m *Metrics) RecordPruned(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TargetsPruned.WithLabelValues(source).Add(float64(n))
}

// RecordTrackers sets the number of live trackers
func (m *Metrics) RecordTrackers(n int) {
	if m == nil {
		return
	}
	m.TrackersActive.Set(float64(n))
}

// RecordTrackerDone counts a completed tracker
func (m *Metrics) RecordTrackerDone(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "confirmed"
	}
	m.TrackersCompleted.WithLabelValues(result).Inc()
}

// RecordCommand counts an admin command
func (m *Metrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.CommandsHandled.WithLabelValues(command).Inc()
}

// RecordTaskLag observes scheduler lag
func (m *Metrics) RecordTaskLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerTaskDelay.Observe(lag.Seconds())
}

// RecordProcessed counts a line handled by a processing object
func (m *Metrics) RecordProcessed(processor, result string) {
	if m == nil {
		return
	}
	m.ProcessedLines.WithLabelValues(processor, result).Inc()
}

// RecordSinkWrite counts lines written to a sink
func (m *Metrics) RecordSinkWrite(sink string, ok bool, n int) {
	if m == nil || n == 0 {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.SinkWrites.WithLabelValues(sink, result).Add(float64(n))
}
