package testutil

import (
	"github.com/michieltjampens/dcafs-sub002/config"
)

// NMEALines are sample frames as a GPS receiver would send them
var NMEALines = []string{
	"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
	"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A",
	"$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48",
}

// SensorLines are comma separated readings: temperature, humidity, pressure
var SensorLines = []string{
	"21.5,45.2,1013.1",
	"21.7,45.0,1013.0",
	"22.0,44.8,1012.9",
}

// ConfigBuilder assembles a config.Config for tests
type ConfigBuilder struct {
	cfg *config.Config
}

// NewConfigBuilder starts from the defaults
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: config.Defaults()}
}

// Stream adds a stream entry
func (b *ConfigBuilder) Stream(id, typ, label string, ttl int) *ConfigBuilder {
	b.cfg.Streams = append(b.cfg.Streams, config.StreamConfig{ID: id, Type: typ, Label: label, TTL: ttl})
	return b
}

// StreamConfig adds a fully specified stream entry
func (b *ConfigBuilder) StreamConfig(sc config.StreamConfig) *ConfigBuilder {
	b.cfg.Streams = append(b.cfg.Streams, sc)
	return b
}

// Forward adds a forwarding rule
func (b *ConfigBuilder) Forward(source string, sink config.SinkConfig) *ConfigBuilder {
	b.cfg.Forwards = append(b.cfg.Forwards, config.ForwardConfig{Source: source, Sink: sink})
	return b
}

// Processor adds a processing object
func (b *ConfigBuilder) Processor(p config.ProcessorConfig) *ConfigBuilder {
	b.cfg.Processors = append(b.cfg.Processors, p)
	return b
}

// Build returns the assembled config
func (b *ConfigBuilder) Build() *config.Config {
	return b.cfg
}
