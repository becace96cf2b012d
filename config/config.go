// Package config loads, validates and persists the dcafs configuration.
//
// A configuration file holds global settings, one entry per stream (the
// "type" attribute selects the transport adapter), named processing objects
// and forwarding rules. Files ending in .yaml or .yml are parsed as YAML,
// anything else as JSON.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/pkg/security"
)

// Config represents the complete application configuration
type Config struct {
	Version    string            `json:"version,omitempty"    yaml:"version,omitempty"`
	Settings   Settings          `json:"settings"             yaml:"settings"`
	Streams    []StreamConfig    `json:"streams"              yaml:"streams"`
	Processors []ProcessorConfig `json:"processors,omitempty" yaml:"processors,omitempty"`
	Forwards   []ForwardConfig   `json:"forwards,omitempty"   yaml:"forwards,omitempty"`
}

// Settings holds the pool-wide tuning knobs
type Settings struct {
	ReconnectIncrement Duration                 `json:"reconnect_increment" yaml:"reconnect_increment"`
	ReconnectMax       Duration                 `json:"reconnect_max"       yaml:"reconnect_max"`
	SchedulerWorkers   int                      `json:"scheduler_workers"   yaml:"scheduler_workers"`
	ConfirmAttempts    int                      `json:"confirm_attempts"    yaml:"confirm_attempts"`
	ConfirmTimeout     Duration                 `json:"confirm_timeout"     yaml:"confirm_timeout"`
	HTTPPort           int                      `json:"http_port"           yaml:"http_port"`
	HTTPTLS            security.ServerTLSConfig `json:"http_tls"            yaml:"http_tls"`
}

// StreamConfig describes one configured data link
type StreamConfig struct {
	ID       string            `json:"id"                 yaml:"id"`
	Type     string            `json:"type"               yaml:"type"`
	Label    string            `json:"label,omitempty"    yaml:"label,omitempty"`
	Address  string            `json:"address,omitempty"  yaml:"address,omitempty"`
	EOL      string            `json:"eol,omitempty"      yaml:"eol,omitempty"`
	TTL      int               `json:"ttl"                yaml:"ttl"`
	Baudrate int               `json:"baudrate,omitempty" yaml:"baudrate,omitempty"`
	Triggers []TriggerConfig   `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"    yaml:"extra,omitempty"`
}

// TriggerConfig binds a command to a stream event (hello, open, close, idle, wakeup)
type TriggerConfig struct {
	When    string `json:"when"    yaml:"when"`
	Command string `json:"command" yaml:"command"`
}

// ProcessorConfig describes a named filter, math or editor object
type ProcessorConfig struct {
	Kind      string            `json:"kind"                  yaml:"kind"`
	ID        string            `json:"id"                    yaml:"id"`
	Source    string            `json:"source,omitempty"      yaml:"source,omitempty"`
	Delimiter string            `json:"delimiter,omitempty"   yaml:"delimiter,omitempty"`
	Rules     []RuleConfig      `json:"rules,omitempty"       yaml:"rules,omitempty"`
	Outputs   []string          `json:"outputs,omitempty"     yaml:"outputs,omitempty"`
	Options   map[string]string `json:"options,omitempty"     yaml:"options,omitempty"`
}

// RuleConfig is one filter rule or editor step
type RuleConfig struct {
	Type  string `json:"type"            yaml:"type"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	With  string `json:"with,omitempty"  yaml:"with,omitempty"`
}

// ForwardConfig routes a source spec to a sink
type ForwardConfig struct {
	Source string     `json:"source" yaml:"source"`
	Sink   SinkConfig `json:"sink"   yaml:"sink"`
}

// SinkConfig describes an output. Type is one of file, sqlite, nats or stream.
type SinkConfig struct {
	Type       string `json:"type"                  yaml:"type"`
	ID         string `json:"id,omitempty"          yaml:"id,omitempty"`
	Path       string `json:"path,omitempty"        yaml:"path,omitempty"`
	Table      string `json:"table,omitempty"       yaml:"table,omitempty"`
	URL        string `json:"url,omitempty"         yaml:"url,omitempty"`
	Subject    string `json:"subject,omitempty"     yaml:"subject,omitempty"`
	WithOrigin bool   `json:"with_origin,omitempty" yaml:"with_origin,omitempty"`
}

// Duration is a time.Duration that reads "5s" style strings or plain seconds
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5s" or a number of seconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts "5s" or a number of seconds
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(raw any) (Duration, error) {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(parsed), nil
	case float64:
		return Duration(time.Duration(v * float64(time.Second))), nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid duration value %v", raw)
	}
}

// Defaults returns the configuration used before any layer is applied
func Defaults() *Config {
	return &Config{
		Version: "1.0.0",
		Settings: Settings{
			ReconnectIncrement: Duration(5 * time.Second),
			ReconnectMax:       Duration(30 * time.Second),
			SchedulerWorkers:   4,
			ConfirmAttempts:    3,
			ConfirmTimeout:     Duration(3 * time.Second),
			HTTPPort:           8080,
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Settings.ReconnectIncrement < 0 || c.Settings.ReconnectMax < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "negative reconnect delay")
	}
	if c.Settings.HTTPPort < 0 || c.Settings.HTTPPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("http_port %d out of range", c.Settings.HTTPPort))
	}

	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		if err := s.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("stream %d", i))
		}
		key := strings.ToLower(s.ID)
		if seen[key] {
			return errors.WrapInvalid(errors.ErrDuplicateStream, "Config", "Validate", "stream "+s.ID)
		}
		seen[key] = true
	}

	for _, p := range c.Processors {
		switch p.Kind {
		case "filter", "math", "editor":
		default:
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("processor %s has unknown kind %q", p.ID, p.Kind))
		}
		if p.ID == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "processor id")
		}
	}

	for _, f := range c.Forwards {
		if f.Source == "" || f.Sink.Type == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "forward source and sink type")
		}
	}
	return nil
}

// Validate checks a single stream entry
func (s StreamConfig) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "StreamConfig", "Validate", "id")
	}
	if s.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "StreamConfig", "Validate", "type of "+s.ID)
	}
	if s.TTL < -1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamConfig", "Validate",
			fmt.Sprintf("ttl %d of %s", s.TTL, s.ID))
	}
	return nil
}

// Stream returns the entry with the given id, compared case-insensitively
func (c *Config) Stream(id string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if strings.EqualFold(s.ID, id) {
			return s, true
		}
	}
	return StreamConfig{}, false
}

// PutStream replaces the entry with the same id or appends a new one
func (c *Config) PutStream(sc StreamConfig) {
	for i, s := range c.Streams {
		if strings.EqualFold(s.ID, sc.ID) {
			c.Streams[i] = sc
			return
		}
	}
	c.Streams = append(c.Streams, sc)
}

// RemoveStream drops the entry with the given id
func (c *Config) RemoveStream(id string) bool {
	for i, s := range c.Streams {
		if strings.EqualFold(s.ID, id) {
			c.Streams = append(c.Streams[:i], c.Streams[i+1:]...)
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Defaults()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Modify applies fn to the live configuration under the write lock
func (sc *SafeConfig) Modify(fn func(*Config)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	fn(sc.config)
}
