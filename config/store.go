package config

import (
	"sync"

	"github.com/michieltjampens/dcafs-sub002/errors"
)

// Store keeps the live configuration together with the file it came from.
// Stream edits made at runtime go through the store so they can be written back.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *SafeConfig
}

// NewStore wraps cfg. An empty path keeps everything in memory.
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: NewSafeConfig(cfg)}
}

// Path returns the backing file
func (s *Store) Path() string { return s.path }

// Config returns a copy of the current configuration
func (s *Store) Config() *Config { return s.cfg.Get() }

// Streams returns a copy of all stream entries
func (s *Store) Streams() []StreamConfig {
	return s.cfg.Get().Streams
}

// Stream returns the entry for id
func (s *Store) Stream(id string) (StreamConfig, bool) {
	return s.cfg.Get().Stream(id)
}

// PutStream adds or replaces a stream entry in memory
func (s *Store) PutStream(sc StreamConfig) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	s.cfg.Modify(func(c *Config) { c.PutStream(sc) })
	return nil
}

// RemoveStream drops a stream entry in memory
func (s *Store) RemoveStream(id string) bool {
	var removed bool
	s.cfg.Modify(func(c *Config) { removed = c.RemoveStream(id) })
	return removed
}

// Reload re-reads the backing file and replaces the in-memory configuration
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Store", "Reload", "no backing file")
	}
	cfg, err := NewLoader().LoadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "Store", "Reload", "load "+s.path)
	}
	return s.cfg.Update(cfg)
}

// Save writes the in-memory configuration to the backing file
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Store", "Save", "no backing file")
	}
	if err := s.cfg.Get().SaveToFile(s.path); err != nil {
		return errors.WrapTransient(err, "Store", "Save", "write "+s.path)
	}
	return nil
}
