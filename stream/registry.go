package stream

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
)

// Factory creates a stream from its configuration. Factories do no I/O, the
// connection is made by Connect.
type Factory func(cfg config.StreamConfig, deps Deps) (Stream, error)

// RegistrationConfig describes one transport type
type RegistrationConfig struct {
	Name        string  // value of the "type" attribute, e.g. "tcp"
	Factory     Factory // creates instances
	Description string  // shown by the help command
}

// Registry maps transport names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RegistrationConfig
}

// NewRegistry creates an empty transport registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]RegistrationConfig)}
}

// Register adds a transport type. Names are case-insensitive.
func (r *Registry) Register(reg RegistrationConfig) error {
	if reg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "transport name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory function validation")
	}

	name := strings.ToLower(reg.Name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		msg := fmt.Errorf("transport '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "Register", "duplicate transport check")
	}
	reg.Name = name
	r.factories[name] = reg
	return nil
}

// Has reports whether a transport type is known
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(name)]
	return ok
}

// Create builds a stream using the factory named by cfg.Type
func (r *Registry) Create(cfg config.StreamConfig, deps Deps) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	reg, ok := r.factories[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownTransport, "Registry", "Create", "lookup "+cfg.Type)
	}

	s, err := reg.Factory(cfg, deps)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Registry", "Create", "build "+cfg.ID)
	}
	return s, nil
}

// List returns all registrations sorted by name
func (r *Registry) List() []RegistrationConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistrationConfig, 0, len(r.factories))
	for _, reg := range r.factories {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
