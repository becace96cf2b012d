// Package pool owns every configured stream and everything that happens to
// it after creation.
//
// The Pool keeps the stream registry, reconnects lost links with capped
// linear backoff, watches for silent links, runs the write-and-confirm
// protocol through confirm.Tracker, routes received data to sinks and
// answers the admin command surface. It is the stream.Listener of every
// stream it holds.
//
// All timed work goes through a sched.Runner keyed by stream, so the
// reconnect and idle tasks of one stream never overlap.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/confirm"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/metric"
	"github.com/michieltjampens/dcafs-sub002/pkg/retry"
	"github.com/michieltjampens/dcafs-sub002/sched"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Issue suffixes raised on the issue tracker
const (
	IssueConnectionLost = "conlost"
	IssueIdle           = "conidle"
)

// ConfigStore persists stream settings. config.Store implements it.
type ConfigStore interface {
	Streams() []config.StreamConfig
	Stream(id string) (config.StreamConfig, bool)
	PutStream(sc config.StreamConfig) error
	RemoveStream(id string) bool
	Reload() error
	Save() error
}

// Config holds the pool's tuning
type Config struct {
	Backoff         retry.Linear
	ConfirmAttempts int
	ConfirmTimeout  time.Duration
}

// DefaultConfig returns 5s/30s backoff and the tracker defaults
func DefaultConfig() Config {
	return Config{
		Backoff:         retry.DefaultLinear(),
		ConfirmAttempts: confirm.DefaultAttempts,
		ConfirmTimeout:  confirm.DefaultTimeout,
	}
}

// Deps holds the pool's collaborators. Registry and Scheduler are required.
type Deps struct {
	Registry  *stream.Registry
	Scheduler sched.Runner
	Clock     clock.Clock
	Issues    *health.Monitor
	Metrics   *metric.Metrics
	Logger    *slog.Logger
	Store     ConfigStore
}

// managed is the pool's state for one stream
type managed struct {
	key string
	s   stream.Stream

	mu           sync.Mutex
	attempts     int
	failures     int
	reconnecting bool
	pending      bool // a reconnect was requested while one was running
	reconnect    *sched.Handle
	idle         *sched.Handle
	armedAt      int64
	removed      bool
	warns        *rate.Limiter // throttles retry warnings
}

func newManaged(key string, s stream.Stream) *managed {
	return &managed{key: key, s: s, warns: rate.NewLimiter(rate.Every(retryWarnEvery), 1)}
}

func (m *managed) isRemoved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

// Pool is the central stream orchestrator
type Pool struct {
	cfg      Config
	registry *stream.Registry
	sched    sched.Runner
	clock    clock.Clock
	issues   *health.Monitor
	metrics  *metric.Metrics
	logger   *slog.Logger
	store    ConfigStore

	mu      sync.RWMutex
	streams map[string]*managed
	order   []string

	trackerMu sync.Mutex
	trackers  map[string]*confirm.Tracker

	procMu     sync.RWMutex
	processors map[string]map[string]Processor

	lifeMu  sync.Mutex
	ctx     context.Context
	started bool
	stopped bool
}

// New creates a pool. Streams are added by Start (from the store) or AddStream.
func New(cfg Config, deps Deps) (*Pool, error) {
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "New", "transport registry")
	}
	if deps.Scheduler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "New", "scheduler")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Issues == nil {
		deps.Issues = health.NewMonitor()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Backoff.Increment <= 0 {
		cfg.Backoff = retry.DefaultLinear()
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = confirm.DefaultAttempts
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = confirm.DefaultTimeout
	}

	return &Pool{
		cfg:      cfg,
		registry: deps.Registry,
		sched:    deps.Scheduler,
		clock:    deps.Clock,
		issues:   deps.Issues,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("component", "pool"),
		store:    deps.Store,
		streams:  make(map[string]*managed),
		trackers: make(map[string]*confirm.Tracker),
		processors: map[string]map[string]Processor{
			KindFilter: {},
			KindMath:   {},
			KindEditor: {},
		},
		ctx: context.Background(),
	}, nil
}

// Start creates every stream in the store and schedules its first connect
func (p *Pool) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	if p.started {
		p.lifeMu.Unlock()
		return errors.ErrAlreadyStarted
	}
	p.started = true
	p.ctx = ctx
	p.lifeMu.Unlock()

	if p.store == nil {
		return nil
	}

	var errs error
	for _, sc := range p.store.Streams() {
		if _, err := p.AddStream(sc); err != nil {
			p.logger.Error("Failed to create stream", "stream", sc.ID, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	p.logger.Info("Stream pool started", "streams", p.Count())
	return errs
}

// Stop cancels all timers and trackers and disconnects every stream
func (p *Pool) Stop() error {
	p.lifeMu.Lock()
	if p.stopped {
		p.lifeMu.Unlock()
		return nil
	}
	p.stopped = true
	p.lifeMu.Unlock()

	p.trackerMu.Lock()
	trackers := make([]*confirm.Tracker, 0, len(p.trackers))
	for _, t := range p.trackers {
		trackers = append(trackers, t)
	}
	p.trackerMu.Unlock()
	for _, t := range trackers {
		t.Cancel()
	}

	var errs error
	for _, m := range p.all() {
		m.mu.Lock()
		m.removed = true
		m.reconnect.Cancel()
		m.idle.Cancel()
		m.mu.Unlock()
		if !m.s.Disconnect() {
			errs = multierr.Append(errs, fmt.Errorf("disconnect %s: %w", m.s.ID(), errors.ErrConnectionLost))
		}
	}
	p.logger.Info("Stream pool stopped")
	return errs
}

func (p *Pool) context() context.Context {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	return p.ctx
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// lookup finds a stream, ignoring case
func (p *Pool) lookup(id string) *managed {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streams[normalize(id)]
}

// all returns the managed streams in insertion order
func (p *Pool) all() []*managed {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*managed, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.streams[key])
	}
	return out
}

// Stream returns the stream with the given id
func (p *Pool) Stream(id string) (stream.Stream, bool) {
	m := p.lookup(id)
	if m == nil {
		return nil, false
	}
	return m.s, true
}

// Streams returns all streams in insertion order
func (p *Pool) Streams() []stream.Stream {
	ms := p.all()
	out := make([]stream.Stream, len(ms))
	for i, m := range ms {
		out[i] = m.s
	}
	return out
}

// Count returns the number of registered streams
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.streams)
}

// Issues returns the issue tracker
func (p *Pool) Issues() *health.Monitor { return p.issues }

// ConnectionAttempts returns the number of connects tried on a stream
func (p *Pool) ConnectionAttempts(id string) int {
	m := p.lookup(id)
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// IsReconnecting reports whether a stream waits for or runs a reconnect
func (p *Pool) IsReconnecting(id string) bool {
	m := p.lookup(id)
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

// AddStream creates a stream from sc, registers it and schedules its first
// connect.
func (p *Pool) AddStream(sc config.StreamConfig) (stream.Stream, error) {
	key := normalize(sc.ID)
	if p.lookup(key) != nil {
		return nil, errors.WrapInvalid(errors.ErrDuplicateStream, "Pool", "AddStream", "register "+sc.ID)
	}

	s, err := p.registry.Create(sc, stream.Deps{Logger: p.logger, Clock: p.clock, Metrics: p.metrics})
	if err != nil {
		return nil, errors.Wrap(err, "Pool", "AddStream", "create "+sc.ID)
	}
	if err := p.insert(key, s); err != nil {
		return nil, err
	}
	p.logger.Info("Stream added", "stream", s.ID(), "type", s.Type(), "label", s.Label())
	return s, nil
}

func (p *Pool) insert(key string, s stream.Stream) error {
	m := newManaged(key, s)

	p.mu.Lock()
	if _, exists := p.streams[key]; exists {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrDuplicateStream, "Pool", "AddStream", "register "+s.ID())
	}
	p.streams[key] = m
	p.order = append(p.order, key)
	p.mu.Unlock()

	s.SetListener(p)
	p.scheduleReconnect(m, 0)
	return nil
}

// RemoveStream cancels a stream's timers, disconnects it and drops it. Other
// streams stop forwarding to it.
func (p *Pool) RemoveStream(id string) bool {
	key := normalize(id)

	p.mu.Lock()
	m, ok := p.streams[key]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.streams, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.retire(m)
	if w, ok := m.s.(stream.Writable); ok {
		p.RemoveForwarding(w)
	}
	p.issues.Remove(health.IssueKey(m.s.ID(), IssueConnectionLost))
	p.issues.Remove(health.IssueKey(m.s.ID(), IssueIdle))
	p.logger.Info("Stream removed", "stream", m.s.ID())
	return true
}

// retire stops all activity on a stream that left the registry
func (p *Pool) retire(m *managed) {
	m.mu.Lock()
	m.removed = true
	m.reconnect.Cancel()
	m.idle.Cancel()
	m.mu.Unlock()

	for _, t := range p.trackersFor(m.s.ID()) {
		t.Cancel()
	}
	m.s.SetListener(nil)
	m.s.Disconnect()
}

// replace swaps the stream behind id for a fresh one built from sc. The new
// stream takes over the old one's targets, and whatever forwarded into the
// old one forwards into the new one.
func (p *Pool) replace(sc config.StreamConfig) (stream.Stream, error) {
	key := normalize(sc.ID)
	s, err := p.registry.Create(sc, stream.Deps{Logger: p.logger, Clock: p.clock, Metrics: p.metrics})
	if err != nil {
		return nil, errors.Wrap(err, "Pool", "replace", "create "+sc.ID)
	}

	p.mu.Lock()
	old, ok := p.streams[key]
	if !ok {
		p.order = append(p.order, key)
	}
	m := newManaged(key, s)
	p.streams[key] = m
	p.mu.Unlock()

	if ok {
		p.retire(old)
		oldW, _ := old.s.(stream.Writable)
		newW, _ := s.(stream.Writable)
		for _, w := range old.s.Targets().Snapshot() {
			if oldW != nil && w == oldW {
				if newW != nil {
					s.Targets().Add(newW)
				}
				continue
			}
			s.Targets().Add(w)
		}
		if oldW != nil {
			p.repoint(oldW, newW)
		}
	}

	s.SetListener(p)
	p.scheduleReconnect(m, 0)
	return s, nil
}

// Reload re-reads the store and rebuilds the stream with id. A stream that
// disappeared from the store is removed.
func (p *Pool) Reload(id string) error {
	if p.store == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "Reload", "config store")
	}
	if err := p.store.Reload(); err != nil {
		return errors.Wrap(err, "Pool", "Reload", "reload store")
	}
	sc, ok := p.store.Stream(id)
	if !ok {
		if p.RemoveStream(id) {
			return nil
		}
		return errors.WrapInvalid(errors.ErrUnknownStream, "Pool", "Reload", "find "+id)
	}
	_, err := p.replace(sc)
	return err
}

// ReloadAll re-reads the store and brings the registry in line with it
func (p *Pool) ReloadAll() error {
	if p.store == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "ReloadAll", "config store")
	}
	if err := p.store.Reload(); err != nil {
		return errors.Wrap(err, "Pool", "ReloadAll", "reload store")
	}

	wanted := make(map[string]bool)
	var errs error
	for _, sc := range p.store.Streams() {
		wanted[normalize(sc.ID)] = true
		if _, err := p.replace(sc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, m := range p.all() {
		if !wanted[m.key] {
			p.RemoveStream(m.s.ID())
		}
	}
	return errs
}

// Store writes the live settings of a stream back to the config file
func (p *Pool) Store(id string) error {
	if p.store == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "Store", "config store")
	}
	m := p.lookup(id)
	if m == nil {
		return errors.WrapInvalid(errors.ErrUnknownStream, "Pool", "Store", "find "+id)
	}
	if err := p.store.PutStream(m.s.Config()); err != nil {
		return err
	}
	return p.store.Save()
}

// ids returns the stream ids in insertion order
func (p *Pool) ids() []string {
	ms := p.all()
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.s.ID()
	}
	return out
}

// sortedKeys returns the keys of a map in order
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
