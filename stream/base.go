package stream

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/metric"
	"github.com/michieltjampens/dcafs-sub002/pkg/timestamp"
)

// Deps holds what a transport needs from its surroundings
type Deps struct {
	Logger  *slog.Logger
	Clock   clock.Clock
	Metrics *metric.Metrics
}

// Base carries the state every transport shares. Transports embed it and add
// Connect, Disconnect and the write methods.
type Base struct {
	mu       sync.RWMutex
	cfg      config.StreamConfig
	eol      string
	listener Listener

	clock   clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	connected     atomic.Bool
	idle          atomic.Bool
	lastTimestamp atomic.Int64

	targets  *Targets
	triggers *Triggers
}

// NewBase creates the shared state for a stream built from cfg
func NewBase(cfg config.StreamConfig, deps Deps) *Base {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	b := &Base{
		cfg:      cfg,
		eol:      ParseEOL(cfg.EOL),
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		targets:  NewTargets(),
		triggers: NewTriggers(),
	}
	b.logger = deps.Logger.With("stream", cfg.ID, "type", cfg.Type)
	b.lastTimestamp.Store(timestamp.Never)
	if unknown := b.triggers.Load(cfg.Triggers); len(unknown) > 0 {
		b.logger.Warn("Ignoring unknown triggers", "triggers", unknown)
	}
	return b
}

// ID returns the stream id
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.ID
}

// Type returns the transport name
func (b *Base) Type() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Type
}

// Label returns the routing label
func (b *Base) Label() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Label
}

// SetLabel changes the routing label
func (b *Base) SetLabel(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Label = label
}

// EOL returns the line delimiter
func (b *Base) EOL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eol
}

// SetEOL changes the line delimiter. It takes effect on the next connect for
// reading and immediately for writing.
func (b *Base) SetEOL(eol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eol = eol
	b.cfg.EOL = FormatEOL(eol)
}

// ReaderIdleSeconds returns the idle budget, -1 when disabled
func (b *Base) ReaderIdleSeconds() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cfg.TTL <= 0 {
		return -1
	}
	return b.cfg.TTL
}

// SetReaderIdleSeconds changes the idle budget
func (b *Base) SetReaderIdleSeconds(ttl int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ttl <= 0 {
		ttl = -1
	}
	b.cfg.TTL = ttl
}

// LastTimestamp returns the epoch millis of the last frame, -1 if none
func (b *Base) LastTimestamp() int64 {
	return b.lastTimestamp.Load()
}

// IsConnectionValid reports whether the transport is connected
func (b *Base) IsConnectionValid() bool {
	return b.connected.Load()
}

// Targets returns the sinks receiving this stream's data
func (b *Base) Targets() *Targets { return b.targets }

// Triggers returns the triggered command table
func (b *Base) Triggers() *Triggers { return b.triggers }

// SetListener sets who gets life cycle events
func (b *Base) SetListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

func (b *Base) getListener() Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listener
}

// MarkIdle flags the start of an idle episode
func (b *Base) MarkIdle() bool {
	return b.idle.CompareAndSwap(false, true)
}

// Config returns the current settings, including edits made at runtime
func (b *Base) Config() config.StreamConfig {
	b.mu.RLock()
	cfg := b.cfg
	if cfg.Extra != nil {
		extra := make(map[string]string, len(cfg.Extra))
		for k, v := range cfg.Extra {
			extra[k] = v
		}
		cfg.Extra = extra
	}
	b.mu.RUnlock()
	cfg.Triggers = b.triggers.Export()
	return cfg
}

// UpdateConfig lets a transport change its own settings
func (b *Base) UpdateConfig(fn func(cfg *config.StreamConfig)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.cfg)
}

// Address returns the configured address
func (b *Base) Address() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Address
}

// Logger returns the stream scoped logger
func (b *Base) Logger() *slog.Logger { return b.logger }

// Clock returns the time source
func (b *Base) Clock() clock.Clock { return b.clock }

// Info describes the stream in one line
func (b *Base) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s", b.ID(), strings.ToUpper(b.Type()))
	if label := b.Label(); label != "" {
		fmt.Fprintf(&sb, "|%s", label)
	}
	sb.WriteString("]")
	if addr := b.Address(); addr != "" {
		fmt.Fprintf(&sb, " %s", addr)
	}
	if !b.IsConnectionValid() {
		sb.WriteString(" NC")
		return sb.String()
	}
	age := timestamp.Age(b.clock.Now(), b.LastTimestamp())
	if age < 0 {
		sb.WriteString(" no data yet")
		return sb.String()
	}
	fmt.Fprintf(&sb, " %s ago", age)
	if b.idle.Load() {
		sb.WriteString(" (idle)")
	}
	return sb.String()
}

// Opened records a successful connect and tells the listener
func (b *Base) Opened() {
	b.connected.Store(true)
	b.idle.Store(false)
	b.metrics.RecordConnected(b.ID(), true)
	if l := b.getListener(); l != nil {
		l.NotifyOpened(b.ID())
	}
}

// Closed records the loss of the connection. When the close was not asked
// for, a reconnection is requested.
func (b *Base) Closed(requested bool) {
	if !b.connected.Swap(false) {
		return
	}
	b.metrics.RecordConnected(b.ID(), false)
	l := b.getListener()
	if l == nil {
		return
	}
	l.NotifyClosed(b.ID())
	if !requested {
		l.RequestReconnection(b.ID())
	}
}

// Receive handles one incoming frame
func (b *Base) Receive(line string) {
	id := b.ID()
	b.lastTimestamp.Store(b.clock.Now().UnixMilli())
	if b.idle.CompareAndSwap(true, false) {
		if l := b.getListener(); l != nil {
			l.NotifyActive(id)
		}
	}
	b.metrics.RecordLine(id)
	if pruned := b.targets.Deliver(id, line); pruned > 0 {
		b.metrics.RecordPruned(id, pruned)
		b.logger.Debug("Removed invalid targets", "count", pruned)
	}
}
