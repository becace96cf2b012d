// Package sched runs the administrative work of the stream pool: reconnect
// attempts, idle checks and triggered commands.
//
// Work is scheduled under a key, normally the stream id. Tasks sharing a key
// run one after the other in the order they became due; tasks under
// different keys run in parallel on a bounded worker pool, so a slow connect
// on one stream does not hold up the others. Timers come from a clock.Clock
// so tests can drive time by hand.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/metric"
	"github.com/michieltjampens/dcafs-sub002/pkg/worker"
)

// Task is one unit of scheduled work
type Task func(ctx context.Context)

// Config configures a Scheduler
type Config struct {
	Workers   int // goroutines draining lanes, default 4
	QueueSize int // lanes waiting for a worker, default 1024
}

// Deps holds the scheduler's collaborators. All are optional.
type Deps struct {
	Clock           clock.Clock
	Logger          *slog.Logger
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry
}

type job struct {
	handle *Handle
	task   Task
}

type lane struct {
	queue   []job
	running bool
}

// Scheduler runs keyed tasks after a delay
type Scheduler struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics
	pool    *worker.Pool[string]

	mu      sync.Mutex
	lanes   map[string]*lane
	timers  map[*Handle]struct{}
	ctx     context.Context
	started bool
	stopped bool
}

// New creates a scheduler. It does nothing until Start.
func New(cfg Config, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Scheduler{
		clock:   deps.Clock,
		logger:  deps.Logger.With("component", "scheduler"),
		metrics: deps.Metrics,
		lanes:   make(map[string]*lane),
		timers:  make(map[*Handle]struct{}),
		ctx:     context.Background(),
	}

	var opts []worker.Option[string]
	if deps.MetricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[string](deps.MetricsRegistry, "scheduler"))
	}
	s.pool = worker.NewPool[string](cfg.Workers, cfg.QueueSize, s.drain, opts...)
	return s
}

// Clock returns the scheduler's time source
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// Start begins running due tasks. Tasks that became due before Start run now.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	if err := s.pool.Start(ctx); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "Scheduler", "Start", "start workers")
	}
	s.started = true
	s.ctx = ctx

	var waiting []string
	for key, l := range s.lanes {
		if len(l.queue) > 0 && !l.running {
			l.running = true
			waiting = append(waiting, key)
		}
	}
	s.mu.Unlock()

	for _, key := range waiting {
		s.submit(key)
	}
	return nil
}

// Stop cancels all pending timers and waits for running tasks to finish
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for h := range s.timers {
		h.Cancel()
	}
	s.timers = make(map[*Handle]struct{})
	s.mu.Unlock()

	if err := s.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Scheduler", "Stop", "stop workers")
	}
	return nil
}

// Submit queues task to run as soon as the key's lane is free
func (s *Scheduler) Submit(key string, task Task) *Handle {
	return s.Schedule(key, 0, task)
}

// Schedule runs task under key once delay has passed. A delay of zero or
// less queues it right away.
func (s *Scheduler) Schedule(key string, delay time.Duration, task Task) *Handle {
	h := newHandle(key, delay, s.clock.Now().Add(delay))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		h.state.Store(int32(stateCancelled))
		return h
	}

	if delay <= 0 {
		h.state.Store(int32(stateDue))
		s.mu.Unlock()
		s.enqueue(key, job{handle: h, task: task})
		return h
	}

	s.timers[h] = struct{}{}
	h.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		if h.state.CompareAndSwap(int32(statePending), int32(stateDue)) {
			s.enqueue(key, job{handle: h, task: task})
		}
	})
	s.mu.Unlock()
	return h
}

// Pending returns the number of armed timers
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stats returns the worker pool statistics
func (s *Scheduler) Stats() worker.PoolStats {
	return s.pool.Stats()
}

func (s *Scheduler) enqueue(key string, j job) {
	s.mu.Lock()
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	l.queue = append(l.queue, j)
	submit := s.started && !s.stopped && !l.running
	if submit {
		l.running = true
	}
	s.mu.Unlock()

	if submit {
		s.submit(key)
	}
}

func (s *Scheduler) submit(key string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.pool.SubmitWait(ctx, key); err != nil {
		s.logger.Warn("Dropping scheduled tasks", "key", key, "error", err)
		s.mu.Lock()
		if l, ok := s.lanes[key]; ok {
			for _, j := range l.queue {
				j.handle.state.Store(int32(stateCancelled))
			}
			delete(s.lanes, key)
		}
		s.mu.Unlock()
	}
}

// drain runs the tasks of one lane until it is empty
func (s *Scheduler) drain(ctx context.Context, key string) error {
	for {
		s.mu.Lock()
		l, ok := s.lanes[key]
		if !ok {
			s.mu.Unlock()
			return nil
		}
		if len(l.queue) == 0 {
			delete(s.lanes, key)
			s.mu.Unlock()
			return nil
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		s.mu.Unlock()

		s.run(ctx, key, j)
	}
}

func (s *Scheduler) run(ctx context.Context, key string, j job) {
	h := j.handle
	if !h.state.CompareAndSwap(int32(stateDue), int32(stateRunning)) {
		return
	}
	defer h.state.Store(int32(stateFinished))

	if lag := s.clock.Now().Sub(h.due); lag > 0 {
		s.metrics.RecordTaskLag(lag)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked", "key", key, "panic", fmt.Sprint(r))
		}
	}()
	j.task(ctx)
}
