package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/metric"
	"github.com/michieltjampens/dcafs-sub002/natsclient"
	"github.com/michieltjampens/dcafs-sub002/output"
	"github.com/michieltjampens/dcafs-sub002/output/file"
	natsout "github.com/michieltjampens/dcafs-sub002/output/nats"
	"github.com/michieltjampens/dcafs-sub002/output/sqlite"
	"github.com/michieltjampens/dcafs-sub002/pkg/retry"
	"github.com/michieltjampens/dcafs-sub002/pool"
	"github.com/michieltjampens/dcafs-sub002/processor/base"
	"github.com/michieltjampens/dcafs-sub002/processor/editor"
	"github.com/michieltjampens/dcafs-sub002/processor/filter"
	"github.com/michieltjampens/dcafs-sub002/processor/math"
	"github.com/michieltjampens/dcafs-sub002/sched"
	"github.com/michieltjampens/dcafs-sub002/stream"
	"github.com/michieltjampens/dcafs-sub002/transport"
)

// Sink type that forwards into another stream of the pool
const sinkStream = "stream"

// issue suffix raised while a NATS connection is down
const issueNATSDown = "natsdown"

// processingObject is a processor the router can address and feed
type processingObject interface {
	pool.Processor
	stream.Writable
}

// app holds everything run builds and tears down
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	issues  *health.Monitor
	sched   *sched.Scheduler
	pool    *pool.Pool

	sinks   []output.Sink
	clients map[string]*natsclient.Client
}

// newApp builds the registry, scheduler and pool for cfg. store may be nil.
func newApp(cfg *config.Config, store pool.ConfigStore, logger *slog.Logger) (*app, error) {
	registry := stream.NewRegistry()
	if err := transport.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("register transports: %w", err)
	}

	metrics := metric.NewMetricsRegistry()
	issues := health.NewMonitor()

	scheduler := sched.New(sched.Config{Workers: cfg.Settings.SchedulerWorkers}, sched.Deps{
		Logger:          logger,
		Metrics:         metrics.CoreMetrics(),
		MetricsRegistry: metrics,
	})

	p, err := pool.New(pool.Config{
		Backoff: retry.Linear{
			Increment: cfg.Settings.ReconnectIncrement.Std(),
			Max:       cfg.Settings.ReconnectMax.Std(),
		},
		ConfirmAttempts: cfg.Settings.ConfirmAttempts,
		ConfirmTimeout:  cfg.Settings.ConfirmTimeout.Std(),
	}, pool.Deps{
		Registry:  registry,
		Scheduler: scheduler,
		Clock:     scheduler.Clock(),
		Issues:    issues,
		Metrics:   metrics.CoreMetrics(),
		Logger:    logger,
		Store:     store,
	})
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		issues:  issues,
		sched:   scheduler,
		pool:    p,
		clients: make(map[string]*natsclient.Client),
	}, nil
}

// start runs the scheduler and pool, then wires processors and forwards.
// Streams or forwards that fail are logged; the rest keep running.
func (a *app) start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := a.pool.Start(ctx); err != nil {
		a.logger.Warn("Some streams could not be created", "error", err)
	}
	if err := a.wireProcessors(); err != nil {
		return err
	}
	if err := a.wireForwards(ctx); err != nil {
		a.logger.Warn("Some forwards could not be wired", "error", err)
	}
	return nil
}

// stop tears down in reverse order of start
func (a *app) stop(timeout time.Duration) error {
	var errs error
	errs = multierr.Append(errs, a.pool.Stop())

	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close sink %s: %w", s.ID(), err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for url, c := range a.clients {
		if err := c.Close(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close nats %s: %w", url, err))
		}
	}

	errs = multierr.Append(errs, a.sched.Stop(timeout))
	return errs
}

func (a *app) processorDeps() base.Deps {
	return base.Deps{
		Logger:  a.logger,
		Metrics: a.metrics.CoreMetrics(),
		Clock:   a.sched.Clock(),
	}
}

// newProcessor builds the processing object described by pc
func newProcessor(pc config.ProcessorConfig, deps base.Deps) (processingObject, error) {
	switch strings.ToLower(pc.Kind) {
	case pool.KindFilter:
		return filter.New(pc, deps)
	case pool.KindMath:
		return math.New(pc, deps)
	case pool.KindEditor:
		return editor.New(pc, deps)
	default:
		return nil, fmt.Errorf("unknown processor kind %q", pc.Kind)
	}
}

// wireProcessors registers every processor, then hooks each one onto its
// source. Registering first lets processors feed each other.
func (a *app) wireProcessors() error {
	deps := a.processorDeps()
	built := make([]processingObject, 0, len(a.cfg.Processors))
	for _, pc := range a.cfg.Processors {
		proc, err := newProcessor(pc, deps)
		if err != nil {
			return fmt.Errorf("processor %s: %w", pc.ID, err)
		}
		if err := a.pool.AddProcessor(pc.Kind, proc); err != nil {
			return fmt.Errorf("processor %s: %w", pc.ID, err)
		}
		built = append(built, proc)
	}

	for i, proc := range built {
		source := a.cfg.Processors[i].Source
		if source == "" {
			continue
		}
		if !a.pool.AddForwarding(source, proc) {
			a.logger.Warn("Processor source not found", "processor", proc.ID(), "source", source)
		}
	}
	return nil
}

// wireForwards builds every sink and registers it on its source
func (a *app) wireForwards(ctx context.Context) error {
	var errs error
	for _, fc := range a.cfg.Forwards {
		w, err := a.buildSink(ctx, fc.Sink)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("forward %s: %w", fc.Source, err))
			continue
		}
		if !a.pool.AddForwarding(fc.Source, w) {
			errs = multierr.Append(errs, fmt.Errorf("forward %s: no such source", fc.Source))
		}
	}
	return errs
}

func (a *app) sinkDeps() output.Deps {
	return output.Deps{
		Logger:   a.logger,
		Registry: a.metrics,
		Clock:    a.sched.Clock(),
	}
}

func (a *app) buildSink(ctx context.Context, sc config.SinkConfig) (stream.Writable, error) {
	var (
		sink output.Sink
		err  error
	)
	switch strings.ToLower(sc.Type) {
	case file.Type:
		sink, err = file.New(sc, a.sinkDeps())
	case sqlite.Type:
		sink, err = sqlite.New(ctx, sc, a.sinkDeps())
	case natsout.Type:
		var client *natsclient.Client
		if client, err = a.natsClient(ctx, sc.URL); err == nil {
			sink, err = natsout.New(sc, client, a.sinkDeps())
		}
	case sinkStream:
		s, ok := a.pool.Stream(sc.ID)
		if !ok {
			return nil, fmt.Errorf("unknown stream %q", sc.ID)
		}
		w, ok := s.(stream.Writable)
		if !ok {
			return nil, fmt.Errorf("stream %q is not writable", sc.ID)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
	if err != nil {
		return nil, err
	}
	a.sinks = append(a.sinks, sink)
	return sink, nil
}

// natsClient returns the shared connection for url, connecting on first use
func (a *app) natsClient(ctx context.Context, url string) (*natsclient.Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if c, ok := a.clients[url]; ok {
		return c, nil
	}

	key := health.IssueKey("nats", issueNATSDown)
	c, err := natsclient.NewClient(url,
		natsclient.WithLogger(a.logger),
		natsclient.WithName(appName),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			a.issues.SetIssue(key, !healthy)
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.clients[url] = c
	return c, nil
}
