// Package app wires the engine together: storage, diffing, detection,
// scheduling, the event bus and its subscribers, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/raysh454/spyglass/internal/alerts"
	"github.com/raysh454/spyglass/internal/classify"
	"github.com/raysh454/spyglass/internal/config"
	"github.com/raysh454/spyglass/internal/detector"
	"github.com/raysh454/spyglass/internal/enricher"
	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/htmldiff"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/renderer"
	"github.com/raysh454/spyglass/internal/scheduler"
	"github.com/raysh454/spyglass/internal/section"
	"github.com/raysh454/spyglass/internal/server"
	"github.com/raysh454/spyglass/internal/store"
)

// Option adjusts Core construction.
type Option func(*options)

type options struct {
	renderer renderer.Renderer
}

// WithRenderer injects a renderer instead of building one from the config.
// Used by tests and embedded setups.
func WithRenderer(r renderer.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// Core owns every long-lived component and their shutdown order.
type Core struct {
	cfg    *config.Config
	logger logging.Logger

	store    *store.Store
	bus      *eventbus.Bus
	detector *detector.Detector
	renderer renderer.Renderer
	sched    *scheduler.Scheduler
	server   *server.Server

	alertWriter *alerts.Writer
	alertSub    *eventbus.Subscription

	// enrichSub is nil when no enricher endpoint is configured.
	enrichment *enricher.Subscriber
	enrichSub  *eventbus.Subscription

	httpSrv   *http.Server
	stopSched context.CancelFunc
	schedWG   sync.WaitGroup
	subWG     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCore builds every component. Nothing runs until Start.
func NewCore(cfg *config.Config, logger logging.Logger, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.renderer == nil {
		// Only validate renderer settings when we have to build one.
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logging.NewStdoutLogger(logging.ParseLevel(cfg.LogLevel))
	}

	st, err := store.New(store.Config{
		Path:            cfg.DBPath,
		FullPeriod:      cfg.FullPeriod,
		FullIfDiffRatio: cfg.FullIfDiffRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(cfg.EventBufferPerSubscriber, logger)
	differ := htmldiff.New(cfg.HTMLSizeCap, logger)
	locator := section.NewLocator(logger)
	classifier := classify.New(logger)

	det, err := detector.New(st, differ, locator, classifier, bus,
		detector.Config{NoChangeEpsilon: cfg.NoChangeEpsilon}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build detector: %w", err)
	}

	rnd := o.renderer
	if rnd == nil {
		rnd, err = renderer.New(renderer.Config{
			Backend:  cfg.RendererBackend,
			Endpoint: cfg.RendererEndpoint,
			Token:    cfg.RendererToken,
		}, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("build renderer: %w", err)
		}
	}

	sched, err := scheduler.New(st, rnd, det, scheduler.Config{
		WorkerCount:   cfg.WorkerCount,
		Tick:          cfg.SchedulerTick,
		JobTimeout:    cfg.RenderTimeout,
		RenderRetries: cfg.RenderRetries,
		BackoffBase:   cfg.RenderBackoffBase,
		BackoffCap:    cfg.RenderBackoffCap,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	writer, err := alerts.NewWriter(st, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build alert writer: %w", err)
	}

	c := &Core{
		cfg:         cfg,
		logger:      logging.OrNop(logger).With(logging.F("component", "app")),
		store:       st,
		bus:         bus,
		detector:    det,
		renderer:    rnd,
		sched:       sched,
		alertWriter: writer,
		alertSub:    bus.Subscribe("alerts"),
	}

	if cfg.EnricherEndpoint != "" {
		client, err := enricher.NewClient(cfg.EnricherEndpoint, cfg.EnricherToken, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("build enricher: %w", err)
		}
		c.enrichment = enricher.NewSubscriber(client, st, logger)
		c.enrichSub = bus.Subscribe("enricher")
	}

	srv, err := server.NewServer(server.Config{
		ListenAddr:       cfg.ListenAddr,
		MinCheckInterval: cfg.MinCheckInterval,
		MaxCheckInterval: cfg.MaxCheckInterval,
	}, st, sched, bus, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build server: %w", err)
	}
	c.server = srv

	return c, nil
}

// Start launches the scheduler, the bus subscribers and the HTTP listener.
// It does not block.
func (c *Core) Start() {
	c.startOnce.Do(func() {
		schedCtx, cancel := context.WithCancel(context.Background())
		c.stopSched = cancel

		c.schedWG.Add(1)
		go func() {
			defer c.schedWG.Done()
			c.sched.Run(schedCtx)
		}()

		// Subscriber loops end when the bus closes, not on the scheduler
		// context, so queued events drain during shutdown.
		c.subWG.Add(1)
		go func() {
			defer c.subWG.Done()
			c.alertWriter.Run(context.Background(), c.alertSub)
		}()
		if c.enrichment != nil {
			c.subWG.Add(1)
			go func() {
				defer c.subWG.Done()
				c.enrichment.Run(context.Background(), c.enrichSub)
			}()
		}

		c.httpSrv = c.server.HTTPServer()
		go func() {
			c.logger.Info("http server listening", logging.F("addr", c.cfg.ListenAddr))
			if err := c.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("http server failed", logging.Err(err))
			}
		}()
	})
}

// Shutdown stops everything in dependency order: no new captures, drain the
// bus into its subscribers, stop serving, then close storage.
func (c *Core) Shutdown(ctx context.Context) error {
	var firstErr error
	c.stopOnce.Do(func() {
		if c.stopSched != nil {
			c.stopSched()
			c.schedWG.Wait()
		}

		c.bus.Close()
		c.subWG.Wait()

		if c.httpSrv != nil {
			if err := c.httpSrv.Shutdown(ctx); err != nil {
				firstErr = err
			}
		}
		c.server.Close()

		if err := c.renderer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.logger.Info("shutdown complete")
	})
	return firstErr
}

// Store exposes the persistence layer for tests and tooling.
func (c *Core) Store() *store.Store { return c.store }

// Scheduler exposes the capture scheduler.
func (c *Core) Scheduler() *scheduler.Scheduler { return c.sched }

// Bus exposes the event bus.
func (c *Core) Bus() *eventbus.Bus { return c.bus }

// Server exposes the HTTP surface, mainly so tests can drive it through
// httptest without a real listener.
func (c *Core) Server() *server.Server { return c.server }
