// Package scheduler turns per-target check intervals into capture jobs. A
// single scan loop finds due targets and feeds a bounded worker pool; workers
// render the page (with retry and exponential backoff) and hand the document
// to the detector. At most one capture per target is ever in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raysh454/spyglass/internal/detector"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/renderer"
	"github.com/raysh454/spyglass/internal/store"
)

// Config carries the scheduler knobs.
type Config struct {
	// WorkerCount is the capture worker pool size. 0 means 2 x CPU.
	WorkerCount int

	// Tick is the due-target scan period.
	Tick time.Duration

	// JobTimeout bounds one capture job end to end.
	JobTimeout time.Duration

	// RenderRetries, BackoffBase and BackoffCap shape the renderer retry
	// schedule.
	RenderRetries int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

func (c *Config) defaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 2 * runtime.NumCPU()
	}
	if c.Tick <= 0 {
		c.Tick = 15 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 60 * time.Second
	}
	if c.RenderRetries <= 0 {
		c.RenderRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
}

// Stats is a point-in-time view of scheduler counters.
type Stats struct {
	Scheduled      int64 `json:"scheduled"`
	Completed      int64 `json:"completed"`
	NoChange       int64 `json:"no_change"`
	SkippedBusy    int64 `json:"skipped_busy"`
	RenderFailures int64 `json:"render_failures"`
	CaptureErrors  int64 `json:"capture_errors"`
}

// Scheduler drives periodic captures.
type Scheduler struct {
	store    *store.Store
	renderer renderer.Renderer
	detector *detector.Detector
	cfg      Config
	logger   logging.Logger

	jobs     chan model.Target
	inFlight sync.Map // target id -> struct{}

	scheduled      atomic.Int64
	completed      atomic.Int64
	noChange       atomic.Int64
	skippedBusy    atomic.Int64
	renderFailures atomic.Int64
	captureErrors  atomic.Int64
}

// New wires a Scheduler. All three collaborators are required.
func New(st *store.Store, rnd renderer.Renderer, det *detector.Detector, cfg Config, logger logging.Logger) (*Scheduler, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if rnd == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if det == nil {
		return nil, fmt.Errorf("detector is required")
	}
	cfg.defaults()
	return &Scheduler{
		store:    st,
		renderer: rnd,
		detector: det,
		cfg:      cfg,
		logger:   logging.OrNop(logger).With(logging.F("component", "scheduler")),
		jobs:     make(chan model.Target, cfg.WorkerCount*2),
	}, nil
}

// Run starts the workers and the scan loop and blocks until ctx is cancelled.
// The first scan happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range s.jobs {
				s.runJob(ctx, target)
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.scanDue(ctx)
	for {
		select {
		case <-ctx.Done():
			close(s.jobs)
			wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.scanDue(ctx)
		}
	}
}

// scanDue submits a job for every due target that is not already in flight.
func (s *Scheduler) scanDue(ctx context.Context) {
	due, err := s.store.ListDueTargets(ctx, time.Now().Unix())
	if err != nil {
		s.logger.Error("failed to list due targets", logging.Err(err))
		return
	}

	for _, target := range due {
		if _, busy := s.inFlight.LoadOrStore(target.ID, struct{}{}); busy {
			s.skippedBusy.Add(1)
			continue
		}
		select {
		case s.jobs <- target:
			s.scheduled.Add(1)
		case <-ctx.Done():
			s.inFlight.Delete(target.ID)
			return
		}
	}
	if len(due) > 0 {
		s.logger.Debug("due scan complete", logging.F("due", len(due)))
	}
}

// runJob renders and captures one scheduled target.
func (s *Scheduler) runJob(ctx context.Context, target model.Target) {
	defer s.inFlight.Delete(target.ID)

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	html, err := s.renderWithRetry(jobCtx, target.URL)
	if err != nil {
		s.renderFailures.Add(1)
		s.logger.Warn("render failed after retries",
			logging.F("target_id", target.ID),
			logging.F("url", target.URL),
			logging.Err(err))
		// Advance last_checked_at so the next normal tick is honored.
		if markErr := s.store.MarkChecked(context.WithoutCancel(ctx), target.ID, time.Now().Unix()); markErr != nil {
			s.logger.Error("failed to record render failure", logging.Err(markErr))
		}
		return
	}

	res, err := s.detector.Capture(jobCtx, target.ID, html, model.SourceScheduled)
	if err != nil {
		if errors.Is(err, detector.ErrTargetLocked) {
			s.skippedBusy.Add(1)
			return
		}
		s.captureErrors.Add(1)
		// last_checked_at was not advanced; the next tick retries.
		s.logger.Error("capture failed",
			logging.F("target_id", target.ID), logging.Err(err))
		return
	}

	s.completed.Add(1)
	if res.NoChange {
		s.noChange.Add(1)
	}
}

// renderWithRetry calls the renderer with exponential backoff. Only renderer
// unavailability is retried; everything else fails straight through.
func (s *Scheduler) renderWithRetry(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.RenderRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoffDelay(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", renderer.ErrUnavailable, ctx.Err())
			}
		}

		res, err := s.renderer.Render(ctx, renderer.Request{URL: url, RemoveScripts: true})
		if err == nil {
			return res.HTML, nil
		}
		lastErr = err
		if !errors.Is(err, renderer.ErrUnavailable) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", renderer.ErrUnavailable, ctx.Err())
		}
		s.logger.Debug("render attempt failed",
			logging.F("url", url),
			logging.F("attempt", attempt+1),
			logging.Err(err))
	}
	return "", fmt.Errorf("render failed after %d attempts: %w", s.cfg.RenderRetries, lastErr)
}

func (s *Scheduler) backoffDelay(attempt int) time.Duration {
	delay := s.cfg.BackoffBase << uint(attempt)
	if delay > s.cfg.BackoffCap || delay <= 0 {
		delay = s.cfg.BackoffCap
	}
	return delay
}

// TriggerManual runs a capture for the target right now, bypassing the
// interval check but not the per-target lock. When html is empty the page is
// rendered first; a caller-supplied document skips the renderer entirely.
func (s *Scheduler) TriggerManual(ctx context.Context, targetID, html string) (*detector.CaptureResult, error) {
	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if html == "" {
		html, err = s.renderWithRetry(jobCtx, target.URL)
		if err != nil {
			s.renderFailures.Add(1)
			return nil, err
		}
	}

	source := model.SourceManual
	if target.TotalVersions == 0 {
		source = model.SourceInitial
	}
	return s.detector.Capture(jobCtx, targetID, html, source)
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled:      s.scheduled.Load(),
		Completed:      s.completed.Load(),
		NoChange:       s.noChange.Load(),
		SkippedBusy:    s.skippedBusy.Load(),
		RenderFailures: s.renderFailures.Load(),
		CaptureErrors:  s.captureErrors.Load(),
	}
}
