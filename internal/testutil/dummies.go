// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/renderer"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ─── Renderer ──────────────────────────────────────────────────────────

// DummyRenderer implements renderer.Renderer from an in-memory page map.
// By default it returns "<html><body>ok:<url></body></html>" with no error.
// Set Pages[url] for canned documents and FailURLs[url] = true to force
// renderer.ErrUnavailable for a specific URL. FailuresLeft, when positive,
// fails that many calls before succeeding (for retry tests).
type DummyRenderer struct {
	ResponseDelay time.Duration
	Pages         map[string]string
	FailURLs      map[string]bool
	FailuresLeft  int

	mu       sync.Mutex
	Requests []renderer.Request
}

func (d *DummyRenderer) Render(ctx context.Context, req renderer.Request) (*renderer.Result, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	failing := d.FailURLs != nil && d.FailURLs[req.URL]
	if d.FailuresLeft > 0 {
		d.FailuresLeft--
		failing = true
	}
	page, havePage := "", false
	if d.Pages != nil {
		page, havePage = d.Pages[req.URL]
	}
	d.mu.Unlock()

	if failing {
		return nil, renderer.ErrUnavailable
	}
	if !havePage {
		page = "<html><body>ok:" + req.URL + "</body></html>"
	}
	return &renderer.Result{HTML: page}, nil
}

func (d *DummyRenderer) Close() error { return nil }

// SetPage swaps the canned document for a URL, for simulating site changes
// mid-test.
func (d *DummyRenderer) SetPage(url, html string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Pages == nil {
		d.Pages = map[string]string{}
	}
	d.Pages[url] = html
}

// RequestCount returns how many renders were asked for.
func (d *DummyRenderer) RequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Requests)
}

// ─── Event bus ─────────────────────────────────────────────────────────

// BusRecorder drains an eventbus subscription into memory.
type BusRecorder struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	done   chan struct{}
}

// NewBusRecorder starts recording the subscription in the background.
func NewBusRecorder(sub *eventbus.Subscription) *BusRecorder {
	r := &BusRecorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for ev := range sub.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

// Events returns a copy of everything recorded so far.
func (r *BusRecorder) Events() []model.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChangeEvent(nil), r.events...)
}

// Len returns the number of recorded events.
func (r *BusRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Wait blocks until the subscription closes or the timeout passes.
func (r *BusRecorder) Wait(timeout time.Duration) {
	select {
	case <-r.done:
	case <-time.After(timeout):
	}
}

// WaitFor polls until at least n events arrived or the timeout passes.
func (r *BusRecorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Len() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return r.Len() >= n
}
