package renderer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/spyglass/internal/logging"
)

// networkIdleAfter is how long the network must stay quiet before a page
// counts as settled.
const networkIdleAfter = 2 * time.Second

// ChromeDPRenderer drives a local headless Chrome. One allocator is shared;
// each Render gets its own tab.
type ChromeDPRenderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      logging.Logger
}

// NewChromeDPRenderer starts the shared browser allocator.
func NewChromeDPRenderer(logger logging.Logger) (*ChromeDPRenderer, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(),
		chromedp.DefaultExecAllocatorOptions[:]...)
	return &ChromeDPRenderer{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		logger:      logging.OrNop(logger).With(logging.F("backend", "chromedp")),
	}, nil
}

// waitNetworkIdle closes the returned channel once no network request has
// been in flight for idleAfter.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) <-chan struct{} {
	idle := make(chan struct{})
	var activeReqs int32
	var timerMu sync.Mutex
	var timer *time.Timer
	var once sync.Once

	startTimer := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) == 0 {
				once.Do(func() { close(idle) })
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				startTimer()
			}
		}
	})

	// Pages with zero subresources never fire loading events.
	startTimer()
	return idle
}

// Render navigates a fresh tab to the URL, waits for the network to go idle,
// and returns the serialized DOM.
func (c *ChromeDPRenderer) Render(ctx context.Context, req Request) (*Result, error) {
	tabCtx, cancel := chromedp.NewContext(c.allocCtx)
	defer cancel()

	// Tie the tab's lifetime to the caller's deadline.
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}

	idle := waitNetworkIdle(tabCtx, networkIdleAfter)

	tasks := chromedp.Tasks{network.Enable()}
	if req.Viewport.Width > 0 && req.Viewport.Height > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(req.Viewport.Width), int64(req.Viewport.Height)))
	}
	tasks = append(tasks, chromedp.Navigate(req.URL))

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %v", ErrUnavailable, req.URL, err)
	}

	select {
	case <-idle:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case <-tabCtx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, tabCtx.Err())
	}

	if req.WaitMS > 0 {
		select {
		case <-time.After(time.Duration(req.WaitMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
	}

	finish := chromedp.Tasks{}
	if req.RemoveScripts {
		finish = append(finish, chromedp.Evaluate(
			`document.querySelectorAll("script").forEach(s => s.remove())`, nil))
	}

	var html, title string
	finish = append(finish,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html))
	if err := chromedp.Run(tabCtx, finish); err != nil {
		return nil, fmt.Errorf("%w: read document %s: %v", ErrUnavailable, req.URL, err)
	}

	c.logger.Debug("page rendered", logging.F("url", req.URL), logging.F("bytes", len(html)))
	return &Result{HTML: html, Title: title}, nil
}

// Close tears down the shared allocator and every browser it spawned.
func (c *ChromeDPRenderer) Close() error {
	c.allocCancel()
	return nil
}

var _ Renderer = (*ChromeDPRenderer)(nil)
