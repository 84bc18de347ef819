// Package renderer turns a target URL into rendered HTML. Backends are
// registered by name through a factory; the service default is the remote
// http render service, with a local headless-Chrome backend for deployments
// without one.
package renderer

import (
	"context"
	"errors"
)

// ErrUnavailable marks a rendering failure the caller may retry. After the
// retry budget is exhausted the scheduler records the failure and waits for
// the next tick.
var ErrUnavailable = errors.New("renderer unavailable")

// Request describes one page render.
type Request struct {
	URL string `json:"url"`

	// WaitMS is how long the backend lets the page settle after load.
	WaitMS int `json:"wait_ms,omitempty"`

	// Viewport is the emulated window size; zero values use backend defaults.
	Viewport Viewport `json:"viewport,omitempty"`

	// RemoveScripts asks the backend to strip <script> elements before
	// returning, so script churn does not pollute diffs.
	RemoveScripts bool `json:"remove_scripts,omitempty"`
}

// Viewport is the emulated browser window.
type Viewport struct {
	Width  int `json:"w,omitempty"`
	Height int `json:"h,omitempty"`
}

// Result is the rendered document.
type Result struct {
	HTML  string `json:"html"`
	Title string `json:"title,omitempty"`
}

// Renderer renders a URL to HTML. Implementations honor ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Result, error)
	Close() error
}
