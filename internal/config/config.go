// Package config holds the runtime configuration for the monitoring engine.
// Every knob has a default; zero values are normalized rather than rejected
// so a partially filled Config behaves sensibly.
package config

import (
	"fmt"
	"runtime"
	"time"
)

const (
	// DefaultFullPeriod makes every K-th snapshot a full one.
	DefaultFullPeriod = 5

	// DefaultFullIfDiffRatio forces a full snapshot once accumulated diffs
	// since the last full exceed this fraction of the new document size.
	DefaultFullIfDiffRatio = 0.8

	// DefaultMinCheckInterval / DefaultMaxCheckInterval bound per-target
	// check intervals, in seconds.
	DefaultMinCheckInterval int64 = 300
	DefaultMaxCheckInterval int64 = 86400

	// DefaultRenderTimeout bounds one whole capture job.
	DefaultRenderTimeout = 60 * time.Second

	// DefaultRenderRetries / backoff shape the renderer retry schedule.
	DefaultRenderRetries            = 5
	DefaultRenderBackoffBase        = 2 * time.Second
	DefaultRenderBackoffCap         = 5 * time.Minute
	DefaultEventBufferPerSubscriber = 1024

	// DefaultHTMLSizeCap truncates larger documents before diffing (bytes).
	DefaultHTMLSizeCap = 4 << 20

	// DefaultNoChangeEpsilon is the change-percentage floor below which a
	// capture with zero records counts as no change.
	DefaultNoChangeEpsilon = 0.01

	// DefaultSchedulerTick is how often the scheduler scans for due targets.
	DefaultSchedulerTick = 15 * time.Second
)

// Config aggregates the engine knobs plus deployment settings. Construct with
// DefaultConfig and override, or fill a zero value and call Normalize.
type Config struct {
	// WorkerCount is the capture worker pool size. 0 means 2 x CPU.
	WorkerCount int

	// FullPeriod K: snapshots with version_number = 1 (mod K) are full.
	FullPeriod int

	// FullIfDiffRatio forces a full snapshot when cumulative diff bytes since
	// the last full exceed this fraction of the new HTML size.
	FullIfDiffRatio float64

	// MinCheckInterval / MaxCheckInterval clamp target intervals (seconds).
	MinCheckInterval int64
	MaxCheckInterval int64

	// RenderTimeout bounds a capture job end to end.
	RenderTimeout time.Duration

	// RenderRetries / RenderBackoffBase / RenderBackoffCap shape renderer
	// retry behavior.
	RenderRetries     int
	RenderBackoffBase time.Duration
	RenderBackoffCap  time.Duration

	// EventBufferPerSubscriber bounds each subscriber's undelivered queue.
	EventBufferPerSubscriber int

	// HTMLSizeCap truncates larger captured documents (bytes).
	HTMLSizeCap int

	// NoChangeEpsilon: captures with no records and a change percentage below
	// this are treated as no change.
	NoChangeEpsilon float64

	// SchedulerTick is the due-target scan period.
	SchedulerTick time.Duration

	// DBPath is the SQLite database file.
	DBPath string

	// ListenAddr is the REST listen address (":8080").
	ListenAddr string

	// LogLevel is debug|info|warn|error.
	LogLevel string

	// RendererBackend selects the renderer ("http" or "chromedp").
	// RendererEndpoint/RendererToken configure the http backend.
	RendererBackend  string
	RendererEndpoint string
	RendererToken    string

	// EnricherEndpoint/EnricherToken configure the enrichment client.
	// Empty endpoint disables enrichment.
	EnricherEndpoint string
	EnricherToken    string
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults and repairs out-of-range knobs.
func (c *Config) Normalize() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 2 * runtime.NumCPU()
	}
	if c.FullPeriod <= 0 {
		c.FullPeriod = DefaultFullPeriod
	}
	if c.FullIfDiffRatio <= 0 || c.FullIfDiffRatio > 1 {
		c.FullIfDiffRatio = DefaultFullIfDiffRatio
	}
	if c.MinCheckInterval <= 0 {
		c.MinCheckInterval = DefaultMinCheckInterval
	}
	if c.MaxCheckInterval <= 0 {
		c.MaxCheckInterval = DefaultMaxCheckInterval
	}
	if c.MaxCheckInterval < c.MinCheckInterval {
		c.MaxCheckInterval = c.MinCheckInterval
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.RenderRetries <= 0 {
		c.RenderRetries = DefaultRenderRetries
	}
	if c.RenderBackoffBase <= 0 {
		c.RenderBackoffBase = DefaultRenderBackoffBase
	}
	if c.RenderBackoffCap <= 0 {
		c.RenderBackoffCap = DefaultRenderBackoffCap
	}
	if c.EventBufferPerSubscriber <= 0 {
		c.EventBufferPerSubscriber = DefaultEventBufferPerSubscriber
	}
	if c.HTMLSizeCap <= 0 {
		c.HTMLSizeCap = DefaultHTMLSizeCap
	}
	if c.NoChangeEpsilon <= 0 {
		c.NoChangeEpsilon = DefaultNoChangeEpsilon
	}
	if c.SchedulerTick <= 0 {
		c.SchedulerTick = DefaultSchedulerTick
	}
	if c.DBPath == "" {
		c.DBPath = "spyglass.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RendererBackend == "" {
		c.RendererBackend = "http"
	}
}

// Validate reports configuration that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.RendererBackend == "http" && c.RendererEndpoint == "" {
		return fmt.Errorf("renderer endpoint is required for the http backend")
	}
	return nil
}

// ClampInterval snaps a requested check interval (seconds) into the allowed
// range. Zero or negative requests get the minimum.
func (c *Config) ClampInterval(seconds int64) int64 {
	if seconds < c.MinCheckInterval {
		return c.MinCheckInterval
	}
	if seconds > c.MaxCheckInterval {
		return c.MaxCheckInterval
	}
	return seconds
}
