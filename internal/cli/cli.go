// Package cli turns command-line flags into an engine configuration.
package cli

import (
	"flag"
	"io"

	"github.com/raysh454/spyglass/internal/config"
)

// ParseArgs parses a slice of args into a Config. Deterministic and free of
// os.Args so tests can pass arbitrary slices; unset flags fall through to the
// config defaults.
func ParseArgs(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("spyglass", flag.ContinueOnError)
	var (
		dbPath           = fs.String("db", "spyglass.db", "SQLite database file")
		listenAddr       = fs.String("listen", ":8080", "HTTP listen address")
		logLevel         = fs.String("log-level", "info", "Log level: debug|info|warn|error")
		workers          = fs.Int("workers", 0, "Capture worker count (0 = 2 x CPU)")
		tick             = fs.Duration("tick", config.DefaultSchedulerTick, "Due-target scan period")
		rendererBackend  = fs.String("renderer", "http", "Renderer backend: http|chromedp")
		rendererEndpoint = fs.String("renderer-endpoint", "", "Render service URL (http backend)")
		rendererToken    = fs.String("renderer-token", "", "Render service bearer token")
		enricherEndpoint = fs.String("enricher-endpoint", "", "Enrichment service URL (empty disables enrichment)")
		enricherToken    = fs.String("enricher-token", "", "Enrichment service bearer token")
	)

	// Keep flag errors quiet on stderr; callers report them.
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	cfg.DBPath = *dbPath
	cfg.ListenAddr = *listenAddr
	cfg.LogLevel = *logLevel
	cfg.WorkerCount = *workers
	if *tick > 0 {
		cfg.SchedulerTick = *tick
	}
	cfg.RendererBackend = *rendererBackend
	cfg.RendererEndpoint = *rendererEndpoint
	cfg.RendererToken = *rendererToken
	cfg.EnricherEndpoint = *enricherEndpoint
	cfg.EnricherToken = *enricherToken
	cfg.Normalize()
	return cfg, nil
}
