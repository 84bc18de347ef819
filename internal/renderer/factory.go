package renderer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/raysh454/spyglass/internal/logging"
)

// Config selects and configures a renderer backend.
type Config struct {
	// Backend is the registered backend name ("http", "chromedp").
	Backend string

	// Endpoint and Token configure the http backend.
	Endpoint string
	Token    string
}

// Constructor builds a Renderer from config.
type Constructor func(cfg Config, logger logging.Logger) (Renderer, error)

var (
	mu       sync.RWMutex
	backends = map[string]Constructor{}
)

// Register adds a named backend constructor. Names are lower-cased; a repeat
// registration overwrites the previous constructor.
func Register(name string, ctor Constructor) {
	if name == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	backends[strings.ToLower(name)] = ctor
}

// New constructs the configured backend. Unregistered names are an error.
func New(cfg Config, logger logging.Logger) (Renderer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = "http"
	}

	mu.RLock()
	ctor, ok := backends[name]
	mu.RUnlock()
	if !ok || ctor == nil {
		return nil, fmt.Errorf("renderer backend %q not registered: available=%v", name, List())
	}

	r, err := ctor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("construct renderer backend %q: %w", name, err)
	}
	if r == nil {
		return nil, errors.New("renderer constructor returned nil")
	}
	return r, nil
}

// List returns the registered backend names.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	return out
}

func init() {
	Register("http", func(cfg Config, logger logging.Logger) (Renderer, error) {
		return NewHTTPRenderer(cfg.Endpoint, cfg.Token, nil, logger)
	})
	Register("chromedp", func(_ Config, logger logging.Logger) (Renderer, error) {
		return NewChromeDPRenderer(logger)
	})
}
