package server

// Config carries the HTTP surface settings.
type Config struct {
	// ListenAddr is the HTTP listen address (":8080").
	ListenAddr string

	// MinCheckInterval / MaxCheckInterval clamp user-supplied intervals
	// (seconds).
	MinCheckInterval int64
	MaxCheckInterval int64
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MinCheckInterval <= 0 {
		c.MinCheckInterval = 300
	}
	if c.MaxCheckInterval <= 0 {
		c.MaxCheckInterval = 86400
	}
	if c.MaxCheckInterval < c.MinCheckInterval {
		c.MaxCheckInterval = c.MinCheckInterval
	}
}

// clampInterval snaps a requested check interval into the allowed range.
func (c *Config) clampInterval(seconds int64) int64 {
	if seconds < c.MinCheckInterval {
		return c.MinCheckInterval
	}
	if seconds > c.MaxCheckInterval {
		return c.MaxCheckInterval
	}
	return seconds
}
