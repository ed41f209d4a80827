package api

import "time"

// APIConfig holds the control API server configuration.
type APIConfig struct {
	// Host is the address to bind. The control API manages task
	// registrations, so it should stay on a trusted interface.
	Host string

	// Port is the TCP port for the control API.
	Port int

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration
}

// applyDefaults fills zero values so the server works when constructed
// directly, e.g. in tests. Idempotent with config loading defaults.
func (c *APIConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}
