// This file validates configuration values and returns descriptive errors.

package config

import (
	"fmt"
	"strings"
)

// Chunk sizes accepted for play_chunk_size.
const (
	minChunkSize = 128
	maxChunkSize = 0xFFFFFF
)

// Validate checks that all configuration values are within acceptable ranges.
// Returns an error describing the first validation failure found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.RTMP.Validate(); err != nil {
		return fmt.Errorf("rtmp config: %w", err)
	}
	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	seen := make(map[string]bool)
	for i := range c.Relays {
		r := &c.Relays[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("relay %d: %w", i, err)
		}
		id := r.Mode + " " + r.App + "/" + r.Name
		if seen[id] {
			return fmt.Errorf("relay %d: duplicate %s relay for %s/%s", i, r.Mode, r.App, r.Name)
		}
		seen[id] = true
	}
	return nil
}

// Validate checks one relay entry.
func (r *RelayConfig) Validate() error {
	if r.App == "" || r.Name == "" {
		return fmt.Errorf("app and name are required")
	}
	if r.Mode != "pull" && r.Mode != "push" {
		return fmt.Errorf("mode must be pull or push, got %q", r.Mode)
	}
	if !strings.HasPrefix(r.RemoteURL, "rtmp://") {
		return fmt.Errorf("remote_url must be an rtmp:// url, got %q", r.RemoteURL)
	}
	return nil
}

// Validate checks server configuration values.
func (s *ServerConfig) Validate() error {
	if s.HealthPort <= 0 || s.HealthPort > 65535 {
		return fmt.Errorf("health_port must be between 1 and 65535, got %d", s.HealthPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", s.HTTPPort)
	}
	if s.RTMPPort <= 0 || s.RTMPPort > 65535 {
		return fmt.Errorf("rtmp_port must be between 1 and 65535, got %d", s.RTMPPort)
	}
	if s.HealthPort == s.HTTPPort {
		return fmt.Errorf("health_port and http_port must be different, both are %d", s.HealthPort)
	}
	if s.HealthPort == s.RTMPPort {
		return fmt.Errorf("health_port and rtmp_port must be different, both are %d", s.HealthPort)
	}
	if s.HTTPPort == s.RTMPPort {
		return fmt.Errorf("http_port and rtmp_port must be different, both are %d", s.HTTPPort)
	}
	return nil
}

// Validate checks RTMP protocol settings.
func (r *RTMPConfig) Validate() error {
	if r.PlayChunkSize < minChunkSize || r.PlayChunkSize > maxChunkSize {
		return fmt.Errorf("play_chunk_size must be between %d and %d, got %d", minChunkSize, maxChunkSize, r.PlayChunkSize)
	}
	if r.WindowAckSize == 0 {
		return fmt.Errorf("window_ack_size must be positive")
	}
	if r.PeerBandwidth == 0 {
		return fmt.Errorf("peer_bandwidth must be positive")
	}
	if r.AckInterval == 0 {
		return fmt.Errorf("ack_interval must be positive")
	}
	if r.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", r.PollInterval)
	}
	if r.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", r.TickInterval)
	}
	if r.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %s", r.WriteTimeout)
	}
	return nil
}

// Validate checks media settings.
func (m *MediaConfig) Validate() error {
	if m.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if m.BufferTime < 0 {
		return fmt.Errorf("buffer_time must not be negative, got %s", m.BufferTime)
	}
	return nil
}

// Validate checks registry settings.
func (r *RegistryConfig) Validate() error {
	if r.PublisherTTL <= 0 {
		return fmt.Errorf("publisher_ttl must be positive, got %s", r.PublisherTTL)
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", r.SweepInterval)
	}
	return nil
}

// Validate checks the log level name.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
}
