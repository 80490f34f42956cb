// This file defines the configuration structure for amsd.
// It uses strict YAML decoding and explicit defaults.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
// Every field has an explicit default; absent keys keep it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	RTMP     RTMPConfig     `yaml:"rtmp"`
	Media    MediaConfig    `yaml:"media"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
	Relays   []RelayConfig  `yaml:"relays,omitempty"`
}

// ServerConfig defines listener ports.
type ServerConfig struct {
	HealthPort int `yaml:"health_port"` // Port for the health endpoint
	HTTPPort   int `yaml:"http_port"`   // Port for HTTP-FLV, WS-FLV and the API
	RTMPPort   int `yaml:"rtmp_port"`   // Port for RTMP
}

// RTMPConfig defines per-connection protocol settings.
type RTMPConfig struct {
	PlayChunkSize uint32        `yaml:"play_chunk_size"`
	WindowAckSize uint32        `yaml:"window_ack_size"`
	PeerBandwidth uint32        `yaml:"peer_bandwidth"`
	AckInterval   uint64        `yaml:"ack_interval"` // bytes between upstream Acks
	PollInterval  time.Duration `yaml:"poll_interval"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// MediaConfig defines where recordings and on-demand files live.
type MediaConfig struct {
	Root       string        `yaml:"root"`
	BufferTime time.Duration `yaml:"buffer_time"` // how far file playback runs ahead
}

// RegistryConfig defines publisher registry housekeeping.
type RegistryConfig struct {
	PublisherTTL  time.Duration `yaml:"publisher_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level   string `yaml:"level"` // debug, info, warn or error
	NoColor bool   `yaml:"no_color"`
}

// RelayConfig defines a relay task configuration.
type RelayConfig struct {
	App       string `yaml:"app"`                 // Local application name
	Name      string `yaml:"name"`                // Local stream name
	Mode      string `yaml:"mode"`                // "pull" or "push"
	RemoteURL string `yaml:"remote_url"`          // rtmp://host[:port]/app/stream
	Reconnect bool   `yaml:"reconnect,omitempty"` // Reconnect after a session ends
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HealthPort: 8080,
			HTTPPort:   8081,
			RTMPPort:   1935,
		},
		RTMP: RTMPConfig{
			PlayChunkSize: 1024,
			WindowAckSize: 128 * 1024,
			PeerBandwidth: 128 * 1024,
			AckInterval:   10 * 1024,
			PollInterval:  10 * time.Millisecond,
			TickInterval:  20 * time.Millisecond,
			WriteTimeout:  10 * time.Second,
		},
		Media: MediaConfig{
			Root:       "media",
			BufferTime: 3 * time.Second,
		},
		Registry: RegistryConfig{
			PublisherTTL:  24 * time.Hour,
			SweepInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file.
// Returns an error if the file cannot be read or decoded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps the configured level name to a slog level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
