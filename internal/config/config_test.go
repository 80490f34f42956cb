// This file contains unit tests for configuration loading and validation.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  rtmp_port: 19350
rtmp:
  play_chunk_size: 4096
  tick_interval: 50ms
media:
  root: /srv/media
  buffer_time: 0s
registry:
  publisher_ttl: 2h
logging:
  level: debug
relays:
  - app: live
    name: mirror
    mode: pull
    remote_url: rtmp://origin/live/cam
    reconnect: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Server.RTMPPort != 19350 || cfg.Server.HTTPPort != 8081 {
		t.Errorf("Expected rtmp_port 19350 and default http_port, got %+v", cfg.Server)
	}
	if cfg.RTMP.PlayChunkSize != 4096 || cfg.RTMP.TickInterval != 50*time.Millisecond {
		t.Errorf("RTMP overrides not applied: %+v", cfg.RTMP)
	}
	if cfg.RTMP.WindowAckSize != 128*1024 {
		t.Errorf("Expected default window_ack_size, got %d", cfg.RTMP.WindowAckSize)
	}
	if cfg.Media.Root != "/srv/media" || cfg.Media.BufferTime != 0 {
		t.Errorf("Media overrides not applied: %+v", cfg.Media)
	}
	if cfg.Registry.PublisherTTL != 2*time.Hour || cfg.Registry.SweepInterval != time.Minute {
		t.Errorf("Registry overrides not applied: %+v", cfg.Registry)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.Logging.SlogLevel())
	}
	if len(cfg.Relays) != 1 || cfg.Relays[0].Mode != "pull" || !cfg.Relays[0].Reconnect {
		t.Errorf("Relays not decoded: %+v", cfg.Relays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected the parsed config to validate, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse of empty input failed: %v", err)
	}
	if cfg.Server.RTMPPort != 1935 {
		t.Errorf("Expected default rtmp_port, got %d", cfg.Server.RTMPPort)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("server:\n  rtmp_prot: 1935\n")); err == nil {
		t.Error("Expected an error for an unknown field")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amsd.yaml")
	os.WriteFile(path, []byte("logging:\n  level: warn\n  no_color: true\n"), 0o644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Logging.NoColor || cfg.Logging.SlogLevel() != slog.LevelWarn {
		t.Errorf("Logging not loaded: %+v", cfg.Logging)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port range", func(c *Config) { c.Server.RTMPPort = 70000 }, "rtmp_port"},
		{"port clash", func(c *Config) { c.Server.HTTPPort = c.Server.RTMPPort }, "http_port and rtmp_port"},
		{"chunk size", func(c *Config) { c.RTMP.PlayChunkSize = 64 }, "play_chunk_size"},
		{"ack interval", func(c *Config) { c.RTMP.AckInterval = 0 }, "ack_interval"},
		{"poll interval", func(c *Config) { c.RTMP.PollInterval = 0 }, "poll_interval"},
		{"media root", func(c *Config) { c.Media.Root = "" }, "root"},
		{"buffer time", func(c *Config) { c.Media.BufferTime = -time.Second }, "buffer_time"},
		{"ttl", func(c *Config) { c.Registry.PublisherTTL = 0 }, "publisher_ttl"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "level"},
		{"relay mode", func(c *Config) {
			c.Relays = []RelayConfig{{App: "live", Name: "a", Mode: "mirror", RemoteURL: "rtmp://h/live/a"}}
		}, "mode"},
		{"relay url", func(c *Config) {
			c.Relays = []RelayConfig{{App: "live", Name: "a", Mode: "pull", RemoteURL: "http://h/live/a"}}
		}, "remote_url"},
		{"relay duplicate", func(c *Config) {
			r := RelayConfig{App: "live", Name: "a", Mode: "push", RemoteURL: "rtmp://h/live/a"}
			c.Relays = []RelayConfig{r, r}
		}, "duplicate"},
	}
	for _, c := range cases {
		cfg := Default()
		c.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), c.field) {
			t.Errorf("%s: expected an error mentioning %q, got %v", c.name, c.field, err)
		}
	}
}
