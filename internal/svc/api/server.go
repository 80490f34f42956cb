// This file provides HTTP API service integration.
// The API exposes server state, publisher control and relay control
// without touching media paths beyond publisher locks.

package api

import (
	"net/http"
	"time"

	"amsd/internal/core/bus"
	"amsd/internal/svc/relay"
)

// ConnectionCounter reports live RTMP connections.
type ConnectionCounter interface {
	Connections() int
}

// RelayManager defines the interface for relay management.
type RelayManager interface {
	GetTasks() []relay.TaskInfo
	Restart(app, name string) error
}

// Service provides HTTP API functionality.
type Service struct {
	registry  *bus.Registry
	conns     ConnectionCounter
	relays    RelayManager
	version   string
	services  []string
	startTime time.Time
	now       func() time.Time
}

// NewService creates a new API service. conns and relays may be nil when
// the RTMP server or relays do not run.
func NewService(registry *bus.Registry, conns ConnectionCounter, relays RelayManager, version string, services []string) *Service {
	return &Service{
		registry:  registry,
		conns:     conns,
		relays:    relays,
		version:   version,
		services:  services,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RegisterRoutes registers API routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server", s.handleServer)
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/streams/pause", s.handlePause)
	mux.HandleFunc("/api/relay", s.handleRelay)
	mux.HandleFunc("/api/relay/restart", s.handleRelayRestart)
}
