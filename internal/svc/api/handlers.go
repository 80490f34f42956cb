// This file implements HTTP API handlers.
// All handlers are fast and never block media paths.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"

	"amsd/internal/core/bus"
	"amsd/internal/svc/relay"
)

// ServerResponse represents the /api/server response.
type ServerResponse struct {
	Version         string   `json:"version"`
	Uptime          int64    `json:"uptime"` // seconds
	GoVersion       string   `json:"go_version"`
	EnabledServices []string `json:"enabled_services"`
	Connections     int      `json:"rtmp_connections"`
	Publishers      int      `json:"publishers"`
}

// StreamsResponse represents the /api/streams response.
type StreamsResponse struct {
	Streams []bus.PublisherStats `json:"streams"`
}

// PauseRequest is the body of POST /api/streams/pause.
type PauseRequest struct {
	App    string `json:"app"`
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}

// RelayResponse represents the /api/relay response.
type RelayResponse struct {
	Tasks []relay.TaskInfo `json:"tasks"`
}

// RelayRestartRequest is the body of POST /api/relay/restart.
type RelayRestartRequest struct {
	App  string `json:"app"`
	Name string `json:"name"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleServer handles GET /api/server.
func (s *Service) handleServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	response := ServerResponse{
		Version:         s.version,
		Uptime:          int64(s.now().Sub(s.startTime).Seconds()),
		GoVersion:       runtime.Version(),
		EnabledServices: s.services,
		Publishers:      s.registry.Count(),
	}
	if response.EnabledServices == nil {
		response.EnabledServices = []string{}
	}
	if s.conns != nil {
		response.Connections = s.conns.Connections()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleStreams handles GET /api/streams.
// Returns one entry per live publisher, ordered by key.
func (s *Service) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pubs := s.registry.List()
	streams := make([]bus.PublisherStats, 0, len(pubs))
	for _, pub := range pubs {
		streams = append(streams, pub.Stats())
	}
	s.writeJSON(w, http.StatusOK, StreamsResponse{Streams: streams})
}

// handlePause handles POST /api/streams/pause.
// Pausing stops fan-out to subscribers; recording continues.
func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.App == "" || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "app and name are required")
		return
	}

	pub := s.registry.Lookup(bus.NewStreamKey(req.App, req.Name))
	if pub == nil {
		s.writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	pub.SetPaused(req.Paused)
	s.writeJSON(w, http.StatusOK, pub.Stats())
}

// handleRelay handles GET /api/relay.
// Returns configured relay tasks and their state.
func (s *Service) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tasks := []relay.TaskInfo{}
	if s.relays != nil {
		tasks = append(tasks, s.relays.GetTasks()...)
	}
	s.writeJSON(w, http.StatusOK, RelayResponse{Tasks: tasks})
}

// handleRelayRestart handles POST /api/relay/restart.
// The active remote session is dropped; the task reconnects on its own.
func (s *Service) handleRelayRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RelayRestartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.App == "" || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "app and name are required")
		return
	}
	if s.relays == nil {
		s.writeError(w, http.StatusNotFound, "relay task not found")
		return
	}

	switch err := s.relays.Restart(req.App, req.Name); {
	case errors.Is(err, relay.ErrTaskNotFound):
		s.writeError(w, http.StatusNotFound, "relay task not found")
	case errors.Is(err, relay.ErrTaskNotRunning):
		s.writeError(w, http.StatusConflict, "relay task has no active session")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "restart initiated"})
	}
}

// writeJSON writes a JSON response.
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
