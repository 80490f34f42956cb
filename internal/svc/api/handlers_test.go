// This file contains unit tests for API handlers.
// Tests verify JSON responses and error handling.

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"amsd/internal/core/bus"
	"amsd/internal/svc/relay"
)

type fixedConns int

func (c fixedConns) Connections() int { return int(c) }

func newTestService(t *testing.T) (*Service, *bus.Registry) {
	t.Helper()
	registry := bus.NewRegistry(bus.DefaultPublisherTTL)
	return NewService(registry, fixedConns(3), nil, "test", []string{"rtmp", "http_flv"}), registry
}

func TestHandleServer(t *testing.T) {
	service, _ := newTestService(t)
	service.now = func() time.Time { return service.startTime.Add(90 * time.Second) }

	req := httptest.NewRequest("GET", "/api/server", nil)
	w := httptest.NewRecorder()
	service.handleServer(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var response ServerResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Version != "test" {
		t.Errorf("Expected version test, got %q", response.Version)
	}
	if response.Uptime != 90 {
		t.Errorf("Expected uptime 90, got %d", response.Uptime)
	}
	if response.GoVersion == "" {
		t.Error("GoVersion should not be empty")
	}
	if response.Connections != 3 {
		t.Errorf("Expected 3 connections, got %d", response.Connections)
	}
	if len(response.EnabledServices) != 2 {
		t.Errorf("Expected 2 services, got %v", response.EnabledServices)
	}
}

func TestHandleStreams(t *testing.T) {
	service, registry := newTestService(t)

	w := httptest.NewRecorder()
	service.handleStreams(w, httptest.NewRequest("GET", "/api/streams", nil))
	var response StreamsResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Streams) != 0 {
		t.Errorf("Expected 0 streams, got %d", len(response.Streams))
	}

	pub := bus.NewPublisher(bus.NewStreamKey("live", "test"), bus.PublisherOptions{})
	registry.Register(pub)
	pub.Subscribe(bus.NewQueueSink(4))
	pub.Publish(bus.NewMessage(bus.MessageTypeAudio, 0, []byte{0xAF, 0x01, 0x00}))

	w2 := httptest.NewRecorder()
	service.handleStreams(w2, httptest.NewRequest("GET", "/api/streams", nil))
	if w2.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w2.Code)
	}
	var response2 StreamsResponse
	if err := json.NewDecoder(w2.Body).Decode(&response2); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response2.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(response2.Streams))
	}
	s := response2.Streams[0]
	if s.App != "live" || s.Name != "test" {
		t.Errorf("Stream info incorrect: %+v", s)
	}
	if s.Subscribers != 1 || s.Messages != 1 || s.Bytes != 3 {
		t.Errorf("Expected 1 subscriber, 1 message, 3 bytes, got %+v", s)
	}
}

func TestHandlePause(t *testing.T) {
	service, registry := newTestService(t)
	pub := bus.NewPublisher(bus.NewStreamKey("live", "test"), bus.PublisherOptions{})
	registry.Register(pub)

	cases := []struct {
		method string
		body   string
		want   int
	}{
		{"GET", "", http.StatusMethodNotAllowed},
		{"POST", "not json", http.StatusBadRequest},
		{"POST", `{"app":"live"}`, http.StatusBadRequest},
		{"POST", `{"app":"live","name":"other","paused":true}`, http.StatusNotFound},
		{"POST", `{"app":"live","name":"test","paused":true}`, http.StatusOK},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		service.handlePause(w, httptest.NewRequest(c.method, "/api/streams/pause", strings.NewReader(c.body)))
		if w.Code != c.want {
			t.Errorf("%s %q: expected status %d, got %d", c.method, c.body, c.want, w.Code)
		}
	}
	if !pub.Paused() {
		t.Error("Expected publisher paused")
	}

	w := httptest.NewRecorder()
	service.handlePause(w, httptest.NewRequest("POST", "/api/streams/pause", strings.NewReader(`{"app":"live","name":"test"}`)))
	if pub.Paused() {
		t.Error("Expected publisher resumed")
	}
}

func TestRegisterRoutes(t *testing.T) {
	service, _ := newTestService(t)
	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/streams", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}
}

type fakeRelays struct {
	tasks     []relay.TaskInfo
	restarted []string
	err       error
}

func (f *fakeRelays) GetTasks() []relay.TaskInfo { return f.tasks }

func (f *fakeRelays) Restart(app, name string) error {
	f.restarted = append(f.restarted, app+"/"+name)
	return f.err
}

func TestHandleRelay(t *testing.T) {
	// no manager configured
	service, _ := newTestService(t)
	w := httptest.NewRecorder()
	service.handleRelay(w, httptest.NewRequest("GET", "/api/relay", nil))
	var empty RelayResponse
	if err := json.NewDecoder(w.Body).Decode(&empty); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if empty.Tasks == nil || len(empty.Tasks) != 0 {
		t.Errorf("Expected an empty task list, got %v", empty.Tasks)
	}

	relays := &fakeRelays{tasks: []relay.TaskInfo{{App: "live", Name: "cam", Mode: "pull", RemoteURL: "rtmp://origin/live/cam", Running: true}}}
	service.relays = relays
	w = httptest.NewRecorder()
	service.handleRelay(w, httptest.NewRequest("GET", "/api/relay", nil))
	var response RelayResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Tasks) != 1 || response.Tasks[0].Mode != "pull" || !response.Tasks[0].Running {
		t.Errorf("Unexpected tasks: %+v", response.Tasks)
	}

	w = httptest.NewRecorder()
	service.handleRelay(w, httptest.NewRequest("POST", "/api/relay", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHandleRelayRestart(t *testing.T) {
	service, _ := newTestService(t)
	relays := &fakeRelays{}
	service.relays = relays

	cases := []struct {
		name   string
		method string
		body   string
		err    error
		status int
	}{
		{"wrong method", "GET", "", nil, http.StatusMethodNotAllowed},
		{"bad json", "POST", "{", nil, http.StatusBadRequest},
		{"missing name", "POST", `{"app":"live"}`, nil, http.StatusBadRequest},
		{"unknown task", "POST", `{"app":"live","name":"x"}`, relay.ErrTaskNotFound, http.StatusNotFound},
		{"idle task", "POST", `{"app":"live","name":"cam"}`, relay.ErrTaskNotRunning, http.StatusConflict},
		{"restarted", "POST", `{"app":"live","name":"cam"}`, nil, http.StatusOK},
	}
	for _, c := range cases {
		relays.err = c.err
		w := httptest.NewRecorder()
		service.handleRelayRestart(w, httptest.NewRequest(c.method, "/api/relay/restart", strings.NewReader(c.body)))
		if w.Code != c.status {
			t.Errorf("%s: expected status %d, got %d", c.name, c.status, w.Code)
		}
	}
	if len(relays.restarted) != 3 || relays.restarted[2] != "live/cam" {
		t.Errorf("Expected three restart calls, got %v", relays.restarted)
	}

	service.relays = nil
	w := httptest.NewRecorder()
	service.handleRelayRestart(w, httptest.NewRequest("POST", "/api/relay/restart", strings.NewReader(`{"app":"live","name":"cam"}`)))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without relays, got %d", w.Code)
	}
}
