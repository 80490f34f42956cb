// This file contains unit tests for the HTTP-FLV handler.
// Tests cover request validation and live streaming from a publisher.

package httpflv

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"amsd/internal/core/bus"
	"amsd/internal/core/protocol/flv"
)

func TestHTTPFLVHandlerNotFound(t *testing.T) {
	handler := NewHandler(bus.NewRegistry(bus.DefaultPublisherTTL), nil)

	req := httptest.NewRequest("GET", "/live/nonexistent.flv", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHTTPFLVHandlerClosedPublisher(t *testing.T) {
	registry := bus.NewRegistry(bus.DefaultPublisherTTL)
	pub := bus.NewPublisher(bus.NewStreamKey("live", "test"), bus.PublisherOptions{})
	registry.Register(pub)
	pub.Close()

	req := httptest.NewRequest("GET", "/live/test.flv", nil)
	w := httptest.NewRecorder()
	NewHandler(registry, nil).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for a closed publisher, got %d", w.Code)
	}
}

func TestHTTPFLVHandlerBadRequest(t *testing.T) {
	handler := NewHandler(bus.NewRegistry(bus.DefaultPublisherTTL), nil)

	cases := []struct {
		method, path string
		want         int
	}{
		{"GET", "/live/test", http.StatusBadRequest},
		{"GET", "/test.flv", http.StatusBadRequest},
		{"GET", "/live/.flv", http.StatusBadRequest},
		{"POST", "/live/test.flv", http.StatusMethodNotAllowed},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(c.method, c.path, nil))
		if w.Code != c.want {
			t.Errorf("%s %s: expected status %d, got %d", c.method, c.path, c.want, w.Code)
		}
	}
}

func TestHTTPFLVRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewService(bus.NewRegistry(bus.DefaultPublisherTTL), nil).RegisterRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for non-FLV path, got %d", w.Code)
	}
}

func readTag(t *testing.T, r io.Reader) flv.TagHeader {
	t.Helper()
	hdr := make([]byte, flv.TagHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		t.Fatalf("Failed to read tag header: %v", err)
	}
	th, _ := flv.ParseTagHeader(hdr)
	if _, err := io.CopyN(io.Discard, r, int64(th.DataSize)+4); err != nil {
		t.Fatalf("Failed to read tag body: %v", err)
	}
	return th
}

func TestHTTPFLVStreaming(t *testing.T) {
	registry := bus.NewRegistry(bus.DefaultPublisherTTL)
	pub := bus.NewPublisher(bus.NewStreamKey("live", "test"), bus.PublisherOptions{})
	if err := registry.Register(pub); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	pub.Publish(bus.NewMessage(bus.MessageTypeVideo, 0, []byte{0x17, 0x00, 0x00, 0x00, 0x00}))
	pub.Publish(bus.NewMessage(bus.MessageTypeAudio, 0, []byte{0xAF, 0x00, 0x12, 0x10}))

	srv := httptest.NewServer(NewHandler(registry, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/live/test.flv")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/x-flv" {
		t.Errorf("Expected Content-Type video/x-flv, got %s", ct)
	}

	header := make([]byte, flv.FLVHeaderSize+4)
	if _, err := io.ReadFull(resp.Body, header); err != nil {
		t.Fatalf("Failed to read FLV header: %v", err)
	}
	if string(header[0:3]) != "FLV" {
		t.Errorf("Expected FLV signature, got %q", header[0:3])
	}

	// cached headers come first
	if th := readTag(t, resp.Body); th.Type != flv.TagTypeVideo {
		t.Errorf("Expected video header tag, got type %d", th.Type)
	}
	if th := readTag(t, resp.Body); th.Type != flv.TagTypeAudio {
		t.Errorf("Expected audio header tag, got type %d", th.Type)
	}

	pub.Publish(bus.NewMessage(bus.MessageTypeVideo, 5000, []byte{0x17, 0x01, 0x00, 0x00, 0x00}))
	pub.Publish(bus.NewMessage(bus.MessageTypeAudio, 5040, []byte{0xAF, 0x01, 0x21}))

	if th := readTag(t, resp.Body); th.Type != flv.TagTypeVideo || th.Timestamp != 0 {
		t.Errorf("Expected keyframe rebased to 0, got %+v", th)
	}
	if th := readTag(t, resp.Body); th.Type != flv.TagTypeAudio || th.Timestamp != 40 {
		t.Errorf("Expected audio at 40, got %+v", th)
	}

	pub.Close()
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean end of stream, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Response did not end after unpublish")
	}
	if pub.SubscriberCount() != 0 {
		t.Errorf("Expected no subscribers after unpublish, got %d", pub.SubscriberCount())
	}
}
