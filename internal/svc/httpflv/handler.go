// This file implements the HTTP handler for FLV stream requests.
// Handles GET /{app}/{name}.flv and keeps the response open while the
// publisher is live.

package httpflv

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"amsd/internal/core/bus"
)

// Handler handles HTTP-FLV requests.
type Handler struct {
	registry  *bus.Registry
	logger    *slog.Logger
	queueSize uint32
}

// NewHandler creates a new HTTP-FLV handler.
func NewHandler(registry *bus.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		logger:    logger.With("component", "httpflv"),
		queueSize: DefaultQueueSize,
	}
}

// parseStreamPath splits /{app}/{name}.flv into its key parts.
func parseStreamPath(p string) (app, name string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	if !strings.HasSuffix(p, ".flv") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSuffix(p, ".flv"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ServeHTTP handles HTTP requests for FLV streams.
// Endpoint: GET /{app}/{name}.flv
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	app, name, ok := parseStreamPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	key := bus.NewStreamKey(app, name)
	pub := h.registry.Lookup(key)
	if pub == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sub := NewSubscriber(w, h.queueSize)
	if !sub.Attach(pub) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer sub.Detach()

	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := sub.WriteHeader(); err != nil {
		return
	}

	logger := h.logger.With("stream", key.String(), "remote", r.RemoteAddr)
	logger.Info("viewer attached")
	err := sub.ProcessMessages(r.Context())
	if err != nil && !errors.Is(err, r.Context().Err()) {
		logger.Debug("viewer write failed", "error", err)
	}
	logger.Info("viewer detached", "dropped", sub.Dropped())
}

// RegisterRoutes registers HTTP-FLV routes on the given mux.
// Only paths ending in .flv are served; other unmatched paths get 404.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if path.Ext(r.URL.Path) == ".flv" {
			h.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
}
