// This file implements the WebSocket handler for FLV stream requests.
// Handles GET /ws/{app}/{name} and manages the subscriber lifecycle.

package wsflv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"amsd/internal/core/bus"
)

// closeGrace bounds how long the close frame write may take.
const closeGrace = time.Second

// Handler handles WebSocket-FLV requests.
type Handler struct {
	registry  *bus.Registry
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	queueSize uint32
}

// NewHandler creates a new WebSocket-FLV handler.
func NewHandler(registry *bus.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		logger:   logger.With("component", "wsflv"),
		upgrader: websocket.Upgrader{
			// Players are served from other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize: DefaultQueueSize,
	}
}

func parseStreamPath(p string) (app, name string, ok bool) {
	rest := strings.TrimPrefix(p, "/ws/")
	if rest == p {
		return "", "", false
	}
	rest = strings.TrimSuffix(rest, ".flv")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ServeHTTP handles WebSocket upgrade and FLV streaming.
// Endpoint: GET /ws/{app}/{name}
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

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		return
	}
	defer conn.Close()

	sub := NewSubscriber(conn, h.queueSize)
	if !sub.Attach(pub) {
		closeWith(conn, websocket.CloseGoingAway, "stream ended")
		return
	}
	defer sub.Detach()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	if err := sub.WriteHeader(); err != nil {
		return
	}

	logger := h.logger.With("stream", key.String(), "remote", r.RemoteAddr)
	logger.Info("viewer attached")
	err = sub.ProcessMessages(ctx)
	if err == nil {
		closeWith(conn, websocket.CloseGoingAway, "stream ended")
	} else if !errors.Is(err, context.Canceled) {
		logger.Debug("viewer write failed", "error", err)
	}
	logger.Info("viewer detached", "dropped", sub.Dropped())
}

// readPump consumes client frames so close and ping control frames are
// processed, and cancels the stream when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
}

// RegisterRoutes registers WebSocket-FLV routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/", h.ServeHTTP)
}
