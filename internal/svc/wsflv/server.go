// This file provides WebSocket-FLV service integration.
// The service is mounted on the main HTTP server.

package wsflv

import (
	"log/slog"
	"net/http"

	"amsd/internal/core/bus"
)

// Service provides WebSocket-FLV streaming functionality.
type Service struct {
	handler *Handler
}

// NewService creates a new WebSocket-FLV service.
func NewService(registry *bus.Registry, logger *slog.Logger) *Service {
	return &Service{
		handler: NewHandler(registry, logger),
	}
}

// RegisterRoutes registers WebSocket-FLV routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}
