// This file provides HTTP-FLV service integration.
// The service is mounted on the main HTTP server.

package httpflv

import (
	"log/slog"
	"net/http"

	"amsd/internal/core/bus"
)

// Service provides HTTP-FLV streaming functionality.
type Service struct {
	handler *Handler
}

// NewService creates a new HTTP-FLV service.
func NewService(registry *bus.Registry, logger *slog.Logger) *Service {
	return &Service{
		handler: NewHandler(registry, logger),
	}
}

// RegisterRoutes registers HTTP-FLV routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}
