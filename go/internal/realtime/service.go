package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Backend is everything the service needs from the synchronizer
type Backend interface {
	Synchronizer
	StateProvider
	StatsProvider
}

// Service serves websocket clients and the state API on top of a hub
type Service struct {
	hub          *Hub
	wsHandler    *WebSocketHandler
	stateHandler *StateHandler
}

// NewService creates the realtime service. The hub is created by the
// caller because the synchronizer broadcasts through it.
func NewService(hub *Hub, backend Backend, opTimeout time.Duration) *Service {
	commands := NewCommandHandler(backend, hub, opTimeout)
	return &Service{
		hub:          hub,
		wsHandler:    NewWebSocketHandler(hub, commands, backend),
		stateHandler: NewStateHandler(backend),
	}
}

// Start runs the hub until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting realtime service")
	s.hub.Start(ctx)
	log.Info().Msg("realtime service stopped")
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("realtime routes registered")
}

// GetStats returns statistics about connected clients
func (s *Service) GetStats() HubStats {
	return s.hub.Stats()
}
