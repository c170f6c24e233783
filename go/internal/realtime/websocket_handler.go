package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/teamsync/go/internal/collab"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests
type WebSocketHandler struct {
	hub      *Hub
	commands MessageHandler
	stats    StatsProvider
}

// StatsProvider reports synchronizer statistics for /ws/stats
type StatsProvider interface {
	Stats() collab.Stats
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *Hub, commands MessageHandler, stats StatsProvider) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		commands: commands,
		stats:    stats,
	}
}

// HandleConnection upgrades a request. The client joins a room or board
// by sending a join message once connected.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.hub.Upgrade(w, r, h.commands); err != nil {
		// the upgrader has already written the HTTP error
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		HubStats
		Sync *collab.Stats `json:"sync,omitempty"`
	}{HubStats: h.hub.Stats()}
	if h.stats != nil {
		stats := h.stats.Stats()
		resp.Sync = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
