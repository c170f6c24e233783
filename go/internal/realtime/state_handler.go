package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/teamsync/go/internal/collab"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SecretHeader carries the topic secret for state requests on secured topics
const SecretHeader = "X-Topic-Secret"

// StateProvider serves the current public view of a topic
type StateProvider interface {
	RoomView(ctx context.Context, id string, secret *string) (*collab.RoomView, error)
	BoardView(ctx context.Context, id string, secret *string) (*collab.BoardView, error)
}

// StateHandler handles HTTP requests for topic state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := h.stateProvider.RoomView(r.Context(), id, secretFrom(r))
	writeState(w, "room", id, view, err)
}

// HandleGetBoardState handles GET /api/boards/{id}/state
func (h *StateHandler) HandleGetBoardState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := h.stateProvider.BoardView(r.Context(), id, secretFrom(r))
	writeState(w, "board", id, view, err)
}

// secretFrom returns the request's topic secret, nil when absent
func secretFrom(r *http.Request) *string {
	if values := r.Header.Values(SecretHeader); len(values) > 0 {
		return &values[0]
	}
	return nil
}

func writeState(w http.ResponseWriter, kind, id string, view any, err error) {
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			http.Error(w, kind+" not found", http.StatusNotFound)
			return
		case errors.Is(err, models.ErrForbidden):
			http.Error(w, kind+" secret required", http.StatusForbidden)
			return
		}
		log.Error().Err(err).Str("kind", kind).Str("id", id).Msg("failed to get topic state")
		http.Error(w, "Failed to get "+kind+" state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		log.Error().Err(err).Msg("failed to encode state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/{id}/state", h.HandleGetRoomState)
	mux.HandleFunc("GET /api/boards/{id}/state", h.HandleGetBoardState)
}
