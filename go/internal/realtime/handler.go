package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/teamsync/go/internal/collab"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Synchronizer is the subset of collab.Synchronizer the handler drives
type Synchronizer interface {
	Join(ctx context.Context, req collab.JoinRequest) (*collab.Snapshot, error)
	Leave(ctx context.Context, connectionID string)
	Apply(ctx context.Context, connectionID string, cmd collab.Command) error
}

// Unicaster delivers an event to a single connection
type Unicaster interface {
	Unicast(connectionID string, event *events.Event)
}

// CommandHandler decodes client messages and applies them to the
// synchronizer, reporting failures back to the sender only
type CommandHandler struct {
	sync      Synchronizer
	out       Unicaster
	opTimeout time.Duration
}

// NewCommandHandler creates a handler. opTimeout bounds each command,
// including the leave issued when a connection drops.
func NewCommandHandler(sync Synchronizer, out Unicaster, opTimeout time.Duration) *CommandHandler {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &CommandHandler{sync: sync, out: out, opTimeout: opTimeout}
}

// commandFor returns an empty command value for a message type
func commandFor(t events.MessageType) (collab.Command, bool) {
	switch t {
	case events.MessageTypeVote:
		return &collab.Vote{}, true
	case events.MessageTypeRename:
		return &collab.Rename{}, true
	case events.MessageTypeVotesReveal:
		return &collab.RevealVotes{}, true
	case events.MessageTypeVotesReset:
		return &collab.ResetVotes{}, true
	case events.MessageTypeCardAdd:
		return &collab.AddCard{}, true
	case events.MessageTypeCardEdit:
		return &collab.EditCard{}, true
	case events.MessageTypeCardDelete:
		return &collab.DeleteCard{}, true
	case events.MessageTypeCardVote:
		return &collab.ToggleCardVote{}, true
	case events.MessageTypeCardVisibility:
		return &collab.ToggleCardVisibility{}, true
	case events.MessageTypeCardsVisibility:
		return &collab.SetCardsVisibility{}, true
	case events.MessageTypeSettingsUpdate:
		return &collab.UpdateSettings{}, true
	case events.MessageTypeTimerStart:
		return &collab.StartTimer{}, true
	case events.MessageTypeTimerStop:
		return &collab.StopTimer{}, true
	}
	return nil, false
}

// decodeData unmarshals a message payload, treating an absent payload as {}
func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed payload: %w", models.ErrInvalid)
	}
	return nil
}

// HandleMessage processes one frame from a connection
func (h *CommandHandler) HandleMessage(ctx context.Context, c *Connection, data []byte) {
	var msg events.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reject(c.ID, msg, fmt.Errorf("malformed message: %w", models.ErrInvalid))
		return
	}
	if !c.Allow() {
		h.reject(c.ID, msg, errRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()

	if err := h.dispatch(ctx, c.ID, msg); err != nil {
		h.reject(c.ID, msg, err)
	}
}

func (h *CommandHandler) dispatch(ctx context.Context, connectionID string, msg events.Message) error {
	switch msg.Type {
	case events.MessageTypeJoin:
		var req collab.JoinRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		req.ConnectionID = connectionID
		_, err := h.sync.Join(ctx, req)
		return err

	case events.MessageTypeLeave:
		h.sync.Leave(ctx, connectionID)
		return nil
	}

	cmd, ok := commandFor(msg.Type)
	if !ok {
		return fmt.Errorf("unknown message type %q: %w", msg.Type, models.ErrInvalid)
	}
	if err := decodeData(msg.Data, cmd); err != nil {
		return err
	}
	return h.sync.Apply(ctx, connectionID, cmd)
}

// Disconnected removes the connection from its topic. The request context
// is gone by now, so the leave runs on its own bounded context.
func (h *CommandHandler) Disconnected(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()
	h.sync.Leave(ctx, c.ID)
}

var errRateLimited = errors.New("rate limited")

// errorCode maps a command failure to the code reported to clients
func errorCode(err error) events.ErrorCode {
	switch {
	case errors.Is(err, errRateLimited):
		return events.ErrorCodeRateLimited
	case errors.Is(err, models.ErrForbidden):
		return events.ErrorCodeForbidden
	case errors.Is(err, models.ErrNotFound):
		return events.ErrorCodeNotFound
	case errors.Is(err, models.ErrInvalid):
		return events.ErrorCodeInvalid
	default:
		return events.ErrorCodeInternal
	}
}

func (h *CommandHandler) reject(connectionID string, msg events.Message, err error) {
	code := errorCode(err)
	message := err.Error()
	if code == events.ErrorCodeInternal {
		log.Error().
			Err(err).
			Str("connection_id", connectionID).
			Str("command", string(msg.Type)).
			Msg("command failed")
		message = "internal error"
	} else {
		log.Debug().
			Err(err).
			Str("connection_id", connectionID).
			Str("command", string(msg.Type)).
			Msg("command rejected")
	}

	ev, buildErr := events.New("", events.EventTypeError, events.ErrorPayload{
		RequestID: msg.RequestID,
		Command:   string(msg.Type),
		Code:      code,
		Message:   message,
	})
	if buildErr != nil {
		log.Error().Err(buildErr).Msg("failed to build error event")
		return
	}
	h.out.Unicast(connectionID, ev)
}
