package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for everything sent to a client
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	TopicID   string          `json:"topic_id"`  // Room or board ID, empty for connection-level events
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of an outbound event
type EventType string

const (
	EventTypeJoined       EventType = "joined"
	EventTypeParticipants EventType = "participants"
	EventTypeBoard        EventType = "board"
	EventTypeSettings     EventType = "settings"
	EventTypeVisibility   EventType = "visibility"
	EventTypeTimerStarted EventType = "timer.started"
	EventTypeTimerUpdated EventType = "timer.updated"
	EventTypeTimerStopped EventType = "timer.stopped"
	EventTypeError        EventType = "error"
)

// New builds an event with a fresh ID, marshalling payload into Data
func New(topicID string, eventType EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		TopicID:   topicID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Decode unmarshals the event payload into v
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ErrorCode classifies an error event for clients
type ErrorCode string

const (
	ErrorCodeForbidden   ErrorCode = "forbidden"
	ErrorCodeNotFound    ErrorCode = "not_found"
	ErrorCodeInvalid     ErrorCode = "invalid"
	ErrorCodeRateLimited ErrorCode = "rate_limited"
	ErrorCodeInternal    ErrorCode = "internal"
)

// ErrorPayload is sent only to the connection whose command failed
type ErrorPayload struct {
	RequestID string    `json:"request_id,omitempty"`
	Command   string    `json:"command,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
}

// TimerPayload carries a board's countdown state
type TimerPayload struct {
	Running  bool `json:"running"`
	TimeLeft int  `json:"time_left"`
	Duration int  `json:"duration"`
	Expired  bool `json:"expired,omitempty"`
}

// VisibilityPayload reports a change to card visibility. CardID is empty
// when every card on the board changed.
type VisibilityPayload struct {
	CardID string `json:"card_id,omitempty"`
	Hidden bool   `json:"hidden"`
}
