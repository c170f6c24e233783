package events

import "encoding/json"

// MessageType names an inbound client command
type MessageType string

const (
	MessageTypeJoin            MessageType = "join"
	MessageTypeLeave           MessageType = "leave"
	MessageTypeVote            MessageType = "vote"
	MessageTypeRename          MessageType = "rename"
	MessageTypeCardAdd         MessageType = "card.add"
	MessageTypeCardEdit        MessageType = "card.edit"
	MessageTypeCardDelete      MessageType = "card.delete"
	MessageTypeCardVote        MessageType = "card.vote"
	MessageTypeVotesReveal     MessageType = "votes.reveal"
	MessageTypeVotesReset      MessageType = "votes.reset"
	MessageTypeCardVisibility  MessageType = "card.visibility"
	MessageTypeCardsVisibility MessageType = "cards.visibility"
	MessageTypeSettingsUpdate  MessageType = "settings.update"
	MessageTypeTimerStart      MessageType = "timer.start"
	MessageTypeTimerStop       MessageType = "timer.stop"
)

// Message is a command received from a client
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
