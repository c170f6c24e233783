package models

import "time"

// Participant is a live connection's presence inside a topic.
// Vote is only meaningful for rooms.
type Participant struct {
	TopicID      string    `json:"topic_id"`
	ConnectionID string    `json:"connection_id"`
	Name         string    `json:"name"`
	Vote         *string   `json:"vote"`
	JoinedAt     time.Time `json:"joined_at"`
}
