package models

import (
	"slices"
	"time"
)

// VoteSequence is the ordered set of tokens a room accepts as votes.
// Preset names the catalogue entry Values was resolved from, if any.
type VoteSequence struct {
	Preset string   `json:"preset,omitempty"`
	Values []string `json:"values"`
}

// Allows reports whether value is one of the configured vote tokens.
func (s VoteSequence) Allows(value string) bool {
	return slices.Contains(s.Values, value)
}

// Room represents a synchronous voting room.
type Room struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Votes      VoteSequence `json:"votes"`
	SecretHash string       `json:"-"`
	Revealed   bool         `json:"revealed"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RoomSettingsUpdate carries the settings a room update may change.
// Nil fields are left untouched.
type RoomSettingsUpdate struct {
	Name       *string
	SecretHash *string
	Votes      *VoteSequence
}

// IsEmpty reports whether the update changes nothing.
func (u RoomSettingsUpdate) IsEmpty() bool {
	return u.Name == nil && u.SecretHash == nil && u.Votes == nil
}
