package models

import (
	"slices"
	"time"
)

// TimerState is the persisted view of a board's countdown, in seconds.
type TimerState struct {
	Running   bool `json:"running"`
	Remaining int  `json:"time_left"`
	Default   int  `json:"default_duration"`
}

// Board represents a retrospective board.
type Board struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Timer              TimerState `json:"timer"`
	HideCardsByDefault bool       `json:"hide_cards_by_default"`
	HideAuthorNames    bool       `json:"hide_author_names"`
	SecretHash         string     `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
}

// BoardSettingsUpdate carries the settings a board update may change.
// Nil fields are left untouched.
type BoardSettingsUpdate struct {
	Name               *string
	SecretHash         *string
	TimerDefault       *int
	HideCardsByDefault *bool
	HideAuthorNames    *bool
}

// IsEmpty reports whether the update changes nothing.
func (u BoardSettingsUpdate) IsEmpty() bool {
	return u.Name == nil && u.SecretHash == nil && u.TimerDefault == nil &&
		u.HideCardsByDefault == nil && u.HideAuthorNames == nil
}

// Card is a single retro card. Voters are display names, not connections.
type Card struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	ColumnID  string    `json:"column_id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Hidden    bool      `json:"hidden"`
	Voters    []string  `json:"voters"`
	CreatedAt time.Time `json:"created_at"`
}

// HasVoter reports whether name is in the card's voter set.
func (c *Card) HasVoter(name string) bool {
	return slices.Contains(c.Voters, name)
}

// ToggleVoter adds name to the voter set, or removes it when already
// present. It returns whether name is a voter afterwards.
func (c *Card) ToggleVoter(name string) bool {
	if i := slices.Index(c.Voters, name); i >= 0 {
		c.Voters = slices.Delete(c.Voters, i, i+1)
		return false
	}
	c.Voters = append(c.Voters, name)
	return true
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	c.Voters = slices.Clone(c.Voters)
	if c.Voters == nil {
		c.Voters = []string{}
	}
	return c
}
