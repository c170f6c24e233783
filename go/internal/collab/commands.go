package collab

import (
	"context"
	"fmt"

	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Command is a mutation applied to the topic the issuing connection joined
type Command interface {
	Type() string
}

// Vote sets or, with a nil value, clears the caller's vote in a room
type Vote struct {
	Value *string `json:"value"`
}

// Rename changes the caller's display name. On a board, cards authored
// under the old name are relabelled.
type Rename struct {
	Name string `json:"name"`
}

// RevealVotes shows every vote in a room
type RevealVotes struct{}

// ResetVotes clears every vote in a room and hides them again
type ResetVotes struct{}

// AddCard adds a card to a board column, authored by the caller
type AddCard struct {
	ColumnID string `json:"column_id"`
	Body     string `json:"body"`
}

// EditCard moves or rewrites a card. Nil fields are left unchanged.
type EditCard struct {
	CardID   string  `json:"card_id"`
	ColumnID *string `json:"column_id,omitempty"`
	Body     *string `json:"body,omitempty"`
}

// DeleteCard removes a card
type DeleteCard struct {
	CardID string `json:"card_id"`
}

// ToggleCardVote adds the caller's name to a card's voters, or removes it
type ToggleCardVote struct {
	CardID string `json:"card_id"`
}

// ToggleCardVisibility flips one card between hidden and shown
type ToggleCardVisibility struct {
	CardID string `json:"card_id"`
}

// SetCardsVisibility hides or shows every card on a board
type SetCardsVisibility struct {
	Hidden bool `json:"hidden"`
}

// UpdateSettings changes room or board settings. Secret must hold the
// current secret when the topic is secured. NewSecret replaces it; an
// empty NewSecret removes protection. VotePreset and VoteValues apply to
// rooms; the timer and visibility fields apply to boards.
type UpdateSettings struct {
	Secret    *string `json:"secret,omitempty"`
	Name      *string `json:"name,omitempty"`
	NewSecret *string `json:"new_secret,omitempty"`

	VotePreset *string  `json:"vote_preset,omitempty"`
	VoteValues []string `json:"vote_values,omitempty"`

	TimerDefault       *int  `json:"timer_default,omitempty"`
	HideCardsByDefault *bool `json:"hide_cards_by_default,omitempty"`
	HideAuthorNames    *bool `json:"hide_author_names,omitempty"`
}

// StartTimer starts the board countdown, replacing any running one.
// Without Duration the board's default is used.
type StartTimer struct {
	Duration *int `json:"duration,omitempty"`
}

// StopTimer stops the board countdown
type StopTimer struct{}

func (*Vote) Type() string                 { return "vote" }
func (*Rename) Type() string               { return "rename" }
func (*RevealVotes) Type() string          { return "votes.reveal" }
func (*ResetVotes) Type() string           { return "votes.reset" }
func (*AddCard) Type() string              { return "card.add" }
func (*EditCard) Type() string             { return "card.edit" }
func (*DeleteCard) Type() string           { return "card.delete" }
func (*ToggleCardVote) Type() string       { return "card.vote" }
func (*ToggleCardVisibility) Type() string { return "card.visibility" }
func (*SetCardsVisibility) Type() string   { return "cards.visibility" }
func (*UpdateSettings) Type() string       { return "settings.update" }
func (*StartTimer) Type() string           { return "timer.start" }
func (*StopTimer) Type() string            { return "timer.stop" }

// Apply runs a command against the caller's topic. Validation failures
// and storage errors leave the in-memory state untouched and broadcast
// nothing.
func (s *Synchronizer) Apply(ctx context.Context, connectionID string, cmd Command) error {
	sess, ok := s.sessions.Lookup(connectionID)
	if !ok {
		return fmt.Errorf("connection %s has not joined a topic: %w", connectionID, models.ErrNotFound)
	}
	t, err := s.acquire(ctx, topicKey{kind: sess.Kind, id: sess.TopicID})
	if err != nil {
		return err
	}
	defer s.release(t)

	m, err := t.member(connectionID)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case *Rename:
		err = s.rename(ctx, t, m, c)
	case *UpdateSettings:
		if t.room != nil {
			err = s.updateRoomSettings(ctx, t, m, c)
		} else {
			err = s.updateBoardSettings(ctx, t, m, c)
		}
	case *Vote, *RevealVotes, *ResetVotes:
		if t.room == nil {
			return fmt.Errorf("%s applies to rooms only: %w", cmd.Type(), models.ErrInvalid)
		}
		err = s.applyRoom(ctx, t, m, cmd)
	default:
		if t.board == nil {
			return fmt.Errorf("%s applies to boards only: %w", cmd.Type(), models.ErrInvalid)
		}
		err = s.applyBoard(ctx, t, m, cmd)
	}
	if err != nil {
		return err
	}

	log.Debug().
		Str("topic", t.key.String()).
		Str("connection_id", connectionID).
		Str("command", cmd.Type()).
		Msg("command applied")
	return nil
}
