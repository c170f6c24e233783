package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/teamsync/go/internal/eventbus"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

const maxVoteValues = 64

func (s *Synchronizer) applyRoom(ctx context.Context, t *topic, m *models.Participant, cmd Command) error {
	switch c := cmd.(type) {
	case *Vote:
		return s.vote(ctx, t, m, c)
	case *RevealVotes:
		if err := s.store.SetRoomRevealed(ctx, t.room.ID, true); err != nil {
			return fmt.Errorf("failed to reveal votes: %w", err)
		}
		t.room.Revealed = true
		s.broadcastView(t)
		s.emit(t, eventbus.ActivityVotesRevealed, m.Name)
		return nil
	case *ResetVotes:
		if err := s.store.ResetVotes(ctx, t.room.ID); err != nil {
			return fmt.Errorf("failed to reset votes: %w", err)
		}
		t.room.Revealed = false
		for _, p := range t.members {
			p.Vote = nil
		}
		s.broadcastView(t)
		s.emit(t, eventbus.ActivityVotesReset, m.Name)
		return nil
	}
	return fmt.Errorf("unsupported room command %s: %w", cmd.Type(), models.ErrInvalid)
}

func (s *Synchronizer) vote(ctx context.Context, t *topic, m *models.Participant, c *Vote) error {
	if c.Value != nil && !t.room.Votes.Allows(*c.Value) {
		return fmt.Errorf("vote %q is not in the room's sequence: %w", *c.Value, models.ErrInvalid)
	}

	next := *m
	next.Vote = nil
	if c.Value != nil {
		v := *c.Value
		next.Vote = &v
	}
	if err := s.store.UpsertParticipant(ctx, next); err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	*m = next

	s.broadcastView(t)
	if next.Vote != nil {
		s.emit(t, eventbus.ActivityVoteCast, m.Name, "vote", *next.Vote)
	} else {
		s.emit(t, eventbus.ActivityVoteCast, m.Name)
	}
	return nil
}

// rename applies to rooms and boards. Board cards are matched to their
// author by display name, so two participants sharing a name both keep
// the relabelled cards.
func (s *Synchronizer) rename(ctx context.Context, t *topic, m *models.Participant, c *Rename) error {
	name, err := cleanName(c.Name)
	if err != nil {
		return err
	}
	oldName := m.Name
	if name == oldName {
		return nil
	}

	next := *m
	next.Name = name
	if err := s.store.UpsertParticipant(ctx, next); err != nil {
		return fmt.Errorf("failed to rename participant: %w", err)
	}
	*m = next
	s.sessions.Rename(m.ConnectionID, name)

	var relabelErr error
	if t.board != nil {
		if _, err := s.store.RenameAuthor(ctx, t.board.ID, oldName, name); err != nil {
			relabelErr = fmt.Errorf("failed to relabel cards: %w", err)
		} else {
			for i := range t.cards {
				if t.cards[i].Author == oldName {
					t.cards[i].Author = name
				}
			}
		}
	}

	// the participant rename is durable even when relabelling failed
	s.broadcastView(t)
	s.emit(t, eventbus.ActivityParticipantRenamed, name, "previous", oldName)
	return relabelErr
}

func (s *Synchronizer) updateRoomSettings(ctx context.Context, t *topic, m *models.Participant, c *UpdateSettings) error {
	if c.TimerDefault != nil || c.HideCardsByDefault != nil || c.HideAuthorNames != nil {
		return fmt.Errorf("board settings sent to a room: %w", models.ErrInvalid)
	}

	var u models.RoomSettingsUpdate
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		if name == "" {
			return fmt.Errorf("room name is required: %w", models.ErrInvalid)
		}
		u.Name = &name
	}
	seq, err := s.voteSequence(c)
	if err != nil {
		return err
	}
	u.Votes = seq
	if u.IsEmpty() && c.NewSecret == nil {
		return fmt.Errorf("settings update changes nothing: %w", models.ErrInvalid)
	}

	if err := s.gate.Check(ctx, models.TopicKindRoom, t.room.ID, c.Secret); err != nil {
		return err
	}
	if c.NewSecret != nil {
		hash, err := s.gate.Hash(*c.NewSecret)
		if err != nil {
			return err
		}
		u.SecretHash = &hash
	}

	if err := s.store.UpdateRoomSettings(ctx, t.room.ID, u); err != nil {
		return fmt.Errorf("failed to update room settings: %w", err)
	}
	if u.Name != nil {
		t.room.Name = *u.Name
	}
	if u.SecretHash != nil {
		t.room.SecretHash = *u.SecretHash
	}
	if u.Votes != nil {
		t.room.Votes = *u.Votes
	}

	s.broadcast(t, events.EventTypeSettings, roomSettings(t.room))
	s.emit(t, eventbus.ActivitySettingsUpdated, m.Name)

	log.Info().
		Str("room_id", t.room.ID).
		Bool("secret_changed", u.SecretHash != nil).
		Bool("votes_changed", u.Votes != nil).
		Msg("room settings updated")
	return nil
}

// voteSequence resolves the requested vote values, or nil when unchanged
func (s *Synchronizer) voteSequence(c *UpdateSettings) (*models.VoteSequence, error) {
	switch {
	case c.VotePreset != nil && c.VoteValues != nil:
		return nil, fmt.Errorf("vote preset and explicit values are exclusive: %w", models.ErrInvalid)
	case c.VotePreset != nil:
		values, ok := s.presets[*c.VotePreset]
		if !ok {
			return nil, fmt.Errorf("unknown vote preset %q: %w", *c.VotePreset, models.ErrInvalid)
		}
		return &models.VoteSequence{Preset: *c.VotePreset, Values: append([]string(nil), values...)}, nil
	case c.VoteValues != nil:
		if err := validateVoteValues(c.VoteValues); err != nil {
			return nil, err
		}
		return &models.VoteSequence{Values: append([]string(nil), c.VoteValues...)}, nil
	}
	return nil, nil
}

func validateVoteValues(values []string) error {
	if len(values) == 0 || len(values) > maxVoteValues {
		return fmt.Errorf("vote sequence needs 1 to %d values: %w", maxVoteValues, models.ErrInvalid)
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("vote values must not be blank: %w", models.ErrInvalid)
		}
		if seen[v] {
			return fmt.Errorf("duplicate vote value %q: %w", v, models.ErrInvalid)
		}
		seen[v] = true
	}
	return nil
}
