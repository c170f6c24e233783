package collab

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcdev12/teamsync/go/internal/eventbus"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

func (s *Synchronizer) applyBoard(ctx context.Context, t *topic, m *models.Participant, cmd Command) error {
	switch c := cmd.(type) {
	case *AddCard:
		return s.addCard(ctx, t, m, c)
	case *EditCard:
		return s.editCard(ctx, t, m, c)
	case *DeleteCard:
		return s.deleteCard(ctx, t, m, c)
	case *ToggleCardVote:
		return s.toggleCardVote(ctx, t, m, c)
	case *ToggleCardVisibility:
		return s.toggleCardVisibility(ctx, t, m, c)
	case *SetCardsVisibility:
		return s.setCardsVisibility(ctx, t, m, c)
	case *StartTimer:
		return s.startTimer(ctx, t, m, c)
	case *StopTimer:
		return s.stopTimer(ctx, t, m)
	}
	return fmt.Errorf("unsupported board command %s: %w", cmd.Type(), models.ErrInvalid)
}

func cleanColumn(column string) (string, error) {
	column = strings.TrimSpace(column)
	if column == "" || utf8.RuneCountInString(column) > maxColumnLen {
		return "", fmt.Errorf("column id must be 1 to %d characters: %w", maxColumnLen, models.ErrInvalid)
	}
	return column, nil
}

func cleanBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxBodyLen {
		return "", fmt.Errorf("card body must be 1 to %d characters: %w", maxBodyLen, models.ErrInvalid)
	}
	return body, nil
}

func (s *Synchronizer) addCard(ctx context.Context, t *topic, m *models.Participant, c *AddCard) error {
	column, err := cleanColumn(c.ColumnID)
	if err != nil {
		return err
	}
	body, err := cleanBody(c.Body)
	if err != nil {
		return err
	}

	card := models.Card{
		ID:        uuid.NewString(),
		BoardID:   t.board.ID,
		ColumnID:  column,
		Body:      body,
		Author:    m.Name,
		Hidden:    t.board.HideCardsByDefault,
		Voters:    []string{},
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.InsertCard(ctx, card); err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	t.cards = append(t.cards, card)

	s.broadcastView(t)
	s.emit(t, eventbus.ActivityCardAdded, m.Name, "card_id", card.ID, "column_id", column)
	return nil
}

func (s *Synchronizer) editCard(ctx context.Context, t *topic, m *models.Participant, c *EditCard) error {
	i, err := t.cardIndex(c.CardID)
	if err != nil {
		return err
	}
	if c.ColumnID == nil && c.Body == nil {
		return fmt.Errorf("card edit changes nothing: %w", models.ErrInvalid)
	}

	next := t.cards[i].Clone()
	if c.ColumnID != nil {
		if next.ColumnID, err = cleanColumn(*c.ColumnID); err != nil {
			return err
		}
	}
	if c.Body != nil {
		if next.Body, err = cleanBody(*c.Body); err != nil {
			return err
		}
	}
	if err := s.store.UpdateCard(ctx, next); err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	t.cards[i] = next

	s.broadcastView(t)
	s.emit(t, eventbus.ActivityCardEdited, m.Name, "card_id", next.ID)
	return nil
}

func (s *Synchronizer) deleteCard(ctx context.Context, t *topic, m *models.Participant, c *DeleteCard) error {
	i, err := t.cardIndex(c.CardID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, t.board.ID, c.CardID); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	t.cards = append(t.cards[:i], t.cards[i+1:]...)

	s.broadcastView(t)
	s.emit(t, eventbus.ActivityCardDeleted, m.Name, "card_id", c.CardID)
	return nil
}

// toggleCardVote is its own inverse: voters are keyed by display name
func (s *Synchronizer) toggleCardVote(ctx context.Context, t *topic, m *models.Participant, c *ToggleCardVote) error {
	i, err := t.cardIndex(c.CardID)
	if err != nil {
		return err
	}
	voted, err := s.store.ToggleVote(ctx, c.CardID, m.Name)
	if err != nil {
		return fmt.Errorf("failed to toggle card vote: %w", err)
	}

	// follow the stored outcome rather than flipping blindly
	card := &t.cards[i]
	if voted != card.HasVoter(m.Name) {
		card.ToggleVoter(m.Name)
	}

	s.broadcastView(t)
	s.emit(t, eventbus.ActivityCardVoted, m.Name, "card_id", c.CardID, "voted", fmt.Sprint(voted))
	return nil
}

func (s *Synchronizer) toggleCardVisibility(ctx context.Context, t *topic, m *models.Participant, c *ToggleCardVisibility) error {
	i, err := t.cardIndex(c.CardID)
	if err != nil {
		return err
	}
	next := t.cards[i].Clone()
	next.Hidden = !next.Hidden
	if err := s.store.UpdateCard(ctx, next); err != nil {
		return fmt.Errorf("failed to update card visibility: %w", err)
	}
	t.cards[i] = next

	s.broadcast(t, events.EventTypeVisibility, events.VisibilityPayload{CardID: next.ID, Hidden: next.Hidden})
	s.emit(t, eventbus.ActivityVisibilityChanged, m.Name, "card_id", next.ID, "hidden", fmt.Sprint(next.Hidden))
	return nil
}

func (s *Synchronizer) setCardsVisibility(ctx context.Context, t *topic, m *models.Participant, c *SetCardsVisibility) error {
	if err := s.store.SetCardsHidden(ctx, t.board.ID, c.Hidden); err != nil {
		return fmt.Errorf("failed to update card visibility: %w", err)
	}
	for i := range t.cards {
		t.cards[i].Hidden = c.Hidden
	}

	s.broadcast(t, events.EventTypeVisibility, events.VisibilityPayload{Hidden: c.Hidden})
	s.emit(t, eventbus.ActivityVisibilityChanged, m.Name, "hidden", fmt.Sprint(c.Hidden))
	return nil
}

func (s *Synchronizer) updateBoardSettings(ctx context.Context, t *topic, m *models.Participant, c *UpdateSettings) error {
	if c.VotePreset != nil || c.VoteValues != nil {
		return fmt.Errorf("vote settings sent to a board: %w", models.ErrInvalid)
	}

	u := models.BoardSettingsUpdate{
		HideCardsByDefault: c.HideCardsByDefault,
		HideAuthorNames:    c.HideAuthorNames,
	}
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		if name == "" {
			return fmt.Errorf("board name is required: %w", models.ErrInvalid)
		}
		u.Name = &name
	}
	if c.TimerDefault != nil {
		if err := validateDuration(*c.TimerDefault); err != nil {
			return err
		}
		u.TimerDefault = c.TimerDefault
	}
	if u.IsEmpty() && c.NewSecret == nil {
		return fmt.Errorf("settings update changes nothing: %w", models.ErrInvalid)
	}

	if err := s.gate.Check(ctx, models.TopicKindBoard, t.board.ID, c.Secret); err != nil {
		return err
	}
	if c.NewSecret != nil {
		hash, err := s.gate.Hash(*c.NewSecret)
		if err != nil {
			return err
		}
		u.SecretHash = &hash
	}

	if err := s.store.UpdateBoardSettings(ctx, t.board.ID, u); err != nil {
		return fmt.Errorf("failed to update board settings: %w", err)
	}
	b := t.board
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.SecretHash != nil {
		b.SecretHash = *u.SecretHash
	}
	if u.TimerDefault != nil {
		b.Timer.Default = *u.TimerDefault
	}
	if u.HideCardsByDefault != nil {
		b.HideCardsByDefault = *u.HideCardsByDefault
	}
	if u.HideAuthorNames != nil {
		b.HideAuthorNames = *u.HideAuthorNames
	}

	s.broadcast(t, events.EventTypeSettings, boardSettings(b))
	if u.HideAuthorNames != nil {
		// author labels in the board view depend on this flag
		s.broadcastView(t)
	}
	s.emit(t, eventbus.ActivitySettingsUpdated, m.Name)

	log.Info().
		Str("board_id", b.ID).
		Bool("secret_changed", u.SecretHash != nil).
		Msg("board settings updated")
	return nil
}
