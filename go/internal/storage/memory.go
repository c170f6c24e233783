package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mcdev12/teamsync/go/internal/models"
)

// MemoryStore is a process-local implementation of the topic storage used
// for development (STORAGE=memory) and tests. All values are copied in and
// out so callers never share memory with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	rooms        map[string]models.Room
	boards       map[string]models.Board
	participants map[string]map[string]models.Participant // topic -> connection -> participant
	cards        map[string]models.Card
	cardOrder    []string

	// failNext, when set, is returned by the next mutating call
	failNext error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]models.Room),
		boards:       make(map[string]models.Board),
		participants: make(map[string]map[string]models.Participant),
		cards:        make(map[string]models.Card),
	}
}

// CreateRoom stores a room
func (m *MemoryStore) CreateRoom(_ context.Context, room models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[room.ID]; exists {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	room.Votes.Values = slices.Clone(room.Votes.Values)
	m.rooms[room.ID] = room
	return nil
}

// CreateBoard stores a board
func (m *MemoryStore) CreateBoard(_ context.Context, board models.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.boards[board.ID]; exists {
		return fmt.Errorf("board %s already exists", board.ID)
	}
	m.boards[board.ID] = board
	return nil
}

// FailNext makes the next mutating call return err. Used to simulate
// upstream failures.
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MemoryStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// GetRoom retrieves a room by ID
func (m *MemoryStore) GetRoom(_ context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, models.ErrNotFound)
	}
	room.Votes.Values = slices.Clone(room.Votes.Values)
	return &room, nil
}

// GetBoard retrieves a board by ID
func (m *MemoryStore) GetBoard(_ context.Context, id string) (*models.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board, ok := m.boards[id]
	if !ok {
		return nil, fmt.Errorf("board %s: %w", id, models.ErrNotFound)
	}
	return &board, nil
}

// SecretHash returns the stored secret hash of a topic, or "" when the topic is open
func (m *MemoryStore) SecretHash(_ context.Context, kind models.TopicKind, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch kind {
	case models.TopicKindRoom:
		if room, ok := m.rooms[id]; ok {
			return room.SecretHash, nil
		}
	case models.TopicKindBoard:
		if board, ok := m.boards[id]; ok {
			return board.SecretHash, nil
		}
	default:
		return "", fmt.Errorf("unknown topic kind %q: %w", kind, models.ErrInvalid)
	}
	return "", fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

// ListParticipants lists the stored participants of a topic
func (m *MemoryStore) ListParticipants(_ context.Context, topicID string) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Participant
	for _, p := range m.participants[topicID] {
		out = append(out, copyParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

// UpsertParticipant records a participant, replacing name and vote on conflict
func (m *MemoryStore) UpsertParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	members, ok := m.participants[p.TopicID]
	if !ok {
		members = make(map[string]models.Participant)
		m.participants[p.TopicID] = members
	}
	if existing, ok := members[p.ConnectionID]; ok {
		p.JoinedAt = existing.JoinedAt
	}
	members[p.ConnectionID] = copyParticipant(p)
	return nil
}

// RemoveParticipant deletes a participant; removing an absent row is not an error
func (m *MemoryStore) RemoveParticipant(_ context.Context, topicID, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if members, ok := m.participants[topicID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(m.participants, topicID)
		}
	}
	return nil
}

// ResetPresence deletes every participant
func (m *MemoryStore) ResetPresence(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, members := range m.participants {
		n += int64(len(members))
	}
	m.participants = make(map[string]map[string]models.Participant)
	return n, nil
}

// ResetVotes clears every vote in a room and hides the results again
func (m *MemoryStore) ResetVotes(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	room.Revealed = false
	m.rooms[roomID] = room
	for id, p := range m.participants[roomID] {
		p.Vote = nil
		m.participants[roomID][id] = p
	}
	return nil
}

// SetRoomRevealed sets whether a room's votes are revealed
func (m *MemoryStore) SetRoomRevealed(_ context.Context, roomID string, revealed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	room.Revealed = revealed
	m.rooms[roomID] = room
	return nil
}

// UpdateRoomSettings applies the non-nil fields of u
func (m *MemoryStore) UpdateRoomSettings(_ context.Context, roomID string, u models.RoomSettingsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	if u.Name != nil {
		room.Name = *u.Name
	}
	if u.SecretHash != nil {
		room.SecretHash = *u.SecretHash
	}
	if u.Votes != nil {
		room.Votes = models.VoteSequence{Preset: u.Votes.Preset, Values: slices.Clone(u.Votes.Values)}
	}
	m.rooms[roomID] = room
	return nil
}

// UpdateBoardSettings applies the non-nil fields of u
func (m *MemoryStore) UpdateBoardSettings(_ context.Context, boardID string, u models.BoardSettingsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	board, ok := m.boards[boardID]
	if !ok {
		return fmt.Errorf("board %s: %w", boardID, models.ErrNotFound)
	}
	if u.Name != nil {
		board.Name = *u.Name
	}
	if u.SecretHash != nil {
		board.SecretHash = *u.SecretHash
	}
	if u.TimerDefault != nil {
		board.Timer.Default = *u.TimerDefault
	}
	if u.HideCardsByDefault != nil {
		board.HideCardsByDefault = *u.HideCardsByDefault
	}
	if u.HideAuthorNames != nil {
		board.HideAuthorNames = *u.HideAuthorNames
	}
	m.boards[boardID] = board
	return nil
}

// SetTimerState persists a board's countdown state
func (m *MemoryStore) SetTimerState(_ context.Context, boardID string, running bool, remaining int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	board, ok := m.boards[boardID]
	if !ok {
		return fmt.Errorf("board %s: %w", boardID, models.ErrNotFound)
	}
	board.Timer.Running = running
	board.Timer.Remaining = remaining
	m.boards[boardID] = board
	return nil
}

// ListCards lists a board's cards in creation order
func (m *MemoryStore) ListCards(_ context.Context, boardID string) ([]models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Card
	for _, id := range m.cardOrder {
		if c := m.cards[id]; c.BoardID == boardID {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// InsertCard creates a card
func (m *MemoryStore) InsertCard(_ context.Context, c models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.boards[c.BoardID]; !ok {
		return fmt.Errorf("board %s: %w", c.BoardID, models.ErrNotFound)
	}
	if _, exists := m.cards[c.ID]; exists {
		return fmt.Errorf("card %s already exists", c.ID)
	}
	m.cards[c.ID] = c.Clone()
	m.cardOrder = append(m.cardOrder, c.ID)
	return nil
}

// UpdateCard writes a card's column, body and visibility
func (m *MemoryStore) UpdateCard(_ context.Context, c models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	existing, ok := m.cards[c.ID]
	if !ok || existing.BoardID != c.BoardID {
		return fmt.Errorf("card %s: %w", c.ID, models.ErrNotFound)
	}
	existing.ColumnID = c.ColumnID
	existing.Body = c.Body
	existing.Hidden = c.Hidden
	m.cards[c.ID] = existing
	return nil
}

// DeleteCard removes a card
func (m *MemoryStore) DeleteCard(_ context.Context, boardID, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	existing, ok := m.cards[cardID]
	if !ok || existing.BoardID != boardID {
		return fmt.Errorf("card %s: %w", cardID, models.ErrNotFound)
	}
	delete(m.cards, cardID)
	m.cardOrder = slices.DeleteFunc(m.cardOrder, func(id string) bool { return id == cardID })
	return nil
}

// ToggleVote adds name to a card's voters or removes it when present.
// It returns whether name is a voter afterwards.
func (m *MemoryStore) ToggleVote(_ context.Context, cardID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return false, err
	}
	card, ok := m.cards[cardID]
	if !ok {
		return false, fmt.Errorf("card %s: %w", cardID, models.ErrNotFound)
	}
	card = card.Clone()
	voted := card.ToggleVoter(name)
	m.cards[cardID] = card
	return voted, nil
}

// SetCardsHidden sets the visibility of every card on a board
func (m *MemoryStore) SetCardsHidden(_ context.Context, boardID string, hidden bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	for id, c := range m.cards {
		if c.BoardID == boardID {
			c.Hidden = hidden
			m.cards[id] = c
		}
	}
	return nil
}

// RenameAuthor relabels every card on a board authored by oldName
func (m *MemoryStore) RenameAuthor(_ context.Context, boardID, oldName, newName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	var n int64
	for id, c := range m.cards {
		if c.BoardID == boardID && c.Author == oldName {
			c.Author = newName
			m.cards[id] = c
			n++
		}
	}
	return n, nil
}

func copyParticipant(p models.Participant) models.Participant {
	if p.Vote != nil {
		v := *p.Vote
		p.Vote = &v
	}
	return p
}
