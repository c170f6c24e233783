package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/teamsync/go/internal/access"
	"github.com/mcdev12/teamsync/go/internal/countdown"
	"github.com/mcdev12/teamsync/go/internal/eventbus"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/mcdev12/teamsync/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Store defines what the synchronizer needs from durable storage
type Store interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetBoard(ctx context.Context, id string) (*models.Board, error)
	ListParticipants(ctx context.Context, topicID string) ([]models.Participant, error)
	UpsertParticipant(ctx context.Context, p models.Participant) error
	RemoveParticipant(ctx context.Context, topicID, connectionID string) error
	ResetVotes(ctx context.Context, roomID string) error
	SetRoomRevealed(ctx context.Context, roomID string, revealed bool) error
	UpdateRoomSettings(ctx context.Context, roomID string, u models.RoomSettingsUpdate) error
	UpdateBoardSettings(ctx context.Context, boardID string, u models.BoardSettingsUpdate) error
	SetTimerState(ctx context.Context, boardID string, running bool, remaining int) error
	ListCards(ctx context.Context, boardID string) ([]models.Card, error)
	InsertCard(ctx context.Context, c models.Card) error
	UpdateCard(ctx context.Context, c models.Card) error
	DeleteCard(ctx context.Context, boardID, cardID string) error
	ToggleVote(ctx context.Context, cardID, name string) (bool, error)
	SetCardsHidden(ctx context.Context, boardID string, hidden bool) error
	RenameAuthor(ctx context.Context, boardID, oldName, newName string) (int64, error)
}

// Gate verifies topic secrets
type Gate interface {
	Check(ctx context.Context, kind models.TopicKind, topicID string, secret *string) error
	Hash(secret string) (string, error)
}

// Broadcaster delivers events to subscribed connections
type Broadcaster interface {
	Subscribe(topic, connectionID string)
	Unsubscribe(topic, connectionID string)
	Broadcast(topic string, event *events.Event)
	Unicast(connectionID string, event *events.Event)
}

// ActivitySink receives activity records after successful commands
type ActivitySink interface {
	Emit(activity eventbus.Activity) bool
}

type Options struct {
	Clock        clockwork.Clock
	TickInterval time.Duration
	OpTimeout    time.Duration // bounds storage calls made from countdown ticks

	Presets  map[string][]string // vote preset name -> tokens
	Activity ActivitySink
}

// Synchronizer is the authoritative holder of live room and board state.
// Every command for a topic runs under that topic's lock, so the in-memory
// view only changes after the matching durable write succeeded.
type Synchronizer struct {
	store     Store
	gate      Gate
	hub       Broadcaster
	sessions  *session.Registry
	timers    *countdown.Manager
	clock     clockwork.Clock
	presets   map[string][]string
	activity  ActivitySink
	opTimeout time.Duration

	mu     sync.Mutex
	topics map[topicKey]*topic
}

// New creates a synchronizer
func New(store Store, gate Gate, hub Broadcaster, sessions *session.Registry, opts Options) *Synchronizer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	return &Synchronizer{
		store:     store,
		gate:      gate,
		hub:       hub,
		sessions:  sessions,
		timers:    countdown.NewManager(opts.Clock, opts.TickInterval),
		clock:     opts.Clock,
		presets:   opts.Presets,
		activity:  opts.Activity,
		opTimeout: opts.OpTimeout,
		topics:    make(map[topicKey]*topic),
	}
}

type topicKey struct {
	kind models.TopicKind
	id   string
}

// String is the broadcast topic for the key
func (k topicKey) String() string {
	return string(k.kind) + ":" + k.id
}

// Topic returns the broadcast topic name of a room or board
func Topic(kind models.TopicKind, id string) string {
	return topicKey{kind: kind, id: id}.String()
}

// topic is the live state of one room or board. All fields are guarded by mu.
type topic struct {
	mu      sync.Mutex
	key     topicKey
	loaded  bool
	evicted bool

	room      *models.Room
	board     *models.Board
	cards     []models.Card
	members   map[string]*models.Participant
	countdown *countdown.Countdown
}

// admit checks secret against the loaded topic's hash. Callers hold t.mu,
// so a concurrent secret change cannot slip between check and use.
func (t *topic) admit(secret *string) error {
	hash := ""
	if t.room != nil {
		hash = t.room.SecretHash
	} else if t.board != nil {
		hash = t.board.SecretHash
	}
	if !access.Matches(hash, secret) {
		return fmt.Errorf("%s: %w", t.key, models.ErrForbidden)
	}
	return nil
}

func (t *topic) member(connectionID string) (*models.Participant, error) {
	m, ok := t.members[connectionID]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", connectionID, models.ErrNotFound)
	}
	return m, nil
}

func (t *topic) cardIndex(cardID string) (int, error) {
	for i := range t.cards {
		if t.cards[i].ID == cardID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("card %s: %w", cardID, models.ErrNotFound)
}

// acquire returns the topic locked and loaded. Topics are created and
// loaded under their own lock so concurrent first joins see one state.
func (s *Synchronizer) acquire(ctx context.Context, key topicKey) (*topic, error) {
	for {
		s.mu.Lock()
		t, ok := s.topics[key]
		if !ok {
			t = &topic{key: key}
			s.topics[key] = t
		}
		s.mu.Unlock()

		t.mu.Lock()
		if t.evicted {
			// lost a race with eviction; the map already holds a fresh topic or none
			t.mu.Unlock()
			continue
		}
		if !t.loaded {
			if err := s.load(ctx, t); err != nil {
				s.evict(t)
				t.mu.Unlock()
				return nil, err
			}
		}
		return t, nil
	}
}

// existing returns a loaded topic locked, or nil when it is not live
func (s *Synchronizer) existing(key topicKey) *topic {
	s.mu.Lock()
	t, ok := s.topics[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	t.mu.Lock()
	if t.evicted || !t.loaded {
		t.mu.Unlock()
		return nil
	}
	return t
}

// release unlocks t, evicting it first when nothing keeps it alive
func (s *Synchronizer) release(t *topic) {
	if t.loaded && len(t.members) == 0 && t.countdown == nil {
		s.evict(t)
	}
	t.mu.Unlock()
}

// evict must be called with t.mu held
func (s *Synchronizer) evict(t *topic) {
	t.evicted = true
	s.mu.Lock()
	if s.topics[t.key] == t {
		delete(s.topics, t.key)
	}
	s.mu.Unlock()
}

func (s *Synchronizer) load(ctx context.Context, t *topic) error {
	switch t.key.kind {
	case models.TopicKindRoom:
		room, err := s.store.GetRoom(ctx, t.key.id)
		if err != nil {
			return fmt.Errorf("failed to load room: %w", err)
		}
		t.room = room
	case models.TopicKindBoard:
		board, err := s.store.GetBoard(ctx, t.key.id)
		if err != nil {
			return fmt.Errorf("failed to load board: %w", err)
		}
		cards, err := s.store.ListCards(ctx, t.key.id)
		if err != nil {
			return fmt.Errorf("failed to load cards: %w", err)
		}
		t.board = board
		t.cards = cards
	default:
		return fmt.Errorf("unknown topic kind %q: %w", t.key.kind, models.ErrInvalid)
	}

	stored, err := s.store.ListParticipants(ctx, t.key.id)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	t.members = make(map[string]*models.Participant, len(stored))
	for i := range stored {
		p := stored[i]
		if sess, ok := s.sessions.Lookup(p.ConnectionID); ok && sess.Kind == t.key.kind && sess.TopicID == t.key.id {
			t.members[p.ConnectionID] = &p
			continue
		}
		// rows without a live connection are leftovers from a crash or a failed leave
		if err := s.store.RemoveParticipant(ctx, t.key.id, p.ConnectionID); err != nil {
			log.Warn().Err(err).
				Str("topic", t.key.String()).
				Str("connection_id", p.ConnectionID).
				Msg("failed to remove stale participant")
		}
	}
	t.loaded = true

	if t.board != nil && t.board.Timer.Running {
		s.resumeTimer(ctx, t)
	}

	log.Debug().
		Str("topic", t.key.String()).
		Int("participants", len(t.members)).
		Msg("topic loaded")
	return nil
}

// JoinRequest asks to add a connection to a room or board
type JoinRequest struct {
	ConnectionID string           `json:"-"`
	Kind         models.TopicKind `json:"kind"`
	TopicID      string           `json:"topic_id"`
	Name         string           `json:"name"`
	Secret       *string          `json:"secret,omitempty"`
}

// Snapshot is the full state sent to a connection when it joins
type Snapshot struct {
	Kind         models.TopicKind `json:"kind"`
	ConnectionID string           `json:"connection_id"`
	Name         string           `json:"name"`
	Room         *RoomView        `json:"room,omitempty"`
	Board        *BoardView       `json:"board,omitempty"`
}

// Join adds a connection to a topic. The caller receives the full snapshot
// as a unicast event and everyone in the topic receives the updated view.
// A connection already in a topic leaves it first.
func (s *Synchronizer) Join(ctx context.Context, req JoinRequest) (*Snapshot, error) {
	name, err := cleanName(req.Name)
	if err != nil {
		return nil, err
	}
	if !req.Kind.Valid() || req.TopicID == "" || req.ConnectionID == "" {
		return nil, fmt.Errorf("join requires kind, topic and connection: %w", models.ErrInvalid)
	}
	if err := s.gate.Check(ctx, req.Kind, req.TopicID, req.Secret); err != nil {
		return nil, err
	}
	if _, ok := s.sessions.Lookup(req.ConnectionID); ok {
		s.Leave(ctx, req.ConnectionID)
	}

	key := topicKey{kind: req.Kind, id: req.TopicID}
	t, err := s.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer s.release(t)

	// the secret may have changed since the check above
	if err := t.admit(req.Secret); err != nil {
		return nil, err
	}

	p := models.Participant{
		TopicID:      req.TopicID,
		ConnectionID: req.ConnectionID,
		Name:         name,
		JoinedAt:     s.clock.Now().UTC(),
	}
	if err := s.store.UpsertParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record participant: %w", err)
	}

	t.members[p.ConnectionID] = &p
	s.sessions.Register(session.Session{
		ConnectionID: p.ConnectionID,
		TopicID:      req.TopicID,
		Kind:         req.Kind,
		Name:         name,
	})
	s.hub.Subscribe(key.String(), p.ConnectionID)

	snap := &Snapshot{Kind: req.Kind, ConnectionID: p.ConnectionID, Name: name}
	if t.room != nil {
		snap.Room = roomView(t)
	} else {
		snap.Board = boardView(t)
	}
	s.unicast(p.ConnectionID, req.TopicID, events.EventTypeJoined, snap)
	s.broadcastView(t)
	s.emit(t, eventbus.ActivityParticipantJoined, name)

	log.Info().
		Str("topic", key.String()).
		Str("connection_id", p.ConnectionID).
		Str("name", name).
		Msg("participant joined")
	return snap, nil
}

// Leave removes a connection from its topic. It is a no-op for a
// connection that never joined.
func (s *Synchronizer) Leave(ctx context.Context, connectionID string) {
	sess, ok := s.sessions.Unregister(connectionID)
	if !ok {
		return
	}
	key := topicKey{kind: sess.Kind, id: sess.TopicID}
	s.hub.Unsubscribe(key.String(), connectionID)

	t, err := s.acquire(ctx, key)
	if err != nil {
		log.Error().Err(err).
			Str("topic", key.String()).
			Str("connection_id", connectionID).
			Msg("failed to load topic on leave")
		s.removeParticipant(ctx, key, connectionID)
		return
	}
	defer s.release(t)

	s.removeParticipant(ctx, key, connectionID)

	if _, present := t.members[connectionID]; !present {
		return
	}
	delete(t.members, connectionID)
	s.broadcastView(t)
	s.emit(t, eventbus.ActivityParticipantLeft, sess.Name)

	log.Info().
		Str("topic", key.String()).
		Str("connection_id", connectionID).
		Msg("participant left")
}

// removeParticipant deletes the durable row. A failure is logged only: the
// connection is gone, and the row is reconciled away on the next load.
func (s *Synchronizer) removeParticipant(ctx context.Context, key topicKey, connectionID string) {
	if err := s.store.RemoveParticipant(ctx, key.id, connectionID); err != nil {
		log.Error().Err(err).
			Str("topic", key.String()).
			Str("connection_id", connectionID).
			Msg("failed to remove participant")
	}
}

// RoomView returns the public view of a room. A secured room requires
// its secret, as for Join.
func (s *Synchronizer) RoomView(ctx context.Context, id string, secret *string) (*RoomView, error) {
	t, err := s.acquire(ctx, topicKey{kind: models.TopicKindRoom, id: id})
	if err != nil {
		return nil, err
	}
	defer s.release(t)
	if err := t.admit(secret); err != nil {
		return nil, err
	}
	return roomView(t), nil
}

// BoardView returns the public view of a board. A secured board requires
// its secret, as for Join.
func (s *Synchronizer) BoardView(ctx context.Context, id string, secret *string) (*BoardView, error) {
	t, err := s.acquire(ctx, topicKey{kind: models.TopicKindBoard, id: id})
	if err != nil {
		return nil, err
	}
	defer s.release(t)
	if err := t.admit(secret); err != nil {
		return nil, err
	}
	return boardView(t), nil
}

// Stats is a point-in-time snapshot of loaded topics, sessions and
// live board countdowns.
type Stats struct {
	Topics     int               `json:"topics"`
	Sessions   int               `json:"sessions"`
	Countdowns int               `json:"countdowns"`
	Timers     []countdown.Timer `json:"timers"`
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	n := len(s.topics)
	s.mu.Unlock()
	timers := s.timers.Timers()
	return Stats{
		Topics:     n,
		Sessions:   s.sessions.Len(),
		Countdowns: len(timers),
		Timers:     timers,
	}
}

// Close cancels every running countdown and waits for their goroutines
func (s *Synchronizer) Close() {
	s.timers.StopAll()
}

func (s *Synchronizer) broadcast(t *topic, eventType events.EventType, payload any) {
	ev, err := events.New(t.key.id, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("topic", t.key.String()).Msg("failed to build event")
		return
	}
	s.hub.Broadcast(t.key.String(), ev)
}

func (s *Synchronizer) unicast(connectionID, topicID string, eventType events.EventType, payload any) {
	ev, err := events.New(topicID, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to build event")
		return
	}
	s.hub.Unicast(connectionID, ev)
}

// broadcastView sends the topic's full public view
func (s *Synchronizer) broadcastView(t *topic) {
	if t.room != nil {
		s.broadcast(t, events.EventTypeParticipants, roomView(t))
		return
	}
	s.broadcast(t, events.EventTypeBoard, boardView(t))
}

func (s *Synchronizer) emit(t *topic, activityType eventbus.ActivityType, actor string, attrs ...string) {
	if s.activity == nil {
		return
	}
	a := eventbus.NewActivity(t.key.kind, t.key.id, activityType, actor, s.clock.Now())
	for i := 0; i+1 < len(attrs); i += 2 {
		a = a.With(attrs[i], attrs[i+1])
	}
	s.activity.Emit(a)
}

const (
	maxNameLen   = 64
	maxColumnLen = 64
	maxBodyLen   = 4000
)

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("display name is required: %w", models.ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("display name longer than %d characters: %w", maxNameLen, models.ErrInvalid)
	}
	return name, nil
}
