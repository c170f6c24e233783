package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/teamsync/go/internal/access"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/mcdev12/teamsync/go/internal/session"
	"github.com/mcdev12/teamsync/go/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type sent struct {
	topic      string // empty for unicast
	connection string // empty for broadcast
	event      *events.Event
}

// recorder is a Broadcaster that keeps everything it is asked to deliver
type recorder struct {
	mu     sync.Mutex
	subs   map[string]map[string]bool
	sent   []sent
	notify chan sent
}

func newRecorder() *recorder {
	return &recorder{
		subs:   make(map[string]map[string]bool),
		notify: make(chan sent, 4096),
	}
}

func (r *recorder) Subscribe(topic, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[topic] == nil {
		r.subs[topic] = make(map[string]bool)
	}
	r.subs[topic][connectionID] = true
}

func (r *recorder) Unsubscribe(topic, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[topic], connectionID)
}

func (r *recorder) Broadcast(topic string, ev *events.Event) {
	r.add(sent{topic: topic, event: ev})
}

func (r *recorder) Unicast(connectionID string, ev *events.Event) {
	r.add(sent{connection: connectionID, event: ev})
}

func (r *recorder) add(s sent) {
	r.mu.Lock()
	r.sent = append(r.sent, s)
	r.mu.Unlock()
	select {
	case r.notify <- s:
	default:
	}
}

// drain forgets everything recorded so far
func (r *recorder) drain() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
	for {
		select {
		case <-r.notify:
		default:
			return
		}
	}
}

func (r *recorder) broadcasts(topic string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, s := range r.sent {
		if s.topic == topic {
			out = append(out, s.event)
		}
	}
	return out
}

func (r *recorder) unicasts(connectionID string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, s := range r.sent {
		if s.connection == connectionID {
			out = append(out, s.event)
		}
	}
	return out
}

func (r *recorder) subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[topic])
}

// next waits for the next recorded event of the given type
func (r *recorder) next(t *testing.T, eventType events.EventType) *events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.notify:
			if s.event.Type == eventType {
				return s.event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", eventType)
			return nil
		}
	}
}

// quiet fails if anything is delivered within a short window
func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.notify:
		t.Fatalf("unexpected %s event", s.event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type fixture struct {
	ctx      context.Context
	store    *storage.MemoryStore
	gate     *access.Gate
	hub      *recorder
	sessions *session.Registry
	clock    fakeClock
	sync     *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	gate := access.NewGate(store).WithCost(bcrypt.MinCost)
	hub := newRecorder()
	sessions := session.NewRegistry()
	clock := clockwork.NewFakeClock()

	s := New(store, gate, hub, sessions, Options{
		Clock:        clock,
		TickInterval: time.Second,
		Presets:      map[string][]string{"tshirt": {"S", "M", "L"}},
	})
	t.Cleanup(s.Close)

	return &fixture{
		ctx:      context.Background(),
		store:    store,
		gate:     gate,
		hub:      hub,
		sessions: sessions,
		clock:    clock,
		sync:     s,
	}
}

func (f *fixture) room(t *testing.T, id, secret string) {
	t.Helper()
	hash, err := f.gate.Hash(secret)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	room := models.Room{
		ID:         id,
		Name:       "Planning " + id,
		Votes:      models.VoteSequence{Preset: "fibonacci", Values: []string{"1", "2", "3", "5", "8"}},
		SecretHash: hash,
	}
	if err := f.store.CreateRoom(f.ctx, room); err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
}

func (f *fixture) board(t *testing.T, board models.Board) {
	t.Helper()
	if board.Name == "" {
		board.Name = "Retro " + board.ID
	}
	if err := f.store.CreateBoard(f.ctx, board); err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
}

func (f *fixture) join(t *testing.T, kind models.TopicKind, topicID, connID, name string) *Snapshot {
	t.Helper()
	snap, err := f.sync.Join(f.ctx, JoinRequest{ConnectionID: connID, Kind: kind, TopicID: topicID, Name: name})
	if err != nil {
		t.Fatalf("Join(%s, %s) error = %v", topicID, name, err)
	}
	return snap
}

func (f *fixture) apply(t *testing.T, connID string, cmd Command) {
	t.Helper()
	if err := f.sync.Apply(f.ctx, connID, cmd); err != nil {
		t.Fatalf("Apply(%s) error = %v", cmd.Type(), err)
	}
}

func lastRoomView(t *testing.T, hub *recorder, topic string) RoomView {
	t.Helper()
	var view RoomView
	decodeLast(t, hub, topic, events.EventTypeParticipants, &view)
	return view
}

func lastBoardView(t *testing.T, hub *recorder, topic string) BoardView {
	t.Helper()
	var view BoardView
	decodeLast(t, hub, topic, events.EventTypeBoard, &view)
	return view
}

func decodeLast(t *testing.T, hub *recorder, topic string, eventType events.EventType, v any) {
	t.Helper()
	evs := hub.broadcasts(topic)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == eventType {
			if err := evs[i].Decode(v); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			return
		}
	}
	t.Fatalf("no %s broadcast on %s", eventType, topic)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ptr[T any](v T) *T { return &v }
