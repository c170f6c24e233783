package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/mcdev12/teamsync/go/internal/access"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
)

func TestRoomJoinVoteDisconnect(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "")
	topic := Topic(models.TopicKindRoom, "R1")

	snap := f.join(t, models.TopicKindRoom, "R1", "a", "Alice")
	if snap.Room == nil || len(snap.Room.Participants) != 1 {
		t.Fatalf("snapshot = %+v, want room with one participant", snap)
	}
	if got := f.hub.unicasts("a"); len(got) != 1 || got[0].Type != events.EventTypeJoined {
		t.Fatalf("unicasts to a = %v, want one joined event", got)
	}
	view := lastRoomView(t, f.hub, topic)
	if len(view.Participants) != 1 || view.Participants[0].Name != "Alice" || view.Participants[0].Vote != nil {
		t.Fatalf("participants = %+v, want [Alice: null]", view.Participants)
	}

	f.apply(t, "a", &Vote{Value: ptr("5")})
	view = lastRoomView(t, f.hub, topic)
	if len(view.Participants) != 1 || view.Participants[0].Vote == nil || *view.Participants[0].Vote != "5" {
		t.Fatalf("participants = %+v, want [Alice: 5]", view.Participants)
	}

	f.sync.Leave(f.ctx, "a")
	view = lastRoomView(t, f.hub, topic)
	if len(view.Participants) != 0 {
		t.Fatalf("participants = %+v, want []", view.Participants)
	}

	stored, _ := f.store.ListParticipants(f.ctx, "R1")
	if len(stored) != 0 {
		t.Fatalf("stored participants = %+v, want none", stored)
	}
	if st := f.sync.Stats(); st.Topics != 0 || st.Sessions != 0 {
		t.Fatalf("Stats() = %+v, want empty room evicted", st)
	}
	if f.hub.subscribers(topic) != 0 {
		t.Fatal("connection still subscribed after leave")
	}
}

func TestRoomJoinWithSecret(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R2", "pw1")
	topic := Topic(models.TopicKindRoom, "R2")

	for _, secret := range []*string{ptr("pw2"), nil, ptr("")} {
		_, err := f.sync.Join(f.ctx, JoinRequest{ConnectionID: "a", Kind: models.TopicKindRoom, TopicID: "R2", Name: "Alice", Secret: secret})
		if !errors.Is(err, models.ErrForbidden) {
			t.Fatalf("Join(wrong secret) error = %v, want ErrForbidden", err)
		}
	}
	if n := len(f.hub.broadcasts(topic)); n != 0 {
		t.Fatalf("forbidden joins broadcast %d events, want 0", n)
	}
	if stored, _ := f.store.ListParticipants(f.ctx, "R2"); len(stored) != 0 {
		t.Fatalf("stored participants = %+v, want none", stored)
	}
	if _, ok := f.sessions.Lookup("a"); ok {
		t.Fatal("forbidden join registered a session")
	}

	snap, err := f.sync.Join(f.ctx, JoinRequest{ConnectionID: "a", Kind: models.TopicKindRoom, TopicID: "R2", Name: "Alice", Secret: ptr("pw1")})
	if err != nil {
		t.Fatalf("Join(pw1) error = %v", err)
	}
	if !snap.Room.Secured || len(snap.Room.Participants) != 1 {
		t.Fatalf("snapshot room = %+v, want secured with Alice", snap.Room)
	}
}

func TestRoomJoinUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.sync.Join(f.ctx, JoinRequest{ConnectionID: "a", Kind: models.TopicKindRoom, TopicID: "nope", Name: "Alice"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Join(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRoomRevealAndReset(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "")
	topic := Topic(models.TopicKindRoom, "R1")
	f.join(t, models.TopicKindRoom, "R1", "a", "Alice")
	f.join(t, models.TopicKindRoom, "R1", "b", "Bob")

	f.apply(t, "a", &Vote{Value: ptr("3")})
	f.apply(t, "b", &Vote{Value: ptr("8")})
	f.apply(t, "b", &RevealVotes{})
	if view := lastRoomView(t, f.hub, topic); !view.Revealed {
		t.Fatal("room not revealed after reveal")
	}

	f.apply(t, "a", &ResetVotes{})
	view := lastRoomView(t, f.hub, topic)
	if view.Revealed {
		t.Fatal("room still revealed after reset")
	}
	for _, p := range view.Participants {
		if p.Vote != nil {
			t.Fatalf("%s still has vote %q after reset", p.Name, *p.Vote)
		}
	}
	stored, _ := f.store.ListParticipants(f.ctx, "R1")
	for _, p := range stored {
		if p.Vote != nil {
			t.Fatalf("stored vote for %s survived reset", p.Name)
		}
	}

	// reset is a transition without precondition
	f.apply(t, "a", &ResetVotes{})
}

func TestRoomVoteValidation(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "")
	topic := Topic(models.TopicKindRoom, "R1")
	f.join(t, models.TopicKindRoom, "R1", "a", "Alice")
	before := len(f.hub.broadcasts(topic))

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"value outside sequence", &Vote{Value: ptr("13")}, models.ErrInvalid},
		{"board command", &AddCard{ColumnID: "c", Body: "b"}, models.ErrInvalid},
		{"timer on room", &StartTimer{}, models.ErrInvalid},
		{"blank rename", &Rename{Name: "  "}, models.ErrInvalid},
		{"empty settings", &UpdateSettings{}, models.ErrInvalid},
		{"board settings", &UpdateSettings{TimerDefault: ptr(60)}, models.ErrInvalid},
		{"unknown preset", &UpdateSettings{VotePreset: ptr("nope")}, models.ErrInvalid},
		{"empty values", &UpdateSettings{VoteValues: []string{}}, models.ErrInvalid},
		{"duplicate values", &UpdateSettings{VoteValues: []string{"1", "1"}}, models.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.sync.Apply(f.ctx, "a", tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.want)
			}
		})
	}
	if after := len(f.hub.broadcasts(topic)); after != before {
		t.Fatalf("rejected commands broadcast %d events", after-before)
	}
}

func TestApplyWithoutSession(t *testing.T) {
	f := newFixture(t)

	if err := f.sync.Apply(f.ctx, "ghost", &Vote{Value: ptr("1")}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Apply(no session) error = %v, want ErrNotFound", err)
	}
}

func TestRoomStoreFailureBroadcastsNothing(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "")
	topic := Topic(models.TopicKindRoom, "R1")
	f.join(t, models.TopicKindRoom, "R1", "a", "Alice")
	before := len(f.hub.broadcasts(topic))

	boom := errors.New("db down")
	f.store.FailNext(boom)
	if err := f.sync.Apply(f.ctx, "a", &Vote{Value: ptr("5")}); !errors.Is(err, boom) {
		t.Fatalf("Apply() error = %v, want %v", err, boom)
	}
	if after := len(f.hub.broadcasts(topic)); after != before {
		t.Fatal("failed write was broadcast")
	}

	room, _ := f.sync.RoomView(f.ctx, "R1", nil)
	if room.Participants[0].Vote != nil {
		t.Fatal("in-memory vote changed despite failed write")
	}
}

func TestRoomSettings(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "pw1")
	topic := Topic(models.TopicKindRoom, "R1")
	if _, err := f.sync.Join(f.ctx, JoinRequest{ConnectionID: "a", Kind: models.TopicKindRoom, TopicID: "R1", Name: "Alice", Secret: ptr("pw1")}); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	err := f.sync.Apply(f.ctx, "a", &UpdateSettings{Name: ptr("Sprint 12")})
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("UpdateSettings(no secret) error = %v, want ErrForbidden", err)
	}

	f.apply(t, "a", &UpdateSettings{Secret: ptr("pw1"), Name: ptr("Sprint 12"), VotePreset: ptr("tshirt")})
	var settings RoomSettings
	decodeLast(t, f.hub, topic, events.EventTypeSettings, &settings)
	if settings.Name != "Sprint 12" || settings.Votes.Preset != "tshirt" || !settings.Secured {
		t.Fatalf("settings = %+v, want renamed tshirt room still secured", settings)
	}
	if err := f.sync.Apply(f.ctx, "a", &Vote{Value: ptr("M")}); err != nil {
		t.Fatalf("Vote(M) after preset change error = %v", err)
	}

	f.apply(t, "a", &UpdateSettings{Secret: ptr("pw1"), NewSecret: ptr("")})
	decodeLast(t, f.hub, topic, events.EventTypeSettings, &settings)
	if settings.Secured {
		t.Fatal("room still secured after clearing the secret")
	}
	if hash, _ := f.store.SecretHash(f.ctx, models.TopicKindRoom, "R1"); hash != "" {
		t.Fatalf("stored hash = %q, want empty", hash)
	}
}

func TestJoinMovesConnectionBetweenTopics(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "")
	f.room(t, "R3", "")

	f.join(t, models.TopicKindRoom, "R1", "a", "Alice")
	f.join(t, models.TopicKindRoom, "R1", "b", "Bob")
	f.join(t, models.TopicKindRoom, "R3", "a", "Alice")

	r1 := lastRoomView(t, f.hub, Topic(models.TopicKindRoom, "R1"))
	if len(r1.Participants) != 1 || r1.Participants[0].Name != "Bob" {
		t.Fatalf("R1 participants = %+v, want only Bob", r1.Participants)
	}
	sess, ok := f.sessions.Lookup("a")
	if !ok || sess.TopicID != "R3" {
		t.Fatalf("session = %+v, %v, want R3", sess, ok)
	}
	if f.hub.subscribers(Topic(models.TopicKindRoom, "R1")) != 1 {
		t.Fatal("moved connection still subscribed to R1")
	}
}

func TestLeaveWithoutJoinIsNoop(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R1", "")

	f.sync.Leave(f.ctx, "never-joined")
	if n := len(f.hub.broadcasts(Topic(models.TopicKindRoom, "R1"))); n != 0 {
		t.Fatalf("Leave() broadcast %d events, want 0", n)
	}
}

// rotatingGate runs afterCheck once, between the gate check and the rest of
// the join
type rotatingGate struct {
	*access.Gate
	afterCheck func()
}

func (g *rotatingGate) Check(ctx context.Context, kind models.TopicKind, topicID string, secret *string) error {
	err := g.Gate.Check(ctx, kind, topicID, secret)
	if hook := g.afterCheck; hook != nil {
		g.afterCheck = nil
		hook()
	}
	return err
}

func TestJoinRejectsSecretRotatedAfterCheck(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R2", "pw1")
	gate := &rotatingGate{Gate: f.gate}
	s := New(f.store, gate, f.hub, f.sessions, Options{Clock: f.clock})
	t.Cleanup(s.Close)

	if _, err := s.Join(f.ctx, JoinRequest{ConnectionID: "owner", Kind: models.TopicKindRoom, TopicID: "R2", Name: "Owner", Secret: ptr("pw1")}); err != nil {
		t.Fatalf("Join(owner) error = %v", err)
	}

	gate.afterCheck = func() {
		if err := s.Apply(f.ctx, "owner", &UpdateSettings{Secret: ptr("pw1"), NewSecret: ptr("pw2")}); err != nil {
			t.Errorf("rotate secret error = %v", err)
		}
	}
	_, err := s.Join(f.ctx, JoinRequest{ConnectionID: "late", Kind: models.TopicKindRoom, TopicID: "R2", Name: "Late", Secret: ptr("pw1")})
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("Join(old secret) error = %v, want ErrForbidden", err)
	}

	if _, ok := f.sessions.Lookup("late"); ok {
		t.Fatal("rejected connection has a session")
	}
	stored, _ := f.store.ListParticipants(f.ctx, "R2")
	if len(stored) != 1 || stored[0].ConnectionID != "owner" {
		t.Fatalf("stored participants = %+v, want only owner", stored)
	}
}

func TestTopicViewsRequireSecret(t *testing.T) {
	f := newFixture(t)
	f.room(t, "R2", "pw1")
	hash, err := f.gate.Hash("pw1")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	f.board(t, models.Board{ID: "B2", SecretHash: hash})

	if _, err := f.sync.Join(f.ctx, JoinRequest{ConnectionID: "a", Kind: models.TopicKindRoom, TopicID: "R2", Name: "Alice", Secret: ptr("pw1")}); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	f.apply(t, "a", &Vote{Value: ptr("5")})

	for _, secret := range []*string{nil, ptr(""), ptr("pw2")} {
		if view, err := f.sync.RoomView(f.ctx, "R2", secret); !errors.Is(err, models.ErrForbidden) || view != nil {
			t.Fatalf("RoomView(wrong secret) = %+v, %v, want nil, ErrForbidden", view, err)
		}
		if view, err := f.sync.BoardView(f.ctx, "B2", secret); !errors.Is(err, models.ErrForbidden) || view != nil {
			t.Fatalf("BoardView(wrong secret) = %+v, %v, want nil, ErrForbidden", view, err)
		}
	}

	view, err := f.sync.RoomView(f.ctx, "R2", ptr("pw1"))
	if err != nil {
		t.Fatalf("RoomView(pw1) error = %v", err)
	}
	if len(view.Participants) != 1 || view.Participants[0].Vote == nil {
		t.Fatalf("participants = %+v, want Alice with her vote", view.Participants)
	}
	if _, err := f.sync.BoardView(f.ctx, "B2", ptr("pw1")); err != nil {
		t.Fatalf("BoardView(pw1) error = %v", err)
	}
}
