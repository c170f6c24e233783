package collab

import (
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
)

func timerOf(t *testing.T, ev *events.Event) events.TimerPayload {
	t.Helper()
	var p events.TimerPayload
	if err := ev.Decode(&p); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return p
}

func TestBoardTimerRunsToExpiry(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1", Timer: models.TimerState{Default: 300}})
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")
	f.hub.drain()

	f.apply(t, "a", &StartTimer{})
	started := timerOf(t, f.hub.next(t, events.EventTypeTimerStarted))
	if !started.Running || started.TimeLeft != 300 {
		t.Fatalf("timer.started = %+v, want running with 300s", started)
	}

	for want := 299; want >= 1; want-- {
		f.clock.Advance(time.Second)
		got := timerOf(t, f.hub.next(t, events.EventTypeTimerUpdated))
		if got.TimeLeft != want || !got.Running {
			t.Fatalf("timer.updated = %+v, want %ds left", got, want)
		}
	}
	f.clock.Advance(time.Second)
	stopped := timerOf(t, f.hub.next(t, events.EventTypeTimerStopped))
	if stopped.Running || stopped.TimeLeft != 0 || !stopped.Expired {
		t.Fatalf("timer.stopped = %+v, want expired at 0", stopped)
	}

	board, _ := f.store.GetBoard(f.ctx, "B1")
	if board.Timer.Running || board.Timer.Remaining != 0 {
		t.Fatalf("stored timer = %+v, want stopped", board.Timer)
	}
	if n := f.sync.Stats().Countdowns; n != 0 {
		t.Fatalf("live countdowns = %d after expiry, want 0", n)
	}

	f.clock.Advance(time.Second)
	f.hub.quiet(t)

	f.apply(t, "a", &StartTimer{})
	f.apply(t, "a", &StopTimer{})
	f.hub.next(t, events.EventTypeTimerStarted)
	f.hub.next(t, events.EventTypeTimerStopped)
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
	}
	f.hub.quiet(t)
	if n := f.sync.Stats().Countdowns; n != 0 {
		t.Fatalf("live countdowns = %d after stop, want 0", n)
	}
}

func TestBoardTimerRestartKeepsOneCountdown(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1", Timer: models.TimerState{Default: 300}})
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")

	f.apply(t, "a", &StartTimer{})
	restarted := f.clock.Now()
	f.apply(t, "a", &StartTimer{Duration: ptr(60)})
	st := f.sync.Stats()
	if st.Countdowns != 1 || len(st.Timers) != 1 {
		t.Fatalf("Stats() = %+v, want one live countdown", st)
	}
	if got := st.Timers[0]; got.BoardID != "B1" || got.Duration != 60 || !got.StartedAt.Equal(restarted) {
		t.Fatalf("Stats().Timers[0] = %+v, want B1 for 60s started at %v", got, restarted)
	}
	f.hub.drain()

	f.clock.Advance(time.Second)
	got := timerOf(t, f.hub.next(t, events.EventTypeTimerUpdated))
	if got.TimeLeft != 59 || got.Duration != 60 {
		t.Fatalf("timer.updated = %+v, want 59s of 60", got)
	}
	f.hub.quiet(t)
}

func TestBoardTimerTickSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1", Timer: models.TimerState{Default: 10}})
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")
	f.apply(t, "a", &StartTimer{})
	f.hub.drain()

	f.store.FailNext(errors.New("db down"))
	f.clock.Advance(time.Second)
	if got := timerOf(t, f.hub.next(t, events.EventTypeTimerUpdated)); got.TimeLeft != 9 {
		t.Fatalf("timer.updated = %+v, want 9s left", got)
	}
}

func TestBoardResumesPersistedTimer(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1", Timer: models.TimerState{Running: true, Remaining: 2, Default: 300}})

	view, err := f.sync.BoardView(f.ctx, "B1", nil)
	if err != nil {
		t.Fatalf("BoardView() error = %v", err)
	}
	if !view.Timer.Running || view.Timer.TimeLeft != 2 {
		t.Fatalf("timer = %+v, want running with 2s", view.Timer)
	}
	if n := f.sync.Stats().Countdowns; n != 1 {
		t.Fatalf("live countdowns = %d, want 1 after resume", n)
	}

	f.clock.Advance(time.Second)
	f.hub.next(t, events.EventTypeTimerUpdated)
	f.clock.Advance(time.Second)
	f.hub.next(t, events.EventTypeTimerStopped)

	board, _ := f.store.GetBoard(f.ctx, "B1")
	if board.Timer.Running {
		t.Fatal("stored timer still running after resumed countdown expired")
	}
	// the tick callback evicts the idle board after broadcasting
	eventually(t, func() bool { return f.sync.Stats().Topics == 0 })
}

func TestBoardCards(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1", HideCardsByDefault: true})
	topic := Topic(models.TopicKindBoard, "B1")
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")
	f.join(t, models.TopicKindBoard, "B1", "b", "Bob")

	f.apply(t, "a", &AddCard{ColumnID: "went-well", Body: " shipped on time "})
	view := lastBoardView(t, f.hub, topic)
	if len(view.Cards) != 1 {
		t.Fatalf("cards = %+v, want one", view.Cards)
	}
	card := view.Cards[0]
	if card.Author != "Alice" || card.Body != "shipped on time" || !card.Hidden {
		t.Fatalf("card = %+v, want hidden card by Alice", card)
	}

	f.apply(t, "b", &EditCard{CardID: card.ID, ColumnID: ptr("to-improve")})
	if got := lastBoardView(t, f.hub, topic).Cards[0]; got.ColumnID != "to-improve" || got.Body != "shipped on time" {
		t.Fatalf("edited card = %+v, want moved with body kept", got)
	}

	f.apply(t, "b", &ToggleCardVisibility{CardID: card.ID})
	var vis events.VisibilityPayload
	decodeLast(t, f.hub, topic, events.EventTypeVisibility, &vis)
	if vis.CardID != card.ID || vis.Hidden {
		t.Fatalf("visibility = %+v, want card shown", vis)
	}

	f.apply(t, "a", &SetCardsVisibility{Hidden: true})
	var all events.VisibilityPayload
	decodeLast(t, f.hub, topic, events.EventTypeVisibility, &all)
	if all.CardID != "" || !all.Hidden {
		t.Fatalf("visibility = %+v, want all hidden", all)
	}
	stored, _ := f.store.ListCards(f.ctx, "B1")
	if !stored[0].Hidden {
		t.Fatal("stored card not hidden")
	}

	f.apply(t, "a", &DeleteCard{CardID: card.ID})
	if got := lastBoardView(t, f.hub, topic).Cards; len(got) != 0 {
		t.Fatalf("cards after delete = %+v, want none", got)
	}
	if err := f.sync.Apply(f.ctx, "a", &DeleteCard{CardID: card.ID}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("DeleteCard(again) error = %v, want ErrNotFound", err)
	}
}

func TestToggleCardVoteIsItsOwnInverse(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1"})
	topic := Topic(models.TopicKindBoard, "B1")
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")
	f.join(t, models.TopicKindBoard, "B1", "b", "Bob")
	f.apply(t, "a", &AddCard{ColumnID: "went-well", Body: "pairing"})
	cardID := lastBoardView(t, f.hub, topic).Cards[0].ID

	f.apply(t, "a", &ToggleCardVote{CardID: cardID})
	f.apply(t, "b", &ToggleCardVote{CardID: cardID})
	if got := lastBoardView(t, f.hub, topic).Cards[0].Voters; len(got) != 2 {
		t.Fatalf("voters = %v, want Alice and Bob", got)
	}

	f.apply(t, "b", &ToggleCardVote{CardID: cardID})
	got := lastBoardView(t, f.hub, topic).Cards[0].Voters
	if len(got) != 1 || got[0] != "Alice" {
		t.Fatalf("voters = %v, want [Alice]", got)
	}
	stored, _ := f.store.ListCards(f.ctx, "B1")
	if len(stored[0].Voters) != 1 || stored[0].Voters[0] != "Alice" {
		t.Fatalf("stored voters = %v, want [Alice]", stored[0].Voters)
	}

	if err := f.sync.Apply(f.ctx, "a", &ToggleCardVote{CardID: "missing"}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("ToggleCardVote(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRenameRelabelsAuthoredCards(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1"})
	topic := Topic(models.TopicKindBoard, "B1")
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")
	f.join(t, models.TopicKindBoard, "B1", "b", "Bob")
	f.apply(t, "a", &AddCard{ColumnID: "went-well", Body: "retro notes"})
	f.apply(t, "b", &AddCard{ColumnID: "went-well", Body: "deploys"})

	f.apply(t, "a", &Rename{Name: "Alicia"})

	view := lastBoardView(t, f.hub, topic)
	if view.Cards[0].Author != "Alicia" || view.Cards[1].Author != "Bob" {
		t.Fatalf("authors = %q, %q, want Alicia, Bob", view.Cards[0].Author, view.Cards[1].Author)
	}
	stored, _ := f.store.ListCards(f.ctx, "B1")
	if stored[0].Author != "Alicia" {
		t.Fatalf("stored author = %q, want Alicia", stored[0].Author)
	}
	if sess, _ := f.sessions.Lookup("a"); sess.Name != "Alicia" {
		t.Fatalf("session name = %q, want Alicia", sess.Name)
	}
}

func TestBoardHideAuthorNames(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1"})
	topic := Topic(models.TopicKindBoard, "B1")
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")
	f.apply(t, "a", &AddCard{ColumnID: "went-well", Body: "anonymous feedback"})

	f.apply(t, "a", &UpdateSettings{HideAuthorNames: ptr(true), TimerDefault: ptr(120)})

	var settings BoardSettings
	decodeLast(t, f.hub, topic, events.EventTypeSettings, &settings)
	if !settings.HideAuthorNames || settings.TimerDefault != 120 {
		t.Fatalf("settings = %+v, want hidden authors and 120s default", settings)
	}
	if got := lastBoardView(t, f.hub, topic).Cards[0].Author; got != "" {
		t.Fatalf("author = %q, want hidden", got)
	}

	f.hub.drain()
	f.apply(t, "a", &StartTimer{})
	if got := timerOf(t, f.hub.next(t, events.EventTypeTimerStarted)); got.TimeLeft != 120 {
		t.Fatalf("timer.started = %+v, want new default of 120s", got)
	}
}

func TestBoardCommandValidation(t *testing.T) {
	f := newFixture(t)
	f.board(t, models.Board{ID: "B1"})
	f.join(t, models.TopicKindBoard, "B1", "a", "Alice")

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"room vote", &Vote{Value: ptr("1")}, models.ErrInvalid},
		{"blank body", &AddCard{ColumnID: "c", Body: "   "}, models.ErrInvalid},
		{"blank column", &AddCard{ColumnID: "", Body: "x"}, models.ErrInvalid},
		{"edit nothing", &EditCard{CardID: "missing"}, models.ErrNotFound},
		{"timer without default", &StartTimer{}, models.ErrInvalid},
		{"negative timer", &StartTimer{Duration: ptr(-5)}, models.ErrInvalid},
		{"vote settings", &UpdateSettings{VoteValues: []string{"1"}}, models.ErrInvalid},
		{"zero default", &UpdateSettings{TimerDefault: ptr(0)}, models.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.sync.Apply(f.ctx, "a", tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.want)
			}
		})
	}
}
