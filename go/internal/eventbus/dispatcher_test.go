package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/teamsync/go/internal/models"
)

type recordingPublisher struct {
	mu       sync.Mutex
	got      []Activity
	failures int
	block    chan struct{}
}

func (p *recordingPublisher) Publish(_ context.Context, a Activity) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("sink unavailable")
	}
	p.got = append(p.got, a)
	return nil
}

func (p *recordingPublisher) published() []Activity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Activity(nil), p.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, Config{Buffer: 8})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	first := NewActivity(models.TopicKindRoom, "R1", ActivityVoteCast, "Alice", now)
	second := NewActivity(models.TopicKindRoom, "R1", ActivityVotesRevealed, "Bob", now)
	d.Emit(first)
	d.Emit(second)

	waitFor(t, func() bool { return len(pub.published()) == 2 })
	got := pub.published()
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("published order = %s, %s, want %s, %s", got[0].Type, got[1].Type, first.Type, second.Type)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := d.Stop(); err == nil {
		t.Fatal("second Stop() error = nil, want error")
	}
}

func TestDispatcherRetries(t *testing.T) {
	pub := &recordingPublisher{failures: 2}
	d := NewDispatcher(pub, Config{Buffer: 4, MaxRetries: 3, RetryDelay: time.Millisecond})
	_ = d.Start(context.Background())
	defer d.Stop()

	d.Emit(NewActivity(models.TopicKindBoard, "B1", ActivityCardAdded, "Alice", time.Now()))
	waitFor(t, func() bool { return len(pub.published()) == 1 })
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	d := NewDispatcher(pub, Config{Buffer: 1})
	_ = d.Start(context.Background())

	a := NewActivity(models.TopicKindBoard, "B1", ActivityTimerStarted, "", time.Now())
	// the worker takes the first activity and blocks in Publish
	d.Emit(a)
	waitFor(t, func() bool { return len(d.queue) == 0 })

	if !d.Emit(a) {
		t.Fatal("Emit() into empty buffer = false, want true")
	}
	if d.Emit(a) {
		t.Fatal("Emit() into full buffer = true, want false")
	}
	if d.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", d.Dropped())
	}

	close(pub.block)
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(pub.published()); n != 2 {
		t.Fatalf("published %d activities, want 2 after drain", n)
	}
}

func TestActivityWithCopiesAttributes(t *testing.T) {
	base := NewActivity(models.TopicKindRoom, "R1", ActivityVoteCast, "Alice", time.Now()).With("vote", "5")
	derived := base.With("vote", "8")

	if base.Attributes["vote"] != "5" || derived.Attributes["vote"] != "8" {
		t.Fatalf("attributes = %v, %v, want independent copies", base.Attributes, derived.Attributes)
	}
}

func TestSubjectFor(t *testing.T) {
	a := NewActivity(models.TopicKindBoard, "B1", ActivityTimerExpired, "", time.Now())
	if got, want := subjectFor("teamsync.activity", a), "teamsync.activity.board.timer_expired"; got != want {
		t.Fatalf("subjectFor() = %q, want %q", got, want)
	}
}
