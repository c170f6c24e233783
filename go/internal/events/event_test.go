package events

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	ev, err := New("B1", EventTypeTimerUpdated, TimerPayload{Running: true, TimeLeft: 299, Duration: 300})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("New() = %+v, want ID and timestamp set", ev)
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"id", "topic_id", "type", "timestamp", "data"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("envelope missing %q: %s", key, raw)
		}
	}

	var got TimerPayload
	if err := ev.Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.TimeLeft != 299 || !got.Running {
		t.Fatalf("payload = %+v, want running with 299s", got)
	}
}

func TestNewRejectsUnmarshalablePayload(t *testing.T) {
	if _, err := New("R1", EventTypeError, make(chan int)); err == nil {
		t.Fatal("New(chan) error = nil, want marshal error")
	}
}
