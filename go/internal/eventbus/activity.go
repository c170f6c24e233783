package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/teamsync/go/internal/models"
)

// ActivityType names something that happened in a topic
type ActivityType string

const (
	ActivityParticipantJoined  ActivityType = "participant_joined"
	ActivityParticipantLeft    ActivityType = "participant_left"
	ActivityParticipantRenamed ActivityType = "participant_renamed"
	ActivityVoteCast           ActivityType = "vote_cast"
	ActivityVotesRevealed      ActivityType = "votes_revealed"
	ActivityVotesReset         ActivityType = "votes_reset"
	ActivityCardAdded          ActivityType = "card_added"
	ActivityCardEdited         ActivityType = "card_edited"
	ActivityCardDeleted        ActivityType = "card_deleted"
	ActivityCardVoted          ActivityType = "card_voted"
	ActivityVisibilityChanged  ActivityType = "visibility_changed"
	ActivitySettingsUpdated    ActivityType = "settings_updated"
	ActivityTimerStarted       ActivityType = "timer_started"
	ActivityTimerStopped       ActivityType = "timer_stopped"
	ActivityTimerExpired       ActivityType = "timer_expired"
)

// Activity is a record of a committed change, published for downstream
// consumers such as velocity dashboards. It is never read back by the
// synchronizer.
type Activity struct {
	ID         string            `json:"id"`
	Kind       models.TopicKind  `json:"kind"`
	TopicID    string            `json:"topic_id"`
	Type       ActivityType      `json:"type"`
	Actor      string            `json:"actor,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewActivity builds an activity with a fresh ID
func NewActivity(kind models.TopicKind, topicID string, activityType ActivityType, actor string, now time.Time) Activity {
	return Activity{
		ID:         uuid.NewString(),
		Kind:       kind,
		TopicID:    topicID,
		Type:       activityType,
		Actor:      actor,
		OccurredAt: now.UTC(),
	}
}

// With returns a copy of a with one more attribute
func (a Activity) With(key, value string) Activity {
	attrs := make(map[string]string, len(a.Attributes)+1)
	for k, v := range a.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	a.Attributes = attrs
	return a
}

// Publisher delivers activities to a downstream sink
type Publisher interface {
	Publish(ctx context.Context, activity Activity) error
}
