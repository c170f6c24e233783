package eventbus

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes activities to the log. Used when no NATS server is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, a Activity) error {
	log.Debug().
		Str("activity_id", a.ID).
		Str("kind", string(a.Kind)).
		Str("topic_id", a.TopicID).
		Str("type", string(a.Type)).
		Str("actor", a.Actor).
		Interface("attributes", a.Attributes).
		Msg("activity")
	return nil
}
