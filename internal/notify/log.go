package notify

import (
	"context"

	"github.com/rs/zerolog"

	"redline/collab/internal/collab"
)

// LogPublisher writes events to the log instead of a broker. Used when
// no NATS URL is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event collab.Event) error {
	p.log.Info().
		Str("event_type", event.Type).
		Str("document_id", event.DocumentID).
		Str("actor", event.ActorUserID).
		Msg("notify: event")
	return nil
}
