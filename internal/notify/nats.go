// Package notify delivers engine events to the outside world. The
// engine treats publishers as best-effort: a failed delivery is the
// publisher's problem to log, never the caller's to handle.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"redline/collab/internal/collab"
)

// NATSPublisher fans events out on NATS.
//
// Subject convention: collab.events.<event_type>
type NATSPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

func NewNATSPublisher(url string, log zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("notify: nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("notify: nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, log: log}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event collab.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := "collab.events." + event.Type
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug().
		Str("subject", subject).
		Str("document_id", event.DocumentID).
		Msg("notify: event published")
	return nil
}

func (p *NATSPublisher) Close() {
	p.conn.Drain()
}
