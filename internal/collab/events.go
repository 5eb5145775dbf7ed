package collab

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine. Delivery (email, push, websocket
// fan-out) belongs to whatever consumes the publisher; the engine never
// waits for it.
const (
	EventAnnotationCreated = "annotation_created"
	EventCommentCreated    = "comment_created"
	EventVersionCreated    = "version_created"
	EventSessionStarted    = "collaboration_session_started"
	EventParticipantJoined = "participant_joined"
	EventSessionEnded      = "collaboration_session_ended"
	EventShareNotification = "share_notification"
	EventUserMentioned     = "user_mentioned"
	EventApprovalAssigned  = "approval_assigned"
)

type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	DocumentID  string         `json:"documentId"`
	ActorUserID string         `json:"actorUserId"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Publisher hands events to the notification system.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// emit publishes fire-and-forget: a dead publisher costs a warning log,
// never the mutation that triggered it.
func (s *Service) emit(ctx context.Context, eventType, documentID, actorUserID string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	event := Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		DocumentID:  documentID,
		ActorUserID: actorUserID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", eventType).
			Str("document_id", documentID).
			Msg("events: publish failed")
	}
}
