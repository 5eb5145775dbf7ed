package collab

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"redline/collab/internal/access"
	"redline/collab/internal/geo"
	"redline/collab/internal/registry"
	"redline/collab/internal/util"
)

const minLockTTL = 5 * time.Second

type LockInput struct {
	Type       string        `json:"type"` // page, annotation, section
	ResourceID string        `json:"resourceId"`
	PageNumber int           `json:"pageNumber,omitempty"`
	Region     *geo.Rect     `json:"region,omitempty"`
	TTL        time.Duration `json:"-"`
}

// StartSession opens the single collaboration session for a document,
// with the starter as sole owner participant. A live session means the
// caller should join instead.
func (s *Service) StartSession(ctx context.Context, documentID, userID string, settings registry.SessionSettings) (*registry.Session, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &registry.Session{
		ID:         util.NewID("ses"),
		DocumentID: documentID,
		Participants: []registry.Participant{
			{
				UserID:         userID,
				Role:           "owner",
				JoinedAt:       now,
				LastActivityAt: now,
				IsActive:       true,
			},
		},
		Settings:       settings,
		StartedAt:      now,
		LastActivityAt: now,
	}
	created, err := s.sessions.CreateSession(ctx, session)
	if err != nil {
		return nil, storageError("create session", err)
	}
	if !created {
		return nil, domainError(http.StatusConflict, CodeSessionAlreadyActive,
			"a collaboration session is already active on this document", nil)
	}

	s.emit(ctx, EventSessionStarted, documentID, userID, map[string]any{
		"sessionId": session.ID,
	})
	return session, nil
}

// JoinSession adds the caller to the live session, or reactivates their
// prior participant entry. Editors need edit access, viewers view.
func (s *Service) JoinSession(ctx context.Context, documentID, userID, role string) (*registry.Session, error) {
	required := access.LevelView
	switch role {
	case "viewer":
	case "editor":
		required = access.LevelEdit
	default:
		return nil, validationError("role must be viewer or editor")
	}
	if _, err := s.checkAccess(ctx, documentID, userID, required); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return nil, storageError("load session", err)
	}
	if session == nil {
		return nil, notFound("no active session on this document")
	}

	now := s.now().UTC()
	found := false
	for i := range session.Participants {
		if session.Participants[i].UserID == userID {
			session.Participants[i].IsActive = true
			session.Participants[i].Role = role
			session.Participants[i].LastActivityAt = now
			found = true
			break
		}
	}
	if !found {
		if limit := session.Settings.MaxParticipants; limit > 0 && activeParticipantCount(session) >= limit {
			return nil, validationError("session is full")
		}
		session.Participants = append(session.Participants, registry.Participant{
			UserID:         userID,
			Role:           role,
			JoinedAt:       now,
			LastActivityAt: now,
			IsActive:       true,
		})
	}
	session.LastActivityAt = now
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, storageError("save session", err)
	}

	s.emit(ctx, EventParticipantJoined, documentID, userID, map[string]any{
		"sessionId": session.ID,
		"role":      role,
	})
	return session, nil
}

// LeaveSession flips the caller's participant entry inactive. The entry
// stays on the roster for the audit trail, and the session itself stays
// up until EndSession or the idle sweep takes it.
func (s *Service) LeaveSession(ctx context.Context, documentID, userID string) error {
	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return storageError("load session", err)
	}
	if session == nil {
		return notFound("no active session on this document")
	}
	for i := range session.Participants {
		if session.Participants[i].UserID == userID {
			session.Participants[i].IsActive = false
			session.Participants[i].Cursor = nil
			session.Participants[i].Selection = nil
			if err := s.sessions.SaveSession(ctx, session); err != nil {
				return storageError("save session", err)
			}
			return nil
		}
	}
	return notFound("caller is not a session participant")
}

// UpdatePresence refreshes the caller's cursor and selection. Activity
// timestamps feed the idle sweep.
func (s *Service) UpdatePresence(ctx context.Context, documentID, userID string, cursor, selection *registry.Presence) error {
	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return storageError("load session", err)
	}
	if session == nil {
		return notFound("no active session on this document")
	}
	now := s.now().UTC()
	for i := range session.Participants {
		if session.Participants[i].UserID == userID && session.Participants[i].IsActive {
			session.Participants[i].Cursor = cursor
			session.Participants[i].Selection = selection
			session.Participants[i].LastActivityAt = now
			session.LastActivityAt = now
			if err := s.sessions.SaveSession(ctx, session); err != nil {
				return storageError("save session", err)
			}
			return nil
		}
	}
	return notFound("caller is not an active session participant")
}

// EndSession tears the session down, releasing every lock with it. Only
// the session owner or a document admin may end it.
func (s *Service) EndSession(ctx context.Context, documentID, userID string) error {
	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return storageError("load session", err)
	}
	if session == nil {
		return notFound("no active session on this document")
	}
	if !isSessionOwner(session, userID) {
		if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
			return accessDenied("only the session owner or an admin may end the session")
		}
	}
	if err := s.sessions.DeleteSession(ctx, documentID); err != nil {
		return storageError("delete session", err)
	}
	s.emit(ctx, EventSessionEnded, documentID, userID, map[string]any{
		"sessionId": session.ID,
		"reason":    "ended",
	})
	return nil
}

// GetSession returns the live session with expired locks already pruned.
func (s *Service) GetSession(ctx context.Context, documentID, userID string) (*registry.Session, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return nil, storageError("load session", err)
	}
	if session == nil {
		return nil, notFound("no active session on this document")
	}
	session.Locks = registry.LiveLocks(session.Locks, s.now())
	return session, nil
}

// AcquireLock claims a resource for the caller. Exclusivity is per
// (type, resourceId) among non-expired locks, first come first served;
// a denied caller retries after the occupant clears, nothing queues.
func (s *Service) AcquireLock(ctx context.Context, documentID, userID string, input LockInput) (registry.Lock, error) {
	if _, ok := allowedLockTypes[input.Type]; !ok {
		return registry.Lock{}, validationError("invalid lock type")
	}
	if input.ResourceID == "" {
		return registry.Lock{}, validationError("resource id is required")
	}

	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return registry.Lock{}, storageError("load session", err)
	}
	if session == nil {
		return registry.Lock{}, notFound("no active session on this document")
	}
	if !isActiveParticipant(session, userID) {
		return registry.Lock{}, accessDenied("caller is not an active session participant")
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.cfg.LockDefaultTTL
	}
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	if limit := s.cfg.LockMaxTTL; limit > 0 && ttl > limit {
		ttl = limit
	}

	now := s.now().UTC()
	lock := registry.Lock{
		Type:       input.Type,
		ResourceID: input.ResourceID,
		PageNumber: input.PageNumber,
		Region:     input.Region,
		LockedBy:   userID,
		LockedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	// Annotation locks track the annotation's page and region so new
	// annotations can be checked for overlap against them.
	if input.Type == "annotation" {
		annotation, err := s.store.GetAnnotation(ctx, documentID, input.ResourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Lock{}, notFound("annotation not found")
		}
		if err != nil {
			return registry.Lock{}, storageError("load annotation", err)
		}
		region := annotation.Region
		lock.PageNumber = annotation.PageNumber
		lock.Region = &region
	}

	acquired, err := s.sessions.AcquireLock(ctx, documentID, lock)
	if err != nil {
		return registry.Lock{}, storageError("acquire lock", err)
	}
	if !acquired {
		return registry.Lock{}, domainError(http.StatusConflict, CodeLockDenied,
			"resource is locked", map[string]any{
				"type":       input.Type,
				"resourceId": input.ResourceID,
			})
	}
	return lock, nil
}

// RenewLock extends the caller's own lock before it expires.
func (s *Service) RenewLock(ctx context.Context, documentID, userID, lockType, resourceID string, ttl time.Duration) (time.Time, error) {
	if _, ok := allowedLockTypes[lockType]; !ok {
		return time.Time{}, validationError("invalid lock type")
	}
	if ttl <= 0 {
		ttl = s.cfg.LockDefaultTTL
	}
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	if limit := s.cfg.LockMaxTTL; limit > 0 && ttl > limit {
		ttl = limit
	}
	expiresAt := s.now().UTC().Add(ttl)
	renewed, err := s.sessions.RenewLock(ctx, documentID, lockType, resourceID, userID, expiresAt)
	if err != nil {
		return time.Time{}, storageError("renew lock", err)
	}
	if !renewed {
		return time.Time{}, domainError(http.StatusConflict, CodeLockDenied,
			"lock is not held by the caller", nil)
	}
	return expiresAt, nil
}

// ReleaseLock frees a lock. The holder may always release; the session
// owner may release anyone's. Releasing an absent lock is a no-op.
func (s *Service) ReleaseLock(ctx context.Context, documentID, userID, lockType, resourceID string) error {
	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return storageError("load session", err)
	}
	if session == nil {
		return nil
	}
	now := s.now()
	for _, held := range registry.LiveLocks(session.Locks, now) {
		if held.Type != lockType || held.ResourceID != resourceID {
			continue
		}
		if held.LockedBy != userID && !isSessionOwner(session, userID) {
			return accessDenied("only the lock holder or the session owner may release a lock")
		}
	}
	if err := s.sessions.ReleaseLock(ctx, documentID, lockType, resourceID); err != nil {
		return storageError("release lock", err)
	}
	return nil
}

// SweepSessions removes sessions whose every participant has been idle
// past the configured threshold. Liveness cleanup only: locks carry
// their own TTL and never depend on this running.
func (s *Service) SweepSessions(ctx context.Context) (int, error) {
	sessions, err := s.sessions.ListSessions(ctx)
	if err != nil {
		return 0, storageError("list sessions", err)
	}
	cutoff := s.now().Add(-s.cfg.SessionIdleTimeout)
	swept := 0
	for _, session := range sessions {
		if lastSessionActivity(session).After(cutoff) {
			continue
		}
		if err := s.sessions.DeleteSession(ctx, session.DocumentID); err != nil {
			s.log.Warn().Err(err).
				Str("document_id", session.DocumentID).
				Msg("sessions: sweep delete failed")
			continue
		}
		s.emit(ctx, EventSessionEnded, session.DocumentID, "", map[string]any{
			"sessionId": session.ID,
			"reason":    "idle",
		})
		swept++
	}
	return swept, nil
}

// conflictingLock returns the live annotation lock, held by someone
// else, whose tracked region overlaps the proposed one on the same page.
func (s *Service) conflictingLock(session *registry.Session, pageNumber int, region geo.Rect, userID string) *registry.Lock {
	for _, held := range registry.LiveLocks(session.Locks, s.now()) {
		if held.Type != "annotation" || held.LockedBy == userID {
			continue
		}
		if held.PageNumber != pageNumber || held.Region == nil {
			continue
		}
		if geo.Overlaps(*held.Region, region) {
			lock := held
			return &lock
		}
	}
	return nil
}

func isSessionOwner(session *registry.Session, userID string) bool {
	for _, participant := range session.Participants {
		if participant.UserID == userID && participant.Role == "owner" {
			return true
		}
	}
	return false
}

func isActiveParticipant(session *registry.Session, userID string) bool {
	for _, participant := range session.Participants {
		if participant.UserID == userID && participant.IsActive {
			return true
		}
	}
	return false
}

func activeParticipantCount(session *registry.Session) int {
	count := 0
	for _, participant := range session.Participants {
		if participant.IsActive {
			count++
		}
	}
	return count
}

// activeParticipantIDs lists everyone active except the actor, for event
// fan-out.
func activeParticipantIDs(session *registry.Session, excludeUserID string) []string {
	ids := make([]string, 0, len(session.Participants))
	for _, participant := range session.Participants {
		if participant.IsActive && participant.UserID != excludeUserID {
			ids = append(ids, participant.UserID)
		}
	}
	return ids
}

// lastSessionActivity is the newest activity timestamp across the whole
// roster, active or not.
func lastSessionActivity(session *registry.Session) time.Time {
	latest := session.LastActivityAt
	for _, participant := range session.Participants {
		if participant.LastActivityAt.After(latest) {
			latest = participant.LastActivityAt
		}
	}
	return latest
}
