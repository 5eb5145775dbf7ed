// Package registry provides storage backends for ephemeral collaboration
// sessions and their resource locks.
package registry

import (
	"context"
	"time"

	"redline/collab/internal/geo"
)

// Session is the ephemeral collaboration state for one document. At most
// one session exists per document at a time.
type Session struct {
	ID             string          `json:"id"`
	DocumentID     string          `json:"documentId"`
	Participants   []Participant   `json:"participants"`
	Locks          []Lock          `json:"locks"`
	Settings       SessionSettings `json:"settings"`
	StartedAt      time.Time       `json:"startedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

type SessionSettings struct {
	AllowAnonymousViewers bool `json:"allowAnonymousViewers"`
	MaxParticipants       int  `json:"maxParticipants"`
}

// Participant stays on the roster after leaving, flipped inactive, so the
// session keeps its audit trail.
type Participant struct {
	UserID         string    `json:"userId"`
	Role           string    `json:"role"` // owner, editor, viewer
	JoinedAt       time.Time `json:"joinedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Cursor         *Presence `json:"cursor,omitempty"`
	Selection      *Presence `json:"selection,omitempty"`
	IsActive       bool      `json:"isActive"`
}

// Presence is a cursor position or selection region on a page.
type Presence struct {
	PageNumber int       `json:"pageNumber"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Region     *geo.Rect `json:"region,omitempty"`
}

// Lock is a time-boxed exclusive claim on one resource. Annotation locks
// carry the page and region of the annotation they cover so proposed
// regions can be checked for overlap.
type Lock struct {
	Type       string    `json:"type"` // page, annotation, section
	ResourceID string    `json:"resourceId"`
	PageNumber int       `json:"pageNumber,omitempty"`
	Region     *geo.Rect `json:"region,omitempty"`
	LockedBy   string    `json:"lockedBy"`
	LockedAt   time.Time `json:"lockedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// LiveLocks returns the locks that have not expired, in place of the raw
// table. Expired entries are dropped on every read; nothing waits for a
// background sweep.
func LiveLocks(locks []Lock, now time.Time) []Lock {
	live := make([]Lock, 0, len(locks))
	for _, l := range locks {
		if !l.Expired(now) {
			live = append(live, l)
		}
	}
	return live
}

// Store is the session registry the engine is handed. Implementations
// must make AcquireLock atomic per (type, resourceID): it returns false,
// with no change, when a live lock already covers the pair.
type Store interface {
	// GetSession returns nil without error when the document has no session.
	GetSession(ctx context.Context, documentID string) (*Session, error)
	// SaveSession upserts the full session state.
	SaveSession(ctx context.Context, session *Session) error
	// CreateSession saves only when the document has no session yet;
	// returns false when one already exists.
	CreateSession(ctx context.Context, session *Session) (bool, error)
	DeleteSession(ctx context.Context, documentID string) error
	// ListSessions returns every live session; used by the idle sweep.
	ListSessions(ctx context.Context) ([]*Session, error)
	// AcquireLock atomically claims (lock.Type, lock.ResourceID) for the
	// session on documentID.
	AcquireLock(ctx context.Context, documentID string, lock Lock) (bool, error)
	// RenewLock extends a held lock; returns false when the lock is gone
	// or held by someone else.
	RenewLock(ctx context.Context, documentID, lockType, resourceID, userID string, expiresAt time.Time) (bool, error)
	ReleaseLock(ctx context.Context, documentID, lockType, resourceID string) error
}
