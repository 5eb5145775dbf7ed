package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process registry backend. Suitable for a single
// node and for tests; Redis backs multi-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// NewMemoryStoreWithClock injects the clock, so lock expiry can be tested
// without sleeping.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

func (m *MemoryStore) GetSession(ctx context.Context, documentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[documentID]
	if !ok {
		return nil, nil
	}
	return cloneSession(session, m.now()), nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.DocumentID] = cloneSession(session, m.now())
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.DocumentID]; ok {
		return false, nil
	}
	m.sessions[session.DocumentID] = cloneSession(session, m.now())
	return true, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, documentID)
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, cloneSession(session, now))
	}
	return sessions, nil
}

func (m *MemoryStore) AcquireLock(ctx context.Context, documentID string, lock Lock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[documentID]
	if !ok {
		return false, nil
	}
	now := m.now()
	live := LiveLocks(session.Locks, now)
	for _, held := range live {
		if held.Type == lock.Type && held.ResourceID == lock.ResourceID {
			session.Locks = live
			return false, nil
		}
	}
	session.Locks = append(live, lock)
	return true, nil
}

func (m *MemoryStore) RenewLock(ctx context.Context, documentID, lockType, resourceID, userID string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[documentID]
	if !ok {
		return false, nil
	}
	now := m.now()
	live := LiveLocks(session.Locks, now)
	session.Locks = live
	for i := range live {
		if live[i].Type == lockType && live[i].ResourceID == resourceID {
			if live[i].LockedBy != userID {
				return false, nil
			}
			live[i].ExpiresAt = expiresAt
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ReleaseLock(ctx context.Context, documentID, lockType, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[documentID]
	if !ok {
		return nil
	}
	now := m.now()
	kept := make([]Lock, 0, len(session.Locks))
	for _, held := range session.Locks {
		if held.Expired(now) {
			continue
		}
		if held.Type == lockType && held.ResourceID == resourceID {
			continue
		}
		kept = append(kept, held)
	}
	session.Locks = kept
	return nil
}

// cloneSession copies the session and drops expired locks so callers
// never share or observe stale internal state.
func cloneSession(session *Session, now time.Time) *Session {
	copied := *session
	copied.Participants = append([]Participant(nil), session.Participants...)
	copied.Locks = LiveLocks(session.Locks, now)
	return &copied
}
