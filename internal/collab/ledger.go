package collab

import (
	"context"
	"time"

	"redline/collab/internal/access"
	"redline/collab/internal/store"
)

var allowedChangeTypes = map[string]struct{}{
	"content":    {},
	"metadata":   {},
	"annotation": {},
	"comment":    {},
	"permission": {},
	"structure":  {},
}

var allowedChangeOperations = map[string]struct{}{
	"create": {},
	"update": {},
	"delete": {},
	"move":   {},
	"copy":   {},
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type HistoryFilter struct {
	Types      []string
	Operations []string
	UserID     string
	Since      *time.Time
	Until      *time.Time
}

type HistoryPage struct {
	Limit  int
	Offset int
}

// RecordChange appends one ledger entry on behalf of a caller. Most
// entries are written by the mutation paths themselves; this is the
// standalone API for callers recording out-of-band changes.
func (s *Service) RecordChange(ctx context.Context, documentID, userID string, entry store.Change) (store.Change, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return store.Change{}, err
	}
	if _, ok := allowedChangeTypes[entry.Type]; !ok {
		return store.Change{}, validationError("invalid change type")
	}
	if _, ok := allowedChangeOperations[entry.Operation]; !ok {
		return store.Change{}, validationError("invalid change operation")
	}
	entry.DocumentID = documentID
	entry.UserID = userID
	return s.recordChange(ctx, entry)
}

// History returns the document's ledger, newest first, with a limit+1
// probe deciding hasMore. Entries are totally ordered per document by
// their store-assigned sequence number.
func (s *Service) History(ctx context.Context, documentID, userID string, filter HistoryFilter, page HistoryPage) ([]store.Change, bool, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, false, err
	}

	for _, changeType := range filter.Types {
		if _, ok := allowedChangeTypes[changeType]; !ok {
			return nil, false, validationError("invalid change type filter")
		}
	}
	for _, operation := range filter.Operations {
		if _, ok := allowedChangeOperations[operation]; !ok {
			return nil, false, validationError("invalid change operation filter")
		}
	}

	limit := page.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	changes, err := s.store.ListChanges(ctx, documentID, store.ChangeFilter{
		Types:      filter.Types,
		Operations: filter.Operations,
		UserID:     filter.UserID,
		Since:      filter.Since,
		Until:      filter.Until,
		Limit:      limit + 1,
		Offset:     offset,
	})
	if err != nil {
		return nil, false, storageError("list changes", err)
	}

	hasMore := len(changes) > limit
	if hasMore {
		changes = changes[:limit]
	}
	return changes, hasMore, nil
}

// recordChange appends one entry, retrying a failed write exactly once
// before surfacing the storage fault.
func (s *Service) recordChange(ctx context.Context, entry store.Change) (store.Change, error) {
	recorded, err := s.store.InsertChange(ctx, entry)
	if err == nil {
		return recorded, nil
	}
	s.log.Warn().Err(err).
		Str("document_id", entry.DocumentID).
		Str("type", entry.Type).
		Msg("ledger: append failed, retrying once")

	recorded, err = s.store.InsertChange(ctx, entry)
	if err != nil {
		return store.Change{}, storageError("record change", err)
	}
	return recorded, nil
}

// appendChange is the best-effort ledger path for mutations that have
// already committed their entity write: the entry is retried once, then
// logged and dropped. The mutation is never rolled back for it.
func (s *Service) appendChange(ctx context.Context, entry store.Change) {
	if _, err := s.recordChange(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("document_id", entry.DocumentID).
			Str("type", entry.Type).
			Str("operation", entry.Operation).
			Msg("ledger: entry dropped after retry")
	}
}
