package collab

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"redline/collab/internal/access"
	"redline/collab/internal/geo"
	"redline/collab/internal/search"
	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

// annotationStatusFlow holds the legal status transitions. archived is
// terminal; annotations are never hard-deleted.
var annotationStatusFlow = map[string]map[string]struct{}{
	"active":   {"resolved": {}, "archived": {}},
	"resolved": {"active": {}, "archived": {}},
	"archived": {},
}

type AnnotationInput struct {
	PageNumber int             `json:"pageNumber"`
	Region     geo.Rect        `json:"region"`
	Type       string          `json:"type"`
	Content    string          `json:"content"`
	Style      json.RawMessage `json:"style,omitempty"`
	Color      string          `json:"color"`
	Visibility string          `json:"visibility"`
	Priority   string          `json:"priority"`
}

type ReplyInput struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions,omitempty"`
}

type AnnotationView struct {
	store.Annotation
	Replies []store.AnnotationReply `json:"replies"`
}

type AnnotationFilter struct {
	PageNumber int
	Status     string
}

// CreateAnnotation persists a new spatial annotation. When a session is
// live on the document, the proposed region is first checked against
// every held annotation lock on the same page; an overlap is rejected
// rather than silently merged, and the caller retries once the lock
// clears.
func (s *Service) CreateAnnotation(ctx context.Context, documentID, userID string, input AnnotationInput) (store.Annotation, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return store.Annotation{}, err
	}
	if _, ok := allowedAnnotationTypes[input.Type]; !ok {
		return store.Annotation{}, validationError("invalid annotation type")
	}
	if input.PageNumber < 1 {
		return store.Annotation{}, validationError("page number must be at least 1")
	}
	if input.Region.Width <= 0 || input.Region.Height <= 0 {
		return store.Annotation{}, validationError("region must have positive width and height")
	}
	if input.Priority == "" {
		input.Priority = "normal"
	}
	if _, ok := allowedPriorities[input.Priority]; !ok {
		return store.Annotation{}, validationError("invalid priority")
	}
	if input.Visibility == "" {
		input.Visibility = "shared"
	}
	if _, ok := allowedVisibilities[input.Visibility]; !ok {
		return store.Annotation{}, validationError("invalid visibility")
	}

	session, err := s.sessions.GetSession(ctx, documentID)
	if err != nil {
		return store.Annotation{}, storageError("load session", err)
	}
	if session != nil {
		if held := s.conflictingLock(session, input.PageNumber, input.Region, userID); held != nil {
			return store.Annotation{}, domainError(409, CodeConcurrentEditConflict,
				"region overlaps a locked annotation", map[string]any{
					"resourceId": held.ResourceID,
					"lockedBy":   held.LockedBy,
					"expiresAt":  held.ExpiresAt,
				})
		}
	}

	annotation := store.Annotation{
		ID:         util.NewID("ann"),
		DocumentID: documentID,
		PageNumber: input.PageNumber,
		Region:     input.Region,
		Type:       input.Type,
		Content:    input.Content,
		Style:      input.Style,
		Color:      input.Color,
		Visibility: input.Visibility,
		Status:     "active",
		Priority:   input.Priority,
		CreatedBy:  userID,
		CreatedAt:  s.now().UTC(),
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertAnnotation(ctx, annotation); err != nil {
		return store.Annotation{}, storageError("insert annotation", err)
	}
	if err := s.store.TouchDocument(ctx, documentID); err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Msg("annotations: touch document failed")
	}

	newValue, _ := json.Marshal(annotation)
	pageNumber := annotation.PageNumber
	region := annotation.Region
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "annotation",
		Operation:   "create",
		NewValue:    newValue,
		PageNumber:  &pageNumber,
		Region:      &region,
		Description: "created " + annotation.Type + " annotation on page " + strconv.Itoa(pageNumber),
		UserID:      userID,
	})

	payload := map[string]any{
		"annotationId": annotation.ID,
		"pageNumber":   annotation.PageNumber,
		"type":         annotation.Type,
	}
	if session != nil {
		payload["participants"] = activeParticipantIDs(session, userID)
	}
	s.emit(ctx, EventAnnotationCreated, documentID, userID, payload)

	if s.search != nil && annotation.Visibility != "private" {
		s.search.IndexAnnotation(search.AnnotationRecord{
			ID:         annotation.ID,
			DocumentID: annotation.DocumentID,
			PageNumber: annotation.PageNumber,
			Type:       annotation.Type,
			Content:    annotation.Content,
			Status:     annotation.Status,
			CreatedBy:  annotation.CreatedBy,
		})
	}
	return annotation, nil
}

// UpdateAnnotation rewrites an annotation's mutable fields. Only the
// creator or a document admin may mutate it.
func (s *Service) UpdateAnnotation(ctx context.Context, documentID, annotationID, userID string, input AnnotationInput) (store.Annotation, error) {
	annotation, err := s.loadOwnedAnnotation(ctx, documentID, annotationID, userID)
	if err != nil {
		return store.Annotation{}, err
	}
	if annotation.Status == "archived" {
		return store.Annotation{}, validationError("archived annotations are immutable")
	}

	oldValue, _ := json.Marshal(annotation)

	if input.PageNumber >= 1 {
		annotation.PageNumber = input.PageNumber
	}
	if !input.Region.IsZero() {
		if input.Region.Width <= 0 || input.Region.Height <= 0 {
			return store.Annotation{}, validationError("region must have positive width and height")
		}
		annotation.Region = input.Region
	}
	if input.Content != "" {
		annotation.Content = input.Content
	}
	if len(input.Style) > 0 {
		annotation.Style = input.Style
	}
	if input.Color != "" {
		annotation.Color = input.Color
	}
	if input.Visibility != "" {
		if _, ok := allowedVisibilities[input.Visibility]; !ok {
			return store.Annotation{}, validationError("invalid visibility")
		}
		annotation.Visibility = input.Visibility
	}
	if input.Priority != "" {
		if _, ok := allowedPriorities[input.Priority]; !ok {
			return store.Annotation{}, validationError("invalid priority")
		}
		annotation.Priority = input.Priority
	}
	annotation.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateAnnotation(ctx, annotation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Annotation{}, notFound("annotation not found")
		}
		return store.Annotation{}, storageError("update annotation", err)
	}

	newValue, _ := json.Marshal(annotation)
	pageNumber := annotation.PageNumber
	region := annotation.Region
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "annotation",
		Operation:   "update",
		OldValue:    oldValue,
		NewValue:    newValue,
		PageNumber:  &pageNumber,
		Region:      &region,
		Description: "updated annotation " + annotation.ID,
		UserID:      userID,
	})
	return annotation, nil
}

// UpdateAnnotationStatus moves an annotation along active -> resolved ->
// archived, with an explicit reopen from resolved back to active.
func (s *Service) UpdateAnnotationStatus(ctx context.Context, documentID, annotationID, userID, status string) (store.Annotation, error) {
	annotation, err := s.loadOwnedAnnotation(ctx, documentID, annotationID, userID)
	if err != nil {
		return store.Annotation{}, err
	}
	next, ok := annotationStatusFlow[annotation.Status]
	if !ok {
		return store.Annotation{}, validationError("unknown annotation status")
	}
	if _, ok := next[status]; !ok {
		return store.Annotation{}, validationError("illegal status transition " + annotation.Status + " -> " + status)
	}

	oldValue, _ := json.Marshal(map[string]string{"status": annotation.Status})
	if err := s.store.SetAnnotationStatus(ctx, documentID, annotationID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Annotation{}, notFound("annotation not found")
		}
		return store.Annotation{}, storageError("set annotation status", err)
	}
	annotation.Status = status
	annotation.UpdatedAt = s.now().UTC()

	newValue, _ := json.Marshal(map[string]string{"status": status})
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "annotation",
		Operation:   "update",
		OldValue:    oldValue,
		NewValue:    newValue,
		Description: "annotation " + annotation.ID + " marked " + status,
		UserID:      userID,
	})
	return annotation, nil
}

// AddAnnotationReply appends to an annotation's thread. Replies are
// append-only and commutative, so no lock is involved.
func (s *Service) AddAnnotationReply(ctx context.Context, documentID, annotationID, userID string, input ReplyInput) (store.AnnotationReply, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return store.AnnotationReply{}, err
	}
	if input.Content == "" {
		return store.AnnotationReply{}, validationError("content is required")
	}
	annotation, err := s.store.GetAnnotation(ctx, documentID, annotationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AnnotationReply{}, notFound("annotation not found")
	}
	if err != nil {
		return store.AnnotationReply{}, storageError("load annotation", err)
	}
	if annotation.Status == "archived" {
		return store.AnnotationReply{}, validationError("archived annotations are immutable")
	}

	reply := store.AnnotationReply{
		ID:           util.NewID("rpl"),
		AnnotationID: annotationID,
		Content:      input.Content,
		Mentions:     input.Mentions,
		CreatedBy:    userID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertAnnotationReply(ctx, reply); err != nil {
		return store.AnnotationReply{}, storageError("insert annotation reply", err)
	}

	newValue, _ := json.Marshal(reply)
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "annotation",
		Operation:   "update",
		NewValue:    newValue,
		Description: "replied to annotation " + annotationID,
		UserID:      userID,
	})
	for _, mentioned := range input.Mentions {
		s.emit(ctx, EventUserMentioned, documentID, userID, map[string]any{
			"mentionedUserId": mentioned,
			"annotationId":    annotationID,
			"replyId":         reply.ID,
		})
	}
	return reply, nil
}

// ListAnnotations returns the document's annotations with their reply
// threads. Private annotations are visible only to their creators.
func (s *Service) ListAnnotations(ctx context.Context, documentID, userID string, filter AnnotationFilter) ([]AnnotationView, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	annotations, err := s.store.ListAnnotations(ctx, documentID, filter.PageNumber, filter.Status)
	if err != nil {
		return nil, storageError("list annotations", err)
	}

	views := make([]AnnotationView, 0, len(annotations))
	for _, annotation := range annotations {
		if annotation.Visibility == "private" && annotation.CreatedBy != userID {
			continue
		}
		replies, err := s.store.ListAnnotationReplies(ctx, annotation.ID)
		if err != nil {
			return nil, storageError("list annotation replies", err)
		}
		views = append(views, AnnotationView{Annotation: annotation, Replies: replies})
	}
	return views, nil
}

// loadOwnedAnnotation resolves an annotation and enforces the mutation
// rule: the creator may mutate their own, anyone else needs admin.
func (s *Service) loadOwnedAnnotation(ctx context.Context, documentID, annotationID, userID string) (store.Annotation, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return store.Annotation{}, err
	}
	annotation, err := s.store.GetAnnotation(ctx, documentID, annotationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Annotation{}, notFound("annotation not found")
	}
	if err != nil {
		return store.Annotation{}, storageError("load annotation", err)
	}
	if annotation.CreatedBy != userID {
		if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
			return store.Annotation{}, accessDenied("only the creator or an admin may modify an annotation")
		}
	}
	return annotation, nil
}
