package collab

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"redline/collab/internal/access"
	"redline/collab/internal/search"
	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

var commentStatusFlow = map[string]map[string]struct{}{
	"open":     {"resolved": {}, "archived": {}},
	"resolved": {"open": {}, "archived": {}},
	"archived": {},
}

type CommentInput struct {
	Content      string        `json:"content"`
	Mentions     []string      `json:"mentions,omitempty"`
	Attachments  []string      `json:"attachments,omitempty"`
	TaskAssigned *TaskAssigned `json:"taskAssigned,omitempty"`
}

// TaskAssigned turns a comment into an assigned task via the injected
// task service.
type TaskAssigned struct {
	Assignee string     `json:"assignee"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
	Priority string     `json:"priority,omitempty"`
}

type CommentView struct {
	store.Comment
	Replies   []store.CommentReply    `json:"replies"`
	Reactions []store.CommentReaction `json:"reactions"`
}

type CommentFilter struct {
	Status string
}

// CreateComment adds a document-level comment. An assigned task is
// created first so the comment never persists pointing at nothing; a
// task failure fails the whole call with no partial effect.
func (s *Service) CreateComment(ctx context.Context, documentID, userID string, input CommentInput) (store.Comment, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return store.Comment{}, err
	}
	if input.Content == "" {
		return store.Comment{}, validationError("content is required")
	}

	var taskID *string
	if input.TaskAssigned != nil {
		if s.tasks == nil {
			return store.Comment{}, validationError("task assignment is not available")
		}
		if input.TaskAssigned.Assignee == "" {
			return store.Comment{}, validationError("task assignee is required")
		}
		priority := input.TaskAssigned.Priority
		if priority == "" {
			priority = "normal"
		}
		created, err := s.tasks.CreateTask(ctx, TaskSpec{
			DocumentID:  documentID,
			Title:       firstLine(input.Content, 120),
			Description: input.Content,
			Assignee:    input.TaskAssigned.Assignee,
			DueDate:     input.TaskAssigned.DueDate,
			Priority:    priority,
			CreatedBy:   userID,
		})
		if err != nil {
			return store.Comment{}, storageError("create linked task", err)
		}
		taskID = &created
	}

	comment := store.Comment{
		ID:          util.NewID("cmt"),
		DocumentID:  documentID,
		Content:     input.Content,
		Mentions:    input.Mentions,
		Attachments: input.Attachments,
		TaskID:      taskID,
		Status:      "open",
		CreatedBy:   userID,
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, storageError("insert comment", err)
	}

	newValue, _ := json.Marshal(comment)
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "comment",
		Operation:   "create",
		NewValue:    newValue,
		Description: "created comment",
		UserID:      userID,
	})

	s.emit(ctx, EventCommentCreated, documentID, userID, map[string]any{
		"commentId": comment.ID,
	})
	for _, mentioned := range input.Mentions {
		s.emit(ctx, EventUserMentioned, documentID, userID, map[string]any{
			"mentionedUserId": mentioned,
			"commentId":       comment.ID,
		})
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			DocumentID: comment.DocumentID,
			Content:    comment.Content,
			Status:     comment.Status,
			CreatedBy:  comment.CreatedBy,
		})
	}
	return comment, nil
}

// AddCommentReply appends to a comment's thread.
func (s *Service) AddCommentReply(ctx context.Context, documentID, commentID, userID string, input ReplyInput) (store.CommentReply, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return store.CommentReply{}, err
	}
	if input.Content == "" {
		return store.CommentReply{}, validationError("content is required")
	}
	comment, err := s.store.GetComment(ctx, documentID, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.CommentReply{}, notFound("comment not found")
	}
	if err != nil {
		return store.CommentReply{}, storageError("load comment", err)
	}
	if comment.Status == "archived" {
		return store.CommentReply{}, validationError("archived comments are immutable")
	}

	reply := store.CommentReply{
		ID:        util.NewID("rpl"),
		CommentID: commentID,
		Content:   input.Content,
		Mentions:  input.Mentions,
		CreatedBy: userID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertCommentReply(ctx, reply); err != nil {
		return store.CommentReply{}, storageError("insert comment reply", err)
	}

	newValue, _ := json.Marshal(reply)
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "comment",
		Operation:   "update",
		NewValue:    newValue,
		Description: "replied to comment " + commentID,
		UserID:      userID,
	})
	for _, mentioned := range input.Mentions {
		s.emit(ctx, EventUserMentioned, documentID, userID, map[string]any{
			"mentionedUserId": mentioned,
			"commentId":       commentID,
			"replyId":         reply.ID,
		})
	}
	return reply, nil
}

// ReactToComment sets the caller's single reaction slot. Reacting with
// the type already set is a no-op: no duplicate row, no ledger entry.
// A different type replaces the previous one.
func (s *Service) ReactToComment(ctx context.Context, documentID, commentID, userID, reactionType string) error {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return err
	}
	if reactionType == "" {
		return validationError("reaction type is required")
	}
	if _, err := s.store.GetComment(ctx, documentID, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("comment not found")
		}
		return storageError("load comment", err)
	}

	changed, err := s.store.UpsertCommentReaction(ctx, store.CommentReaction{
		CommentID: commentID,
		UserID:    userID,
		Type:      reactionType,
	})
	if err != nil {
		return storageError("upsert reaction", err)
	}
	if !changed {
		return nil
	}

	newValue, _ := json.Marshal(map[string]string{"commentId": commentID, "reaction": reactionType})
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "comment",
		Operation:   "update",
		NewValue:    newValue,
		Description: "reacted to comment " + commentID,
		UserID:      userID,
	})
	return nil
}

// RemoveCommentReaction clears the caller's reaction slot; absent is a
// no-op.
func (s *Service) RemoveCommentReaction(ctx context.Context, documentID, commentID, userID string) error {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return err
	}
	removed, err := s.store.DeleteCommentReaction(ctx, commentID, userID)
	if err != nil {
		return storageError("delete reaction", err)
	}
	if !removed {
		return nil
	}
	oldValue, _ := json.Marshal(map[string]string{"commentId": commentID})
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "comment",
		Operation:   "update",
		OldValue:    oldValue,
		Description: "removed reaction from comment " + commentID,
		UserID:      userID,
	})
	return nil
}

// UpdateCommentStatus moves a comment along open -> resolved ->
// archived, with reopen from resolved. Creator or admin only.
func (s *Service) UpdateCommentStatus(ctx context.Context, documentID, commentID, userID, status string) (store.Comment, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelComment); err != nil {
		return store.Comment{}, err
	}
	comment, err := s.store.GetComment(ctx, documentID, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, notFound("comment not found")
	}
	if err != nil {
		return store.Comment{}, storageError("load comment", err)
	}
	if comment.CreatedBy != userID {
		if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
			return store.Comment{}, accessDenied("only the creator or an admin may change comment status")
		}
	}

	next, ok := commentStatusFlow[comment.Status]
	if !ok {
		return store.Comment{}, validationError("unknown comment status")
	}
	if _, ok := next[status]; !ok {
		return store.Comment{}, validationError("illegal status transition " + comment.Status + " -> " + status)
	}

	oldValue, _ := json.Marshal(map[string]string{"status": comment.Status})
	if err := s.store.SetCommentStatus(ctx, documentID, commentID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, notFound("comment not found")
		}
		return store.Comment{}, storageError("set comment status", err)
	}
	comment.Status = status
	comment.UpdatedAt = s.now().UTC()

	newValue, _ := json.Marshal(map[string]string{"status": status})
	s.appendChange(ctx, store.Change{
		DocumentID:  documentID,
		Type:        "comment",
		Operation:   "update",
		OldValue:    oldValue,
		NewValue:    newValue,
		Description: "comment " + commentID + " marked " + status,
		UserID:      userID,
	})
	return comment, nil
}

// ListComments returns the document's comments with their threads and
// reaction slots.
func (s *Service) ListComments(ctx context.Context, documentID, userID string, filter CommentFilter) ([]CommentView, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, documentID, filter.Status)
	if err != nil {
		return nil, storageError("list comments", err)
	}
	views := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		replies, err := s.store.ListCommentReplies(ctx, comment.ID)
		if err != nil {
			return nil, storageError("list comment replies", err)
		}
		reactions, err := s.store.ListCommentReactions(ctx, comment.ID)
		if err != nil {
			return nil, storageError("list comment reactions", err)
		}
		views = append(views, CommentView{Comment: comment, Replies: replies, Reactions: reactions})
	}
	return views, nil
}

// firstLine truncates content to a single task-title sized line.
func firstLine(content string, limit int) string {
	for i, r := range content {
		if r == '\n' {
			content = content[:i]
			break
		}
	}
	if len(content) > limit {
		content = content[:limit]
	}
	return content
}
