package collab

import (
	"context"
	"errors"
	"strings"
	"testing"

	"redline/collab/internal/store"
)

func TestCreateCommentCreatesTaskBeforeComment(t *testing.T) {
	var calls []string
	var inserted store.Comment
	fs := &fakeStore{
		insertCommentFn: func(_ context.Context, comment store.Comment) error {
			calls = append(calls, "comment")
			inserted = comment
			return nil
		},
	}
	svc, _ := newTestService(fs)
	svc.tasks = &fakeTasks{
		createTaskFn: func(_ context.Context, spec TaskSpec) (string, error) {
			calls = append(calls, "task")
			if spec.Assignee != "associate_1" {
				t.Fatalf("expected assignee associate_1, got %q", spec.Assignee)
			}
			if spec.Title != "Please tighten the limitation of liability" {
				t.Fatalf("task title should be the comment's first line, got %q", spec.Title)
			}
			if spec.Priority != "high" {
				t.Fatalf("expected priority high, got %q", spec.Priority)
			}
			return "task_42", nil
		},
	}

	comment, err := svc.CreateComment(context.Background(), "doc_1", "user_1", CommentInput{
		Content:      "Please tighten the limitation of liability\nSee clause 9.",
		TaskAssigned: &TaskAssigned{Assignee: "associate_1", Priority: "high"},
	})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if len(calls) != 2 || calls[0] != "task" || calls[1] != "comment" {
		t.Fatalf("task must be created before the comment persists, got %v", calls)
	}
	if comment.TaskID == nil || *comment.TaskID != "task_42" {
		t.Fatalf("comment must link the created task, got %v", comment.TaskID)
	}
	if inserted.TaskID == nil || *inserted.TaskID != "task_42" {
		t.Fatalf("persisted comment must carry the task id, got %v", inserted.TaskID)
	}
}

func TestCreateCommentTaskFailureLeavesNoComment(t *testing.T) {
	commentInserts := 0
	fs := &fakeStore{
		insertCommentFn: func(context.Context, store.Comment) error {
			commentInserts++
			return nil
		},
	}
	svc, _ := newTestService(fs)
	svc.tasks = &fakeTasks{
		createTaskFn: func(context.Context, TaskSpec) (string, error) {
			return "", errors.New("task store down")
		},
	}

	_, err := svc.CreateComment(context.Background(), "doc_1", "user_1", CommentInput{
		Content:      "Needs rework",
		TaskAssigned: &TaskAssigned{Assignee: "associate_1"},
	})
	if got := errCode(t, err); got != CodeStorageError {
		t.Fatalf("expected STORAGE_ERROR, got %s", got)
	}
	if commentInserts != 0 {
		t.Fatalf("comment must not persist when its task fails, got %d inserts", commentInserts)
	}
}

func TestCreateCommentTaskWithoutService(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.CreateComment(context.Background(), "doc_1", "user_1", CommentInput{
		Content:      "Needs rework",
		TaskAssigned: &TaskAssigned{Assignee: "associate_1"},
	})
	if got := errCode(t, err); got != CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR without a task service, got %s", got)
	}
}

func TestReactToCommentRepeatIsNoOp(t *testing.T) {
	ledgerWrites := 0
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, documentID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: documentID, Status: "open", CreatedBy: "someone_else"}, nil
		},
		upsertCommentReactionFn: func(context.Context, store.CommentReaction) (bool, error) {
			return false, nil // reaction already in place
		},
		insertChangeFn: func(_ context.Context, entry store.Change) (store.Change, error) {
			ledgerWrites++
			entry.ID = 1
			return entry, nil
		},
	}
	svc, _ := newTestService(fs)

	if err := svc.ReactToComment(context.Background(), "doc_1", "cmt_1", "user_1", "thumbs_up"); err != nil {
		t.Fatalf("repeated reaction must succeed silently: %v", err)
	}
	if ledgerWrites != 0 {
		t.Fatalf("no-op reaction must not write the ledger, got %d entries", ledgerWrites)
	}
}

func TestReactToCommentChangeWritesLedger(t *testing.T) {
	var recorded []store.Change
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, documentID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: documentID, Status: "open", CreatedBy: "someone_else"}, nil
		},
		insertChangeFn: func(_ context.Context, entry store.Change) (store.Change, error) {
			entry.ID = int64(len(recorded) + 1)
			recorded = append(recorded, entry)
			return entry, nil
		},
	}
	svc, _ := newTestService(fs)

	if err := svc.ReactToComment(context.Background(), "doc_1", "cmt_1", "user_1", "thumbs_up"); err != nil {
		t.Fatalf("ReactToComment() error = %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(recorded))
	}
	if recorded[0].Type != "comment" || recorded[0].Operation != "update" {
		t.Fatalf("unexpected ledger entry %s/%s", recorded[0].Type, recorded[0].Operation)
	}
}

func TestRemoveCommentReactionAbsentIsNoOp(t *testing.T) {
	ledgerWrites := 0
	fs := &fakeStore{
		insertChangeFn: func(_ context.Context, entry store.Change) (store.Change, error) {
			ledgerWrites++
			entry.ID = 1
			return entry, nil
		},
	}
	svc, _ := newTestService(fs)

	if err := svc.RemoveCommentReaction(context.Background(), "doc_1", "cmt_1", "user_1"); err != nil {
		t.Fatalf("removing an absent reaction must be a no-op: %v", err)
	}
	if ledgerWrites != 0 {
		t.Fatalf("no-op removal must not write the ledger, got %d entries", ledgerWrites)
	}
}

func TestUpdateCommentStatusCreatorOrAdminOnly(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userDirectory(map[string]string{"editor_1": "editor", "admin_1": "admin"}),
		getCommentFn: func(_ context.Context, documentID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: documentID, Status: "open", CreatedBy: "someone_else"}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.UpdateCommentStatus(context.Background(), "doc_1", "cmt_1", "editor_1", "resolved")
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("non-creator editor must be denied, got %s", got)
	}
	if _, err := svc.UpdateCommentStatus(context.Background(), "doc_1", "cmt_1", "admin_1", "resolved"); err != nil {
		t.Fatalf("admins may resolve any comment: %v", err)
	}
}

func TestUpdateCommentStatusArchivedIsTerminal(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, documentID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: documentID, Status: "archived", CreatedBy: "user_1"}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.UpdateCommentStatus(context.Background(), "doc_1", "cmt_1", "user_1", "open")
	if got := errCode(t, err); got != CodeValidationError {
		t.Fatalf("archived comments must not reopen, got %s", got)
	}
}

func TestAddCommentReplyArchivedImmutable(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, documentID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: documentID, Status: "archived", CreatedBy: "user_1"}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.AddCommentReply(context.Background(), "doc_1", "cmt_1", "user_1", ReplyInput{Content: "late"})
	if got := errCode(t, err); got != CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR for archived comment, got %s", got)
	}
}

func TestListCommentsAssemblesThreads(t *testing.T) {
	fs := &fakeStore{
		listCommentsFn: func(context.Context, string, string) ([]store.Comment, error) {
			return []store.Comment{{ID: "cmt_1", Status: "open"}}, nil
		},
		listCommentRepliesFn: func(_ context.Context, commentID string) ([]store.CommentReply, error) {
			return []store.CommentReply{{ID: "rpl_1", CommentID: commentID}}, nil
		},
		listCommentReactionsFn: func(_ context.Context, commentID string) ([]store.CommentReaction, error) {
			return []store.CommentReaction{{CommentID: commentID, UserID: "user_2", Type: "thumbs_up"}}, nil
		},
	}
	svc, _ := newTestService(fs)

	views, err := svc.ListComments(context.Background(), "doc_1", "user_1", CommentFilter{})
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(views) != 1 || len(views[0].Replies) != 1 || len(views[0].Reactions) != 1 {
		t.Fatalf("unexpected view shape: %+v", views)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one line", 120); got != "one line" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := firstLine("first\nsecond", 120); got != "first" {
		t.Fatalf("expected first line only, got %q", got)
	}
	long := strings.Repeat("x", 150)
	if got := firstLine(long, 120); len(got) != 120 {
		t.Fatalf("expected 120-char cap, got %d", len(got))
	}
}
