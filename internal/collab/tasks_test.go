package collab

import (
	"context"
	"errors"
	"strings"
	"testing"

	"redline/collab/internal/store"
)

type fakeTaskInserter struct {
	insertTaskFn func(context.Context, store.Task) error
}

func (f *fakeTaskInserter) InsertTask(ctx context.Context, task store.Task) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	return nil
}

func TestLocalTaskServiceDefaults(t *testing.T) {
	var inserted store.Task
	svc := NewLocalTaskService(&fakeTaskInserter{
		insertTaskFn: func(_ context.Context, task store.Task) error {
			inserted = task
			return nil
		},
	})

	id, err := svc.CreateTask(context.Background(), TaskSpec{
		DocumentID: "doc_1",
		Title:      "Review indemnity cap",
		Assignee:   "associate_1",
		CreatedBy:  "partner_1",
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if !strings.HasPrefix(id, "task_") {
		t.Fatalf("expected task_ id, got %q", id)
	}
	if inserted.Priority != "normal" || inserted.Status != "open" {
		t.Fatalf("unexpected defaults priority=%s status=%s", inserted.Priority, inserted.Status)
	}
	if inserted.Assignee != "associate_1" || inserted.CreatedBy != "partner_1" {
		t.Fatalf("unexpected task %+v", inserted)
	}
}

func TestLocalTaskServicePropagatesFailure(t *testing.T) {
	svc := NewLocalTaskService(&fakeTaskInserter{
		insertTaskFn: func(context.Context, store.Task) error {
			return errors.New("tasks table missing")
		},
	})

	if _, err := svc.CreateTask(context.Background(), TaskSpec{DocumentID: "doc_1", Assignee: "a"}); err == nil {
		t.Fatalf("expected insert failure to propagate")
	}
}

func TestReportStoreFiltersPrivateAnnotations(t *testing.T) {
	fs := &fakeStore{
		listAnnotationsFn: func(context.Context, string, int, string) ([]store.Annotation, error) {
			return []store.Annotation{
				{ID: "ann_shared", Visibility: "shared", Content: "shared note", CreatedBy: "user_1"},
				{ID: "ann_private", Visibility: "private", Content: "my eyes only", CreatedBy: "user_1"},
			}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Dana Reyes"}, nil
		},
	}
	annotations, err := NewReportStore(fs).ListAnnotations(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("ListAnnotations() error = %v", err)
	}
	if len(annotations) != 1 {
		t.Fatalf("private annotations must not reach a report, got %d", len(annotations))
	}
	if annotations[0].Content != "shared note" || annotations[0].Author != "Dana Reyes" {
		t.Fatalf("unexpected report row %+v", annotations[0])
	}
}

func TestReportStoreDisplayNameFallsBack(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{}, errors.New("directory offline")
		},
	}
	document, err := NewReportStore(fs).GetDocument(context.Background(), "doc_1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if document.Owner != "user_owner" {
		t.Fatalf("owner must fall back to the user id, got %q", document.Owner)
	}
}
