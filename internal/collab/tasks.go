package collab

import (
	"context"

	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

type taskInserter interface {
	InsertTask(context.Context, store.Task) error
}

// LocalTaskService files comment assignments in the local tasks table.
// Deployments with an external task tracker inject their own
// TaskService instead.
type LocalTaskService struct {
	store taskInserter
}

func NewLocalTaskService(store taskInserter) *LocalTaskService {
	return &LocalTaskService{store: store}
}

func (s *LocalTaskService) CreateTask(ctx context.Context, spec TaskSpec) (string, error) {
	priority := spec.Priority
	if priority == "" {
		priority = "normal"
	}
	task := store.Task{
		ID:          util.NewID("task"),
		DocumentID:  spec.DocumentID,
		Title:       spec.Title,
		Description: spec.Description,
		Assignee:    spec.Assignee,
		DueDate:     spec.DueDate,
		Priority:    priority,
		Status:      "open",
		CreatedBy:   spec.CreatedBy,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}
