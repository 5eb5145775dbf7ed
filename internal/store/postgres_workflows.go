package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ===== approval workflows =====

// CreateWorkflow inserts the workflow, its steps and the matching ledger
// entry in one transaction.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf ApprovalWorkflow, entry Change) error {
	settings, err := json.Marshal(wf.Settings)
	if err != nil {
		return fmt.Errorf("marshal workflow settings: %w", err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO approval_workflows (id, document_id, type, status, current_step, settings, created_by)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		`, wf.ID, wf.DocumentID, wf.Type, wf.Status, wf.CurrentStep, string(settings), wf.CreatedBy); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for _, step := range wf.Steps {
			assigned, err := encodeStringList(step.AssignedTo)
			if err != nil {
				return fmt.Errorf("marshal step assignees: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO approval_steps (id, workflow_id, step_index, name, assigned_to, required_approvals, current_approvals, status, deadline)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
			`, step.ID, wf.ID, step.Index, step.Name, assigned, step.RequiredApprovals, step.CurrentApprovals, step.Status, step.Deadline); err != nil {
				return fmt.Errorf("insert workflow step: %w", err)
			}
		}
		return insertChangeRow(ctx, tx, &entry)
	})
}

// UpdateWorkflowState persists a transition that carries no vote (submit,
// skip, cancel): the workflow row, every step row and the ledger entry in
// one transaction.
func (s *PostgresStore) UpdateWorkflowState(ctx context.Context, wf ApprovalWorkflow, entry Change) (Change, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE approval_workflows SET status=$2, current_step=$3, completed_at=$4 WHERE id=$1
		`, wf.ID, wf.Status, wf.CurrentStep, wf.CompletedAt); err != nil {
			return fmt.Errorf("update workflow: %w", err)
		}
		for _, step := range wf.Steps {
			if _, err := tx.ExecContext(ctx, `
				UPDATE approval_steps SET status=$2, current_approvals=$3 WHERE id=$1
			`, step.ID, step.Status, step.CurrentApprovals); err != nil {
				return fmt.Errorf("update workflow step: %w", err)
			}
		}
		return insertChangeRow(ctx, tx, &entry)
	})
	if err != nil {
		return Change{}, err
	}
	return entry, nil
}

func scanWorkflow(row interface{ Scan(...any) error }) (ApprovalWorkflow, error) {
	var wf ApprovalWorkflow
	var settingsRaw []byte
	err := row.Scan(
		&wf.ID,
		&wf.DocumentID,
		&wf.Type,
		&wf.Status,
		&wf.CurrentStep,
		&settingsRaw,
		&wf.CreatedBy,
		&wf.CreatedAt,
		&wf.CompletedAt,
	)
	if err != nil {
		return ApprovalWorkflow{}, err
	}
	_ = json.Unmarshal(settingsRaw, &wf.Settings)
	return wf, nil
}

const workflowColumns = `id, document_id, type, status, current_step, settings, created_by, created_at, completed_at`

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (ApprovalWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM approval_workflows
		WHERE id=$1
	`, workflowID)
	wf, err := scanWorkflow(row)
	if err != nil {
		return ApprovalWorkflow{}, err
	}
	steps, err := s.listSteps(ctx, workflowID)
	if err != nil {
		return ApprovalWorkflow{}, err
	}
	wf.Steps = steps
	return wf, nil
}

// GetActiveWorkflow returns nil without error when the document has no
// pending or running workflow.
func (s *PostgresStore) GetActiveWorkflow(ctx context.Context, documentID string) (*ApprovalWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM approval_workflows
		WHERE document_id=$1 AND status IN ('pending', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1
	`, documentID)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active workflow: %w", err)
	}
	steps, err := s.listSteps(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return &wf, nil
}

func (s *PostgresStore) listSteps(ctx context.Context, workflowID string) ([]ApprovalStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, step_index, name, assigned_to, required_approvals, current_approvals, status, deadline
		FROM approval_steps
		WHERE workflow_id=$1
		ORDER BY step_index ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	steps := make([]ApprovalStep, 0)
	for rows.Next() {
		var step ApprovalStep
		var assignedRaw []byte
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Index, &step.Name, &assignedRaw,
			&step.RequiredApprovals, &step.CurrentApprovals, &step.Status, &step.Deadline); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		_ = json.Unmarshal(assignedRaw, &step.AssignedTo)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow steps: %w", err)
	}
	return steps, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, documentID string) ([]ApprovalWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workflowColumns+`
		FROM approval_workflows
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	items := make([]ApprovalWorkflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		items = append(items, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	for i := range items {
		steps, err := s.listSteps(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Steps = steps
	}
	return items, nil
}

// ApplyWorkflowAction persists one vote and the workflow state derived
// from it: the workflow row, every step row, the action upsert keyed by
// (step, user) and the ledger entry, all in one transaction.
func (s *PostgresStore) ApplyWorkflowAction(ctx context.Context, wf ApprovalWorkflow, action ApprovalAction, entry Change) (Change, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE approval_workflows SET status=$2, current_step=$3, completed_at=$4 WHERE id=$1
		`, wf.ID, wf.Status, wf.CurrentStep, wf.CompletedAt); err != nil {
			return fmt.Errorf("update workflow: %w", err)
		}
		for _, step := range wf.Steps {
			if _, err := tx.ExecContext(ctx, `
				UPDATE approval_steps SET status=$2, current_approvals=$3 WHERE id=$1
			`, step.ID, step.Status, step.CurrentApprovals); err != nil {
				return fmt.Errorf("update workflow step: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO approval_actions (id, workflow_id, step_id, user_id, action, comment, signature)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (step_id, user_id) DO UPDATE SET
				action=EXCLUDED.action,
				comment=EXCLUDED.comment,
				signature=EXCLUDED.signature,
				created_at=NOW()
		`, action.ID, action.WorkflowID, action.StepID, action.UserID, action.Action, action.Comment, action.Signature); err != nil {
			return fmt.Errorf("upsert workflow action: %w", err)
		}
		return insertChangeRow(ctx, tx, &entry)
	})
	if err != nil {
		return Change{}, err
	}
	return entry, nil
}

func (s *PostgresStore) ListWorkflowActions(ctx context.Context, workflowID string) ([]ApprovalAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, step_id, user_id, action, comment, signature, created_at
		FROM approval_actions
		WHERE workflow_id=$1
		ORDER BY created_at ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow actions: %w", err)
	}
	defer rows.Close()

	items := make([]ApprovalAction, 0)
	for rows.Next() {
		var item ApprovalAction
		if err := rows.Scan(&item.ID, &item.WorkflowID, &item.StepID, &item.UserID,
			&item.Action, &item.Comment, &item.Signature, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow action: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow actions: %w", err)
	}
	return items, nil
}
