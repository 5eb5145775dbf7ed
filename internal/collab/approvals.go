package collab

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"redline/collab/internal/access"
	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

type WorkflowStepInput struct {
	Name              string     `json:"name"`
	AssignedTo        []string   `json:"assignedTo"`
	RequiredApprovals int        `json:"requiredApprovals"`
	Deadline          *time.Time `json:"deadline,omitempty"`
}

type WorkflowInput struct {
	Type              string              `json:"type"`
	Steps             []WorkflowStepInput `json:"steps"`
	AnyRejectionHalts *bool               `json:"anyRejectionHalts,omitempty"`
	OnRequestChanges  string              `json:"onRequestChanges,omitempty"`
}

// WorkflowView is a workflow with its recorded votes attached.
type WorkflowView struct {
	store.ApprovalWorkflow
	Actions []store.ApprovalAction `json:"actions,omitempty"`
}

// CreateApprovalWorkflow sets up a review chain for a document. Only one
// pending or running workflow may exist per document at a time.
func (s *Service) CreateApprovalWorkflow(ctx context.Context, documentID, userID string, input WorkflowInput) (store.ApprovalWorkflow, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return store.ApprovalWorkflow{}, err
	}
	if _, ok := allowedWorkflowTypes[input.Type]; !ok {
		return store.ApprovalWorkflow{}, validationError("invalid workflow type: " + input.Type)
	}
	if len(input.Steps) == 0 {
		return store.ApprovalWorkflow{}, validationError("workflow requires at least one step")
	}
	for _, step := range input.Steps {
		if len(step.AssignedTo) == 0 {
			return store.ApprovalWorkflow{}, validationError("every step requires at least one assignee")
		}
	}
	switch input.OnRequestChanges {
	case "", "halt", "continue":
	default:
		return store.ApprovalWorkflow{}, validationError("invalid onRequestChanges policy: " + input.OnRequestChanges)
	}

	active, err := s.store.GetActiveWorkflow(ctx, documentID)
	if err != nil {
		return store.ApprovalWorkflow{}, storageError("check active workflow", err)
	}
	if active != nil {
		return store.ApprovalWorkflow{}, validationError("document already has an active approval workflow")
	}

	settings := store.WorkflowSettings{
		AnyRejectionHalts: true,
		OnRequestChanges:  "continue",
	}
	if input.AnyRejectionHalts != nil {
		settings.AnyRejectionHalts = *input.AnyRejectionHalts
	}
	if input.OnRequestChanges != "" {
		settings.OnRequestChanges = input.OnRequestChanges
	}

	wf := store.ApprovalWorkflow{
		ID:         util.NewID("wf"),
		DocumentID: documentID,
		Type:       input.Type,
		Status:     "pending",
		Settings:   settings,
		CreatedBy:  userID,
	}
	for i, step := range input.Steps {
		required := step.RequiredApprovals
		if required < 1 {
			required = 1
		}
		if required > len(step.AssignedTo) {
			required = len(step.AssignedTo)
		}
		wf.Steps = append(wf.Steps, store.ApprovalStep{
			ID:                util.NewID("stp"),
			WorkflowID:        wf.ID,
			Index:             i,
			Name:              step.Name,
			AssignedTo:        step.AssignedTo,
			RequiredApprovals: required,
			Status:            "pending",
			Deadline:          step.Deadline,
		})
	}

	if err := s.store.CreateWorkflow(ctx, wf, store.Change{
		DocumentID:  documentID,
		Type:        "structure",
		Operation:   "create",
		Description: "created " + wf.Type + " approval workflow",
		UserID:      userID,
	}); err != nil {
		return store.ApprovalWorkflow{}, storageError("create workflow", err)
	}
	return wf, nil
}

// SubmitForApproval starts a pending workflow. Sequential workflows open
// only the first step; parallel workflows open every step at once.
func (s *Service) SubmitForApproval(ctx context.Context, documentID, workflowID, userID string) (store.ApprovalWorkflow, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return store.ApprovalWorkflow{}, err
	}
	wf, err := s.loadWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return store.ApprovalWorkflow{}, err
	}
	if wf.Status != "pending" {
		return store.ApprovalWorkflow{}, validationError("workflow has already been submitted")
	}

	wf.Status = "in_progress"
	var activated []int
	if wf.Type == "sequential" {
		wf.Steps[0].Status = "in_progress"
		activated = []int{0}
	} else {
		for i := range wf.Steps {
			wf.Steps[i].Status = "in_progress"
			activated = append(activated, i)
		}
	}

	if _, err := s.store.UpdateWorkflowState(ctx, wf, store.Change{
		DocumentID:  documentID,
		Type:        "structure",
		Operation:   "update",
		Description: "submitted approval workflow for review",
		UserID:      userID,
	}); err != nil {
		return store.ApprovalWorkflow{}, storageError("submit workflow", err)
	}
	s.notifyAssignees(ctx, wf, activated, userID)
	return wf, nil
}

// ApplyApprovalAction records one reviewer's vote and derives the step
// and workflow state from it. Votes upsert per (step, user): a re-vote
// replaces the earlier one and never double-counts.
func (s *Service) ApplyApprovalAction(ctx context.Context, documentID, workflowID, stepID, userID, action, comment, signature string) (store.ApprovalWorkflow, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return store.ApprovalWorkflow{}, err
	}
	if _, ok := allowedApprovalActions[action]; !ok {
		return store.ApprovalWorkflow{}, validationError("invalid approval action: " + action)
	}
	wf, err := s.loadWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return store.ApprovalWorkflow{}, err
	}
	if workflowTerminal(wf.Status) {
		return store.ApprovalWorkflow{}, validationError("workflow already completed")
	}
	if wf.Status != "in_progress" {
		return store.ApprovalWorkflow{}, validationError("workflow has not been submitted")
	}

	stepIdx := slices.IndexFunc(wf.Steps, func(step store.ApprovalStep) bool { return step.ID == stepID })
	if stepIdx < 0 {
		return store.ApprovalWorkflow{}, notFound("workflow step not found")
	}
	step := &wf.Steps[stepIdx]
	if step.Status != "in_progress" {
		return store.ApprovalWorkflow{}, validationError("step is not open for review")
	}
	if wf.Type == "sequential" && step.Index != wf.CurrentStep {
		return store.ApprovalWorkflow{}, validationError("sequential workflows review one step at a time")
	}
	if !slices.Contains(step.AssignedTo, userID) && !s.isAdmin(ctx, userID) {
		return store.ApprovalWorkflow{}, accessDenied("caller is not assigned to this step")
	}

	votes, err := s.stepVotes(ctx, workflowID, stepID)
	if err != nil {
		return store.ApprovalWorkflow{}, err
	}
	votes[userID] = action

	// Step tallies are always recomputed from the vote set, never
	// incremented, so replaced votes cannot drift the counters.
	step.CurrentApprovals = countVotes(votes, "approve")

	effective := action
	if action == "request_changes" && wf.Settings.OnRequestChanges == "halt" {
		effective = "reject"
	}

	var activated []int
	switch effective {
	case "approve":
		if step.CurrentApprovals >= step.RequiredApprovals {
			step.Status = "approved"
			activated = s.advanceWorkflow(&wf)
		}
	case "reject":
		halts := wf.Settings.AnyRejectionHalts
		if !halts {
			// Without the halt policy a single rejection only sinks the
			// step once the outstanding voters can no longer reach the
			// required count.
			potential := step.CurrentApprovals
			for _, assignee := range step.AssignedTo {
				if _, voted := votes[assignee]; !voted {
					potential++
				}
			}
			halts = potential < step.RequiredApprovals
		}
		if halts {
			step.Status = "rejected"
			wf.Status = "rejected"
			now := s.now()
			wf.CompletedAt = &now
		}
	case "request_changes":
		// Recorded, step stays open.
	}

	if _, err := s.store.ApplyWorkflowAction(ctx, wf, store.ApprovalAction{
		ID:         util.NewID("act"),
		WorkflowID: workflowID,
		StepID:     stepID,
		UserID:     userID,
		Action:     action,
		Comment:    comment,
		Signature:  signature,
	}, store.Change{
		DocumentID:  documentID,
		Type:        "structure",
		Operation:   "update",
		Description: userID + " voted " + action + " on step " + step.Name,
		UserID:      userID,
	}); err != nil {
		return store.ApprovalWorkflow{}, storageError("apply workflow action", err)
	}
	s.notifyAssignees(ctx, wf, activated, userID)
	return wf, nil
}

// SkipStep marks a step skipped, which counts as satisfied for
// advancement. Admin only.
func (s *Service) SkipStep(ctx context.Context, documentID, workflowID, stepID, userID, reason string) (store.ApprovalWorkflow, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelAdmin); err != nil {
		return store.ApprovalWorkflow{}, err
	}
	wf, err := s.loadWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return store.ApprovalWorkflow{}, err
	}
	if workflowTerminal(wf.Status) {
		return store.ApprovalWorkflow{}, validationError("workflow already completed")
	}

	stepIdx := slices.IndexFunc(wf.Steps, func(step store.ApprovalStep) bool { return step.ID == stepID })
	if stepIdx < 0 {
		return store.ApprovalWorkflow{}, notFound("workflow step not found")
	}
	step := &wf.Steps[stepIdx]
	if stepTerminal(step.Status) {
		return store.ApprovalWorkflow{}, validationError("step already completed")
	}

	step.Status = "skipped"
	var activated []int
	if wf.Status == "in_progress" {
		activated = s.advanceWorkflow(&wf)
	}

	description := "skipped approval step " + step.Name
	if reason != "" {
		description += " (" + reason + ")"
	}
	if _, err := s.store.UpdateWorkflowState(ctx, wf, store.Change{
		DocumentID:  documentID,
		Type:        "structure",
		Operation:   "update",
		Description: description,
		UserID:      userID,
	}); err != nil {
		return store.ApprovalWorkflow{}, storageError("skip workflow step", err)
	}
	s.notifyAssignees(ctx, wf, activated, userID)
	return wf, nil
}

// CancelWorkflow terminates a non-terminal workflow. Creator or admin.
func (s *Service) CancelWorkflow(ctx context.Context, documentID, workflowID, userID string) (store.ApprovalWorkflow, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return store.ApprovalWorkflow{}, err
	}
	wf, err := s.loadWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return store.ApprovalWorkflow{}, err
	}
	if wf.CreatedBy != userID && !s.isAdmin(ctx, userID) {
		return store.ApprovalWorkflow{}, accessDenied("only the workflow creator or an admin can cancel it")
	}
	if workflowTerminal(wf.Status) {
		return store.ApprovalWorkflow{}, validationError("workflow already completed")
	}

	wf.Status = "cancelled"
	now := s.now()
	wf.CompletedAt = &now

	if _, err := s.store.UpdateWorkflowState(ctx, wf, store.Change{
		DocumentID:  documentID,
		Type:        "structure",
		Operation:   "update",
		Description: "cancelled approval workflow",
		UserID:      userID,
	}); err != nil {
		return store.ApprovalWorkflow{}, storageError("cancel workflow", err)
	}
	return wf, nil
}

func (s *Service) GetApprovalWorkflow(ctx context.Context, documentID, workflowID, userID string) (WorkflowView, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return WorkflowView{}, err
	}
	wf, err := s.loadWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return WorkflowView{}, err
	}
	actions, err := s.store.ListWorkflowActions(ctx, workflowID)
	if err != nil {
		return WorkflowView{}, storageError("list workflow actions", err)
	}
	return WorkflowView{ApprovalWorkflow: wf, Actions: actions}, nil
}

func (s *Service) ListApprovalWorkflows(ctx context.Context, documentID, userID string) ([]store.ApprovalWorkflow, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	workflows, err := s.store.ListWorkflows(ctx, documentID)
	if err != nil {
		return nil, storageError("list workflows", err)
	}
	return workflows, nil
}

// advanceWorkflow moves past every satisfied step. For sequential
// workflows it opens the next pending step and reports it for
// notification; when no step remains unsatisfied the workflow completes.
func (s *Service) advanceWorkflow(wf *store.ApprovalWorkflow) []int {
	if wf.Type == "sequential" {
		for i := wf.CurrentStep; i < len(wf.Steps); i++ {
			switch wf.Steps[i].Status {
			case "approved", "skipped":
				continue
			case "pending":
				wf.CurrentStep = i
				wf.Steps[i].Status = "in_progress"
				return []int{i}
			default:
				wf.CurrentStep = i
				return nil
			}
		}
		wf.CurrentStep = len(wf.Steps)
	} else {
		for _, step := range wf.Steps {
			if step.Status != "approved" && step.Status != "skipped" {
				return nil
			}
		}
	}
	wf.Status = "approved"
	now := s.now()
	wf.CompletedAt = &now
	return nil
}

// notifyAssignees emits approval_assigned for every step in indexes.
func (s *Service) notifyAssignees(ctx context.Context, wf store.ApprovalWorkflow, indexes []int, actorUserID string) {
	for _, i := range indexes {
		step := wf.Steps[i]
		for _, assignee := range step.AssignedTo {
			s.emit(ctx, EventApprovalAssigned, wf.DocumentID, actorUserID, map[string]any{
				"workflowId": wf.ID,
				"stepId":     step.ID,
				"stepName":   step.Name,
				"assignee":   assignee,
			})
		}
	}
}

// stepVotes maps each voter on a step to their latest recorded action.
func (s *Service) stepVotes(ctx context.Context, workflowID, stepID string) (map[string]string, error) {
	actions, err := s.store.ListWorkflowActions(ctx, workflowID)
	if err != nil {
		return nil, storageError("list workflow actions", err)
	}
	votes := make(map[string]string)
	for _, action := range actions {
		if action.StepID == stepID {
			votes[action.UserID] = action.Action
		}
	}
	return votes, nil
}

func (s *Service) loadWorkflow(ctx context.Context, documentID, workflowID string) (store.ApprovalWorkflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ApprovalWorkflow{}, notFound("workflow not found")
	}
	if err != nil {
		return store.ApprovalWorkflow{}, storageError("load workflow", err)
	}
	if wf.DocumentID != documentID {
		return store.ApprovalWorkflow{}, notFound("workflow not found")
	}
	return wf, nil
}

func (s *Service) isAdmin(ctx context.Context, userID string) bool {
	user, err := s.users.ResolveUser(ctx, userID)
	return err == nil && user.Role == access.RoleAdmin
}

func countVotes(votes map[string]string, action string) int {
	count := 0
	for _, vote := range votes {
		if vote == action {
			count++
		}
	}
	return count
}

func workflowTerminal(status string) bool {
	return status == "approved" || status == "rejected" || status == "cancelled"
}

func stepTerminal(status string) bool {
	return status == "approved" || status == "rejected" || status == "skipped"
}
