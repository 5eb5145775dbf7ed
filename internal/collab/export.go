package collab

import (
	"context"

	"redline/collab/internal/access"
	"redline/collab/internal/export"
)

type ExportRequest struct {
	Format             export.Format `json:"format"`
	IncludeAnnotations bool          `json:"includeAnnotations"`
	IncludeComments    bool          `json:"includeComments"`
	IncludeVersions    bool          `json:"includeVersions"`
	IncludeApprovals   bool          `json:"includeApprovals"`
}

// ExportReport renders the document's collaboration report.
func (s *Service) ExportReport(ctx context.Context, documentID, userID string, req ExportRequest) (*export.Result, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, validationError("export is not configured")
	}
	result, err := s.exporter.Export(ctx, export.Request{
		DocumentID:         documentID,
		Format:             req.Format,
		IncludeAnnotations: req.IncludeAnnotations,
		IncludeComments:    req.IncludeComments,
		IncludeVersions:    req.IncludeVersions,
		IncludeApprovals:   req.IncludeApprovals,
	})
	if err != nil {
		return nil, storageError("export report", err)
	}
	return result, nil
}

// NewReportStore adapts the engine's data store to the export
// renderer's view of the world. Private annotations never reach a
// report.
func NewReportStore(store dataStore) export.DataStore {
	return reportStore{store: store}
}

type reportStore struct {
	store dataStore
}

func (r reportStore) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	document, err := r.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:        document.ID,
		Title:     document.Title,
		FileName:  document.FileName,
		Status:    document.Status,
		Owner:     r.displayName(ctx, document.CreatedBy),
		UpdatedAt: document.UpdatedAt,
	}, nil
}

func (r reportStore) ListAnnotations(ctx context.Context, documentID string) ([]export.AnnotationInfo, error) {
	annotations, err := r.store.ListAnnotations(ctx, documentID, 0, "")
	if err != nil {
		return nil, err
	}
	items := make([]export.AnnotationInfo, 0, len(annotations))
	for _, annotation := range annotations {
		if annotation.Visibility == "private" {
			continue
		}
		items = append(items, export.AnnotationInfo{
			PageNumber: annotation.PageNumber,
			Type:       annotation.Type,
			Content:    annotation.Content,
			Status:     annotation.Status,
			Author:     r.displayName(ctx, annotation.CreatedBy),
			CreatedAt:  annotation.CreatedAt,
		})
	}
	return items, nil
}

func (r reportStore) ListComments(ctx context.Context, documentID string) ([]export.CommentInfo, error) {
	comments, err := r.store.ListComments(ctx, documentID, "")
	if err != nil {
		return nil, err
	}
	items := make([]export.CommentInfo, 0, len(comments))
	for _, comment := range comments {
		info := export.CommentInfo{
			Content:   comment.Content,
			Status:    comment.Status,
			Author:    r.displayName(ctx, comment.CreatedBy),
			CreatedAt: comment.CreatedAt,
		}
		replies, err := r.store.ListCommentReplies(ctx, comment.ID)
		if err != nil {
			return nil, err
		}
		for _, reply := range replies {
			info.Replies = append(info.Replies, export.ReplyInfo{
				Author:    r.displayName(ctx, reply.CreatedBy),
				Body:      reply.Content,
				CreatedAt: reply.CreatedAt,
			})
		}
		items = append(items, info)
	}
	return items, nil
}

func (r reportStore) ListVersions(ctx context.Context, documentID string) ([]export.VersionInfo, error) {
	versions, err := r.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]export.VersionInfo, 0, len(versions))
	for _, version := range versions {
		items = append(items, export.VersionInfo{
			Version:   version.Version,
			Comment:   version.Comment,
			Author:    r.displayName(ctx, version.CreatedBy),
			FileSize:  version.FileSize,
			IsLatest:  version.IsLatest,
			CreatedAt: version.CreatedAt,
		})
	}
	return items, nil
}

func (r reportStore) ListWorkflows(ctx context.Context, documentID string) ([]export.WorkflowInfo, error) {
	workflows, err := r.store.ListWorkflows(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]export.WorkflowInfo, 0, len(workflows))
	for _, wf := range workflows {
		info := export.WorkflowInfo{
			Type:      wf.Type,
			Status:    wf.Status,
			CreatedAt: wf.CreatedAt,
		}
		for _, step := range wf.Steps {
			info.Steps = append(info.Steps, export.StepInfo{
				Name:              step.Name,
				Status:            step.Status,
				CurrentApprovals:  step.CurrentApprovals,
				RequiredApprovals: step.RequiredApprovals,
			})
		}
		items = append(items, info)
	}
	return items, nil
}

func (r reportStore) displayName(ctx context.Context, userID string) string {
	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil || user.DisplayName == "" {
		return userID
	}
	return user.DisplayName
}
