package export

import (
	"context"
	"fmt"
)

// DataStore defines the data access the report needs. The caller maps
// its own entities onto the Info structs so the renderer stays free of
// storage concerns.
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	ListAnnotations(ctx context.Context, documentID string) ([]AnnotationInfo, error)
	ListComments(ctx context.Context, documentID string) ([]CommentInfo, error)
	ListVersions(ctx context.Context, documentID string) ([]VersionInfo, error)
	ListWorkflows(ctx context.Context, documentID string) ([]WorkflowInfo, error)
}

// Service provides collaboration report export
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	docInfo, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	data := TemplateData{
		Title:     docInfo.Title,
		FileName:  docInfo.FileName,
		Status:    docInfo.Status,
		Owner:     docInfo.Owner,
		UpdatedAt: docInfo.UpdatedAt,
	}

	if req.IncludeAnnotations {
		annotations, err := s.store.ListAnnotations(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list annotations: %w", err)
		}
		data.Annotations = annotations
	}
	if req.IncludeComments {
		comments, err := s.store.ListComments(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		data.Comments = comments
	}
	if req.IncludeVersions {
		versions, err := s.store.ListVersions(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}
		data.Versions = versions
	}
	if req.IncludeApprovals {
		workflows, err := s.store.ListWorkflows(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		data.Workflows = workflows
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, docInfo.Title)
	case FormatDOCX:
		return exportDOCX(html, docInfo.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
