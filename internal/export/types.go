// Package export renders a document's collaboration report (annotations,
// comments, version history, approvals) as PDF or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID         string
	Format             Format
	IncludeAnnotations bool
	IncludeComments    bool
	IncludeVersions    bool
	IncludeApprovals   bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentInfo holds the document metadata shown in the report header
type DocumentInfo struct {
	ID        string
	Title     string
	FileName  string
	Status    string
	Owner     string
	UpdatedAt time.Time
}

// AnnotationInfo holds one annotation row for the report
type AnnotationInfo struct {
	PageNumber int
	Type       string
	Content    string
	Status     string
	Author     string
	CreatedAt  time.Time
}

// CommentInfo holds one comment thread for the report
type CommentInfo struct {
	Content   string
	Status    string
	Author    string
	CreatedAt time.Time
	Replies   []ReplyInfo
}

// ReplyInfo holds a comment reply
type ReplyInfo struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// VersionInfo holds one version history row
type VersionInfo struct {
	Version   int
	Comment   string
	Author    string
	FileSize  int64
	IsLatest  bool
	CreatedAt time.Time
}

// WorkflowInfo holds one approval workflow with its steps
type WorkflowInfo struct {
	Type      string
	Status    string
	CreatedAt time.Time
	Steps     []StepInfo
}

// StepInfo holds one approval step row
type StepInfo struct {
	Name              string
	Status            string
	CurrentApprovals  int
	RequiredApprovals int
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
