package store

import (
	"encoding/json"
	"time"

	"redline/collab/internal/geo"
)

type User struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organizationId"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Document struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Title          string     `json:"title"`
	FileName       string     `json:"fileName"`
	MimeType       string     `json:"mimeType"`
	AccessLevel    string     `json:"accessLevel"` // organization, client, restricted, public
	Status         string     `json:"status"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// ===== annotations =====

type Annotation struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	PageNumber int             `json:"pageNumber"`
	Region     geo.Rect        `json:"region"`
	Type       string          `json:"type"` // highlight, note, rectangle, arrow, text, drawing, stamp
	Content    string          `json:"content"`
	Style      json.RawMessage `json:"style,omitempty"`
	Color      string          `json:"color"`
	Visibility string          `json:"visibility"` // private, shared
	Status     string          `json:"status"`     // active, resolved, archived
	Priority   string          `json:"priority"`   // low, normal, high, critical
	CreatedBy  string          `json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type AnnotationReply struct {
	ID           string    `json:"id"`
	AnnotationID string    `json:"annotationId"`
	Content      string    `json:"content"`
	Mentions     []string  `json:"mentions,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ===== comments =====

type Comment struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	Content     string    `json:"content"`
	Mentions    []string  `json:"mentions,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	TaskID      *string   `json:"taskId,omitempty"`
	Status      string    `json:"status"` // open, resolved, archived
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CommentReply struct {
	ID        string    `json:"id"`
	CommentID string    `json:"commentId"`
	Content   string    `json:"content"`
	Mentions  []string  `json:"mentions,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentReaction is a single-slot record per (comment, user); a user's
// later reaction replaces their earlier one.
type CommentReaction struct {
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// ===== versions =====

type DocumentVersion struct {
	ID            string          `json:"id"`
	DocumentID    string          `json:"documentId"`
	Version       int             `json:"version"`
	ContentURL    string          `json:"contentUrl"`
	Checksum      string          `json:"checksum"`
	FileSize      int64           `json:"fileSize"`
	IsLatest      bool            `json:"isLatestVersion"`
	ChangeSummary []VersionChange `json:"changeSummary,omitempty"`
	MergeInfo     *MergeInfo      `json:"mergeInfo,omitempty"`
	Comment       string          `json:"comment,omitempty"`
	CreatedBy     string          `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type VersionChange struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	PageNumber  *int   `json:"pageNumber,omitempty"`
}

type MergeInfo struct {
	MergedFrom         []string             `json:"mergedFrom"`
	ConflictResolution []ConflictResolution `json:"conflictResolution,omitempty"`
}

type ConflictResolution struct {
	Field          string            `json:"field"`
	ChosenValue    json.RawMessage   `json:"chosenValue"`
	RejectedValues []json.RawMessage `json:"rejectedValues,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// ===== change ledger =====

// Change is one immutable ledger entry. ID is a store-assigned sequence
// number; entries for a document are totally ordered by it.
type Change struct {
	ID          int64           `json:"id"`
	DocumentID  string          `json:"documentId"`
	Type        string          `json:"type"`      // content, metadata, annotation, comment, permission, structure
	Operation   string          `json:"operation"` // create, update, delete, move, copy
	OldValue    json.RawMessage `json:"oldValue,omitempty"`
	NewValue    json.RawMessage `json:"newValue,omitempty"`
	PageNumber  *int            `json:"pageNumber,omitempty"`
	Region      *geo.Rect       `json:"region,omitempty"`
	Description string          `json:"description"`
	UserID      string          `json:"userId"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type ChangeFilter struct {
	Types      []string
	Operations []string
	UserID     string
	Since      *time.Time
	Until      *time.Time
	// Limit of 0 means no cap. Entries come back newest first.
	Limit  int
	Offset int
}

// ===== shares =====

type DocumentShare struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"documentId"`
	Type         string            `json:"type"` // link, email, user, client, organization
	SharedWith   string            `json:"sharedWith,omitempty"`
	AccessLevel  string            `json:"accessLevel"` // view, comment, edit, admin
	Permissions  SharePermissions  `json:"permissions"`
	Restrictions ShareRestrictions `json:"restrictions"`
	Analytics    ShareAnalytics    `json:"analytics"`
	Token        string            `json:"token,omitempty"`
	IsActive     bool              `json:"isActive"`
	CreatedBy    string            `json:"createdBy"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// SharePermissions is a bitset of the actions a grant allows.
type SharePermissions uint8

const (
	PermDownload SharePermissions = 1 << iota
	PermPrint
	PermCopy
	PermShare
	PermAnnotate
	PermComment
)

func (p SharePermissions) Has(flag SharePermissions) bool {
	return p&flag != 0
}

type ShareRestrictions struct {
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	MaxViews     *int       `json:"maxViews,omitempty"`
	AllowedIPs   []string   `json:"allowedIps,omitempty"`
	PasswordHash *string    `json:"-"`
	Watermark    bool       `json:"watermark"`
}

type ShareAnalytics struct {
	ViewCount      int        `json:"viewCount"`
	DownloadCount  int        `json:"downloadCount"`
	PrintCount     int        `json:"printCount"`
	UniqueViewers  []string   `json:"uniqueViewers,omitempty"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

type ShareAccessRecord struct {
	ID        int64     `json:"id"`
	ShareID   string    `json:"shareId"`
	Action    string    `json:"action"` // view, download, print, comment, annotate
	ViewerID  string    `json:"viewerId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ===== approval workflows =====

type ApprovalWorkflow struct {
	ID          string           `json:"id"`
	DocumentID  string           `json:"documentId"`
	Type        string           `json:"type"`   // sequential, parallel
	Status      string           `json:"status"` // pending, in_progress, approved, rejected, cancelled
	CurrentStep int              `json:"currentStep"`
	Settings    WorkflowSettings `json:"settings"`
	Steps       []ApprovalStep   `json:"steps,omitempty"`
	CreatedBy   string           `json:"createdBy"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

type WorkflowSettings struct {
	AnyRejectionHalts bool   `json:"anyRejectionHalts"`
	OnRequestChanges  string `json:"onRequestChanges"` // halt, continue
}

type ApprovalStep struct {
	ID                string     `json:"id"`
	WorkflowID        string     `json:"workflowId"`
	Index             int        `json:"index"`
	Name              string     `json:"name"`
	AssignedTo        []string   `json:"assignedTo"`
	RequiredApprovals int        `json:"requiredApprovals"`
	CurrentApprovals  int        `json:"currentApprovals"`
	Status            string     `json:"status"` // pending, in_progress, approved, rejected, skipped
	Deadline          *time.Time `json:"deadline,omitempty"`
}

type ApprovalAction struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	StepID     string    `json:"stepId"`
	UserID     string    `json:"userId"`
	Action     string    `json:"action"` // approve, reject, request_changes
	Comment    string    `json:"comment,omitempty"`
	Signature  string    `json:"signature,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ===== tasks =====

// Task backs the store-based TaskService adapter used when a comment
// carries an assignment.
type Task struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"documentId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
}
