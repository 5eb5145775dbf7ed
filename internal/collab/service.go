// Package collab is the collaborative document annotation and versioning
// engine: sessions, locks, annotations, comments, version lineage, shares
// and approval workflows over a shared document. It is a library-level
// subsystem; the API layer that fronts it lives elsewhere.
package collab

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"redline/collab/internal/access"
	"redline/collab/internal/config"
	"redline/collab/internal/content"
	"redline/collab/internal/export"
	"redline/collab/internal/registry"
	"redline/collab/internal/search"
	"redline/collab/internal/store"
)

var allowedAnnotationTypes = map[string]struct{}{
	"highlight": {},
	"note":      {},
	"rectangle": {},
	"arrow":     {},
	"text":      {},
	"drawing":   {},
	"stamp":     {},
}

var allowedPriorities = map[string]struct{}{
	"low":      {},
	"normal":   {},
	"high":     {},
	"critical": {},
}

var allowedVisibilities = map[string]struct{}{
	"private": {},
	"shared":  {},
}

var allowedShareTypes = map[string]struct{}{
	"link":         {},
	"email":        {},
	"user":         {},
	"client":       {},
	"organization": {},
}

var allowedShareActions = map[string]struct{}{
	"view":     {},
	"download": {},
	"print":    {},
	"comment":  {},
	"annotate": {},
}

var allowedLockTypes = map[string]struct{}{
	"page":       {},
	"annotation": {},
	"section":    {},
}

var allowedWorkflowTypes = map[string]struct{}{
	"sequential": {},
	"parallel":   {},
}

var allowedApprovalActions = map[string]struct{}{
	"approve":         {},
	"reject":          {},
	"request_changes": {},
}

type dataStore interface {
	GetDocument(context.Context, string) (store.Document, error)
	TouchDocument(context.Context, string) error
	GetUserByID(context.Context, string) (store.User, error)

	InsertAnnotation(context.Context, store.Annotation) error
	GetAnnotation(context.Context, string, string) (store.Annotation, error)
	UpdateAnnotation(context.Context, store.Annotation) error
	SetAnnotationStatus(context.Context, string, string, string) error
	ListAnnotations(context.Context, string, int, string) ([]store.Annotation, error)
	InsertAnnotationReply(context.Context, store.AnnotationReply) error
	ListAnnotationReplies(context.Context, string) ([]store.AnnotationReply, error)

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string, string) (store.Comment, error)
	SetCommentStatus(context.Context, string, string, string) error
	ListComments(context.Context, string, string) ([]store.Comment, error)
	InsertCommentReply(context.Context, store.CommentReply) error
	ListCommentReplies(context.Context, string) ([]store.CommentReply, error)
	UpsertCommentReaction(context.Context, store.CommentReaction) (bool, error)
	DeleteCommentReaction(context.Context, string, string) (bool, error)
	ListCommentReactions(context.Context, string) ([]store.CommentReaction, error)

	CreateVersion(context.Context, store.DocumentVersion, store.Change) (store.DocumentVersion, error)
	GetVersion(context.Context, string, int) (store.DocumentVersion, error)
	GetVersionByID(context.Context, string, string) (store.DocumentVersion, error)
	GetLatestVersion(context.Context, string) (*store.DocumentVersion, error)
	ListVersions(context.Context, string) ([]store.DocumentVersion, error)

	InsertChange(context.Context, store.Change) (store.Change, error)
	ListChanges(context.Context, string, store.ChangeFilter) ([]store.Change, error)

	InsertShare(context.Context, store.DocumentShare) error
	GetShare(context.Context, string) (store.DocumentShare, error)
	GetShareByToken(context.Context, string) (*store.DocumentShare, error)
	ListShares(context.Context, string) ([]store.DocumentShare, error)
	UpdateShare(context.Context, store.DocumentShare) error
	RevokeShare(context.Context, string) error
	ApplyShareAccess(context.Context, store.ShareAccessRecord) (bool, error)
	ListShareAccess(context.Context, string) ([]store.ShareAccessRecord, error)

	CreateWorkflow(context.Context, store.ApprovalWorkflow, store.Change) error
	GetWorkflow(context.Context, string) (store.ApprovalWorkflow, error)
	GetActiveWorkflow(context.Context, string) (*store.ApprovalWorkflow, error)
	ListWorkflows(context.Context, string) ([]store.ApprovalWorkflow, error)
	UpdateWorkflowState(context.Context, store.ApprovalWorkflow, store.Change) (store.Change, error)
	ApplyWorkflowAction(context.Context, store.ApprovalWorkflow, store.ApprovalAction, store.Change) (store.Change, error)
	ListWorkflowActions(context.Context, string) ([]store.ApprovalAction, error)
}

// ContentStore persists opaque version blobs. Durable content lives with
// a collaborator (MinIO, git); the engine only keeps URLs and checksums.
type ContentStore interface {
	Put(ctx context.Context, data []byte, documentID string, version int) (content.PutResult, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// UserInfo is what the access guard needs from the directory.
type UserInfo struct {
	OrganizationID string
	Role           access.Role
}

// UserResolver maps a user id to their organization and role.
type UserResolver interface {
	ResolveUser(ctx context.Context, userID string) (UserInfo, error)
}

// TaskSpec describes the task a comment assignment creates.
type TaskSpec struct {
	DocumentID  string
	Title       string
	Description string
	Assignee    string
	DueDate     *time.Time
	Priority    string
	CreatedBy   string
}

// TaskService creates tasks for comment assignments.
type TaskService interface {
	CreateTask(ctx context.Context, spec TaskSpec) (string, error)
}

type Service struct {
	cfg       config.Config
	log       zerolog.Logger
	store     dataStore
	sessions  registry.Store
	content   ContentStore
	publisher Publisher
	tasks     TaskService
	users     UserResolver
	search    *search.Service
	exporter  *export.Service
	now       func() time.Time
}

// Deps carries the engine's collaborators. Store and Sessions are
// required; the rest degrade gracefully when nil (no events, no tasks,
// no indexing, no export).
type Deps struct {
	Store     *store.PostgresStore
	Sessions  registry.Store
	Content   ContentStore
	Publisher Publisher
	Tasks     TaskService
	Users     UserResolver
	Search    *search.Service
	Exporter  *export.Service
}

func New(cfg config.Config, log zerolog.Logger, deps Deps) *Service {
	users := deps.Users
	if users == nil {
		users = storeUserResolver{store: deps.Store}
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		store:     deps.Store,
		sessions:  deps.Sessions,
		content:   deps.Content,
		publisher: deps.Publisher,
		tasks:     deps.Tasks,
		users:     users,
		search:    deps.Search,
		exporter:  deps.Exporter,
		now:       time.Now,
	}
}

// storeUserResolver backs the guard with the local users table when no
// external directory is injected.
type storeUserResolver struct {
	store dataStore
}

func (r storeUserResolver) ResolveUser(ctx context.Context, userID string) (UserInfo, error) {
	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{
		OrganizationID: user.OrganizationID,
		Role:           access.NormalizeRole(user.Role),
	}, nil
}

// CheckAccess is the guard every operation passes before touching any
// document state.
func (s *Service) CheckAccess(ctx context.Context, documentID, userID string, required access.Level) error {
	_, err := s.checkAccess(ctx, documentID, userID, required)
	return err
}

func (s *Service) checkAccess(ctx context.Context, documentID, userID string, required access.Level) (store.Document, error) {
	if !required.Valid() {
		return store.Document{}, validationError("invalid access level")
	}

	document, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("document not found")
	}
	if err != nil {
		return store.Document{}, storageError("load document", err)
	}
	if document.DeletedAt != nil {
		return store.Document{}, notFound("document not found")
	}

	user, err := s.users.ResolveUser(ctx, userID)
	if err != nil {
		return store.Document{}, accessDenied("unknown user")
	}

	if document.AccessLevel == "public" && required == access.LevelView {
		return document, nil
	}
	if user.OrganizationID != document.OrganizationID {
		return store.Document{}, accessDenied("caller is outside the owning organization")
	}

	if document.AccessLevel == "restricted" {
		// Restricted documents grant no implicit role access below admin.
		if user.Role == access.RoleAdmin {
			return document, nil
		}
		ok, err := s.shareGrants(ctx, documentID, userID, user.OrganizationID, required)
		if err != nil {
			return store.Document{}, err
		}
		if ok {
			return document, nil
		}
		return store.Document{}, accessDenied("document is restricted")
	}

	if access.Allows(access.LevelForRole(user.Role), required) {
		return document, nil
	}
	ok, err := s.shareGrants(ctx, documentID, userID, user.OrganizationID, required)
	if err != nil {
		return store.Document{}, err
	}
	if ok {
		return document, nil
	}
	return store.Document{}, accessDenied("insufficient access level")
}

// shareGrants reports whether an active, unexpired share raises the
// caller to the required level.
func (s *Service) shareGrants(ctx context.Context, documentID, userID, organizationID string, required access.Level) (bool, error) {
	shares, err := s.store.ListShares(ctx, documentID)
	if err != nil {
		return false, storageError("list shares", err)
	}
	now := s.now()
	for _, share := range shares {
		if !share.IsActive {
			continue
		}
		if share.Restrictions.ExpiresAt != nil && !share.Restrictions.ExpiresAt.After(now) {
			continue
		}
		switch share.Type {
		case "user", "email", "client":
			if share.SharedWith != userID {
				continue
			}
		case "organization":
			if share.SharedWith != organizationID {
				continue
			}
		default:
			continue
		}
		if access.Allows(access.NormalizeLevel(share.AccessLevel), required) {
			return true, nil
		}
	}
	return false, nil
}
