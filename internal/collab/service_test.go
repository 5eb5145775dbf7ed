package collab

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"redline/collab/internal/access"
	"redline/collab/internal/config"
	"redline/collab/internal/content"
	"redline/collab/internal/registry"
	"redline/collab/internal/store"
)

type fakeStore struct {
	getDocumentFn   func(context.Context, string) (store.Document, error)
	touchDocumentFn func(context.Context, string) error
	getUserByIDFn   func(context.Context, string) (store.User, error)

	insertAnnotationFn      func(context.Context, store.Annotation) error
	getAnnotationFn         func(context.Context, string, string) (store.Annotation, error)
	updateAnnotationFn      func(context.Context, store.Annotation) error
	setAnnotationStatusFn   func(context.Context, string, string, string) error
	listAnnotationsFn       func(context.Context, string, int, string) ([]store.Annotation, error)
	insertAnnotationReplyFn func(context.Context, store.AnnotationReply) error
	listAnnotationRepliesFn func(context.Context, string) ([]store.AnnotationReply, error)

	insertCommentFn         func(context.Context, store.Comment) error
	getCommentFn            func(context.Context, string, string) (store.Comment, error)
	setCommentStatusFn      func(context.Context, string, string, string) error
	listCommentsFn          func(context.Context, string, string) ([]store.Comment, error)
	insertCommentReplyFn    func(context.Context, store.CommentReply) error
	listCommentRepliesFn    func(context.Context, string) ([]store.CommentReply, error)
	upsertCommentReactionFn func(context.Context, store.CommentReaction) (bool, error)
	deleteCommentReactionFn func(context.Context, string, string) (bool, error)
	listCommentReactionsFn  func(context.Context, string) ([]store.CommentReaction, error)

	createVersionFn    func(context.Context, store.DocumentVersion, store.Change) (store.DocumentVersion, error)
	getVersionFn       func(context.Context, string, int) (store.DocumentVersion, error)
	getVersionByIDFn   func(context.Context, string, string) (store.DocumentVersion, error)
	getLatestVersionFn func(context.Context, string) (*store.DocumentVersion, error)
	listVersionsFn     func(context.Context, string) ([]store.DocumentVersion, error)

	insertChangeFn func(context.Context, store.Change) (store.Change, error)
	listChangesFn  func(context.Context, string, store.ChangeFilter) ([]store.Change, error)

	insertShareFn      func(context.Context, store.DocumentShare) error
	getShareFn         func(context.Context, string) (store.DocumentShare, error)
	getShareByTokenFn  func(context.Context, string) (*store.DocumentShare, error)
	listSharesFn       func(context.Context, string) ([]store.DocumentShare, error)
	updateShareFn      func(context.Context, store.DocumentShare) error
	revokeShareFn      func(context.Context, string) error
	applyShareAccessFn func(context.Context, store.ShareAccessRecord) (bool, error)
	listShareAccessFn  func(context.Context, string) ([]store.ShareAccessRecord, error)

	createWorkflowFn      func(context.Context, store.ApprovalWorkflow, store.Change) error
	getWorkflowFn         func(context.Context, string) (store.ApprovalWorkflow, error)
	getActiveWorkflowFn   func(context.Context, string) (*store.ApprovalWorkflow, error)
	listWorkflowsFn       func(context.Context, string) ([]store.ApprovalWorkflow, error)
	updateWorkflowStateFn func(context.Context, store.ApprovalWorkflow, store.Change) (store.Change, error)
	applyWorkflowActionFn func(context.Context, store.ApprovalWorkflow, store.ApprovalAction, store.Change) (store.Change, error)
	listWorkflowActionsFn func(context.Context, string) ([]store.ApprovalAction, error)
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{
		ID:             documentID,
		OrganizationID: "org_1",
		Title:          "Engagement Letter",
		FileName:       "engagement-letter.pdf",
		AccessLevel:    "organization",
		Status:         "active",
		CreatedBy:      "user_owner",
	}, nil
}
func (f *fakeStore) TouchDocument(ctx context.Context, documentID string) error {
	if f.touchDocumentFn != nil {
		return f.touchDocumentFn(ctx, documentID)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: userID, OrganizationID: "org_1", Role: "editor"}, nil
}
func (f *fakeStore) InsertAnnotation(ctx context.Context, annotation store.Annotation) error {
	if f.insertAnnotationFn != nil {
		return f.insertAnnotationFn(ctx, annotation)
	}
	return nil
}
func (f *fakeStore) GetAnnotation(ctx context.Context, documentID, annotationID string) (store.Annotation, error) {
	if f.getAnnotationFn != nil {
		return f.getAnnotationFn(ctx, documentID, annotationID)
	}
	return store.Annotation{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateAnnotation(ctx context.Context, annotation store.Annotation) error {
	if f.updateAnnotationFn != nil {
		return f.updateAnnotationFn(ctx, annotation)
	}
	return nil
}
func (f *fakeStore) SetAnnotationStatus(ctx context.Context, documentID, annotationID, status string) error {
	if f.setAnnotationStatusFn != nil {
		return f.setAnnotationStatusFn(ctx, documentID, annotationID, status)
	}
	return nil
}
func (f *fakeStore) ListAnnotations(ctx context.Context, documentID string, pageNumber int, status string) ([]store.Annotation, error) {
	if f.listAnnotationsFn != nil {
		return f.listAnnotationsFn(ctx, documentID, pageNumber, status)
	}
	return nil, nil
}
func (f *fakeStore) InsertAnnotationReply(ctx context.Context, reply store.AnnotationReply) error {
	if f.insertAnnotationReplyFn != nil {
		return f.insertAnnotationReplyFn(ctx, reply)
	}
	return nil
}
func (f *fakeStore) ListAnnotationReplies(ctx context.Context, annotationID string) ([]store.AnnotationReply, error) {
	if f.listAnnotationRepliesFn != nil {
		return f.listAnnotationRepliesFn(ctx, annotationID)
	}
	return nil, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, documentID, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, documentID, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) SetCommentStatus(ctx context.Context, documentID, commentID, status string) error {
	if f.setCommentStatusFn != nil {
		return f.setCommentStatusFn(ctx, documentID, commentID, status)
	}
	return nil
}
func (f *fakeStore) ListComments(ctx context.Context, documentID, status string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, documentID, status)
	}
	return nil, nil
}
func (f *fakeStore) InsertCommentReply(ctx context.Context, reply store.CommentReply) error {
	if f.insertCommentReplyFn != nil {
		return f.insertCommentReplyFn(ctx, reply)
	}
	return nil
}
func (f *fakeStore) ListCommentReplies(ctx context.Context, commentID string) ([]store.CommentReply, error) {
	if f.listCommentRepliesFn != nil {
		return f.listCommentRepliesFn(ctx, commentID)
	}
	return nil, nil
}
func (f *fakeStore) UpsertCommentReaction(ctx context.Context, reaction store.CommentReaction) (bool, error) {
	if f.upsertCommentReactionFn != nil {
		return f.upsertCommentReactionFn(ctx, reaction)
	}
	return true, nil
}
func (f *fakeStore) DeleteCommentReaction(ctx context.Context, commentID, userID string) (bool, error) {
	if f.deleteCommentReactionFn != nil {
		return f.deleteCommentReactionFn(ctx, commentID, userID)
	}
	return false, nil
}
func (f *fakeStore) ListCommentReactions(ctx context.Context, commentID string) ([]store.CommentReaction, error) {
	if f.listCommentReactionsFn != nil {
		return f.listCommentReactionsFn(ctx, commentID)
	}
	return nil, nil
}
func (f *fakeStore) CreateVersion(ctx context.Context, version store.DocumentVersion, change store.Change) (store.DocumentVersion, error) {
	if f.createVersionFn != nil {
		return f.createVersionFn(ctx, version, change)
	}
	version.IsLatest = true
	return version, nil
}
func (f *fakeStore) GetVersion(ctx context.Context, documentID string, number int) (store.DocumentVersion, error) {
	if f.getVersionFn != nil {
		return f.getVersionFn(ctx, documentID, number)
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}
func (f *fakeStore) GetVersionByID(ctx context.Context, documentID, versionID string) (store.DocumentVersion, error) {
	if f.getVersionByIDFn != nil {
		return f.getVersionByIDFn(ctx, documentID, versionID)
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}
func (f *fakeStore) GetLatestVersion(ctx context.Context, documentID string) (*store.DocumentVersion, error) {
	if f.getLatestVersionFn != nil {
		return f.getLatestVersionFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) ListVersions(ctx context.Context, documentID string) ([]store.DocumentVersion, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) InsertChange(ctx context.Context, entry store.Change) (store.Change, error) {
	if f.insertChangeFn != nil {
		return f.insertChangeFn(ctx, entry)
	}
	entry.ID = 1
	return entry, nil
}
func (f *fakeStore) ListChanges(ctx context.Context, documentID string, filter store.ChangeFilter) ([]store.Change, error) {
	if f.listChangesFn != nil {
		return f.listChangesFn(ctx, documentID, filter)
	}
	return nil, nil
}
func (f *fakeStore) InsertShare(ctx context.Context, share store.DocumentShare) error {
	if f.insertShareFn != nil {
		return f.insertShareFn(ctx, share)
	}
	return nil
}
func (f *fakeStore) GetShare(ctx context.Context, shareID string) (store.DocumentShare, error) {
	if f.getShareFn != nil {
		return f.getShareFn(ctx, shareID)
	}
	return store.DocumentShare{}, sql.ErrNoRows
}
func (f *fakeStore) GetShareByToken(ctx context.Context, token string) (*store.DocumentShare, error) {
	if f.getShareByTokenFn != nil {
		return f.getShareByTokenFn(ctx, token)
	}
	return nil, nil
}
func (f *fakeStore) ListShares(ctx context.Context, documentID string) ([]store.DocumentShare, error) {
	if f.listSharesFn != nil {
		return f.listSharesFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateShare(ctx context.Context, share store.DocumentShare) error {
	if f.updateShareFn != nil {
		return f.updateShareFn(ctx, share)
	}
	return nil
}
func (f *fakeStore) RevokeShare(ctx context.Context, shareID string) error {
	if f.revokeShareFn != nil {
		return f.revokeShareFn(ctx, shareID)
	}
	return nil
}
func (f *fakeStore) ApplyShareAccess(ctx context.Context, record store.ShareAccessRecord) (bool, error) {
	if f.applyShareAccessFn != nil {
		return f.applyShareAccessFn(ctx, record)
	}
	return true, nil
}
func (f *fakeStore) ListShareAccess(ctx context.Context, shareID string) ([]store.ShareAccessRecord, error) {
	if f.listShareAccessFn != nil {
		return f.listShareAccessFn(ctx, shareID)
	}
	return nil, nil
}
func (f *fakeStore) CreateWorkflow(ctx context.Context, wf store.ApprovalWorkflow, change store.Change) error {
	if f.createWorkflowFn != nil {
		return f.createWorkflowFn(ctx, wf, change)
	}
	return nil
}
func (f *fakeStore) GetWorkflow(ctx context.Context, workflowID string) (store.ApprovalWorkflow, error) {
	if f.getWorkflowFn != nil {
		return f.getWorkflowFn(ctx, workflowID)
	}
	return store.ApprovalWorkflow{}, sql.ErrNoRows
}
func (f *fakeStore) GetActiveWorkflow(ctx context.Context, documentID string) (*store.ApprovalWorkflow, error) {
	if f.getActiveWorkflowFn != nil {
		return f.getActiveWorkflowFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) ListWorkflows(ctx context.Context, documentID string) ([]store.ApprovalWorkflow, error) {
	if f.listWorkflowsFn != nil {
		return f.listWorkflowsFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateWorkflowState(ctx context.Context, wf store.ApprovalWorkflow, change store.Change) (store.Change, error) {
	if f.updateWorkflowStateFn != nil {
		return f.updateWorkflowStateFn(ctx, wf, change)
	}
	change.ID = 1
	return change, nil
}
func (f *fakeStore) ApplyWorkflowAction(ctx context.Context, wf store.ApprovalWorkflow, action store.ApprovalAction, change store.Change) (store.Change, error) {
	if f.applyWorkflowActionFn != nil {
		return f.applyWorkflowActionFn(ctx, wf, action, change)
	}
	change.ID = 1
	return change, nil
}
func (f *fakeStore) ListWorkflowActions(ctx context.Context, workflowID string) ([]store.ApprovalAction, error) {
	if f.listWorkflowActionsFn != nil {
		return f.listWorkflowActionsFn(ctx, workflowID)
	}
	return nil, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *fakePublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) byType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type fakeTasks struct {
	createTaskFn func(context.Context, TaskSpec) (string, error)
}

func (f *fakeTasks) CreateTask(ctx context.Context, spec TaskSpec) (string, error) {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, spec)
	}
	return "task_1", nil
}

func newTestService(fs *fakeStore) (*Service, *fakePublisher) {
	pub := &fakePublisher{}
	svc := &Service{
		cfg: config.Config{
			SessionIdleTimeout: 30 * time.Minute,
			LockDefaultTTL:     90 * time.Second,
			LockMaxTTL:         15 * time.Minute,
		},
		log:       zerolog.Nop(),
		store:     fs,
		sessions:  registry.NewMemoryStore(),
		content:   content.NewMemoryStore(),
		publisher: pub,
		users:     storeUserResolver{store: fs},
		now:       time.Now,
	}
	return svc, pub
}

// userDirectory returns a getUserByIDFn mapping each listed user to a
// role, everyone in org_1 unless the role is prefixed "org_2/".
func userDirectory(roles map[string]string) func(context.Context, string) (store.User, error) {
	return func(_ context.Context, userID string) (store.User, error) {
		role, ok := roles[userID]
		if !ok {
			return store.User{}, sql.ErrNoRows
		}
		orgID := "org_1"
		if rest, found := strings.CutPrefix(role, "org_2/"); found {
			orgID = "org_2"
			role = rest
		}
		return store.User{ID: userID, DisplayName: userID, OrganizationID: orgID, Role: role}, nil
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Code
}

func TestCheckAccessMissingDocument(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{}, sql.ErrNoRows
		},
	}
	svc, _ := newTestService(fs)

	err := svc.CheckAccess(context.Background(), "doc_missing", "user_1", access.LevelView)
	if got := errCode(t, err); got != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", got)
	}
}

func TestCheckAccessSoftDeletedDocument(t *testing.T) {
	deleted := time.Now().Add(-time.Hour)
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{
				ID:             documentID,
				OrganizationID: "org_1",
				AccessLevel:    "organization",
				Status:         "deleted",
				DeletedAt:      &deleted,
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.CheckAccess(context.Background(), "doc_1", "user_1", access.LevelView)
	if got := errCode(t, err); got != CodeNotFound {
		t.Fatalf("soft-deleted documents must read as absent, got %s", got)
	}
}

func TestCheckAccessUnknownUser(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	}
	svc, _ := newTestService(fs)

	err := svc.CheckAccess(context.Background(), "doc_1", "ghost", access.LevelView)
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got %s", got)
	}
}

func TestCheckAccessPublicDocument(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, OrganizationID: "org_1", AccessLevel: "public", Status: "active"}, nil
		},
		getUserByIDFn: userDirectory(map[string]string{"outsider": "org_2/editor"}),
	}
	svc, _ := newTestService(fs)

	if err := svc.CheckAccess(context.Background(), "doc_1", "outsider", access.LevelView); err != nil {
		t.Fatalf("public documents must be viewable across organizations: %v", err)
	}
	err := svc.CheckAccess(context.Background(), "doc_1", "outsider", access.LevelComment)
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("public grants view only, got %s", got)
	}
}

func TestCheckAccessOutsideOrganization(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userDirectory(map[string]string{"outsider": "org_2/admin"}),
	}
	svc, _ := newTestService(fs)

	err := svc.CheckAccess(context.Background(), "doc_1", "outsider", access.LevelView)
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("expected ACCESS_DENIED for foreign organization, got %s", got)
	}
}

func TestCheckAccessRoleMatrix(t *testing.T) {
	cases := []struct {
		role    string
		granted []access.Level
		denied  []access.Level
	}{
		{"viewer", []access.Level{access.LevelView}, []access.Level{access.LevelComment, access.LevelEdit, access.LevelAdmin}},
		{"commenter", []access.Level{access.LevelView, access.LevelComment}, []access.Level{access.LevelEdit, access.LevelAdmin}},
		{"editor", []access.Level{access.LevelView, access.LevelComment, access.LevelEdit}, []access.Level{access.LevelAdmin}},
		{"admin", []access.Level{access.LevelView, access.LevelComment, access.LevelEdit, access.LevelAdmin}, nil},
	}
	for _, tc := range cases {
		fs := &fakeStore{
			getUserByIDFn: userDirectory(map[string]string{"user_1": tc.role}),
		}
		svc, _ := newTestService(fs)
		for _, level := range tc.granted {
			if err := svc.CheckAccess(context.Background(), "doc_1", "user_1", level); err != nil {
				t.Fatalf("role %s should satisfy %s: %v", tc.role, level, err)
			}
		}
		for _, level := range tc.denied {
			err := svc.CheckAccess(context.Background(), "doc_1", "user_1", level)
			if got := errCode(t, err); got != CodeAccessDenied {
				t.Fatalf("role %s should not satisfy %s, got %s", tc.role, level, got)
			}
		}
	}
}

func TestCheckAccessRestrictedDocument(t *testing.T) {
	restrictedDoc := func(_ context.Context, documentID string) (store.Document, error) {
		return store.Document{ID: documentID, OrganizationID: "org_1", AccessLevel: "restricted", Status: "active"}, nil
	}
	fs := &fakeStore{
		getDocumentFn: restrictedDoc,
		getUserByIDFn: userDirectory(map[string]string{"editor_1": "editor", "admin_1": "admin"}),
	}
	svc, _ := newTestService(fs)

	err := svc.CheckAccess(context.Background(), "doc_1", "editor_1", access.LevelView)
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("restricted documents grant no implicit role access, got %s", got)
	}
	if err := svc.CheckAccess(context.Background(), "doc_1", "admin_1", access.LevelAdmin); err != nil {
		t.Fatalf("admins bypass the restriction: %v", err)
	}

	// An explicit share admits a non-admin at the granted level.
	fs.listSharesFn = func(context.Context, string) ([]store.DocumentShare, error) {
		return []store.DocumentShare{{
			ID:          "shr_1",
			DocumentID:  "doc_1",
			Type:        "user",
			SharedWith:  "editor_1",
			AccessLevel: "comment",
			IsActive:    true,
		}}, nil
	}
	if err := svc.CheckAccess(context.Background(), "doc_1", "editor_1", access.LevelComment); err != nil {
		t.Fatalf("share grant should admit the named user: %v", err)
	}
	err = svc.CheckAccess(context.Background(), "doc_1", "editor_1", access.LevelEdit)
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("share grants do not exceed their level, got %s", got)
	}
}

func TestCheckAccessShareElevatesRole(t *testing.T) {
	expired := time.Now().Add(-time.Minute)
	fs := &fakeStore{
		getUserByIDFn: userDirectory(map[string]string{"viewer_1": "viewer"}),
		listSharesFn: func(context.Context, string) ([]store.DocumentShare, error) {
			return []store.DocumentShare{
				{
					ID: "shr_dead", DocumentID: "doc_1", Type: "user", SharedWith: "viewer_1",
					AccessLevel: "edit", IsActive: true,
					Restrictions: store.ShareRestrictions{ExpiresAt: &expired},
				},
				{
					ID: "shr_revoked", DocumentID: "doc_1", Type: "user", SharedWith: "viewer_1",
					AccessLevel: "edit", IsActive: false,
				},
				{
					ID: "shr_org", DocumentID: "doc_1", Type: "organization", SharedWith: "org_1",
					AccessLevel: "comment", IsActive: true,
				},
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	// Expired and revoked user shares are dead; the organization share
	// still lifts the viewer to comment.
	if err := svc.CheckAccess(context.Background(), "doc_1", "viewer_1", access.LevelComment); err != nil {
		t.Fatalf("organization share should grant comment: %v", err)
	}
	err := svc.CheckAccess(context.Background(), "doc_1", "viewer_1", access.LevelEdit)
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("expired and revoked shares must not grant edit, got %s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(domainError(409, CodeLockDenied, "resource is locked", nil)) {
		t.Fatalf("lock denials are retryable")
	}
	if !IsRetryable(domainError(409, CodeVersionConflict, "stale", nil)) {
		t.Fatalf("version conflicts are retryable")
	}
	if IsRetryable(validationError("bad input")) {
		t.Fatalf("validation failures are not retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}
