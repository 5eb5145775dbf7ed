package collab

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

func TestCreateVersionNumbersSequentially(t *testing.T) {
	var created store.DocumentVersion
	var change store.Change
	fs := &fakeStore{
		createVersionFn: func(_ context.Context, version store.DocumentVersion, entry store.Change) (store.DocumentVersion, error) {
			created = version
			change = entry
			version.IsLatest = true
			return version, nil
		},
	}
	svc, pub := newTestService(fs)
	data := []byte("first draft")

	version, err := svc.CreateVersion(context.Background(), "doc_1", "user_1", data, VersionInput{Comment: "initial upload"})
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if version.Version != 1 {
		t.Fatalf("first version must be 1, got %d", version.Version)
	}
	if created.Checksum != util.Checksum(data) || created.FileSize != int64(len(data)) {
		t.Fatalf("checksum/size not derived from content: %+v", created)
	}
	if created.ContentURL == "" {
		t.Fatalf("version must reference its stored content")
	}
	if change.Type != "content" || change.Operation != "update" {
		t.Fatalf("unexpected ledger entry %s/%s", change.Type, change.Operation)
	}
	if events := pub.byType(EventVersionCreated); len(events) != 1 {
		t.Fatalf("expected one version_created event, got %d", len(events))
	}

	// With a latest version on record the next number follows it.
	fs.getLatestVersionFn = func(context.Context, string) (*store.DocumentVersion, error) {
		return &store.DocumentVersion{ID: "ver_3", DocumentID: "doc_1", Version: 3, IsLatest: true}, nil
	}
	version, err = svc.CreateVersion(context.Background(), "doc_1", "user_1", []byte("second draft"), VersionInput{})
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if version.Version != 4 {
		t.Fatalf("expected version 4 after latest 3, got %d", version.Version)
	}
}

func TestCreateVersionConcurrentBumpConflicts(t *testing.T) {
	fs := &fakeStore{
		createVersionFn: func(context.Context, store.DocumentVersion, store.Change) (store.DocumentVersion, error) {
			return store.DocumentVersion{}, store.ErrVersionRace
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateVersion(context.Background(), "doc_1", "user_1", []byte("draft"), VersionInput{})
	if got := errCode(t, err); got != CodeVersionConflict {
		t.Fatalf("expected VERSION_CONFLICT, got %s", got)
	}
}

func TestCreateVersionValidation(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userDirectory(map[string]string{"viewer_1": "viewer", "editor_1": "editor"}),
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateVersion(context.Background(), "doc_1", "viewer_1", []byte("draft"), VersionInput{})
	if got := errCode(t, err); got != CodeAccessDenied {
		t.Fatalf("versioning requires edit access, got %s", got)
	}
	_, err = svc.CreateVersion(context.Background(), "doc_1", "editor_1", nil, VersionInput{})
	if got := errCode(t, err); got != CodeValidationError {
		t.Fatalf("empty content is invalid, got %s", got)
	}
}

func TestMergeVersionsUsesHighestSourceAsBase(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(fs)
	ctx := context.Background()

	// Stage the source blobs in the content store first.
	putV2, err := svc.content.Put(ctx, []byte("older draft"), "doc_1", 2)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	putV5, err := svc.content.Put(ctx, []byte("newer draft"), "doc_1", 5)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	versions := map[string]store.DocumentVersion{
		"ver_a": {ID: "ver_a", DocumentID: "doc_1", Version: 2, ContentURL: putV2.URL, Checksum: putV2.Checksum},
		"ver_b": {ID: "ver_b", DocumentID: "doc_1", Version: 5, ContentURL: putV5.URL, Checksum: putV5.Checksum},
	}
	var created store.DocumentVersion
	var createdData []byte
	fs.getVersionByIDFn = func(_ context.Context, _, versionID string) (store.DocumentVersion, error) {
		version, ok := versions[versionID]
		if !ok {
			return store.DocumentVersion{}, sql.ErrNoRows
		}
		return version, nil
	}
	fs.getLatestVersionFn = func(context.Context, string) (*store.DocumentVersion, error) {
		latest := versions["ver_b"]
		return &latest, nil
	}
	fs.createVersionFn = func(ctx context.Context, version store.DocumentVersion, _ store.Change) (store.DocumentVersion, error) {
		created = version
		data, err := svc.content.Get(ctx, version.ContentURL)
		if err != nil {
			t.Fatalf("merged content unreadable: %v", err)
		}
		createdData = data
		version.IsLatest = true
		return version, nil
	}

	resolutions := []store.ConflictResolution{{Field: "clause_9", Reason: "kept reviewer wording"}}
	merged, err := svc.MergeVersions(ctx, "doc_1", "user_1", []string{"ver_a", "ver_b"}, resolutions, "reconciled drafts")
	if err != nil {
		t.Fatalf("MergeVersions() error = %v", err)
	}
	if merged.Version != 6 {
		t.Fatalf("merge must mint the next number after latest, got %d", merged.Version)
	}
	if !bytes.Equal(createdData, []byte("newer draft")) {
		t.Fatalf("merge base must be the highest-numbered source, got %q", createdData)
	}
	if created.MergeInfo == nil {
		t.Fatalf("merge record missing")
	}
	if got := created.MergeInfo.MergedFrom; len(got) != 2 || got[0] != "ver_a" || got[1] != "ver_b" {
		t.Fatalf("merge record must keep the caller's source order, got %v", got)
	}
	if len(created.MergeInfo.ConflictResolution) != 1 || created.MergeInfo.ConflictResolution[0].Field != "clause_9" {
		t.Fatalf("resolutions must be recorded verbatim, got %+v", created.MergeInfo.ConflictResolution)
	}
}

func TestMergeVersionsValidation(t *testing.T) {
	fs := &fakeStore{
		getVersionByIDFn: func(_ context.Context, _, versionID string) (store.DocumentVersion, error) {
			return store.DocumentVersion{}, sql.ErrNoRows
		},
	}
	svc, _ := newTestService(fs)
	ctx := context.Background()

	_, err := svc.MergeVersions(ctx, "doc_1", "user_1", []string{"ver_a"}, nil, "")
	if got := errCode(t, err); got != CodeValidationError {
		t.Fatalf("merging needs two sources, got %s", got)
	}
	_, err = svc.MergeVersions(ctx, "doc_1", "user_1", []string{"ver_a", "ver_foreign"}, nil, "")
	if got := errCode(t, err); got != CodeValidationError {
		t.Fatalf("foreign version ids are invalid, got %s", got)
	}
}

func TestRestoreVersionAppendsNewLatest(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(fs)
	ctx := context.Background()

	putV1, err := svc.content.Put(ctx, []byte("original wording"), "doc_1", 1)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var created store.DocumentVersion
	fs.getVersionByIDFn = func(_ context.Context, documentID, versionID string) (store.DocumentVersion, error) {
		return store.DocumentVersion{
			ID: versionID, DocumentID: documentID, Version: 1,
			ContentURL: putV1.URL, Checksum: putV1.Checksum,
		}, nil
	}
	fs.getLatestVersionFn = func(context.Context, string) (*store.DocumentVersion, error) {
		return &store.DocumentVersion{ID: "ver_4", DocumentID: "doc_1", Version: 4, IsLatest: true}, nil
	}
	fs.createVersionFn = func(_ context.Context, version store.DocumentVersion, _ store.Change) (store.DocumentVersion, error) {
		created = version
		version.IsLatest = true
		return version, nil
	}

	restored, err := svc.RestoreVersion(ctx, "doc_1", "ver_1", "user_1")
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if restored.Version != 5 {
		t.Fatalf("restore appends on top of history, expected 5, got %d", restored.Version)
	}
	if created.Checksum != putV1.Checksum {
		t.Fatalf("restored content must match the source snapshot")
	}
	if created.Comment != "restored from version 1" {
		t.Fatalf("unexpected restore comment %q", created.Comment)
	}
}

func TestGetVersionContentVerifiesChecksum(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(fs)
	ctx := context.Background()

	put, err := svc.content.Put(ctx, []byte("signed copy"), "doc_1", 1)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	version := store.DocumentVersion{
		ID: "ver_1", DocumentID: "doc_1", Version: 1,
		ContentURL: put.URL, Checksum: put.Checksum,
	}
	fs.getVersionByIDFn = func(context.Context, string, string) (store.DocumentVersion, error) {
		return version, nil
	}

	data, err := svc.GetVersionContent(ctx, "doc_1", "ver_1", "user_1")
	if err != nil {
		t.Fatalf("GetVersionContent() error = %v", err)
	}
	if !bytes.Equal(data, []byte("signed copy")) {
		t.Fatalf("unexpected content %q", data)
	}

	version.Checksum = "deadbeef"
	_, err = svc.GetVersionContent(ctx, "doc_1", "ver_1", "user_1")
	if got := errCode(t, err); got != CodeStorageError {
		t.Fatalf("corrupted content must surface STORAGE_ERROR, got %s", got)
	}
}

func TestGetLatestVersionEmptyLineage(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.GetLatestVersion(context.Background(), "doc_1", "user_1")
	if got := errCode(t, err); got != CodeNotFound {
		t.Fatalf("expected NOT_FOUND for unversioned document, got %s", got)
	}
}
