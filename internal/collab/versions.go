package collab

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"redline/collab/internal/access"
	"redline/collab/internal/store"
	"redline/collab/internal/util"
)

type VersionInput struct {
	ChangeSummary []store.VersionChange `json:"changeSummary,omitempty"`
	Comment       string                `json:"comment,omitempty"`
}

// CreateVersion snapshots new content as the document's next version.
// The store performs the latest-pointer flip and the insert in one
// transaction; the unique (document, version) index is the compare-and-
// swap that turns a concurrent bump into VERSION_CONFLICT, so exactly
// one version per lineage is latest at any observable time.
func (s *Service) CreateVersion(ctx context.Context, documentID, userID string, data []byte, input VersionInput) (store.DocumentVersion, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return store.DocumentVersion{}, err
	}
	if len(data) == 0 {
		return store.DocumentVersion{}, validationError("content is required")
	}
	if s.content == nil {
		return store.DocumentVersion{}, validationError("content store is not configured")
	}

	latest, err := s.store.GetLatestVersion(ctx, documentID)
	if err != nil {
		return store.DocumentVersion{}, storageError("read latest version", err)
	}
	next := 1
	if latest != nil {
		next = latest.Version + 1
	}

	return s.persistVersion(ctx, documentID, userID, data, next, store.DocumentVersion{
		ChangeSummary: input.ChangeSummary,
		Comment:       input.Comment,
	}, "created version "+strconv.Itoa(next))
}

// MergeVersions combines two or more versions of the same lineage into
// a new latest version. Content is opaque to the engine: the merged
// blob is the highest-numbered source's bytes, and the caller-supplied
// resolutions are recorded verbatim in the merge record for
// traceability.
func (s *Service) MergeVersions(ctx context.Context, documentID, userID string, sourceVersionIDs []string, resolutions []store.ConflictResolution, comment string) (store.DocumentVersion, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return store.DocumentVersion{}, err
	}
	if len(sourceVersionIDs) < 2 {
		return store.DocumentVersion{}, validationError("merging requires at least two source versions")
	}
	if s.content == nil {
		return store.DocumentVersion{}, validationError("content store is not configured")
	}

	sources := make([]store.DocumentVersion, 0, len(sourceVersionIDs))
	for _, versionID := range sourceVersionIDs {
		version, err := s.store.GetVersionByID(ctx, documentID, versionID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.DocumentVersion{}, validationError("version " + versionID + " does not belong to this document")
		}
		if err != nil {
			return store.DocumentVersion{}, storageError("load source version", err)
		}
		sources = append(sources, version)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Version > sources[j].Version })
	base := sources[0]

	data, err := s.content.Get(ctx, base.ContentURL)
	if err != nil {
		return store.DocumentVersion{}, storageError("read merge base content", err)
	}

	latest, err := s.store.GetLatestVersion(ctx, documentID)
	if err != nil {
		return store.DocumentVersion{}, storageError("read latest version", err)
	}
	next := base.Version + 1
	if latest != nil && latest.Version+1 > next {
		next = latest.Version + 1
	}

	numbers := make([]string, len(sources))
	for i, source := range sources {
		numbers[i] = strconv.Itoa(source.Version)
	}
	return s.persistVersion(ctx, documentID, userID, data, next, store.DocumentVersion{
		MergeInfo: &store.MergeInfo{
			MergedFrom:         sourceVersionIDs,
			ConflictResolution: resolutions,
		},
		Comment: comment,
	}, "merged versions "+strings.Join(numbers, ", "))
}

// RestoreVersion makes an old snapshot the new latest version. History
// is never rewritten: the restore is one more version on top.
func (s *Service) RestoreVersion(ctx context.Context, documentID, versionID, userID string) (store.DocumentVersion, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelEdit); err != nil {
		return store.DocumentVersion{}, err
	}
	if s.content == nil {
		return store.DocumentVersion{}, validationError("content store is not configured")
	}
	source, err := s.store.GetVersionByID(ctx, documentID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentVersion{}, notFound("version not found")
	}
	if err != nil {
		return store.DocumentVersion{}, storageError("load version", err)
	}

	data, err := s.content.Get(ctx, source.ContentURL)
	if err != nil {
		return store.DocumentVersion{}, storageError("read version content", err)
	}

	latest, err := s.store.GetLatestVersion(ctx, documentID)
	if err != nil {
		return store.DocumentVersion{}, storageError("read latest version", err)
	}
	next := 1
	if latest != nil {
		next = latest.Version + 1
	}
	return s.persistVersion(ctx, documentID, userID, data, next, store.DocumentVersion{
		Comment: "restored from version " + strconv.Itoa(source.Version),
	}, "restored version "+strconv.Itoa(source.Version)+" as version "+strconv.Itoa(next))
}

func (s *Service) GetVersion(ctx context.Context, documentID, versionID, userID string) (store.DocumentVersion, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return store.DocumentVersion{}, err
	}
	version, err := s.store.GetVersionByID(ctx, documentID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentVersion{}, notFound("version not found")
	}
	if err != nil {
		return store.DocumentVersion{}, storageError("load version", err)
	}
	return version, nil
}

func (s *Service) GetLatestVersion(ctx context.Context, documentID, userID string) (store.DocumentVersion, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return store.DocumentVersion{}, err
	}
	latest, err := s.store.GetLatestVersion(ctx, documentID)
	if err != nil {
		return store.DocumentVersion{}, storageError("read latest version", err)
	}
	if latest == nil {
		return store.DocumentVersion{}, notFound("document has no versions")
	}
	return *latest, nil
}

func (s *Service) ListVersions(ctx context.Context, documentID, userID string) ([]store.DocumentVersion, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, storageError("list versions", err)
	}
	return versions, nil
}

// GetVersionContent fetches a version's bytes and verifies them against
// the stored checksum before handing them out.
func (s *Service) GetVersionContent(ctx context.Context, documentID, versionID, userID string) ([]byte, error) {
	if _, err := s.checkAccess(ctx, documentID, userID, access.LevelView); err != nil {
		return nil, err
	}
	if s.content == nil {
		return nil, validationError("content store is not configured")
	}
	version, err := s.store.GetVersionByID(ctx, documentID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version not found")
	}
	if err != nil {
		return nil, storageError("load version", err)
	}
	data, err := s.content.Get(ctx, version.ContentURL)
	if err != nil {
		return nil, storageError("read version content", err)
	}
	if sum := util.Checksum(data); sum != version.Checksum {
		return nil, domainError(http.StatusServiceUnavailable, CodeStorageError,
			"version content failed checksum verification", map[string]any{
				"expected": version.Checksum,
				"actual":   sum,
			})
	}
	return data, nil
}

// persistVersion writes the blob, then runs the store's flip+insert+
// ledger transaction for version number next.
func (s *Service) persistVersion(ctx context.Context, documentID, userID string, data []byte, next int, template store.DocumentVersion, description string) (store.DocumentVersion, error) {
	put, err := s.content.Put(ctx, data, documentID, next)
	if err != nil {
		return store.DocumentVersion{}, storageError("store version content", err)
	}

	version := template
	version.ID = util.NewID("ver")
	version.DocumentID = documentID
	version.Version = next
	version.ContentURL = put.URL
	version.Checksum = put.Checksum
	version.FileSize = put.Size
	version.CreatedBy = userID

	created, err := s.store.CreateVersion(ctx, version, store.Change{
		DocumentID:  documentID,
		Type:        "content",
		Operation:   "update",
		Description: description,
		UserID:      userID,
	})
	if errors.Is(err, store.ErrVersionRace) {
		return store.DocumentVersion{}, domainError(http.StatusConflict, CodeVersionConflict,
			"a newer version was created concurrently; re-read the latest version and retry", nil)
	}
	if err != nil {
		return store.DocumentVersion{}, storageError("create version", err)
	}

	if err := s.store.TouchDocument(ctx, documentID); err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Msg("versions: touch document failed")
	}
	s.emit(ctx, EventVersionCreated, documentID, userID, map[string]any{
		"versionId": created.ID,
		"version":   created.Version,
	})
	return created, nil
}
