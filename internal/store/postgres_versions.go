package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"redline/collab/internal/geo"
)

// ErrVersionRace reports that another writer recorded a version for the
// same document first. Callers retry against the fresh latest version.
var ErrVersionRace = errors.New("document version already recorded")

// ===== versions =====

// CreateVersion demotes the current latest row, inserts the new one and
// appends the matching ledger entry, all in a single transaction. The
// UNIQUE (document_id, version) constraint turns a lost race into
// ErrVersionRace instead of a duplicate row.
func (s *PostgresStore) CreateVersion(ctx context.Context, item DocumentVersion, entry Change) (DocumentVersion, error) {
	summary, err := json.Marshal(item.ChangeSummary)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("marshal change summary: %w", err)
	}
	var mergeInfo any
	if item.MergeInfo != nil {
		encoded, err := json.Marshal(item.MergeInfo)
		if err != nil {
			return DocumentVersion{}, fmt.Errorf("marshal merge info: %w", err)
		}
		mergeInfo = string(encoded)
	}

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE document_versions SET is_latest=FALSE WHERE document_id=$1 AND is_latest
		`, item.DocumentID); err != nil {
			return fmt.Errorf("demote latest version: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO document_versions (id, document_id, version, content_url, checksum, file_size, is_latest, change_summary, merge_info, comment, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7::jsonb, $8::jsonb, $9, $10)
			RETURNING created_at
		`, item.ID, item.DocumentID, item.Version, item.ContentURL, item.Checksum, item.FileSize,
			string(summary), mergeInfo, item.Comment, item.CreatedBy).Scan(&item.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrVersionRace
			}
			return fmt.Errorf("insert version: %w", err)
		}
		if err := insertChangeRow(ctx, tx, &entry); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return DocumentVersion{}, err
	}
	item.IsLatest = true
	return item, nil
}

const versionColumns = `id, document_id, version, content_url, checksum, file_size, is_latest, change_summary, merge_info, comment, created_by, created_at`

func scanVersion(row interface{ Scan(...any) error }) (DocumentVersion, error) {
	var item DocumentVersion
	var summaryRaw, mergeRaw []byte
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.Version,
		&item.ContentURL,
		&item.Checksum,
		&item.FileSize,
		&item.IsLatest,
		&summaryRaw,
		&mergeRaw,
		&item.Comment,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return DocumentVersion{}, err
	}
	_ = json.Unmarshal(summaryRaw, &item.ChangeSummary)
	if len(mergeRaw) > 0 {
		item.MergeInfo = &MergeInfo{}
		_ = json.Unmarshal(mergeRaw, item.MergeInfo)
	}
	return item, nil
}

func (s *PostgresStore) GetVersionByID(ctx context.Context, documentID, versionID string) (DocumentVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE id=$1 AND document_id=$2
	`, versionID, documentID)
	return scanVersion(row)
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, version int) (DocumentVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1 AND version=$2
	`, documentID, version)
	return scanVersion(row)
}

// GetLatestVersion returns nil without error when the document has no
// versions yet.
func (s *PostgresStore) GetLatestVersion(ctx context.Context, documentID string) (*DocumentVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1 AND is_latest
	`, documentID)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest version: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// ===== change ledger =====

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertChangeRow(ctx context.Context, q rowQuerier, entry *Change) error {
	var region any
	if entry.Region != nil {
		encoded, err := json.Marshal(entry.Region)
		if err != nil {
			return fmt.Errorf("marshal change region: %w", err)
		}
		region = string(encoded)
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO document_changes (document_id, type, operation, old_value, new_value, page_number, region, description, user_id)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7::jsonb, $8, $9)
		RETURNING id, created_at
	`, entry.DocumentID, entry.Type, entry.Operation,
		nullableJSON(entry.OldValue), nullableJSON(entry.NewValue),
		entry.PageNumber, region, entry.Description, entry.UserID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

// InsertChange appends one ledger entry and fills in its assigned
// sequence number and timestamp.
func (s *PostgresStore) InsertChange(ctx context.Context, entry Change) (Change, error) {
	if err := insertChangeRow(ctx, s.db, &entry); err != nil {
		return Change{}, err
	}
	return entry, nil
}

func (s *PostgresStore) ListChanges(ctx context.Context, documentID string, filter ChangeFilter) ([]Change, error) {
	types := filter.Types
	if types == nil {
		types = []string{}
	}
	operations := filter.Operations
	if operations == nil {
		operations = []string{}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, type, operation, old_value, new_value, page_number, region, description, user_id, created_at
		FROM document_changes
		WHERE document_id=$1
		  AND (cardinality($2::text[])=0 OR type=ANY($2::text[]))
		  AND (cardinality($3::text[])=0 OR operation=ANY($3::text[]))
		  AND ($4='' OR user_id=$4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at <= $6)
		ORDER BY id DESC
		LIMIT NULLIF($7::int, 0) OFFSET $8
	`, documentID, types, operations, filter.UserID, filter.Since, filter.Until, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	items := make([]Change, 0)
	for rows.Next() {
		var item Change
		var oldRaw, newRaw, regionRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.Type,
			&item.Operation,
			&oldRaw,
			&newRaw,
			&item.PageNumber,
			&regionRaw,
			&item.Description,
			&item.UserID,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		item.OldValue = json.RawMessage(oldRaw)
		item.NewValue = json.RawMessage(newRaw)
		if len(regionRaw) > 0 {
			item.Region = &geo.Rect{}
			_ = json.Unmarshal(regionRaw, item.Region)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return items, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
