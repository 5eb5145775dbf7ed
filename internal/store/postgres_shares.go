package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ===== shares =====

func (s *PostgresStore) InsertShare(ctx context.Context, item DocumentShare) error {
	allowedIPs, err := encodeStringList(item.Restrictions.AllowedIPs)
	if err != nil {
		return fmt.Errorf("marshal allowed ips: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_shares (id, document_id, type, shared_with, access_level, permissions, expires_at, max_views, allowed_ips, password_hash, watermark, token, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
	`, item.ID, item.DocumentID, item.Type, item.SharedWith, item.AccessLevel, int(item.Permissions),
		item.Restrictions.ExpiresAt, item.Restrictions.MaxViews, allowedIPs, item.Restrictions.PasswordHash,
		item.Restrictions.Watermark, item.Token, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

const shareColumns = `id, document_id, type, shared_with, access_level, permissions, expires_at, max_views, allowed_ips, password_hash, watermark, view_count, download_count, print_count, unique_viewers, last_accessed_at, token, is_active, created_by, created_at, updated_at`

func scanShare(row interface{ Scan(...any) error }) (DocumentShare, error) {
	var item DocumentShare
	var permissions int
	var allowedRaw, viewersRaw []byte
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.Type,
		&item.SharedWith,
		&item.AccessLevel,
		&permissions,
		&item.Restrictions.ExpiresAt,
		&item.Restrictions.MaxViews,
		&allowedRaw,
		&item.Restrictions.PasswordHash,
		&item.Restrictions.Watermark,
		&item.Analytics.ViewCount,
		&item.Analytics.DownloadCount,
		&item.Analytics.PrintCount,
		&viewersRaw,
		&item.Analytics.LastAccessedAt,
		&item.Token,
		&item.IsActive,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return DocumentShare{}, err
	}
	item.Permissions = SharePermissions(permissions)
	_ = json.Unmarshal(allowedRaw, &item.Restrictions.AllowedIPs)
	_ = json.Unmarshal(viewersRaw, &item.Analytics.UniqueViewers)
	return item, nil
}

func (s *PostgresStore) GetShare(ctx context.Context, shareID string) (DocumentShare, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+`
		FROM document_shares
		WHERE id=$1
	`, shareID)
	return scanShare(row)
}

// GetShareByToken returns nil without error when no share carries the
// token. Revoked shares still resolve; the caller decides what an
// inactive grant means.
func (s *PostgresStore) GetShareByToken(ctx context.Context, token string) (*DocumentShare, error) {
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+`
		FROM document_shares
		WHERE token=$1
	`, token)
	item, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share by token: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListShares(ctx context.Context, documentID string) ([]DocumentShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareColumns+`
		FROM document_shares
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentShare, 0)
	for rows.Next() {
		item, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateShare(ctx context.Context, item DocumentShare) error {
	allowedIPs, err := encodeStringList(item.Restrictions.AllowedIPs)
	if err != nil {
		return fmt.Errorf("marshal allowed ips: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_shares
		SET access_level=$2, permissions=$3, expires_at=$4, max_views=$5, allowed_ips=$6::jsonb,
			password_hash=$7, watermark=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.AccessLevel, int(item.Permissions), item.Restrictions.ExpiresAt,
		item.Restrictions.MaxViews, allowedIPs, item.Restrictions.PasswordHash, item.Restrictions.Watermark)
	if err != nil {
		return fmt.Errorf("update share: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update share rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) RevokeShare(ctx context.Context, shareID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_shares SET is_active=FALSE, updated_at=NOW() WHERE id=$1
	`, shareID)
	if err != nil {
		return fmt.Errorf("revoke share: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke share rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyShareAccess counts one access against a share and writes the audit
// row, in one transaction. The WHERE clause holds the view budget: when a
// view would exceed max_views, or the share went inactive, nothing is
// recorded and the method reports false.
func (s *PostgresStore) ApplyShareAccess(ctx context.Context, rec ShareAccessRecord) (bool, error) {
	applied := false
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE document_shares SET
				view_count = view_count + CASE WHEN $2='view' THEN 1 ELSE 0 END,
				download_count = download_count + CASE WHEN $2='download' THEN 1 ELSE 0 END,
				print_count = print_count + CASE WHEN $2='print' THEN 1 ELSE 0 END,
				unique_viewers = CASE
					WHEN $3<>'' AND NOT (unique_viewers ? $3::text) THEN unique_viewers || to_jsonb($3::text)
					ELSE unique_viewers
				END,
				last_accessed_at = NOW(),
				updated_at = NOW()
			WHERE id=$1 AND is_active
			  AND ($2<>'view' OR max_views IS NULL OR view_count < max_views)
		`, rec.ShareID, rec.Action, rec.ViewerID)
		if err != nil {
			return fmt.Errorf("count share access: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("count share access rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO share_access_log (share_id, action, viewer_id, ip, user_agent)
			VALUES ($1, $2, $3, $4, $5)
		`, rec.ShareID, rec.Action, rec.ViewerID, rec.IP, rec.UserAgent); err != nil {
			return fmt.Errorf("log share access: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *PostgresStore) ListShareAccess(ctx context.Context, shareID string) ([]ShareAccessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, share_id, action, viewer_id, ip, user_agent, created_at
		FROM share_access_log
		WHERE share_id=$1
		ORDER BY id ASC
	`, shareID)
	if err != nil {
		return nil, fmt.Errorf("list share access: %w", err)
	}
	defer rows.Close()

	items := make([]ShareAccessRecord, 0)
	for rows.Next() {
		var item ShareAccessRecord
		if err := rows.Scan(&item.ID, &item.ShareID, &item.Action, &item.ViewerID, &item.IP, &item.UserAgent, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share access: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share access: %w", err)
	}
	return items, nil
}

// DeactivateExpiredShares is run by the sweeper. Returns how many shares
// it turned off.
func (s *PostgresStore) DeactivateExpiredShares(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_shares SET is_active=FALSE, updated_at=NOW()
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired shares: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired shares rows: %w", err)
	}
	return affected, nil
}
