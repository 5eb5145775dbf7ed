package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ===== users =====

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, organization_id, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			email=EXCLUDED.email,
			organization_id=EXCLUDED.organization_id,
			role=EXCLUDED.role
	`, user.ID, user.DisplayName, user.Email, user.OrganizationID, user.Role)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, organization_id, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.OrganizationID, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ===== documents =====

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, organization_id, title, file_name, mime_type, access_level, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.OrganizationID, item.Title, item.FileName, item.MimeType, item.AccessLevel, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, title, file_name, mime_type, access_level, status, created_by, created_at, updated_at, deleted_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Title,
		&item.FileName,
		&item.MimeType,
		&item.AccessLevel,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.DeletedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) TouchDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET updated_at=NOW() WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

// ===== annotations =====

func (s *PostgresStore) InsertAnnotation(ctx context.Context, item Annotation) error {
	style := item.Style
	if len(style) == 0 {
		style = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, document_id, page_number, region_x, region_y, region_width, region_height, type, content, style, color, visibility, status, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $14, $15)
	`, item.ID, item.DocumentID, item.PageNumber,
		item.Region.X, item.Region.Y, item.Region.Width, item.Region.Height,
		item.Type, item.Content, string(style), item.Color, item.Visibility, item.Status, item.Priority, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

const annotationColumns = `id, document_id, page_number, region_x, region_y, region_width, region_height, type, content, style, color, visibility, status, priority, created_by, created_at, updated_at`

func scanAnnotation(row interface{ Scan(...any) error }) (Annotation, error) {
	var item Annotation
	var styleRaw []byte
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.PageNumber,
		&item.Region.X,
		&item.Region.Y,
		&item.Region.Width,
		&item.Region.Height,
		&item.Type,
		&item.Content,
		&styleRaw,
		&item.Color,
		&item.Visibility,
		&item.Status,
		&item.Priority,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Annotation{}, err
	}
	item.Style = json.RawMessage(styleRaw)
	return item, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, documentID, annotationID string) (Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE id=$1 AND document_id=$2
	`, annotationID, documentID)
	return scanAnnotation(row)
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, item Annotation) error {
	style := item.Style
	if len(style) == 0 {
		style = json.RawMessage(`{}`)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE annotations
		SET page_number=$3, region_x=$4, region_y=$5, region_width=$6, region_height=$7,
			content=$8, style=$9::jsonb, color=$10, visibility=$11, priority=$12, updated_at=NOW()
		WHERE id=$1 AND document_id=$2
	`, item.ID, item.DocumentID, item.PageNumber,
		item.Region.X, item.Region.Y, item.Region.Width, item.Region.Height,
		item.Content, string(style), item.Color, item.Visibility, item.Priority)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update annotation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetAnnotationStatus(ctx context.Context, documentID, annotationID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE annotations SET status=$3, updated_at=NOW() WHERE id=$1 AND document_id=$2
	`, annotationID, documentID, status)
	if err != nil {
		return fmt.Errorf("set annotation status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set annotation status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, documentID string, pageNumber int, status string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE document_id=$1
		  AND ($2=0 OR page_number=$2)
		  AND ($3='' OR status=$3)
		ORDER BY created_at ASC
	`, documentID, pageNumber, status)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAnnotationReply(ctx context.Context, item AnnotationReply) error {
	mentions, err := encodeStringList(item.Mentions)
	if err != nil {
		return fmt.Errorf("marshal reply mentions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotation_replies (id, annotation_id, content, mentions, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, item.ID, item.AnnotationID, item.Content, mentions, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert annotation reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnnotationReplies(ctx context.Context, annotationID string) ([]AnnotationReply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, annotation_id, content, mentions, created_by, created_at
		FROM annotation_replies
		WHERE annotation_id=$1
		ORDER BY created_at ASC
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("list annotation replies: %w", err)
	}
	defer rows.Close()

	items := make([]AnnotationReply, 0)
	for rows.Next() {
		var item AnnotationReply
		var mentionsRaw []byte
		if err := rows.Scan(&item.ID, &item.AnnotationID, &item.Content, &mentionsRaw, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation reply: %w", err)
		}
		_ = json.Unmarshal(mentionsRaw, &item.Mentions)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation replies: %w", err)
	}
	return items, nil
}

// ===== comments =====

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	mentions, err := encodeStringList(item.Mentions)
	if err != nil {
		return fmt.Errorf("marshal comment mentions: %w", err)
	}
	attachments, err := encodeStringList(item.Attachments)
	if err != nil {
		return fmt.Errorf("marshal comment attachments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, content, mentions, attachments, task_id, status, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8)
	`, item.ID, item.DocumentID, item.Content, mentions, attachments, item.TaskID, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	var item Comment
	var mentionsRaw, attachmentsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, mentions, attachments, task_id, status, created_by, created_at, updated_at
		FROM comments
		WHERE id=$1 AND document_id=$2
	`, commentID, documentID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.Content,
		&mentionsRaw,
		&attachmentsRaw,
		&item.TaskID,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	_ = json.Unmarshal(mentionsRaw, &item.Mentions)
	_ = json.Unmarshal(attachmentsRaw, &item.Attachments)
	return item, nil
}

func (s *PostgresStore) SetCommentStatus(ctx context.Context, documentID, commentID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET status=$3, updated_at=NOW() WHERE id=$1 AND document_id=$2
	`, commentID, documentID, status)
	if err != nil {
		return fmt.Errorf("set comment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set comment status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID, status string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, mentions, attachments, task_id, status, created_by, created_at, updated_at
		FROM comments
		WHERE document_id=$1 AND ($2='' OR status=$2)
		ORDER BY created_at ASC
	`, documentID, status)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		var mentionsRaw, attachmentsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.Content,
			&mentionsRaw,
			&attachmentsRaw,
			&item.TaskID,
			&item.Status,
			&item.CreatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		_ = json.Unmarshal(mentionsRaw, &item.Mentions)
		_ = json.Unmarshal(attachmentsRaw, &item.Attachments)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertCommentReply(ctx context.Context, item CommentReply) error {
	mentions, err := encodeStringList(item.Mentions)
	if err != nil {
		return fmt.Errorf("marshal reply mentions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comment_replies (id, comment_id, content, mentions, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, item.ID, item.CommentID, item.Content, mentions, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert comment reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCommentReplies(ctx context.Context, commentID string) ([]CommentReply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, comment_id, content, mentions, created_by, created_at
		FROM comment_replies
		WHERE comment_id=$1
		ORDER BY created_at ASC
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list comment replies: %w", err)
	}
	defer rows.Close()

	items := make([]CommentReply, 0)
	for rows.Next() {
		var item CommentReply
		var mentionsRaw []byte
		if err := rows.Scan(&item.ID, &item.CommentID, &item.Content, &mentionsRaw, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment reply: %w", err)
		}
		_ = json.Unmarshal(mentionsRaw, &item.Mentions)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment replies: %w", err)
	}
	return items, nil
}

// UpsertCommentReaction writes a user's single reaction slot for a comment.
// Returns false when the same type was already set (no row changed).
func (s *PostgresStore) UpsertCommentReaction(ctx context.Context, item CommentReaction) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_reactions (comment_id, user_id, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (comment_id, user_id) DO UPDATE SET type=EXCLUDED.type, created_at=NOW()
		WHERE comment_reactions.type IS DISTINCT FROM EXCLUDED.type
	`, item.CommentID, item.UserID, item.Type)
	if err != nil {
		return false, fmt.Errorf("upsert comment reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert comment reaction rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteCommentReaction(ctx context.Context, commentID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comment_reactions WHERE comment_id=$1 AND user_id=$2
	`, commentID, userID)
	if err != nil {
		return false, fmt.Errorf("delete comment reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment reaction rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListCommentReactions(ctx context.Context, commentID string) ([]CommentReaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT comment_id, user_id, type, created_at
		FROM comment_reactions
		WHERE comment_id=$1
		ORDER BY created_at ASC
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list comment reactions: %w", err)
	}
	defer rows.Close()

	items := make([]CommentReaction, 0)
	for rows.Next() {
		var item CommentReaction
		if err := rows.Scan(&item.CommentID, &item.UserID, &item.Type, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment reaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment reactions: %w", err)
	}
	return items, nil
}

// ===== tasks =====

func (s *PostgresStore) InsertTask(ctx context.Context, item Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, document_id, title, description, assignee, due_date, priority, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.DocumentID, item.Title, item.Description, item.Assignee, item.DueDate, item.Priority, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func encodeStringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
