package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback. The tsvectors are computed at query time, which is fine for
// the fallback path; the primary index is Meilisearch.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole engine is.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across annotations and comments
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
// Private annotations are never surfaced through search.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		where := fmt.Sprintf("to_tsvector('english', a.content) @@ %s AND a.visibility <> 'private'", tsQuery)
		if q.FilterDocumentID != "" {
			where += fmt.Sprintf(" AND a.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.id, a.document_id, a.page_number,
				ts_headline('english', a.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.status, a.created_by,
				ts_rank(to_tsvector('english', a.content), %s) AS rank
			FROM annotations a
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		where := fmt.Sprintf("to_tsvector('english', c.content) @@ %s", tsQuery)
		if q.FilterDocumentID != "" {
			where += fmt.Sprintf(" AND c.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.document_id, 0 AS page_number,
				ts_headline('english', c.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.status, c.created_by,
				ts_rank(to_tsvector('english', c.content), %s) AS rank
			FROM comments c
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, document_id, page_number, snippet, status, created_by
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.DocumentID, &r.PageNumber, &r.Snippet, &r.Status, &r.CreatedBy); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable records for full reindexing.
// Private annotations stay out of the index.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AnnotationRecord, []CommentRecord, error) {
	annotationRows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, page_number, type, content, status, created_by
		FROM annotations
		WHERE visibility <> 'private'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load annotations: %w", err)
	}
	defer annotationRows.Close()

	annotations := make([]AnnotationRecord, 0)
	for annotationRows.Next() {
		var a AnnotationRecord
		if err := annotationRows.Scan(&a.ID, &a.DocumentID, &a.PageNumber, &a.Type, &a.Content, &a.Status, &a.CreatedBy); err != nil {
			return nil, nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	if err := annotationRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate annotations: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, content, status, created_by
		FROM comments
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Status, &c.CreatedBy); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return annotations, comments, nil
}
