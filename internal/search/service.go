package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to
// PG FTS. Indexing is fire-and-forget; the engine never waits for it.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexAnnotation indexes an annotation (fire-and-forget to Meilisearch).
func (s *Service) IndexAnnotation(a AnnotationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAnnotation(a); err != nil {
			s.log.Warn().Err(err).Str("annotation_id", a.ID).Msg("search: index annotation")
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(c CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(c); err != nil {
			s.log.Warn().Err(err).Str("comment_id", c.ID).Msg("search: index comment")
		}
	}()
}

// DeleteAnnotation removes an annotation from the index (fire-and-forget).
func (s *Service) DeleteAnnotation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnotation(id); err != nil {
			s.log.Warn().Err(err).Str("annotation_id", id).Msg("search: delete annotation")
		}
	}()
}

// DeleteComment removes a comment from the index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			s.log.Warn().Err(err).Str("comment_id", id).Msg("search: delete comment")
		}
	}()
}

// ReindexAllFromPG reads every indexable row from PostgreSQL and pushes
// it to Meilisearch. Run at startup when the index may be cold.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	annotations, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.meili.IndexAnnotations(annotations); err != nil {
		s.log.Warn().Err(err).Msg("search: reindex annotations")
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.log.Warn().Err(err).Msg("search: reindex comments")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
