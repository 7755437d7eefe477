package search

import (
	"context"

	"coauthor/api/internal/logging"
	"coauthor/api/internal/review"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres full-text search.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   logging.Logger
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, fallback Searcher, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warnw("meilisearch failed, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Errorw("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument pushes a document and its comments to Meilisearch. Nothing
// happens when Meilisearch is unavailable.
func (s *Service) IndexDocument(ctx context.Context, doc *review.Document) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	rec, comments := RecordsFor(doc)
	if err := s.meili.IndexDocuments([]DocumentRecord{rec}); err != nil {
		return err
	}
	return s.meili.IndexComments(comments)
}

// ReindexAll pushes every given document to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, docs []*review.Document) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	var (
		records  = make([]DocumentRecord, 0, len(docs))
		comments []CommentRecord
	)
	for _, doc := range docs {
		rec, cs := RecordsFor(doc)
		records = append(records, rec)
		comments = append(comments, cs...)
	}
	if err := s.meili.IndexDocuments(records); err != nil {
		s.logger.Errorw("reindex documents", "error", err)
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.logger.Errorw("reindex comments", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
