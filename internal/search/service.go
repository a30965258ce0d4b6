package search

import "go.uber.org/zap"

// Service tries Meilisearch first and falls back to PostgreSQL full-text
// search when it is absent or unreachable.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   *zap.SugaredLogger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *zap.SugaredLogger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search runs a scoped query against the best available engine. Engine
// failures degrade to an empty response rather than a caller-facing error.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warnw("meilisearch error, falling back to postgres", "error", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Errorw("postgres search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument pushes one document into Meilisearch, fire-and-forget.
func (s *Service) IndexDocument(record Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecord(record); err != nil {
			s.log.Warnw("index document", "id", record.ID, "error", err)
		}
	}()
}

// ReindexAll reads every document from Postgres and bulk-loads Meilisearch.
// Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll() {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords()
	if err != nil {
		s.log.Errorw("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexRecords(records); err != nil {
		s.log.Errorw("reindex failed", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
