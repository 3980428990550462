package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCase indexes a case (fire-and-forget to Meilisearch).
func (s *Service) IndexCase(c CaseRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			log.Printf("search: index case %s: %v", c.ID, err)
		}
	}()
}

// IndexQuote indexes a quote (fire-and-forget to Meilisearch).
func (s *Service) IndexQuote(q QuoteRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexQuote(q); err != nil {
			log.Printf("search: index quote %s: %v", q.ID, err)
		}
	}()
}

// IndexHistory indexes an audit entry (fire-and-forget to Meilisearch).
func (s *Service) IndexHistory(h HistoryRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexHistory(h); err != nil {
			log.Printf("search: index history %s: %v", h.ID, err)
		}
	}()
}

// ReindexAll pushes already-loaded records to Meilisearch.
func (s *Service) ReindexAll(cases []CaseRecord, quotes []QuoteRecord, entries []HistoryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(cases) > 0 {
		if err := s.meili.IndexCases(cases); err != nil {
			log.Printf("search: reindex cases: %v", err)
		}
	}
	if len(quotes) > 0 {
		if err := s.meili.IndexQuotes(quotes); err != nil {
			log.Printf("search: reindex quotes: %v", err)
		}
	}
	if len(entries) > 0 {
		if err := s.meili.IndexHistoryEntries(entries); err != nil {
			log.Printf("search: reindex history: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	cases, quotes, entries, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(cases, quotes, entries)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
