package search

import (
	"context"

	"labelscope/api/internal/logging"
	"labelscope/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to a
// scan of the report store.
type Service struct {
	meili    *Meili
	fallback Searcher
	reports  store.ReportStore
	logger   logging.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, reports store.ReportStore, logger logging.Logger) *Service {
	return &Service{meili: meili, fallback: NewStoreScan(reports), reports: reports, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store scan.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("search", "meilisearch error, falling back to store scan", map[string]any{"error": err})
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("search", "store scan failed", map[string]any{"error": err})
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "scan"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "scan"}
}

// IndexReport indexes a saved report (fire-and-forget to Meilisearch).
func (s *Service) IndexReport(r store.Report) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	recs, err := RecordsFor(r)
	if err != nil {
		s.logger.Warn("search", "skip indexing undecodable report", map[string]any{"reportId": r.ID, "error": err})
		return
	}
	go func() {
		if err := s.meili.IndexRecords(recs); err != nil {
			s.logger.Warn("search", "index report failed", map[string]any{"reportId": r.ID, "error": err})
		}
	}()
}

// DeleteReport removes a report's records from the index (fire-and-forget).
// r is the report as last saved.
func (s *Service) DeleteReport(r store.Report) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	recs, err := RecordsFor(r)
	if err != nil {
		recs = Records{Report: ReportRecord{ID: r.ID}}
	}
	go func() {
		if err := s.meili.DeleteRecords(recs); err != nil {
			s.logger.Warn("search", "delete report from index failed", map[string]any{"reportId": r.ID, "error": err})
		}
	}()
}

// ReindexAll pushes every saved report to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.reports == nil {
		return
	}
	filter := store.ReportFilter{Limit: scanPageSize}
	indexed := 0
	for {
		page, err := s.reports.ListReports(ctx, filter)
		if err != nil {
			s.logger.Error("search", "reindex load failed", map[string]any{"error": err})
			return
		}
		for _, r := range page {
			recs, err := RecordsFor(r)
			if err != nil {
				continue
			}
			if err := s.meili.IndexRecords(recs); err != nil {
				s.logger.Warn("search", "reindex report failed", map[string]any{"reportId": r.ID, "error": err})
				continue
			}
			indexed++
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}
	s.logger.Info("search", "reindex complete", map[string]any{"reports": indexed})
}

// Close stops Meilisearch health monitoring.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
