package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"labelscope/api/internal/logging"
)

const (
	idxReports    = "labelscope_reports"
	idxHighlights = "labelscope_highlights"
	idxNotes      = "labelscope_notes"
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  logging.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server leaves the client unhealthy until the health loop sees
// it come back.
func NewMeili(url, apiKey string, logger logging.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("search", "meilisearch unavailable", map[string]any{"url": url, "error": err})
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxReports,
			filterable: []string{"reportType", "tags"},
			searchable: []string{"title", "description", "tags", "drugs"},
		},
		{
			uid:        idxHighlights,
			filterable: []string{"reportId", "reportType", "color", "sectionId"},
			searchable: []string{"text", "reportTitle"},
		},
		{
			uid:        idxNotes,
			filterable: []string{"reportId", "reportType", "noteType"},
			searchable: []string{"content", "reportTitle"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("search", "create index failed (may already exist)", map[string]any{"index": idx.uid, "error": err})
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("search", "update filterable attributes", map[string]any{"index": idx.uid, "error": err})
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("search", "update searchable attributes", map[string]any{"index": idx.uid, "error": err})
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search", "meilisearch recovered, reconfiguring indexes", nil)
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one query per index and concatenates the hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxReports, ResultReport},
		{idxHighlights, ResultHighlight},
		{idxNotes, ResultNote},
	}

	var queries []*meili.SearchRequest
	for _, ti := range targets {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if q.ReportType != "" {
			sr.Filter = []string{fmt.Sprintf("reportType = %q", q.ReportType)}
		}
		queries = append(queries, sr)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxReports:
		return ResultReport
	case idxHighlights:
		return ResultHighlight
	case idxNotes:
		return ResultNote
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	switch rtyp {
	case ResultReport:
		r.ID = decodeString(hit, "id")
		r.ReportID = r.ID
		r.ReportTitle = decodeString(hit, "title")
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), r.ReportTitle)
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultHighlight:
		r.ID = decodeString(hit, "highlightId")
		r.ReportID = decodeString(hit, "reportId")
		r.ReportTitle = decodeString(hit, "reportTitle")
		r.SectionID = decodeString(hit, "sectionId")
		r.Color = decodeString(hit, "color")
		r.Title = r.SectionID
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text"))
	case ResultNote:
		r.ID = decodeString(hit, "noteId")
		r.ReportID = decodeString(hit, "reportId")
		r.ReportTitle = decodeString(hit, "reportTitle")
		r.Title = decodeString(hit, "noteType") + " note"
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexRecords adds or replaces everything indexed for one report.
func (m *Meili) IndexRecords(recs Records) error {
	if _, err := m.client.Index(idxReports).AddDocuments([]ReportRecord{recs.Report}, nil); err != nil {
		return fmt.Errorf("index report: %w", err)
	}
	if len(recs.Highlights) > 0 {
		if _, err := m.client.Index(idxHighlights).AddDocuments(recs.Highlights, nil); err != nil {
			return fmt.Errorf("index highlights: %w", err)
		}
	}
	if len(recs.Notes) > 0 {
		if _, err := m.client.Index(idxNotes).AddDocuments(recs.Notes, nil); err != nil {
			return fmt.Errorf("index notes: %w", err)
		}
	}
	return nil
}

// DeleteRecords removes the given records from every index.
func (m *Meili) DeleteRecords(recs Records) error {
	var errs []error
	if _, err := m.client.Index(idxReports).DeleteDocument(recs.Report.ID, nil); err != nil {
		errs = append(errs, err)
	}
	for _, h := range recs.Highlights {
		if _, err := m.client.Index(idxHighlights).DeleteDocument(h.ID, nil); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range recs.Notes {
		if _, err := m.client.Index(idxNotes).DeleteDocument(n.ID, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
