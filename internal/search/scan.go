package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/store"
)

const (
	scanPageSize   = 100
	snippetContext = 40
)

// StoreScan implements Searcher by decoding saved reports and matching
// substrings case-insensitively. Results come newest report first.
type StoreScan struct {
	reports store.ReportStore
}

func NewStoreScan(reports store.ReportStore) *StoreScan {
	return &StoreScan{reports: reports}
}

// Healthy is always true; the scan only needs the report store.
func (s *StoreScan) Healthy() bool {
	return true
}

func (s *StoreScan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	filter := store.ReportFilter{ReportType: annotation.ReportType(q.ReportType), Limit: scanPageSize}
	var matches []Result
	for {
		page, err := s.reports.ListReports(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("scan reports: %w", err)
		}
		for _, r := range page {
			recs, err := RecordsFor(r)
			if err != nil {
				continue
			}
			matches = append(matches, matchRecords(recs, needle, q.FilterType)...)
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	total := len(matches)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func matchRecords(recs Records, needle string, only ResultType) []Result {
	var out []Result
	rep := recs.Report
	if only == "" || only == ResultReport {
		fields := []string{rep.Title, rep.Description}
		fields = append(fields, rep.Tags...)
		fields = append(fields, rep.Drugs...)
		hay := strings.Join(fields, " ")
		if strings.Contains(strings.ToLower(hay), needle) {
			snippet := rep.Description
			if snippet == "" {
				snippet = strings.Join(rep.Drugs, ", ")
			}
			out = append(out, Result{Type: ResultReport, ID: rep.ID, ReportID: rep.ID, ReportTitle: rep.Title,
				Title: rep.Title, Snippet: snippet})
		}
	}
	if only == "" || only == ResultHighlight {
		for _, h := range recs.Highlights {
			if snippet, ok := excerpt(h.Text, needle); ok {
				out = append(out, Result{Type: ResultHighlight, ID: h.HighlightID, ReportID: h.ReportID,
					ReportTitle: h.ReportTitle, Title: h.SectionID, Snippet: snippet, SectionID: h.SectionID, Color: h.Color})
			}
		}
	}
	if only == "" || only == ResultNote {
		for _, n := range recs.Notes {
			if snippet, ok := excerpt(n.Content, needle); ok {
				out = append(out, Result{Type: ResultNote, ID: n.NoteID, ReportID: n.ReportID,
					ReportTitle: n.ReportTitle, Title: n.NoteType + " note", Snippet: snippet})
			}
		}
	}
	return out
}

// excerpt returns text around the first match of needle, which must already
// be lower case.
func excerpt(text, needle string) (string, bool) {
	lower := strings.ToLower(text)
	i := strings.Index(lower, needle)
	if i < 0 {
		return "", false
	}
	// lowering can change byte lengths; only trust i when lengths agree
	if len(lower) != len(text) {
		return text, true
	}
	start := i - snippetContext
	prefix := "…"
	if start <= 0 {
		start, prefix = 0, ""
	}
	end := i + len(needle) + snippetContext
	suffix := "…"
	if end >= len(text) {
		end, suffix = len(text), ""
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return prefix + text[start:end] + suffix, true
}
