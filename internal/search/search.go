// Package search finds highlights, notes and reports across saved
// workspaces.
package search

import (
	"context"
	"fmt"

	"labelscope/api/internal/snapshot"
	"labelscope/api/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultReport    ResultType = "report"
	ResultHighlight ResultType = "highlight"
	ResultNote      ResultType = "note"
)

func ParseResultType(s string) (ResultType, bool) {
	switch t := ResultType(s); t {
	case "", ResultReport, ResultHighlight, ResultNote:
		return t, true
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	ReportID    string     `json:"reportId"`
	ReportTitle string     `json:"reportTitle"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	SectionID   string     `json:"sectionId,omitempty"`
	Color       string     `json:"color,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	ReportType string
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ReportRecord is the data we index for a report.
type ReportRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	ReportType  string   `json:"reportType"`
	Drugs       []string `json:"drugs"`
}

// HighlightRecord is the data we index for a highlight.
type HighlightRecord struct {
	ID          string `json:"id"`
	HighlightID string `json:"highlightId"`
	ReportID    string `json:"reportId"`
	ReportTitle string `json:"reportTitle"`
	ReportType  string `json:"reportType"`
	SectionID   string `json:"sectionId"`
	Text        string `json:"text"`
	Color       string `json:"color"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID          string `json:"id"`
	NoteID      string `json:"noteId"`
	ReportID    string `json:"reportId"`
	ReportTitle string `json:"reportTitle"`
	ReportType  string `json:"reportType"`
	NoteType    string `json:"noteType"`
	HighlightID string `json:"highlightId,omitempty"`
	Content     string `json:"content"`
}

// Records is everything indexed for one report.
type Records struct {
	Report     ReportRecord
	Highlights []HighlightRecord
	Notes      []NoteRecord
}

// recordID joins ids so they stay valid index primary keys.
func recordID(reportID, itemID string) string {
	return reportID + "__" + itemID
}

// RecordsFor decodes the report's workspace state into index records.
func RecordsFor(r store.Report) (Records, error) {
	snap, err := snapshot.Decode(r.WorkspaceState)
	if err != nil {
		return Records{}, fmt.Errorf("decode report %s: %w", r.ID, err)
	}
	recs := Records{
		Report: ReportRecord{
			ID:          r.ID,
			Title:       r.Metadata.Title,
			Description: r.Metadata.Description,
			Tags:        r.Metadata.Tags,
			ReportType:  string(r.ReportType),
			Drugs:       snap.DrugNames(),
		},
	}
	for _, h := range snap.Highlights {
		recs.Highlights = append(recs.Highlights, HighlightRecord{
			ID:          recordID(r.ID, h.ID),
			HighlightID: h.ID,
			ReportID:    r.ID,
			ReportTitle: r.Metadata.Title,
			ReportType:  string(r.ReportType),
			SectionID:   h.SectionID,
			Text:        h.Text,
			Color:       string(h.Color),
		})
	}
	for _, n := range snap.Notes {
		recs.Notes = append(recs.Notes, NoteRecord{
			ID:          recordID(r.ID, n.ID),
			NoteID:      n.ID,
			ReportID:    r.ID,
			ReportTitle: r.Metadata.Title,
			ReportType:  string(r.ReportType),
			NoteType:    string(n.Type),
			HighlightID: n.HighlightID,
			Content:     n.Content,
		})
	}
	return recs, nil
}
