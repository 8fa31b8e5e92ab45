package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/blob"
	"labelscope/api/internal/email"
	"labelscope/api/internal/export"
	"labelscope/api/internal/gitrepo"
	"labelscope/api/internal/labels"
	"labelscope/api/internal/search"
	"labelscope/api/internal/snapshot"
	"labelscope/api/internal/store"
)

const (
	shareLinkTTL       = 72 * time.Hour
	maxShareMessage    = 2000
	defaultShareFormat = export.FormatMarkdown
)

type ReportCounts struct {
	Highlights      int `json:"highlights"`
	CitedNotes      int `json:"citedNotes"`
	UncitedNotes    int `json:"uncitedNotes"`
	FlaggedMessages int `json:"flaggedMessages"`
}

type ReportSummary struct {
	ID           string                `json:"id"`
	ReportType   annotation.ReportType `json:"reportType"`
	Metadata     store.Metadata        `json:"metadata"`
	Drugs        []string              `json:"drugs"`
	Counts       ReportCounts          `json:"counts"`
	CreatedAt    time.Time             `json:"createdAt"`
	LastModified time.Time             `json:"lastModified"`
}

type ReportDetail struct {
	store.Report
	Drugs  []string      `json:"drugs"`
	Counts ReportCounts  `json:"counts"`
	Shares []store.Share `json:"shares"`
}

func countsOf(snap snapshot.Snapshot) ReportCounts {
	c := ReportCounts{Highlights: len(snap.Highlights), FlaggedMessages: len(snap.FlaggedMessages)}
	for _, n := range snap.Notes {
		if n.IsCited() {
			c.CitedNotes++
		} else {
			c.UncitedNotes++
		}
	}
	return c
}

// decodeReport tolerates undecodable state so a corrupted report can still
// be listed and deleted.
func (s *Service) decodeReport(r store.Report) (snapshot.Snapshot, bool) {
	snap, err := snapshot.Decode(r.WorkspaceState)
	if err != nil {
		s.log.Warn(logModule, "report state does not decode", map[string]any{"report_id": r.ID, "error": err.Error()})
		return snapshot.Snapshot{}, false
	}
	return snap, true
}

func (s *Service) ListReports(ctx context.Context, filter store.ReportFilter) ([]ReportSummary, error) {
	reports, err := s.reports.ListReports(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]ReportSummary, 0, len(reports))
	for _, r := range reports {
		sum := ReportSummary{
			ID:           r.ID,
			ReportType:   r.ReportType,
			Metadata:     r.Metadata,
			Drugs:        []string{},
			CreatedAt:    r.CreatedAt,
			LastModified: r.LastModified,
		}
		if snap, ok := s.decodeReport(r); ok {
			sum.Drugs = snap.DrugNames()
			sum.Counts = countsOf(snap)
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) getReport(ctx context.Context, id string) (store.Report, error) {
	r, err := s.reports.GetReport(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Report{}, errReportNotFound
	}
	return r, err
}

func (s *Service) GetReport(ctx context.Context, id string) (ReportDetail, error) {
	r, err := s.getReport(ctx, id)
	if err != nil {
		return ReportDetail{}, err
	}
	shares, err := s.reports.ListShares(ctx, id)
	if err != nil {
		return ReportDetail{}, err
	}
	d := ReportDetail{Report: r, Drugs: []string{}, Shares: shares}
	if snap, ok := s.decodeReport(r); ok {
		d.Drugs = snap.DrugNames()
		d.Counts = countsOf(snap)
	}
	return d, nil
}

// DeleteReport removes the report with its revisions and index records.
// Live workspaces keep their state but are unlinked from it.
func (s *Service) DeleteReport(ctx context.Context, id string) error {
	r, err := s.getReport(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reports.DeleteReport(ctx, id); err != nil {
		return err
	}
	if s.revisions != nil {
		if err := s.revisions.RemoveReportRepo(id); err != nil {
			s.log.Warn(logModule, "remove revisions failed", map[string]any{"report_id": id, "error": err.Error()})
		}
	}
	if s.search != nil {
		s.search.DeleteReport(r)
	}
	for _, l := range s.sessions.all() {
		if l.ReportID() == id {
			l.setReportID("")
		}
	}
	s.log.Info(logModule, "report deleted", map[string]any{"report_id": id})
	return nil
}

func (s *Service) UpdateReportMetadata(ctx context.Context, id string, patch store.MetadataPatch) (store.Report, error) {
	r, err := s.reports.UpdateMetadata(ctx, id, patch)
	if errors.Is(err, store.ErrNotFound) {
		return store.Report{}, errReportNotFound
	}
	if err != nil {
		return store.Report{}, err
	}
	if s.search != nil {
		s.search.IndexReport(r)
	}
	return r, nil
}

func (s *Service) ReportHistory(ctx context.Context, id string, limit int) ([]gitrepo.Revision, error) {
	if _, err := s.getReport(ctx, id); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []gitrepo.Revision{}, nil
	}
	revs, err := s.revisions.History(id, limit)
	if errors.Is(err, gitrepo.ErrNoRepository) {
		return []gitrepo.Revision{}, nil
	}
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// reportState returns the saved state of a report, or of one of its
// revisions when revision is set.
func (s *Service) reportState(ctx context.Context, id, revision string) (json.RawMessage, error) {
	revision = strings.TrimSpace(revision)
	if revision == "" || revision == "latest" {
		r, err := s.getReport(ctx, id)
		if err != nil {
			return nil, err
		}
		return r.WorkspaceState, nil
	}
	if s.revisions == nil {
		return nil, gitrepo.ErrNoRepository
	}
	raw, _, err := s.revisions.GetSnapshotByHash(id, revision)
	return raw, err
}

// sectionIndex locates the sections of the drugs of snap. Failures leave
// sections named by id.
func (s *Service) sectionIndex(ctx context.Context, snap snapshot.Snapshot) map[string]labels.SectionRef {
	if s.labels == nil || snap.DrugID == "" {
		return nil
	}
	ids := []string{snap.DrugID}
	for _, c := range snap.Competitors {
		ids = append(ids, c.DrugID)
	}
	drugs, err := labels.LoadDrugs(ctx, s.labels, ids)
	if err != nil {
		s.log.Debug(logModule, "section titles unavailable", map[string]any{"drug_id": snap.DrugID, "error": err.Error()})
		return nil
	}
	return labels.SectionIndex(drugs...)
}

type ExportReportInput struct {
	Format         string
	Revision       string
	OmitHighlights bool
	OmitNotes      bool
	OmitMetadata   bool
}

func (s *Service) ExportReport(ctx context.Context, id string, in ExportReportInput) (*export.Result, error) {
	format, ok := export.ParseFormat(in.Format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, in.Format)
	}
	r, err := s.getReport(ctx, id)
	if err != nil {
		return nil, err
	}
	raw := r.WorkspaceState
	if rev := strings.TrimSpace(in.Revision); rev != "" && rev != "latest" {
		if raw, err = s.reportState(ctx, id, rev); err != nil {
			return nil, err
		}
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		return nil, err
	}

	titles := map[string]string{}
	for sid, ref := range s.sectionIndex(ctx, snap) {
		titles[sid] = ref.Title
	}
	return s.exporter.Export(ctx, export.Request{
		Snapshot: snap,
		Format:   format,
		Meta: &export.Meta{
			Title:        r.Metadata.Title,
			TypeCategory: string(r.Metadata.TypeCategory),
			Description:  r.Metadata.Description,
			Tags:         r.Metadata.Tags,
			CreatedAt:    r.CreatedAt,
			LastModified: r.LastModified,
		},
		SectionTitles:  titles,
		OmitHighlights: in.OmitHighlights,
		OmitNotes:      in.OmitNotes,
		OmitMetadata:   in.OmitMetadata,
	})
}

type ShareInput struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	SenderName string   `json:"senderName"`
	Format     string   `json:"format"`
}

type ShareResult struct {
	Share       store.Share  `json:"share"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	Object      *blob.Object `json:"object,omitempty"`
}

// ShareReport emails recipients about a report. With export storage
// configured the mail carries a presigned download link.
func (s *Service) ShareReport(ctx context.Context, id string, in ShareInput) (ShareResult, error) {
	if !s.SharingConfigured() {
		return ShareResult{}, email.ErrNotConfigured
	}
	recipients, err := email.ParseRecipients(in.Recipients)
	if err != nil {
		return ShareResult{}, err
	}
	if utf8.RuneCountInString(in.Message) > maxShareMessage {
		return ShareResult{}, validationError(fmt.Sprintf("message exceeds %d characters", maxShareMessage))
	}
	r, err := s.getReport(ctx, id)
	if err != nil {
		return ShareResult{}, err
	}
	snap, _ := s.decodeReport(r)

	var result ShareResult
	if s.blobs != nil {
		format := strings.TrimSpace(in.Format)
		if format == "" {
			format = string(defaultShareFormat)
		}
		res, err := s.ExportReport(ctx, id, ExportReportInput{Format: format})
		if err != nil {
			return ShareResult{}, err
		}
		obj, err := s.blobs.PutExport(ctx, blob.ExportKey(id, "", res.Filename), res)
		if err != nil {
			return ShareResult{}, err
		}
		link, err := s.blobs.PresignedURL(ctx, obj.Key, shareLinkTTL)
		if err != nil {
			return ShareResult{}, err
		}
		result.Object = &obj
		result.DownloadURL = link
	}

	counts := countsOf(snap)
	err = s.mailer.SendReportShare(recipients, email.ShareData{
		SenderName:  strings.TrimSpace(in.SenderName),
		Message:     strings.TrimSpace(in.Message),
		ReportTitle: r.Metadata.Title,
		ReportType:  string(r.ReportType),
		Drugs:       strings.Join(snap.DrugNames(), ", "),
		Highlights:  counts.Highlights,
		Notes:       counts.CitedNotes + counts.UncitedNotes,
		DownloadURL: result.DownloadURL,
	})
	if err != nil {
		s.log.Error(logModule, "share email failed", map[string]any{"report_id": id, "error": err.Error()})
		return ShareResult{}, err
	}

	share, err := s.reports.RecordShare(ctx, store.Share{ReportID: id, Recipients: recipients, Message: strings.TrimSpace(in.Message)})
	if err != nil {
		return ShareResult{}, err
	}
	result.Share = share
	s.log.Info(logModule, "report shared", map[string]any{"report_id": id, "recipients": len(recipients)})
	return result, nil
}

type Navigation struct {
	NoteID       string           `json:"noteId"`
	HighlightID  string           `json:"highlightId"`
	DrugID       string           `json:"drugId"`
	DrugName     string           `json:"drugName"`
	SectionID    string           `json:"sectionId"`
	SectionTitle string           `json:"sectionTitle"`
	StartOffset  int              `json:"startOffset"`
	EndOffset    int              `json:"endOffset"`
	Color        annotation.Color `json:"color"`
	Text         string           `json:"text"`
}

var errCitationNotFound = domainError(http.StatusNotFound, "CITATION_NOT_FOUND", "Citation-linked note not found", nil)

// NavigateToNote locates the highlight a cited note of a saved report points at.
func (s *Service) NavigateToNote(ctx context.Context, reportID, noteID string) (Navigation, error) {
	r, err := s.getReport(ctx, reportID)
	if err != nil {
		return Navigation{}, err
	}
	snap, err := snapshot.Decode(r.WorkspaceState)
	if err != nil {
		return Navigation{}, err
	}

	var note *annotation.Note
	for i := range snap.Notes {
		if snap.Notes[i].ID == noteID && snap.Notes[i].IsCited() {
			note = &snap.Notes[i]
			break
		}
	}
	if note == nil {
		return Navigation{}, errCitationNotFound
	}
	for _, h := range snap.Highlights {
		if h.ID != note.HighlightID {
			continue
		}
		nav := Navigation{
			NoteID:       note.ID,
			HighlightID:  h.ID,
			DrugID:       snap.DrugID,
			DrugName:     snap.DrugName,
			SectionID:    h.SectionID,
			SectionTitle: h.SectionID,
			StartOffset:  h.StartOffset,
			EndOffset:    h.EndOffset,
			Color:        h.Color,
			Text:         h.Text,
		}
		if ref, ok := s.sectionIndex(ctx, snap)[h.SectionID]; ok {
			nav.DrugID, nav.DrugName, nav.SectionTitle = ref.DrugID, ref.DrugName, ref.Title
		}
		return nav, nil
	}
	return Navigation{}, errCitationNotFound
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, validationError("q is required")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}
