package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/chat"
	"labelscope/api/internal/content"
	"labelscope/api/internal/drafts"
	"labelscope/api/internal/export"
	"labelscope/api/internal/gitrepo"
	"labelscope/api/internal/labels"
	"labelscope/api/internal/render"
	"labelscope/api/internal/selection"
	"labelscope/api/internal/snapshot"
	"labelscope/api/internal/store"
	"labelscope/api/internal/workspace"
)

type WorkspaceView struct {
	ID          string                   `json:"id"`
	ReportID    string                   `json:"reportId,omitempty"`
	ReportType  annotation.ReportType    `json:"reportType"`
	Drug        workspace.DrugRef        `json:"drug"`
	Competitors []annotation.Competitor  `json:"competitors"`
	Highlights  []annotation.Highlight   `json:"highlights"`
	Notes       []annotation.Note        `json:"notes"`
	Messages    []annotation.ChatMessage `json:"messages"`
	UI          annotation.UIState       `json:"ui"`
}

func (s *Service) view(l *liveSession) WorkspaceView {
	snap := l.ws.Snapshot()
	return WorkspaceView{
		ID:          l.ws.ID(),
		ReportID:    l.ReportID(),
		ReportType:  snap.ReportType,
		Drug:        workspace.DrugRef{ID: snap.DrugID, Name: snap.DrugName},
		Competitors: snap.Competitors,
		Highlights:  snap.Highlights,
		Notes:       snap.Notes,
		Messages:    append([]annotation.ChatMessage{}, l.ws.Messages()...),
		UI:          snap.UI,
	}
}

func (s *Service) session(id string) (*liveSession, error) {
	l, ok := s.sessions.get(id)
	if !ok || l.ws.Closed() {
		return nil, errSessionNotFound
	}
	return l, nil
}

type CreateWorkspaceInput struct {
	DrugID        string   `json:"drugId"`
	CompetitorIDs []string `json:"competitorIds"`
}

// CreateWorkspace loads the drug and any competitors and opens a session on
// their label content.
func (s *Service) CreateWorkspace(ctx context.Context, in CreateWorkspaceInput) (WorkspaceView, error) {
	drugID := strings.TrimSpace(in.DrugID)
	if drugID == "" {
		return WorkspaceView{}, validationError("drugId is required")
	}
	ids := []string{drugID}
	seen := map[string]bool{drugID: true}
	for _, c := range in.CompetitorIDs {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		ids = append(ids, c)
	}

	doc, drugs, err := labels.LoadDocument(ctx, s.labels, ids)
	if err != nil {
		return WorkspaceView{}, err
	}
	competitors := make([]annotation.Competitor, 0, len(drugs)-1)
	for i, d := range drugs[1:] {
		competitors = append(competitors, annotation.Competitor{DrugID: ids[i+1], DrugName: d.Name})
	}

	ws := workspace.New(workspace.DrugRef{ID: drugID, Name: drugs[0].Name},
		workspace.WithContent(doc),
		workspace.WithComparison(competitors...),
		workspace.WithLogger(s.log),
	)
	l := &liveSession{ws: ws, sectionTitles: labels.SectionTitles(drugs...)}
	s.sessions.put(l)

	s.log.Info(logModule, "workspace opened", map[string]any{
		"session_id":  ws.ID(),
		"drug_id":     drugID,
		"competitors": len(competitors),
	})
	return s.view(l), nil
}

func (s *Service) GetWorkspace(_ context.Context, id string) (WorkspaceView, error) {
	l, err := s.session(id)
	if err != nil {
		return WorkspaceView{}, err
	}
	return s.view(l), nil
}

// CloseWorkspace tears the session down and drops its draft.
func (s *Service) CloseWorkspace(ctx context.Context, id string) error {
	l, err := s.session(id)
	if err != nil {
		return err
	}
	s.sessions.remove(id)
	l.ws.Close()
	if s.drafts != nil {
		if err := s.drafts.DeleteDraft(ctx, id); err != nil {
			s.log.Warn(logModule, "delete draft failed", map[string]any{"session_id": id, "error": err.Error()})
		}
	}
	return nil
}

// HighlightInput is either a wire selection or an explicit section range.
// With a selection, SectionID names the rendered section its paths start at.
type HighlightInput struct {
	Selection   *selection.WireSelection `json:"selection"`
	SectionID   string                   `json:"sectionId"`
	StartOffset *int                     `json:"startOffset"`
	EndOffset   *int                     `json:"endOffset"`
	Text        string                   `json:"text"`
	Color       string                   `json:"color"`
	Rect        *selection.Rect          `json:"rect"`
}

type HighlightCreated struct {
	Highlight annotation.Highlight `json:"highlight"`
	NoteID    string               `json:"noteId"`
	Workspace WorkspaceView        `json:"workspace"`
}

func (s *Service) AddHighlight(_ context.Context, id string, in HighlightInput) (HighlightCreated, error) {
	l, err := s.session(id)
	if err != nil {
		return HighlightCreated{}, err
	}
	color, ok := annotation.ParseColor(in.Color)
	if !ok {
		return HighlightCreated{}, workspace.ErrInvalidColor
	}

	var hid, nid string
	if in.Selection != nil {
		sel := *in.Selection
		if sel.SectionID == "" {
			sel.SectionID = strings.TrimSpace(in.SectionID)
		}
		_, hid, nid, err = l.ws.AddHighlightFromSelection(sel, color)
	} else {
		if strings.TrimSpace(in.SectionID) == "" || in.StartOffset == nil || in.EndOffset == nil {
			return HighlightCreated{}, fmt.Errorf("%w: selection or sectionId with offsets is required", selection.ErrInvalidSelection)
		}
		hid, nid, err = l.ws.AddHighlightFromRange(selection.Range{
			SectionID:   in.SectionID,
			StartOffset: *in.StartOffset,
			EndOffset:   *in.EndOffset,
			Text:        in.Text,
			Rect:        in.Rect,
		}, color)
	}
	if err != nil {
		return HighlightCreated{}, err
	}
	h, _ := l.ws.Highlight(hid)
	return HighlightCreated{Highlight: h, NoteID: nid, Workspace: s.view(l)}, nil
}

// UpdateHighlightColor is a no-op for unknown highlight ids.
func (s *Service) UpdateHighlightColor(_ context.Context, id, highlightID, rawColor string) (map[string]any, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	color, ok := annotation.ParseColor(rawColor)
	if !ok {
		return nil, workspace.ErrInvalidColor
	}
	updated, err := l.ws.UpdateHighlightColor(highlightID, color)
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": updated, "workspace": s.view(l)}, nil
}

func (s *Service) RemoveHighlight(_ context.Context, id, highlightID string) (map[string]any, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	removed, cascaded := l.ws.RemoveHighlight(highlightID)
	return map[string]any{"removed": removed, "removedNotes": cascaded, "workspace": s.view(l)}, nil
}

type NoteInput struct {
	Content     string `json:"content"`
	HighlightID string `json:"highlightId"`
}

// AddNote creates a cited note when HighlightID is set and an uncited note
// otherwise.
func (s *Service) AddNote(_ context.Context, id string, in NoteInput) (map[string]any, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	var nid string
	if strings.TrimSpace(in.HighlightID) != "" {
		nid, err = l.ws.AddCitedNote(in.Content, in.HighlightID)
	} else {
		nid, err = l.ws.AddUncitedNote(in.Content)
	}
	if err != nil {
		return nil, err
	}
	note, _ := l.ws.Note(nid)
	return map[string]any{"note": note, "workspace": s.view(l)}, nil
}

func (s *Service) UpdateNote(_ context.Context, id, noteID, text string) (map[string]any, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	updated := l.ws.UpdateNote(noteID, text)
	return map[string]any{"updated": updated, "workspace": s.view(l)}, nil
}

func (s *Service) RemoveNote(_ context.Context, id, noteID string) (map[string]any, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	removed := l.ws.RemoveNote(noteID)
	return map[string]any{"removed": removed, "workspace": s.view(l)}, nil
}

type SectionRender struct {
	SectionID string        `json:"sectionId"`
	Title     string        `json:"title"`
	HTML      string        `json:"html"`
	Applied   []string      `json:"applied"`
	Skipped   []render.Skip `json:"skipped"`
}

func (s *Service) RenderSection(_ context.Context, id, sectionID string) (SectionRender, error) {
	l, err := s.session(id)
	if err != nil {
		return SectionRender{}, err
	}
	html, res, err := l.ws.RenderSection(sectionID)
	if err != nil {
		return SectionRender{}, err
	}
	return SectionRender{
		SectionID: sectionID,
		Title:     l.SectionTitles()[sectionID],
		HTML:      html,
		Applied:   res.Applied,
		Skipped:   res.Skipped,
	}, nil
}

type AskResult struct {
	Question annotation.ChatMessage `json:"question"`
	Answer   annotation.ChatMessage `json:"answer"`
}

// Ask posts a user question and appends the oracle's answer, unless the
// workspace was reset, restored or closed while the answer was pending.
func (s *Service) Ask(ctx context.Context, id, message string) (AskResult, error) {
	l, err := s.session(id)
	if err != nil {
		return AskResult{}, err
	}
	if s.chat == nil {
		return AskResult{}, domainError(http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "Chat service not configured", nil)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return AskResult{}, fmt.Errorf("%w: message is required", chat.ErrInvalidQuestion)
	}

	ws := l.ws
	ticket := ws.Ticket()
	history := ws.Messages()
	question, err := ws.AppendMessage(annotation.RoleUser, message, nil)
	if err != nil {
		return AskResult{}, err
	}

	q := chat.Question{Message: message, DrugID: ws.Drug().ID, History: history}
	for _, c := range ws.Competitors() {
		q.CompareIDs = append(q.CompareIDs, c.DrugID)
	}
	ans, err := s.chat.Ask(ctx, q)
	if err != nil {
		return AskResult{}, err
	}

	var answer annotation.ChatMessage
	var appendErr error
	if err := ws.Deliver(ticket, func() {
		answer, appendErr = ws.AppendMessage(annotation.RoleAssistant, ans.Content, ans.Citations)
	}); err != nil {
		return AskResult{}, err
	}
	if appendErr != nil {
		return AskResult{}, appendErr
	}
	return AskResult{Question: question, Answer: answer}, nil
}

func (s *Service) ToggleFlag(_ context.Context, id, messageID string) (map[string]any, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	flagged, ok := l.ws.ToggleFlag(messageID)
	if !ok {
		return nil, errMessageNotFound
	}
	return map[string]any{"messageId": messageID, "isFlagged": flagged}, nil
}

type UIInput struct {
	ActiveSection  *string  `json:"activeSection"`
	ScrollPosition *float64 `json:"scrollPosition"`
}

func (s *Service) UpdateUI(_ context.Context, id string, in UIInput) (annotation.UIState, error) {
	l, err := s.session(id)
	if err != nil {
		return annotation.UIState{}, err
	}
	if in.ActiveSection != nil {
		l.ws.SetActiveSection(*in.ActiveSection)
	}
	if in.ScrollPosition != nil {
		if *in.ScrollPosition < 0 {
			return annotation.UIState{}, validationError("scrollPosition must not be negative")
		}
		l.ws.SetScrollPosition(*in.ScrollPosition)
	}
	return l.ws.UI(), nil
}

type SaveInput struct {
	ReportID string          `json:"reportId"`
	Metadata *store.Metadata `json:"metadata"`
	Author   string          `json:"author"`
	Message  string          `json:"message"`
}

type SaveResult struct {
	Report          store.Report      `json:"report"`
	Revision        *gitrepo.Revision `json:"revision,omitempty"`
	RevisionCreated bool              `json:"revisionCreated"`
}

// Save writes the workspace to its report, creating the report on first
// save. Concurrent saves of one report are last writer wins.
func (s *Service) Save(ctx context.Context, id string, in SaveInput) (SaveResult, error) {
	l, err := s.session(id)
	if err != nil {
		return SaveResult{}, err
	}
	snap := l.ws.Snapshot()
	data, err := snapshot.Encode(snap)
	if err != nil {
		return SaveResult{}, err
	}

	reportID := strings.TrimSpace(in.ReportID)
	if reportID == "" {
		reportID = l.ReportID()
	}

	var saved store.Report
	if reportID == "" {
		meta := defaultMetadata(snap)
		if in.Metadata != nil {
			meta = *in.Metadata
		}
		saved, err = s.reports.CreateReport(ctx, store.Report{ReportType: snap.ReportType, Metadata: meta, WorkspaceState: data})
	} else {
		existing, getErr := s.reports.GetReport(ctx, reportID)
		if getErr != nil {
			if errors.Is(getErr, store.ErrNotFound) {
				return SaveResult{}, errReportNotFound
			}
			return SaveResult{}, getErr
		}
		meta := existing.Metadata
		if in.Metadata != nil {
			meta = *in.Metadata
		}
		saved, err = s.reports.UpdateReport(ctx, store.Report{ID: reportID, ReportType: snap.ReportType, Metadata: meta, WorkspaceState: data})
	}
	if err != nil {
		return SaveResult{}, err
	}
	l.setReportID(saved.ID)

	result := SaveResult{Report: saved}
	if s.revisions != nil {
		rev, created, err := s.revisions.CommitSnapshot(saved.ID, data, in.Author, in.Message)
		if err != nil {
			s.log.Warn(logModule, "revision commit failed", map[string]any{"report_id": saved.ID, "error": err.Error()})
		} else {
			result.Revision = &rev
			result.RevisionCreated = created
		}
	}
	if s.search != nil {
		s.search.IndexReport(saved)
	}
	if s.drafts != nil {
		l.markDraft(data)
		if err := s.drafts.DeleteDraft(ctx, id); err != nil {
			s.log.Warn(logModule, "delete draft failed", map[string]any{"session_id": id, "error": err.Error()})
		}
	}

	s.log.Info(logModule, "workspace saved", map[string]any{
		"session_id": id,
		"report_id":  saved.ID,
		"highlights": len(snap.Highlights),
		"notes":      len(snap.Notes),
	})
	return result, nil
}

func defaultMetadata(snap snapshot.Snapshot) store.Metadata {
	name := snap.DrugName
	if name == "" {
		name = "Drug " + snap.DrugID
	}
	if snap.ReportType == annotation.ReportComparison {
		return store.Metadata{Title: name + " Comparison", TypeCategory: store.CategoryCompetitiveAnalysis, Tags: []string{}}
	}
	return store.Metadata{Title: name + " Analysis", TypeCategory: store.CategoryGeneralAnalysis, Tags: []string{}}
}

// SaveDraft autosaves one workspace. It reports false when nothing changed
// since the last draft.
func (s *Service) SaveDraft(ctx context.Context, id string) (bool, error) {
	l, err := s.session(id)
	if err != nil {
		return false, err
	}
	if s.drafts == nil {
		return false, domainError(http.StatusServiceUnavailable, "DRAFTS_UNAVAILABLE", "Draft storage not configured", nil)
	}
	return s.saveDraft(ctx, l)
}

func (s *Service) saveDraft(ctx context.Context, l *liveSession) (bool, error) {
	data, err := snapshot.Encode(l.ws.Snapshot())
	if err != nil {
		return false, err
	}
	if !l.markDraft(data) {
		return false, nil
	}
	err = s.drafts.SaveDraft(ctx, drafts.Draft{
		SessionID: l.ws.ID(),
		ReportID:  l.ReportID(),
		Snapshot:  data,
		SavedAt:   s.now().UTC(),
	})
	if err != nil {
		l.markDraft(nil)
		return false, err
	}
	return true, nil
}

func (s *Service) GetDraft(ctx context.Context, sessionID string) (drafts.Draft, error) {
	if s.drafts == nil {
		return drafts.Draft{}, domainError(http.StatusServiceUnavailable, "DRAFTS_UNAVAILABLE", "Draft storage not configured", nil)
	}
	return s.drafts.LoadDraft(ctx, sessionID)
}

// Autosave writes a draft for every live workspace that changed since its
// last draft and returns how many were written.
func (s *Service) Autosave(ctx context.Context) int {
	if s.drafts == nil {
		return 0
	}
	written := 0
	for _, l := range s.sessions.all() {
		if l.ws.Closed() {
			continue
		}
		ok, err := s.saveDraft(ctx, l)
		if err != nil {
			s.log.Warn(logModule, "autosave failed", map[string]any{"session_id": l.ws.ID(), "error": err.Error()})
			continue
		}
		if ok {
			written++
		}
	}
	if written > 0 {
		s.log.Debug(logModule, "autosaved drafts", map[string]any{"count": written})
	}
	return written
}

// RunAutosave calls Autosave every interval until ctx is done.
func (s *Service) RunAutosave(ctx context.Context, interval time.Duration) {
	if s.drafts == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Autosave(ctx)
		}
	}
}

// RestoreInput names exactly one source: an inline snapshot, a draft or a
// saved report (optionally at a revision).
type RestoreInput struct {
	Snapshot       json.RawMessage `json:"snapshot"`
	FromDraft      bool            `json:"fromDraft"`
	DraftSessionID string          `json:"draftSessionId"`
	ReportID       string          `json:"reportId"`
	Revision       string          `json:"revision"`
}

func (s *Service) Restore(ctx context.Context, id string, in RestoreInput) (WorkspaceView, error) {
	l, err := s.session(id)
	if err != nil {
		return WorkspaceView{}, err
	}
	raw, reportID, err := s.restoreSource(ctx, l, in)
	if err != nil {
		return WorkspaceView{}, err
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		return WorkspaceView{}, fmt.Errorf("%w: %w", workspace.ErrRestoreFailure, err)
	}

	var titles map[string]string
	err = l.ws.Restore(ctx, snap, workspace.RestoreOptions{
		LoadContent: func(ctx context.Context, ids []string) (*content.Node, error) {
			doc, drugs, err := labels.LoadDocument(ctx, s.labels, ids)
			if err != nil {
				return nil, err
			}
			titles = labels.SectionTitles(drugs...)
			return doc, nil
		},
		ScrollDelay: s.cfg.ScrollDelay,
	})
	if err != nil {
		s.log.Warn(logModule, "restore failed", map[string]any{"session_id": id, "error": err.Error()})
		return WorkspaceView{}, err
	}
	l.setSectionTitles(titles)
	l.setReportID(reportID)
	l.markDraft(nil)
	return s.view(l), nil
}

func (s *Service) restoreSource(ctx context.Context, l *liveSession, in RestoreInput) (json.RawMessage, string, error) {
	switch {
	case len(in.Snapshot) > 0 && string(in.Snapshot) != "null":
		return in.Snapshot, strings.TrimSpace(in.ReportID), nil
	case in.FromDraft:
		sessionID := strings.TrimSpace(in.DraftSessionID)
		if sessionID == "" {
			sessionID = l.ws.ID()
		}
		d, err := s.GetDraft(ctx, sessionID)
		if err != nil {
			return nil, "", err
		}
		return d.Snapshot, d.ReportID, nil
	case strings.TrimSpace(in.ReportID) != "":
		raw, err := s.reportState(ctx, strings.TrimSpace(in.ReportID), in.Revision)
		return raw, strings.TrimSpace(in.ReportID), err
	}
	return nil, "", validationError("snapshot, fromDraft or reportId is required")
}

// ExportWorkspace renders the live workspace.
func (s *Service) ExportWorkspace(ctx context.Context, id, rawFormat string) (*export.Result, error) {
	l, err := s.session(id)
	if err != nil {
		return nil, err
	}
	format, ok := export.ParseFormat(rawFormat)
	if !ok {
		return nil, fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, rawFormat)
	}
	return s.exporter.Export(ctx, export.Request{
		Snapshot:      l.ws.Snapshot(),
		Format:        format,
		SectionTitles: l.SectionTitles(),
	})
}
