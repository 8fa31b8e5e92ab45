package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/blob"
	"labelscope/api/internal/chat"
	"labelscope/api/internal/config"
	"labelscope/api/internal/drafts"
	"labelscope/api/internal/email"
	"labelscope/api/internal/export"
	"labelscope/api/internal/gitrepo"
	"labelscope/api/internal/labels"
	"labelscope/api/internal/search"
	"labelscope/api/internal/selection"
	"labelscope/api/internal/store"
	"labelscope/api/internal/workspace"
)

type fakeLabels struct {
	drugs map[string]labels.Drug
}

func (f *fakeLabels) GetDrugByID(_ context.Context, id string) (labels.Drug, error) {
	d, ok := f.drugs[id]
	if !ok {
		return labels.Drug{}, labels.ErrDrugNotFound
	}
	return d, nil
}

func testLabels() *fakeLabels {
	return &fakeLabels{drugs: map[string]labels.Drug{
		"42": {ID: 42, Name: "Lisinopril", Sections: []labels.Section{
			{ID: 1, LOINCCode: "34067-9", Title: "INDICATIONS & USAGE", Content: "Used for the treatment of hypertension."},
			{ID: 2, LOINCCode: "34068-7", Title: "DOSAGE", Content: "10 mg once daily"},
		}},
		"7": {ID: 7, Name: "Losartan", Sections: []labels.Section{
			{ID: 8, LOINCCode: "34067-9", Title: "INDICATIONS & USAGE", Content: "hypertension"},
			{ID: 9, LOINCCode: "34084-4", Title: "ADVERSE REACTIONS", Content: "dizziness"},
		}},
	}}
}

type fakeChat struct {
	askFn func(context.Context, chat.Question) (chat.Answer, error)
}

func (f *fakeChat) Ask(ctx context.Context, q chat.Question) (chat.Answer, error) {
	return f.askFn(ctx, q)
}

type fakeMailer struct {
	configured bool
	to         []string
	data       email.ShareData
	err        error
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendReportShare(to []string, data email.ShareData) error {
	f.to, f.data = to, data
	return f.err
}

type fakeBlobs struct {
	keys []string
}

func (f *fakeBlobs) PutExport(_ context.Context, key string, res *export.Result) (blob.Object, error) {
	f.keys = append(f.keys, key)
	return blob.Object{Key: key, Filename: res.Filename, MimeType: res.MimeType, Size: int64(len(res.Data))}, nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?sig=abc", nil
}

type testEnv struct {
	svc     *Service
	reports *store.SQLStore
	drafts  *drafts.MemoryStore
	chat    *fakeChat
	mailer  *fakeMailer
	blobs   *fakeBlobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, dialect))

	env := &testEnv{
		reports: store.NewSQLStore(db, dialect),
		drafts:  drafts.NewMemoryStore(time.Hour),
		chat:    &fakeChat{},
		mailer:  &fakeMailer{configured: true},
		blobs:   &fakeBlobs{},
	}
	env.svc = New(config.Config{}, Deps{
		Reports:   env.reports,
		Revisions: gitrepo.New(t.TempDir()),
		Drafts:    env.drafts,
		Labels:    testLabels(),
		Chat:      env.chat,
		Blobs:     env.blobs,
		Mailer:    env.mailer,
	})
	return env
}

func intPtr(n int) *int { return &n }

func openWorkspace(t *testing.T, svc *Service, competitors ...string) WorkspaceView {
	t.Helper()
	view, err := svc.CreateWorkspace(context.Background(), CreateWorkspaceInput{DrugID: "42", CompetitorIDs: competitors})
	require.NoError(t, err)
	return view
}

func highlight(t *testing.T, svc *Service, id string, start, end int) HighlightCreated {
	t.Helper()
	created, err := svc.AddHighlight(context.Background(), id, HighlightInput{
		SectionID:   "34067-9",
		StartOffset: intPtr(start),
		EndOffset:   intPtr(end),
		Color:       "red",
	})
	require.NoError(t, err)
	return created
}

func TestCreateWorkspaceLoadsComparison(t *testing.T) {
	env := newTestEnv(t)

	view := openWorkspace(t, env.svc, "7", "7", "42", " ")
	assert.Equal(t, annotation.ReportComparison, view.ReportType)
	assert.Equal(t, "Lisinopril", view.Drug.Name)
	require.Len(t, view.Competitors, 1)
	assert.Equal(t, annotation.Competitor{DrugID: "7", DrugName: "Losartan"}, view.Competitors[0])

	render, err := env.svc.RenderSection(context.Background(), view.ID, "8")
	require.NoError(t, err)
	assert.Equal(t, "INDICATIONS & USAGE", render.Title)
	assert.Contains(t, render.HTML, "hypertension")
}

func TestCreateWorkspaceErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateWorkspace(ctx, CreateWorkspaceInput{})
	status, code, _, _ := mapError(err)
	assert.Equal(t, 422, status)
	assert.Equal(t, "VALIDATION_ERROR", code)

	_, err = env.svc.CreateWorkspace(ctx, CreateWorkspaceInput{DrugID: "999"})
	assert.ErrorIs(t, err, labels.ErrDrugNotFound)

	_, err = env.svc.GetWorkspace(ctx, "ws_missing")
	assert.ErrorIs(t, err, errSessionNotFound)
}

func TestHighlightLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)

	created := highlight(t, env.svc, view.ID, 13, 38)
	assert.Equal(t, "treatment of hypertension", created.Highlight.Text)
	assert.NotEmpty(t, created.NoteID)
	require.Len(t, created.Workspace.Notes, 1)
	assert.Equal(t, created.Highlight.ID, created.Workspace.Notes[0].HighlightID)

	_, err := env.svc.AddHighlight(ctx, view.ID, HighlightInput{
		SectionID: "34067-9", StartOffset: intPtr(20), EndOffset: intPtr(30), Color: "blue",
	})
	assert.ErrorIs(t, err, selection.ErrInvalidSelection)

	_, err = env.svc.AddHighlight(ctx, view.ID, HighlightInput{
		SectionID: "34067-9", StartOffset: intPtr(0), EndOffset: intPtr(4), Color: "green",
	})
	assert.ErrorIs(t, err, workspace.ErrInvalidColor)

	_, err = env.svc.AddHighlight(ctx, view.ID, HighlightInput{Color: "red"})
	assert.ErrorIs(t, err, selection.ErrInvalidSelection)

	payload, err := env.svc.UpdateHighlightColor(ctx, view.ID, created.Highlight.ID, "blue")
	require.NoError(t, err)
	assert.Equal(t, true, payload["updated"])

	payload, err = env.svc.UpdateHighlightColor(ctx, view.ID, "hl_unknown", "blue")
	require.NoError(t, err)
	assert.Equal(t, false, payload["updated"])

	_, err = env.svc.AddNote(ctx, view.ID, NoteInput{Content: "orphan", HighlightID: "hl_unknown"})
	assert.ErrorIs(t, err, workspace.ErrInvalidReference)

	_, err = env.svc.AddNote(ctx, view.ID, NoteInput{Content: "Second look", HighlightID: created.Highlight.ID})
	require.NoError(t, err)
	_, err = env.svc.AddNote(ctx, view.ID, NoteInput{Content: "General remark"})
	require.NoError(t, err)

	payload, err = env.svc.RemoveHighlight(ctx, view.ID, created.Highlight.ID)
	require.NoError(t, err)
	assert.Equal(t, true, payload["removed"])
	assert.Len(t, payload["removedNotes"], 2)

	got, err := env.svc.GetWorkspace(ctx, view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Highlights)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "General remark", got.Notes[0].Content)
}

func TestUpdateUI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)

	section := "34068-7"
	scroll := 420.0
	ui, err := env.svc.UpdateUI(ctx, view.ID, UIInput{ActiveSection: &section, ScrollPosition: &scroll})
	require.NoError(t, err)
	assert.Equal(t, annotation.UIState{ActiveSection: section, ScrollPosition: scroll}, ui)

	negative := -1.0
	_, err = env.svc.UpdateUI(ctx, view.ID, UIInput{ScrollPosition: &negative})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
}

func TestAskAppendsAnswer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc, "7")

	env.chat.askFn = func(_ context.Context, q chat.Question) (chat.Answer, error) {
		assert.Equal(t, "42", q.DrugID)
		assert.Equal(t, []string{"7"}, q.CompareIDs)
		assert.Empty(t, q.History)
		return chat.Answer{
			Content:   "Both treat hypertension.",
			Citations: []annotation.Citation{{Section: "Losartan: INDICATIONS & USAGE", SectionID: "8"}},
		}, nil
	}

	result, err := env.svc.Ask(ctx, view.ID, "  What do they treat? ")
	require.NoError(t, err)
	assert.Equal(t, annotation.RoleUser, result.Question.Role)
	assert.Equal(t, "What do they treat?", result.Question.Content)
	assert.Equal(t, annotation.RoleAssistant, result.Answer.Role)
	assert.Len(t, result.Answer.Citations, 1)

	flag, err := env.svc.ToggleFlag(ctx, view.ID, result.Answer.ID)
	require.NoError(t, err)
	assert.Equal(t, true, flag["isFlagged"])

	_, err = env.svc.ToggleFlag(ctx, view.ID, "msg_unknown")
	assert.ErrorIs(t, err, errMessageNotFound)

	_, err = env.svc.Ask(ctx, view.ID, "   ")
	assert.ErrorIs(t, err, chat.ErrInvalidQuestion)
}

func TestAskDropsAnswerAfterRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)

	env.chat.askFn = func(ctx context.Context, _ chat.Question) (chat.Answer, error) {
		_, err := env.svc.Restore(ctx, view.ID, RestoreInput{
			Snapshot: json.RawMessage(`{"schemaVersion":2,"drugId":"7","drugName":"Losartan"}`),
		})
		require.NoError(t, err)
		return chat.Answer{Content: "late"}, nil
	}

	_, err := env.svc.Ask(ctx, view.ID, "Starting dose?")
	assert.ErrorIs(t, err, workspace.ErrStaleResponse)

	got, err := env.svc.GetWorkspace(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Losartan", got.Drug.Name)
	for _, m := range got.Messages {
		assert.NotEqual(t, "late", m.Content)
	}
}

func TestAskWithoutChat(t *testing.T) {
	env := newTestEnv(t)
	env.svc.chat = nil
	view := openWorkspace(t, env.svc)

	_, err := env.svc.Ask(context.Background(), view.ID, "hello")
	status, code, _, _ := mapError(err)
	assert.Equal(t, 503, status)
	assert.Equal(t, "CHAT_UNAVAILABLE", code)
}

func TestSaveCreatesReportAndRevisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)
	highlight(t, env.svc, view.ID, 13, 38)

	first, err := env.svc.Save(ctx, view.ID, SaveInput{Author: "dana"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.Report.ID, "rpt_"))
	assert.Equal(t, "Lisinopril Analysis", first.Report.Metadata.Title)
	assert.Equal(t, store.CategoryGeneralAnalysis, first.Report.Metadata.TypeCategory)
	assert.True(t, first.RevisionCreated)
	require.NotNil(t, first.Revision)

	again, err := env.svc.Save(ctx, view.ID, SaveInput{})
	require.NoError(t, err)
	assert.Equal(t, first.Report.ID, again.Report.ID)
	assert.False(t, again.RevisionCreated)

	_, err = env.svc.AddNote(ctx, view.ID, NoteInput{Content: "Check renal dosing"})
	require.NoError(t, err)
	third, err := env.svc.Save(ctx, view.ID, SaveInput{Message: "Add note"})
	require.NoError(t, err)
	assert.True(t, third.RevisionCreated)

	history, err := env.svc.ReportHistory(ctx, first.Report.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	detail, err := env.svc.GetReport(ctx, first.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisinopril"}, detail.Drugs)
	assert.Equal(t, ReportCounts{Highlights: 1, CitedNotes: 1, UncitedNotes: 1}, detail.Counts)

	list, err := env.svc.ListReports(ctx, store.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Counts.Highlights)

	_, err = env.svc.Save(ctx, view.ID, SaveInput{ReportID: "rpt_missing"})
	assert.ErrorIs(t, err, errReportNotFound)
}

func TestRestoreFromReportAndRevision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	source := openWorkspace(t, env.svc)
	created := highlight(t, env.svc, source.ID, 13, 38)
	saved, err := env.svc.Save(ctx, source.ID, SaveInput{})
	require.NoError(t, err)
	_, err = env.svc.RemoveHighlight(ctx, source.ID, created.Highlight.ID)
	require.NoError(t, err)
	latest, err := env.svc.Save(ctx, source.ID, SaveInput{})
	require.NoError(t, err)
	require.True(t, latest.RevisionCreated)

	target := openWorkspace(t, env.svc)
	view, err := env.svc.Restore(ctx, target.ID, RestoreInput{ReportID: saved.Report.ID})
	require.NoError(t, err)
	assert.Equal(t, saved.Report.ID, view.ReportID)
	assert.Empty(t, view.Highlights)

	view, err = env.svc.Restore(ctx, target.ID, RestoreInput{ReportID: saved.Report.ID, Revision: saved.Revision.Hash})
	require.NoError(t, err)
	require.Len(t, view.Highlights, 1)
	assert.Equal(t, created.Highlight.ID, view.Highlights[0].ID)
	require.Len(t, view.Notes, 1)
	assert.Equal(t, created.Highlight.ID, view.Notes[0].HighlightID)
}

func TestRestoreFailureLeavesWorkspace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)
	highlight(t, env.svc, view.ID, 13, 38)

	tests := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"schemaVersion":2,"highlights":"oops"`},
		{"future version", `{"schemaVersion":99,"drugId":"42"}`},
		{"no drug", `{"schemaVersion":2,"drugName":"Nameless"}`},
		{"unknown drug", `{"schemaVersion":2,"drugId":"999"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Restore(ctx, view.ID, RestoreInput{Snapshot: json.RawMessage(tt.raw)})
			status, code, _, _ := mapError(err)
			assert.Equal(t, 422, status)
			assert.Equal(t, "RESTORE_FAILED", code)

			got, err := env.svc.GetWorkspace(ctx, view.ID)
			require.NoError(t, err)
			assert.Len(t, got.Highlights, 1)
			assert.Equal(t, "Lisinopril", got.Drug.Name)
		})
	}

	_, err := env.svc.Restore(ctx, view.ID, RestoreInput{})
	assert.Error(t, err)
}

func TestDraftsAndAutosave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)

	assert.Equal(t, 1, env.svc.Autosave(ctx))
	assert.Equal(t, 0, env.svc.Autosave(ctx))

	highlight(t, env.svc, view.ID, 13, 38)
	written, err := env.svc.SaveDraft(ctx, view.ID)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, 0, env.svc.Autosave(ctx))

	draft, err := env.svc.GetDraft(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, draft.SessionID)
	assert.Contains(t, string(draft.Snapshot), "treatment of hypertension")

	other := openWorkspace(t, env.svc)
	restored, err := env.svc.Restore(ctx, other.ID, RestoreInput{FromDraft: true, DraftSessionID: view.ID})
	require.NoError(t, err)
	assert.Len(t, restored.Highlights, 1)

	require.NoError(t, env.svc.CloseWorkspace(ctx, view.ID))
	_, err = env.drafts.LoadDraft(ctx, view.ID)
	assert.ErrorIs(t, err, drafts.ErrNotFound)
	_, err = env.svc.GetWorkspace(ctx, view.ID)
	assert.ErrorIs(t, err, errSessionNotFound)
}

func TestExportWorkspaceUsesSectionTitles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)
	highlight(t, env.svc, view.ID, 13, 38)

	res, err := env.svc.ExportWorkspace(ctx, view.ID, "md")
	require.NoError(t, err)
	assert.Equal(t, "Lisinopril-Analysis.md", res.Filename)
	assert.Contains(t, string(res.Data), "**Section:** INDICATIONS & USAGE")

	_, err = env.svc.ExportWorkspace(ctx, view.ID, "rtf")
	assert.ErrorIs(t, err, export.ErrUnsupportedFormat)
}

func TestExportReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)
	highlight(t, env.svc, view.ID, 13, 38)
	meta := store.Metadata{Title: "Q3 Safety Review", TypeCategory: store.CategorySafetyReview, Tags: []string{"cardio"}}
	saved, err := env.svc.Save(ctx, view.ID, SaveInput{Metadata: &meta})
	require.NoError(t, err)

	res, err := env.svc.ExportReport(ctx, saved.Report.ID, ExportReportInput{Format: "markdown"})
	require.NoError(t, err)
	assert.Equal(t, "Q3-Safety-Review.md", res.Filename)
	md := string(res.Data)
	assert.Contains(t, md, "**Tags:** cardio")
	assert.Contains(t, md, "**Section:** INDICATIONS & USAGE")

	res, err = env.svc.ExportReport(ctx, saved.Report.ID, ExportReportInput{Format: "md", OmitHighlights: true})
	require.NoError(t, err)
	assert.NotContains(t, string(res.Data), "### Citation ")

	_, err = env.svc.ExportReport(ctx, "rpt_missing", ExportReportInput{Format: "json"})
	assert.ErrorIs(t, err, errReportNotFound)
}

func TestShareReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)
	highlight(t, env.svc, view.ID, 13, 38)
	saved, err := env.svc.Save(ctx, view.ID, SaveInput{})
	require.NoError(t, err)

	result, err := env.svc.ShareReport(ctx, saved.Report.ID, ShareInput{
		Recipients: []string{"a@example.com", "A@example.com", "b@example.com"},
		Message:    "Please review",
		SenderName: "Dana",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, env.mailer.to)
	assert.Equal(t, "Lisinopril Analysis", env.mailer.data.ReportTitle)
	assert.Equal(t, 1, env.mailer.data.Highlights)
	assert.Equal(t, 1, env.mailer.data.Notes)
	require.Len(t, env.blobs.keys, 1)
	assert.True(t, strings.HasSuffix(env.blobs.keys[0], ".md"))
	assert.Contains(t, result.DownloadURL, "https://blobs.test/reports/"+saved.Report.ID)
	assert.Equal(t, result.DownloadURL, env.mailer.data.DownloadURL)

	detail, err := env.svc.GetReport(ctx, saved.Report.ID)
	require.NoError(t, err)
	require.Len(t, detail.Shares, 1)
	assert.Equal(t, "Please review", detail.Shares[0].Message)

	_, err = env.svc.ShareReport(ctx, saved.Report.ID, ShareInput{Recipients: []string{"not-an-address"}})
	assert.ErrorIs(t, err, email.ErrInvalidRecipient)

	env.mailer.configured = false
	_, err = env.svc.ShareReport(ctx, saved.Report.ID, ShareInput{Recipients: []string{"a@example.com"}})
	assert.ErrorIs(t, err, email.ErrNotConfigured)
}

func TestNavigateToNote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc, "7")
	created, err := env.svc.AddHighlight(ctx, view.ID, HighlightInput{
		SectionID: "34084-4", StartOffset: intPtr(0), EndOffset: intPtr(9), Color: "blue",
	})
	require.NoError(t, err)
	uncited, err := env.svc.AddNote(ctx, view.ID, NoteInput{Content: "loose"})
	require.NoError(t, err)
	saved, err := env.svc.Save(ctx, view.ID, SaveInput{})
	require.NoError(t, err)

	nav, err := env.svc.NavigateToNote(ctx, saved.Report.ID, created.NoteID)
	require.NoError(t, err)
	assert.Equal(t, "7", nav.DrugID)
	assert.Equal(t, "Losartan", nav.DrugName)
	assert.Equal(t, "ADVERSE REACTIONS", nav.SectionTitle)
	assert.Equal(t, "dizziness", nav.Text)
	assert.Equal(t, annotation.ColorBlue, nav.Color)

	note := uncited["note"].(annotation.Note)
	_, err = env.svc.NavigateToNote(ctx, saved.Report.ID, note.ID)
	assert.ErrorIs(t, err, errCitationNotFound)
}

func TestDeleteReportUnlinksWorkspace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := openWorkspace(t, env.svc)
	saved, err := env.svc.Save(ctx, view.ID, SaveInput{})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteReport(ctx, saved.Report.ID))
	got, err := env.svc.GetWorkspace(ctx, view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ReportID)

	_, err = env.svc.GetReport(ctx, saved.Report.ID)
	assert.ErrorIs(t, err, errReportNotFound)
	history, err := env.svc.ReportHistory(ctx, saved.Report.ID, 0)
	assert.ErrorIs(t, err, errReportNotFound)
	assert.Nil(t, history)

	assert.ErrorIs(t, env.svc.DeleteReport(ctx, saved.Report.ID), errReportNotFound)
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Search(context.Background(), search.Query{})
	status, _, _, _ := mapError(err)
	assert.Equal(t, 422, status)

	resp, err := env.svc.Search(context.Background(), search.Query{Text: "hypertension"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
