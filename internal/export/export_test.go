package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/snapshot"
)

var created = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func reportSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		SchemaVersion: snapshot.CurrentVersion,
		ReportType:    annotation.ReportAnalysis,
		DrugID:        "42",
		DrugName:      "Lisinopril",
		Competitors:   []annotation.Competitor{},
		Highlights: []annotation.Highlight{
			{ID: "hl_1", SectionID: "34067-9", Text: "treatment of hypertension", StartOffset: 20, EndOffset: 45,
				Color: annotation.ColorRed, CreatedAt: created},
			{ID: "hl_2", SectionID: "34068-7", Text: "10 mg once daily", StartOffset: 0, EndOffset: 16,
				Color: annotation.ColorBlue, CreatedAt: created},
		},
		Notes: []annotation.Note{
			{ID: "nt_1", Type: annotation.NoteCited, HighlightID: "hl_1", Content: "Primary indication",
				CreatedAt: created, UpdatedAt: created},
			{ID: "nt_2", Type: annotation.NoteUncited, Content: "Compare dosing with losartan",
				CreatedAt: created, UpdatedAt: created},
		},
		FlaggedMessages: []annotation.ChatMessage{
			{ID: "msg_1", Role: annotation.RoleAssistant, Content: "Starting dose is 10 mg.", Timestamp: created, IsFlagged: true,
				Citations: []annotation.Citation{{Section: "DOSAGE AND ADMINISTRATION", SectionID: "34068-7", Excerpt: "10 mg"}}},
		},
		UI: annotation.UIState{ActiveSection: "34067-9", ScrollPosition: 300},
	}
}

func TestRenderMarkdownBlocks(t *testing.T) {
	res, err := Render(reportSnapshot(), FormatMarkdown)
	require.NoError(t, err)

	md := string(res.Data)
	assert.Equal(t, 2, strings.Count(md, "### Citation "))
	assert.Equal(t, 1, strings.Count(md, "### Note "))
	assert.Contains(t, md, "Total Highlights: 2")
	assert.Contains(t, md, "Red Highlights: 1")
	assert.Contains(t, md, "Blue Highlights: 1")
	assert.Contains(t, md, "Cited Notes: 1")
	assert.Contains(t, md, "Uncited Notes: 1")
	assert.Contains(t, md, "**Annotation:** Primary indication")
	assert.Contains(t, md, "> treatment of hypertension")
	assert.Contains(t, md, "# Lisinopril Analysis")
	assert.Equal(t, "Lisinopril-Analysis.md", res.Filename)
}

func TestRenderSectionTitles(t *testing.T) {
	res, err := Render(reportSnapshot(), FormatMarkdown,
		WithSectionTitles(map[string]string{"34067-9": "INDICATIONS & USAGE"}))
	require.NoError(t, err)

	md := string(res.Data)
	assert.Contains(t, md, "**Section:** INDICATIONS & USAGE")
	assert.Contains(t, md, "**Section:** 34068-7")
}

func TestRenderCitedNoteWithoutHighlightIsNoteBlock(t *testing.T) {
	snap := reportSnapshot()
	snap.Notes = append(snap.Notes, annotation.Note{
		ID: "nt_3", Type: annotation.NoteCited, HighlightID: "hl_gone", Content: "orphan",
		CreatedAt: created, UpdatedAt: created,
	})

	res, err := Render(snap, FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(res.Data), "### Note "))
}

func TestRenderOmitOptions(t *testing.T) {
	res, err := Render(reportSnapshot(), FormatMarkdown, WithoutHighlights(), WithoutNotes())
	require.NoError(t, err)

	md := string(res.Data)
	assert.NotContains(t, md, "### Citation ")
	assert.NotContains(t, md, "### Note ")
	assert.Contains(t, md, "Total Highlights: 2")
}

func TestRenderIsPureAndIdempotent(t *testing.T) {
	snap := reportSnapshot()
	before := reportSnapshot()

	for _, f := range []Format{FormatJSON, FormatText, FormatMarkdown, FormatClipboard, FormatHTML} {
		t.Run(string(f), func(t *testing.T) {
			a, err := Render(snap, f)
			require.NoError(t, err)
			b, err := Render(snap, f)
			require.NoError(t, err)
			assert.Equal(t, a.Data, b.Data)
			assert.Equal(t, before, snap)
		})
	}
}

func TestRenderJSONIsLossless(t *testing.T) {
	snap := reportSnapshot()

	res, err := Render(snap, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", res.MimeType)

	got, err := snapshot.Decode(res.Data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestRenderText(t *testing.T) {
	res, err := Render(reportSnapshot(), FormatText)
	require.NoError(t, err)

	txt := string(res.Data)
	assert.True(t, strings.HasPrefix(txt, "LISINOPRIL ANALYSIS\n"))
	assert.Contains(t, txt, "[1] 34067-9 (red)")
	assert.Contains(t, txt, "    Note: Primary indication")
	assert.Contains(t, txt, "[1] Compare dosing with losartan")
	assert.Contains(t, txt, "Assistant: Starting dose is 10 mg.")
	assert.Contains(t, txt, "Sources: DOSAGE AND ADMINISTRATION")
	assert.Equal(t, "Lisinopril-Analysis.txt", res.Filename)
}

func TestRenderComparisonTitle(t *testing.T) {
	snap := reportSnapshot()
	snap.ReportType = annotation.ReportComparison
	snap.Competitors = []annotation.Competitor{{DrugID: "7", DrugName: "Losartan"}}

	res, err := Render(snap, FormatMarkdown)
	require.NoError(t, err)

	md := string(res.Data)
	assert.Contains(t, md, "# Lisinopril Comparison")
	assert.Contains(t, md, "**Competitors:** Losartan")
}

func TestRenderHTMLEscapesText(t *testing.T) {
	snap := reportSnapshot()
	snap.Highlights[0].Text = "<script>alert(1)</script>"

	res, err := Render(snap, FormatHTML)
	require.NoError(t, err)

	html := string(res.Data)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "Total Highlights: 2")
	assert.Contains(t, html, `class="citation highlight-red"`)
}

func TestRenderUnsupportedFormat(t *testing.T) {
	_, err := Render(reportSnapshot(), Format("rtf"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Render(reportSnapshot(), FormatPDF)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"json", FormatJSON, true},
		{"md", FormatMarkdown, true},
		{"txt", FormatText, true},
		{"pdf", FormatPDF, true},
		{"rtf", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

type fakeClipboard struct {
	text string
	err  error
}

func (f *fakeClipboard) WriteText(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.text = text
	return nil
}

func TestCopyToClipboard(t *testing.T) {
	w := &fakeClipboard{}
	require.NoError(t, CopyToClipboard(context.Background(), w, reportSnapshot()))
	assert.Contains(t, w.text, "### Citation 1")

	rejected := &fakeClipboard{err: errors.New("permission denied")}
	err := CopyToClipboard(context.Background(), rejected, reportSnapshot())
	assert.ErrorIs(t, err, ErrExportFailure)
}

func TestServiceExport(t *testing.T) {
	var gotHTML, gotTitle string
	fake := func(_ context.Context, html, title string) (*Result, error) {
		gotHTML, gotTitle = html, title
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
	s := &Service{pdf: fake, docx: fake}

	res, err := s.Export(context.Background(), Request{
		Snapshot: reportSnapshot(),
		Format:   FormatPDF,
		Meta:     &Meta{Title: "Q3 Safety Review", Tags: []string{"cardio"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Q3-Safety-Review.pdf", res.Filename)
	assert.Equal(t, "Q3 Safety Review", gotTitle)
	assert.Contains(t, gotHTML, "<span>cardio</span>")

	res, err = s.Export(context.Background(), Request{Snapshot: reportSnapshot(), Format: FormatMarkdown, OmitNotes: true})
	require.NoError(t, err)
	assert.NotContains(t, string(res.Data), "### Note ")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"  spaced   out  ", "spaced-out"},
		{"", "report"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeFilename(tt.input))
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, percentEncodeForDataURL(tt.input))
		})
	}
}
