package export

import (
	"strings"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/snapshot"
)

type options struct {
	title             string
	meta              *Meta
	sectionTitles     map[string]string
	includeHighlights bool
	includeNotes      bool
	includeMetadata   bool
}

type Option func(*options)

func WithTitle(title string) Option {
	return func(o *options) { o.title = title }
}

func WithMeta(m Meta) Option {
	return func(o *options) {
		o.meta = &m
		if o.title == "" {
			o.title = m.Title
		}
	}
}

// WithSectionTitles names sections by title instead of id.
func WithSectionTitles(titles map[string]string) Option {
	return func(o *options) { o.sectionTitles = titles }
}

func WithoutHighlights() Option { return func(o *options) { o.includeHighlights = false } }
func WithoutNotes() Option      { return func(o *options) { o.includeNotes = false } }
func WithoutMetadata() Option   { return func(o *options) { o.includeMetadata = false } }

func newOptions(opts []Option) options {
	o := options{includeHighlights: true, includeNotes: true, includeMetadata: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type citationView struct {
	N           int
	Section     string
	Color       string
	Text        string
	StartOffset int
	EndOffset   int
	Annotations []string
}

type noteView struct {
	N       int
	Content string
}

type messageView struct {
	Role      string
	Content   string
	Citations []string
}

type summaryView struct {
	TotalHighlights int
	RedHighlights   int
	BlueHighlights  int
	CitedNotes      int
	UncitedNotes    int
	FlaggedMessages int
}

type view struct {
	Title          string
	DrugID         string
	DrugName       string
	ReportType     string
	Competitors    []string
	Meta           *Meta
	ShowHighlights bool
	ShowNotes      bool
	Citations      []citationView
	Notes          []noteView
	Messages       []messageView
	Summary        summaryView
	ActiveSection  string
	HasMessages    bool
	HasCompetitors bool
}

// buildView reads snap without modifying it.
func buildView(snap snapshot.Snapshot, o options) view {
	v := view{
		Title:          o.title,
		DrugID:         snap.DrugID,
		DrugName:       snap.DrugName,
		ReportType:     string(snap.ReportType),
		ShowHighlights: o.includeHighlights,
		ShowNotes:      o.includeNotes,
		ActiveSection:  snap.UI.ActiveSection,
	}
	if v.ReportType == "" {
		v.ReportType = string(annotation.ReportAnalysis)
	}
	if v.Title == "" {
		v.Title = defaultTitle(snap)
	}
	if o.includeMetadata && o.meta != nil {
		v.Meta = o.meta
	}
	for _, c := range snap.Competitors {
		name := c.DrugName
		if name == "" {
			name = c.DrugID
		}
		v.Competitors = append(v.Competitors, name)
	}
	v.HasCompetitors = len(v.Competitors) > 0

	live := make(map[string]bool, len(snap.Highlights))
	for _, h := range snap.Highlights {
		live[h.ID] = true
	}
	annotations := map[string][]string{}
	for _, n := range snap.Notes {
		if n.IsCited() && live[n.HighlightID] {
			v.Summary.CitedNotes++
			if strings.TrimSpace(n.Content) != "" {
				annotations[n.HighlightID] = append(annotations[n.HighlightID], n.Content)
			}
			continue
		}
		v.Summary.UncitedNotes++
		v.Notes = append(v.Notes, noteView{N: len(v.Notes) + 1, Content: n.Content})
	}

	for i, h := range snap.Highlights {
		switch h.Color {
		case annotation.ColorRed:
			v.Summary.RedHighlights++
		case annotation.ColorBlue:
			v.Summary.BlueHighlights++
		}
		v.Citations = append(v.Citations, citationView{
			N:           i + 1,
			Section:     sectionName(h.SectionID, o.sectionTitles),
			Color:       string(h.Color),
			Text:        h.Text,
			StartOffset: h.StartOffset,
			EndOffset:   h.EndOffset,
			Annotations: annotations[h.ID],
		})
	}
	v.Summary.TotalHighlights = len(snap.Highlights)

	for _, m := range snap.FlaggedMessages {
		mv := messageView{Role: roleLabel(m.Role), Content: m.Content}
		for _, c := range m.Citations {
			mv.Citations = append(mv.Citations, c.Section)
		}
		v.Messages = append(v.Messages, mv)
	}
	v.Summary.FlaggedMessages = len(snap.FlaggedMessages)
	v.HasMessages = len(v.Messages) > 0
	return v
}

func defaultTitle(snap snapshot.Snapshot) string {
	name := snap.DrugName
	if name == "" {
		name = "Drug " + snap.DrugID
	}
	if snap.ReportType == annotation.ReportComparison {
		return name + " Comparison"
	}
	return name + " Analysis"
}

func sectionName(id string, titles map[string]string) string {
	if t, ok := titles[id]; ok && t != "" {
		return t
	}
	return id
}

func roleLabel(r annotation.Role) string {
	switch r {
	case annotation.RoleUser:
		return "User"
	case annotation.RoleAssistant:
		return "Assistant"
	}
	return string(r)
}
