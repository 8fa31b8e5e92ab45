// Package annotation holds the records a workspace session owns: highlights,
// notes and chat messages.
package annotation

import (
	"strings"
	"time"

	"labelscope/api/internal/selection"
)

type Color string

const (
	ColorRed  Color = "red"
	ColorBlue Color = "blue"
)

var Colors = []Color{ColorRed, ColorBlue}

func (c Color) Valid() bool {
	return c == ColorRed || c == ColorBlue
}

func ParseColor(s string) (Color, bool) {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

type NoteType string

const (
	NoteCited   NoteType = "cited"
	NoteUncited NoteType = "uncited"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ReportType string

const (
	ReportAnalysis   ReportType = "analysis"
	ReportComparison ReportType = "comparison"
)

func (t ReportType) Valid() bool {
	return t == ReportAnalysis || t == ReportComparison
}

type Highlight struct {
	ID          string          `json:"id"`
	SectionID   string          `json:"sectionId"`
	Text        string          `json:"text"`
	StartOffset int             `json:"startOffset"`
	EndOffset   int             `json:"endOffset"`
	Color       Color           `json:"color"`
	Rect        *selection.Rect `json:"rect,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Overlaps reports whether h and o share at least one character of the same
// section.
func (h Highlight) Overlaps(o Highlight) bool {
	return h.SectionID == o.SectionID && h.StartOffset < o.EndOffset && o.StartOffset < h.EndOffset
}

type Note struct {
	ID          string    `json:"id"`
	Type        NoteType  `json:"type"`
	Content     string    `json:"content"`
	HighlightID string    `json:"highlightId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (n Note) IsCited() bool {
	return n.Type == NoteCited && n.HighlightID != ""
}

// Citation points an assistant answer at the label section it drew from.
type Citation struct {
	Section   string `json:"section"`
	SectionID string `json:"sectionId,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
}

type ChatMessage struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Citations []Citation `json:"citations,omitempty"`
	IsFlagged bool       `json:"isFlagged"`
}

type Competitor struct {
	DrugID   string `json:"drugId"`
	DrugName string `json:"drugName"`
}

type UIState struct {
	ActiveSection  string  `json:"activeSection"`
	ScrollPosition float64 `json:"scrollPosition"`
}
