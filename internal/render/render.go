// Package render re-applies persisted highlights to freshly rendered section
// content. It is the only code that adds or removes highlight marks.
package render

import (
	"labelscope/api/internal/annotation"
	"labelscope/api/internal/content"
)

const (
	MarkTag  = "mark"
	MarkAttr = "data-highlight-id"
)

type SkipReason string

const (
	// SkipDrift means the section text is now shorter than the highlight end.
	SkipDrift   SkipReason = "drift"
	SkipOverlap SkipReason = "overlap"
	SkipInvalid SkipReason = "invalid"
)

type Skip struct {
	ID     string     `json:"id"`
	Reason SkipReason `json:"reason"`
}

type Result struct {
	Applied []string `json:"applied"`
	Skipped []Skip   `json:"skipped"`
}

func ColorClass(c annotation.Color) string {
	return "highlight-" + string(c)
}

// Apply strips existing marks from section and wraps the ranges of the given
// highlights. Highlights belonging to another section are ignored. When two
// highlights overlap the first one applied wins.
func Apply(section *content.Node, highlights []annotation.Highlight) Result {
	Strip(section)

	res := Result{Applied: []string{}, Skipped: []Skip{}}
	if len(highlights) == 0 {
		return res
	}

	sectionID, hasID := section.SectionID()
	length := content.TextLength(section)
	var applied []annotation.Highlight

	for _, h := range highlights {
		if hasID && h.SectionID != sectionID {
			continue
		}
		if h.StartOffset < 0 || h.StartOffset >= h.EndOffset {
			res.Skipped = append(res.Skipped, Skip{ID: h.ID, Reason: SkipInvalid})
			continue
		}
		if h.EndOffset > length {
			res.Skipped = append(res.Skipped, Skip{ID: h.ID, Reason: SkipDrift})
			continue
		}
		if overlapsAny(h, applied) {
			res.Skipped = append(res.Skipped, Skip{ID: h.ID, Reason: SkipOverlap})
			continue
		}
		wrap(section, h)
		applied = append(applied, h)
		res.Applied = append(res.Applied, h.ID)
	}
	return res
}

// Strip unwraps every highlight mark under section and merges the text nodes
// it leaves behind. Calling it on clean content is a no-op.
func Strip(section *content.Node) {
	var marks []*content.Node
	content.Walk(section, func(n *content.Node) bool {
		if isMark(n) {
			marks = append(marks, n)
		}
		return true
	})
	for i := len(marks) - 1; i >= 0; i-- {
		marks[i].Unwrap()
	}
	content.Normalize(section)
}

func isMark(n *content.Node) bool {
	if n.Kind != content.ElementNode || n.Tag != MarkTag {
		return false
	}
	_, ok := n.Attr(MarkAttr)
	return ok
}

func overlapsAny(h annotation.Highlight, applied []annotation.Highlight) bool {
	for _, a := range applied {
		if h.StartOffset < a.EndOffset && a.StartOffset < h.EndOffset {
			return true
		}
	}
	return false
}

// wrap splits the text runs covering [start, end) and wraps each covered
// piece in its own mark element.
func wrap(section *content.Node, h annotation.Highlight) {
	for _, run := range content.TextRuns(section) {
		if run.End() <= h.StartOffset || run.Start >= h.EndOffset {
			continue
		}
		from := max(h.StartOffset, run.Start) - run.Start
		to := min(h.EndOffset, run.End()) - run.Start

		text := []rune(run.Node.Text)
		mark := content.NewElement(MarkTag,
			content.Attr{Key: MarkAttr, Val: h.ID},
			content.Attr{Key: "class", Val: ColorClass(h.Color)},
		)
		mark.AppendChild(content.NewText(string(text[from:to])))

		var pieces []*content.Node
		if from > 0 {
			pieces = append(pieces, content.NewText(string(text[:from])))
		}
		pieces = append(pieces, mark)
		if to < len(text) {
			pieces = append(pieces, content.NewText(string(text[to:])))
		}
		run.Node.ReplaceWith(pieces...)
	}
}
