package workspace

import (
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/selection"
	"labelscope/api/internal/util"
)

// HighlightStore keeps highlights in insertion order, which is also their
// display order within a section. It is not safe for concurrent use; the
// owning Session serialises access.
type HighlightStore struct {
	items []annotation.Highlight
	now   func() time.Time
}

func NewHighlightStore(now func() time.Time) *HighlightStore {
	if now == nil {
		now = utcNow
	}
	return &HighlightStore{now: now}
}

// Add validates and appends a highlight. Ranges may touch but not overlap
// another highlight of the same section.
func (s *HighlightStore) Add(sectionID string, start, end int, text string, color annotation.Color, rect *selection.Rect) (string, error) {
	if !color.Valid() {
		return "", ErrInvalidColor
	}
	if start < 0 || start >= end {
		return "", ErrInvalidOffsets
	}
	h := annotation.Highlight{
		ID:          util.NewID("hl"),
		SectionID:   sectionID,
		Text:        text,
		StartOffset: start,
		EndOffset:   end,
		Color:       color,
		Rect:        rect,
		CreatedAt:   s.now(),
	}
	for _, existing := range s.items {
		if existing.Overlaps(h) {
			return "", ErrOverlappingHighlight
		}
	}
	s.items = append(s.items, h)
	return h.ID, nil
}

// UpdateColor is a no-op for unknown ids.
func (s *HighlightStore) UpdateColor(id string, color annotation.Color) (bool, error) {
	if !color.Valid() {
		return false, ErrInvalidColor
	}
	i := s.index(id)
	if i < 0 {
		return false, nil
	}
	s.items[i].Color = color
	return true, nil
}

// Remove deletes a highlight. Cited notes are cascaded by the Session.
func (s *HighlightStore) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *HighlightStore) Get(id string) (annotation.Highlight, bool) {
	i := s.index(id)
	if i < 0 {
		return annotation.Highlight{}, false
	}
	return s.items[i], true
}

func (s *HighlightStore) Has(id string) bool {
	return s.index(id) >= 0
}

func (s *HighlightStore) ListBySection(sectionID string) []annotation.Highlight {
	out := []annotation.Highlight{}
	for _, h := range s.items {
		if h.SectionID == sectionID {
			out = append(out, h)
		}
	}
	return out
}

func (s *HighlightStore) All() []annotation.Highlight {
	return append([]annotation.Highlight{}, s.items...)
}

func (s *HighlightStore) Len() int {
	return len(s.items)
}

func (s *HighlightStore) index(id string) int {
	for i, h := range s.items {
		if h.ID == id {
			return i
		}
	}
	return -1
}

// load replaces the contents with restored records as they are. Restored
// data is not re-validated; the renderer skips what no longer fits.
func (s *HighlightStore) load(items []annotation.Highlight) {
	s.items = append([]annotation.Highlight{}, items...)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
