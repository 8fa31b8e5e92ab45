package workspace

import (
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/util"
)

// NoteStore does not know about highlights. The Session checks that a cited
// note's highlight is live before calling AddCited.
type NoteStore struct {
	items []annotation.Note
	now   func() time.Time
}

func NewNoteStore(now func() time.Time) *NoteStore {
	if now == nil {
		now = utcNow
	}
	return &NoteStore{now: now}
}

func (s *NoteStore) AddCited(content, highlightID string) string {
	return s.add(annotation.NoteCited, content, highlightID)
}

func (s *NoteStore) AddUncited(content string) string {
	return s.add(annotation.NoteUncited, content, "")
}

func (s *NoteStore) add(kind annotation.NoteType, content, highlightID string) string {
	ts := s.now()
	n := annotation.Note{
		ID:          util.NewID("nt"),
		Type:        kind,
		Content:     content,
		HighlightID: highlightID,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	s.items = append(s.items, n)
	return n.ID
}

// Update replaces the content and refreshes UpdatedAt. No-op for unknown ids.
func (s *NoteStore) Update(id, content string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	ts := s.now()
	if !ts.After(s.items[i].UpdatedAt) {
		// keep UpdatedAt strictly increasing under coarse clocks
		ts = s.items[i].UpdatedAt.Add(time.Nanosecond)
	}
	s.items[i].Content = content
	s.items[i].UpdatedAt = ts
	return true
}

func (s *NoteStore) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

// RemoveForHighlight drops every cited note bound to highlightID and returns
// their ids.
func (s *NoteStore) RemoveForHighlight(highlightID string) []string {
	removed := []string{}
	kept := s.items[:0]
	for _, n := range s.items {
		if n.Type == annotation.NoteCited && n.HighlightID == highlightID {
			removed = append(removed, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	return removed
}

func (s *NoteStore) Get(id string) (annotation.Note, bool) {
	i := s.index(id)
	if i < 0 {
		return annotation.Note{}, false
	}
	return s.items[i], true
}

func (s *NoteStore) All() []annotation.Note {
	return append([]annotation.Note{}, s.items...)
}

// Cited and Uncited partition All. Neither is stored.
func (s *NoteStore) Cited() []annotation.Note {
	out := []annotation.Note{}
	for _, n := range s.items {
		if n.IsCited() {
			out = append(out, n)
		}
	}
	return out
}

func (s *NoteStore) Uncited() []annotation.Note {
	out := []annotation.Note{}
	for _, n := range s.items {
		if !n.IsCited() {
			out = append(out, n)
		}
	}
	return out
}

func (s *NoteStore) Len() int {
	return len(s.items)
}

func (s *NoteStore) index(id string) int {
	for i, n := range s.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *NoteStore) load(items []annotation.Note) {
	s.items = append([]annotation.Note{}, items...)
}
