package workspace

import (
	"labelscope/api/internal/content"
	"labelscope/api/internal/render"
)

// RenderSection returns the inner HTML of a section of the bound content with
// the session's highlights applied. The bound content is never marked; a
// copy of the section is rendered instead.
func (s *Session) RenderSection(sectionID string) (string, render.Result, error) {
	section, res, err := s.markedSection(sectionID)
	if err != nil {
		return "", render.Result{}, err
	}
	return content.InnerHTML(section), res, nil
}

// markedSection is the tree a client sees for sectionID: a copy of the
// section with the current highlights applied.
func (s *Session) markedSection(sectionID string) (*content.Node, render.Result, error) {
	s.mu.Lock()
	doc := s.st.doc
	if doc == nil {
		s.mu.Unlock()
		return nil, render.Result{}, ErrNoContent
	}
	sec := content.FindSection(doc, sectionID)
	if sec == nil {
		s.mu.Unlock()
		return nil, render.Result{}, ErrUnknownSection
	}
	section := sec.Clone()
	highlights := s.st.highlights.ListBySection(sectionID)
	s.mu.Unlock()

	res := render.Apply(section, highlights)
	for _, skip := range res.Skipped {
		s.log.Debug(logModule, "highlight not rendered", map[string]any{
			"session_id":   s.id,
			"highlight_id": skip.ID,
			"reason":       string(skip.Reason),
		})
	}
	return section, res, nil
}
