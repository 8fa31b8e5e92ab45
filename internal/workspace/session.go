// Package workspace owns the annotation state of one analysis or comparison
// session: highlights, notes, chat messages and UI position.
package workspace

import (
	"sync"
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/content"
	"labelscope/api/internal/logging"
	"labelscope/api/internal/selection"
	"labelscope/api/internal/snapshot"
	"labelscope/api/internal/util"
)

const logModule = "workspace"

type DrugRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type config struct {
	id          string
	now         func() time.Time
	log         logging.Logger
	doc         *content.Node
	competitors []annotation.Competitor
}

type Option func(*config)

func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithContent binds the rendered label content. Highlight offsets are then
// checked against the section text.
func WithContent(doc *content.Node) Option {
	return func(c *config) { c.doc = doc }
}

// WithComparison makes the session a comparison against competitors.
func WithComparison(competitors ...annotation.Competitor) Option {
	return func(c *config) { c.competitors = competitors }
}

type state struct {
	reportType  annotation.ReportType
	drug        DrugRef
	competitors []annotation.Competitor
	doc         *content.Node
	highlights  *HighlightStore
	notes       *NoteStore
	messages    *MessageLog
	ui          annotation.UIState
}

func newState(drug DrugRef, competitors []annotation.Competitor, doc *content.Node, now func() time.Time) *state {
	st := &state{
		reportType:  annotation.ReportAnalysis,
		drug:        drug,
		competitors: append([]annotation.Competitor{}, competitors...),
		doc:         doc,
		highlights:  NewHighlightStore(now),
		notes:       NewNoteStore(now),
		messages:    NewMessageLog(now),
	}
	if len(competitors) > 0 {
		st.reportType = annotation.ReportComparison
	}
	return st
}

// Session serialises every mutation behind one mutex, so mutations apply in
// call order.
type Session struct {
	// gate is held for writing while the session is reset, restored or
	// closed, and for reading while a late response is delivered.
	gate sync.RWMutex
	mu   sync.Mutex

	id     string
	now    func() time.Time
	log    logging.Logger
	epoch  uint64
	closed bool
	st     *state
}

func New(drug DrugRef, opts ...Option) *Session {
	cfg := config{now: utcNow, log: logging.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = util.NewID("ws")
	}
	return &Session{
		id:  cfg.id,
		now: cfg.now,
		log: cfg.log,
		st:  newState(drug, cfg.competitors, cfg.doc, cfg.now),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Drug() DrugRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.drug
}

func (s *Session) ReportType() annotation.ReportType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.reportType
}

func (s *Session) Competitors() []annotation.Competitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]annotation.Competitor{}, s.st.competitors...)
}

func (s *Session) UI() annotation.UIState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ui
}

// Content is the bound label content. Callers must treat it as read-only.
func (s *Session) Content() *content.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.doc
}

func (s *Session) BindContent(doc *content.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.doc = doc
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AddHighlight stores a highlight. With bound content the range must lie
// inside the section text; an empty text is filled from it. An unbound
// session checks neither the section id nor the upper bound.
func (s *Session) AddHighlight(sectionID string, start, end int, text string, color annotation.Color, rect *selection.Rect) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.addHighlight(sectionID, start, end, text, color, rect)
}

func (s *Session) addHighlight(sectionID string, start, end int, text string, color annotation.Color, rect *selection.Rect) (string, error) {
	if doc := s.st.doc; doc != nil {
		sec := content.FindSection(doc, sectionID)
		if sec == nil {
			return "", ErrUnknownSection
		}
		if end > content.TextLength(sec) {
			return "", ErrInvalidOffsets
		}
		if text == "" {
			text = content.SliceRunes(content.PlainText(sec), start, end)
		}
	}
	return s.st.highlights.Add(sectionID, start, end, text, color, rect)
}

// AddHighlightFromRange creates the highlight for a resolved selection
// together with its empty cited note.
func (s *Session) AddHighlightFromRange(r selection.Range, color annotation.Color) (highlightID, noteID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", "", ErrSessionClosed
	}
	highlightID, err = s.addHighlight(r.SectionID, r.StartOffset, r.EndOffset, r.Text, color, r.Rect)
	if err != nil {
		return "", "", err
	}
	return highlightID, s.st.notes.AddCited("", highlightID), nil
}

// AddHighlightFromSelection resolves a wire selection and behaves like
// AddHighlightFromRange. Section-relative paths are resolved against the
// marked section RenderSection serves, document paths against the bound
// content.
func (s *Session) AddHighlightFromSelection(sel selection.WireSelection, color annotation.Color) (selection.Range, string, string, error) {
	var root *content.Node
	if sel.SectionID != "" {
		section, _, err := s.markedSection(sel.SectionID)
		if err != nil {
			return selection.Range{}, "", "", err
		}
		root = section
	} else if root = s.Content(); root == nil {
		return selection.Range{}, "", "", ErrNoContent
	}
	r, err := selection.ResolveWire(root, sel)
	if err != nil {
		return selection.Range{}, "", "", err
	}
	hid, nid, err := s.AddHighlightFromRange(r, color)
	return r, hid, nid, err
}

func (s *Session) UpdateHighlightColor(id string, color annotation.Color) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}
	return s.st.highlights.UpdateColor(id, color)
}

// RemoveHighlight deletes a highlight and every cited note bound to it.
// Unknown ids are a no-op.
func (s *Session) RemoveHighlight(id string) (removed bool, cascaded []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.st.highlights.Remove(id) {
		return false, []string{}
	}
	return true, s.st.notes.RemoveForHighlight(id)
}

func (s *Session) Highlight(id string) (annotation.Highlight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.highlights.Get(id)
}

func (s *Session) Highlights() []annotation.Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.highlights.All()
}

func (s *Session) HighlightsBySection(sectionID string) []annotation.Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.highlights.ListBySection(sectionID)
}

// AddCitedNote fails with ErrInvalidReference when the highlight is gone.
func (s *Session) AddCitedNote(text, highlightID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if !s.st.highlights.Has(highlightID) {
		s.log.Warn(logModule, "cited note rejected: highlight is not live", map[string]any{
			"session_id":   s.id,
			"highlight_id": highlightID,
		})
		return "", ErrInvalidReference
	}
	return s.st.notes.AddCited(text, highlightID), nil
}

func (s *Session) AddUncitedNote(text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.st.notes.AddUncited(text), nil
}

func (s *Session) UpdateNote(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.st.notes.Update(id, text)
}

func (s *Session) RemoveNote(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.st.notes.Remove(id)
}

func (s *Session) Note(id string) (annotation.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.notes.Get(id)
}

func (s *Session) Notes() []annotation.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.notes.All()
}

func (s *Session) CitedNotes() []annotation.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.notes.Cited()
}

func (s *Session) UncitedNotes() []annotation.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.notes.Uncited()
}

func (s *Session) AppendMessage(role annotation.Role, text string, citations []annotation.Citation) (annotation.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return annotation.ChatMessage{}, ErrSessionClosed
	}
	return s.st.messages.Append(role, text, citations), nil
}

func (s *Session) ToggleFlag(messageID string) (flagged, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	return s.st.messages.ToggleFlag(messageID)
}

func (s *Session) Messages() []annotation.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.messages.All()
}

func (s *Session) FlaggedMessages() []annotation.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.messages.Flagged()
}

func (s *Session) SetActiveSection(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ui.ActiveSection = title
}

func (s *Session) SetScrollPosition(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ui.ScrollPosition = pos
}

// Ticket identifies the workspace a request was issued against.
type Ticket struct {
	epoch uint64
}

func (s *Session) Ticket() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Ticket{epoch: s.epoch}
}

// Deliver runs fn only if the session has not been reset, restored or closed
// since t was taken. fn may call session methods but must not call Reset,
// Restore, Close or Deliver.
func (s *Session) Deliver(t Ticket, fn func()) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	s.mu.Lock()
	stale := s.closed || s.epoch != t.epoch
	s.mu.Unlock()
	if stale {
		s.log.Debug(logModule, "dropped stale response", map[string]any{"session_id": s.id})
		return ErrStaleResponse
	}
	fn()
	return nil
}

// Reset discards all state and starts over for drug. Nothing is merged.
func (s *Session) Reset(drug DrugRef, opts ...Option) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.gate.Lock()
	defer s.gate.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.closed = false
	s.st = newState(drug, cfg.competitors, cfg.doc, s.now)
}

// Close tears the session down. Later mutations fail or are no-ops and
// pending responses are dropped.
func (s *Session) Close() {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.closed = true
	s.st = newState(DrugRef{}, nil, nil, s.now)
}

// Snapshot collects the persisted aggregate of the session.
func (s *Session) Snapshot() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot.Snapshot{
		SchemaVersion:   snapshot.CurrentVersion,
		ReportType:      s.st.reportType,
		DrugID:          s.st.drug.ID,
		DrugName:        s.st.drug.Name,
		Competitors:     s.st.competitors,
		Highlights:      s.st.highlights.All(),
		Notes:           s.st.notes.All(),
		FlaggedMessages: s.st.messages.Flagged(),
		UI:              s.st.ui,
	}.Normalize()
}
