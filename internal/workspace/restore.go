package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/content"
	"labelscope/api/internal/snapshot"
)

type RestoreOptions struct {
	// LoadContent fetches the label content for the source drug followed by
	// any competitors. An error means a drug no longer exists and aborts the
	// restore. When nil the drugs are not verified and no content is bound.
	LoadContent func(ctx context.Context, drugIDs []string) (*content.Node, error)
	// Render is called once the new state is in place, before the scroll
	// position is applied.
	Render func(activeSection string)
	// ScrollDelay is how long to wait after Render before restoring the
	// scroll position.
	ScrollDelay time.Duration
}

// Restore replaces the session state with snap. Nothing changes unless the
// snapshot names a drug and that drug can be loaded. A Reset, Restore or
// Close that lands while the content loads wins, and Restore returns
// ErrStaleResponse. The swap happens in
// order: clear, identity, highlights, notes and messages, then after the
// render hook and ScrollDelay the scroll position.
func (s *Session) Restore(ctx context.Context, snap snapshot.Snapshot, opts RestoreOptions) error {
	snap = snap.Normalize()
	if strings.TrimSpace(snap.DrugID) == "" {
		return fmt.Errorf("%w: saved workspace has no drug id", ErrRestoreFailure)
	}

	start := s.Ticket()
	var doc *content.Node
	if opts.LoadContent != nil {
		ids := []string{snap.DrugID}
		for _, c := range snap.Competitors {
			ids = append(ids, c.DrugID)
		}
		loaded, err := opts.LoadContent(ctx, ids)
		if err != nil {
			return fmt.Errorf("%w: drug %s could not be loaded: %w", ErrRestoreFailure, snap.DrugID, err)
		}
		doc = loaded
	}

	next := newState(DrugRef{ID: snap.DrugID, Name: snap.DrugName}, snap.Competitors, doc, s.now)
	if snap.ReportType.Valid() {
		next.reportType = snap.ReportType
	}
	next.highlights.load(snap.Highlights)
	next.notes.load(s.liveNotes(snap))
	next.messages.load(snap.FlaggedMessages)
	next.ui.ActiveSection = snap.UI.ActiveSection

	s.gate.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.gate.Unlock()
		return ErrSessionClosed
	}
	if s.epoch != start.epoch {
		s.mu.Unlock()
		s.gate.Unlock()
		return fmt.Errorf("%w: workspace changed while the restore was loading", ErrStaleResponse)
	}
	s.epoch++
	epoch := s.epoch
	s.st = next
	s.mu.Unlock()
	s.gate.Unlock()

	s.log.Info(logModule, "workspace restored", map[string]any{
		"session_id": s.id,
		"drug_id":    snap.DrugID,
		"highlights": len(snap.Highlights),
		"notes":      len(snap.Notes),
	})

	if opts.Render != nil {
		opts.Render(snap.UI.ActiveSection)
	}
	if opts.ScrollDelay > 0 {
		timer := time.NewTimer(opts.ScrollDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && !s.closed {
		s.st.ui.ScrollPosition = snap.UI.ScrollPosition
	}
	return nil
}

// liveNotes downgrades cited notes whose highlight is missing from the
// snapshot to uncited notes so the reference invariant holds after restore.
func (s *Session) liveNotes(snap snapshot.Snapshot) []annotation.Note {
	live := make(map[string]bool, len(snap.Highlights))
	for _, h := range snap.Highlights {
		live[h.ID] = true
	}
	notes := make([]annotation.Note, 0, len(snap.Notes))
	for _, n := range snap.Notes {
		if n.Type == annotation.NoteCited && n.HighlightID != "" && !live[n.HighlightID] {
			s.log.Warn(logModule, "restored note cites a missing highlight", map[string]any{
				"session_id":   s.id,
				"note_id":      n.ID,
				"highlight_id": n.HighlightID,
			})
			n.Type = annotation.NoteUncited
			n.HighlightID = ""
		}
		notes = append(notes, n)
	}
	return notes
}
