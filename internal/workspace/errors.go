package workspace

import (
	"errors"
	"fmt"

	"labelscope/api/internal/selection"
)

var (
	// ErrInvalidReference is returned when a cited note names a highlight
	// that no longer exists.
	ErrInvalidReference = errors.New("highlight reference is not live")
	// ErrRestoreFailure aborts a restore. Current state is left untouched.
	ErrRestoreFailure = errors.New("workspace restore failed")
	ErrSessionClosed  = errors.New("workspace session is closed")
	// ErrStaleResponse marks a response whose session was reset or closed
	// after the request was issued.
	ErrStaleResponse = errors.New("response belongs to a previous workspace")
	ErrNoContent     = errors.New("no label content bound to workspace")
	ErrInvalidColor  = errors.New("highlight color must be red or blue")

	ErrInvalidOffsets       = fmt.Errorf("%w: offsets out of range", selection.ErrInvalidSelection)
	ErrOverlappingHighlight = fmt.Errorf("%w: overlaps an existing highlight", selection.ErrInvalidSelection)
	ErrUnknownSection       = fmt.Errorf("%w: unknown section", selection.ErrInvalidSelection)
)
