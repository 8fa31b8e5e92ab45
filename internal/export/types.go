// Package export turns workspace snapshots into shareable files: JSON, plain
// text, Markdown and clipboard text, plus HTML-based PDF and DOCX reports.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatJSON      Format = "json"
	FormatText      Format = "text"
	FormatMarkdown  Format = "markdown"
	FormatClipboard Format = "clipboard"
	FormatHTML      Format = "html"
	FormatPDF       Format = "pdf"
	FormatDOCX      Format = "docx"
)

func ParseFormat(s string) (Format, bool) {
	switch f := Format(s); f {
	case FormatJSON, FormatText, FormatMarkdown, FormatClipboard, FormatHTML, FormatPDF, FormatDOCX:
		return f, true
	case "md":
		return FormatMarkdown, true
	case "txt":
		return FormatText, true
	}
	return "", false
}

// Meta is the user-provided report metadata printed in report headers.
type Meta struct {
	Title        string
	TypeCategory string
	Description  string
	Tags         []string
	CreatedAt    time.Time
	LastModified time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrExportFailure is a recoverable failure handing the export to the host,
	// e.g. a rejected clipboard write.
	ErrExportFailure     = errors.New("export failed")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
