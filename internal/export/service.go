package export

import (
	"context"
	"fmt"

	"labelscope/api/internal/snapshot"
)

// Request describes one export of a workspace snapshot.
type Request struct {
	Snapshot      snapshot.Snapshot
	Format        Format
	Title         string
	Meta          *Meta
	SectionTitles map[string]string

	OmitHighlights bool
	OmitNotes      bool
	OmitMetadata   bool
}

func (r Request) options() []Option {
	var opts []Option
	if r.Meta != nil {
		opts = append(opts, WithMeta(*r.Meta))
	}
	if r.Title != "" {
		opts = append(opts, WithTitle(r.Title))
	}
	if len(r.SectionTitles) > 0 {
		opts = append(opts, WithSectionTitles(r.SectionTitles))
	}
	if r.OmitHighlights {
		opts = append(opts, WithoutHighlights())
	}
	if r.OmitNotes {
		opts = append(opts, WithoutNotes())
	}
	if r.OmitMetadata {
		opts = append(opts, WithoutMetadata())
	}
	return opts
}

// converter turns a rendered HTML report into a binary document.
type converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides report export in every supported format.
type Service struct {
	pdf  converter
	docx converter
}

// NewService creates a new export service
func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	opts := req.options()
	switch req.Format {
	case FormatPDF, FormatDOCX:
	default:
		return Render(req.Snapshot, req.Format, opts...)
	}

	o := newOptions(opts)
	v := buildView(req.Snapshot, o)
	html, err := renderReportHTML(v)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	if req.Format == FormatPDF {
		return s.pdf(ctx, html, v.Title)
	}
	return s.docx(ctx, html, v.Title)
}
