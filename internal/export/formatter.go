package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"labelscope/api/internal/snapshot"
)

// Render renders snap for target. It never modifies snap and returns the same
// bytes for the same input. JSON is the lossless target: snapshot.Decode
// restores it field for field.
func Render(snap snapshot.Snapshot, target Format, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	title := o.title
	if title == "" {
		title = defaultTitle(snap)
	}

	switch target {
	case FormatJSON:
		data, err := snapshot.Encode(snap)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, fmt.Errorf("indent json: %w", err)
		}
		return &Result{Data: buf.Bytes(), Filename: sanitizeFilename(title) + ".json", MimeType: "application/json"}, nil
	case FormatMarkdown:
		return &Result{
			Data:     []byte(renderMarkdown(buildView(snap, o))),
			Filename: sanitizeFilename(title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatText:
		return &Result{
			Data:     []byte(renderText(buildView(snap, o))),
			Filename: sanitizeFilename(title) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	case FormatClipboard:
		// clipboard text is the Markdown rendering
		return &Result{
			Data:     []byte(renderMarkdown(buildView(snap, o))),
			Filename: "",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	case FormatHTML:
		html, err := renderReportHTML(buildView(snap, o))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{Data: []byte(html), Filename: sanitizeFilename(title) + ".html", MimeType: "text/html; charset=utf-8"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, target)
	}
}

func renderMarkdown(v view) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", v.Title)
	fmt.Fprintf(&b, "**Drug:** %s", v.DrugName)
	if v.DrugID != "" {
		fmt.Fprintf(&b, " (ID %s)", v.DrugID)
	}
	b.WriteString("  \n")
	fmt.Fprintf(&b, "**Report Type:** %s  \n", v.ReportType)
	if v.HasCompetitors {
		fmt.Fprintf(&b, "**Competitors:** %s  \n", strings.Join(v.Competitors, ", "))
	}
	if v.Meta != nil {
		if v.Meta.TypeCategory != "" {
			fmt.Fprintf(&b, "**Category:** %s  \n", v.Meta.TypeCategory)
		}
		if len(v.Meta.Tags) > 0 {
			fmt.Fprintf(&b, "**Tags:** %s  \n", strings.Join(v.Meta.Tags, ", "))
		}
		if v.Meta.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", v.Meta.Description)
		}
	}
	b.WriteString("\n")

	if v.ShowHighlights && len(v.Citations) > 0 {
		b.WriteString("## Citations\n\n")
		for _, c := range v.Citations {
			fmt.Fprintf(&b, "### Citation %d\n\n", c.N)
			fmt.Fprintf(&b, "- **Section:** %s\n", c.Section)
			fmt.Fprintf(&b, "- **Color:** %s\n", c.Color)
			fmt.Fprintf(&b, "- **Characters:** %d to %d\n\n", c.StartOffset, c.EndOffset)
			fmt.Fprintf(&b, "> %s\n\n", quoteLines(c.Text))
			if v.ShowNotes {
				for _, a := range c.Annotations {
					fmt.Fprintf(&b, "**Annotation:** %s\n\n", a)
				}
			}
		}
	}

	if v.ShowNotes && len(v.Notes) > 0 {
		b.WriteString("## Notes\n\n")
		for _, n := range v.Notes {
			fmt.Fprintf(&b, "### Note %d\n\n%s\n\n", n.N, n.Content)
		}
	}

	if v.HasMessages {
		b.WriteString("## Flagged Messages\n\n")
		for _, m := range v.Messages {
			fmt.Fprintf(&b, "**%s:** %s\n", m.Role, m.Content)
			if len(m.Citations) > 0 {
				fmt.Fprintf(&b, "\n_Sources: %s_\n", strings.Join(m.Citations, "; "))
			}
			b.WriteString("\n")
		}
	}

	s := v.Summary
	b.WriteString("## Summary\n\n")
	b.WriteString("| Summary |\n| --- |\n")
	fmt.Fprintf(&b, "| Total Highlights: %d |\n", s.TotalHighlights)
	fmt.Fprintf(&b, "| Red Highlights: %d |\n", s.RedHighlights)
	fmt.Fprintf(&b, "| Blue Highlights: %d |\n", s.BlueHighlights)
	fmt.Fprintf(&b, "| Cited Notes: %d |\n", s.CitedNotes)
	fmt.Fprintf(&b, "| Uncited Notes: %d |\n", s.UncitedNotes)
	fmt.Fprintf(&b, "| Flagged Messages: %d |\n", s.FlaggedMessages)
	return b.String()
}

func renderText(v view) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(v.Title) + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(v.Title))) + "\n\n")
	fmt.Fprintf(&b, "Drug: %s", v.DrugName)
	if v.DrugID != "" {
		fmt.Fprintf(&b, " (ID %s)", v.DrugID)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Report type: %s\n", v.ReportType)
	if v.HasCompetitors {
		fmt.Fprintf(&b, "Competitors: %s\n", strings.Join(v.Competitors, ", "))
	}
	if v.Meta != nil && v.Meta.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", v.Meta.Description)
	}

	if v.ShowHighlights && len(v.Citations) > 0 {
		b.WriteString("\nCITATIONS\n")
		for _, c := range v.Citations {
			fmt.Fprintf(&b, "[%d] %s (%s)\n    \"%s\"\n", c.N, c.Section, c.Color, c.Text)
			if v.ShowNotes {
				for _, a := range c.Annotations {
					fmt.Fprintf(&b, "    Note: %s\n", a)
				}
			}
		}
	}
	if v.ShowNotes && len(v.Notes) > 0 {
		b.WriteString("\nNOTES\n")
		for _, n := range v.Notes {
			fmt.Fprintf(&b, "[%d] %s\n", n.N, n.Content)
		}
	}
	if v.HasMessages {
		b.WriteString("\nFLAGGED MESSAGES\n")
		for _, m := range v.Messages {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			if len(m.Citations) > 0 {
				fmt.Fprintf(&b, "    Sources: %s\n", strings.Join(m.Citations, "; "))
			}
		}
	}

	s := v.Summary
	b.WriteString("\nSUMMARY\n")
	fmt.Fprintf(&b, "Total Highlights: %d\n", s.TotalHighlights)
	fmt.Fprintf(&b, "Red Highlights: %d\n", s.RedHighlights)
	fmt.Fprintf(&b, "Blue Highlights: %d\n", s.BlueHighlights)
	fmt.Fprintf(&b, "Cited Notes: %d\n", s.CitedNotes)
	fmt.Fprintf(&b, "Uncited Notes: %d\n", s.UncitedNotes)
	fmt.Fprintf(&b, "Flagged Messages: %d\n", s.FlaggedMessages)
	return b.String()
}

func quoteLines(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n> ")
}

// ClipboardWriter is the host clipboard primitive.
type ClipboardWriter interface {
	WriteText(ctx context.Context, text string) error
}

// CopyToClipboard writes the clipboard rendering of snap to w. A rejected
// write is reported as ErrExportFailure and may be retried.
func CopyToClipboard(ctx context.Context, w ClipboardWriter, snap snapshot.Snapshot, opts ...Option) error {
	res, err := Render(snap, FormatClipboard, opts...)
	if err != nil {
		return err
	}
	if err := w.WriteText(ctx, string(res.Data)); err != nil {
		return fmt.Errorf("%w: clipboard write rejected: %w", ErrExportFailure, err)
	}
	return nil
}

// CommandClipboard writes through the first clipboard tool found on PATH.
type CommandClipboard struct{}

var clipboardCommands = [][]string{
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
	{"xsel", "--clipboard", "--input"},
	{"pbcopy"},
}

func (CommandClipboard) WriteText(ctx context.Context, text string) error {
	for _, argv := range clipboardCommands {
		if _, err := exec.LookPath(argv[0]); err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = strings.NewReader(text)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %v: %s", argv[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}
	return errors.New("no clipboard tool found")
}
