package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Section is one titled subdivision of a drug label as served by the label
// service.
type Section struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHTML string `json:"content_html"`
}

// ParseHTML parses an HTML fragment into a document node. Comments and
// doctype nodes are dropped.
func ParseHTML(r io.Reader) (*Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(r, body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := NewDocument()
	for _, hn := range nodes {
		if c := fromHTML(hn); c != nil {
			doc.AppendChild(c)
		}
	}
	return doc, nil
}

// ParseString is ParseHTML over a string.
func ParseString(s string) (*Node, error) {
	return ParseHTML(strings.NewReader(s))
}

// FromSections builds a document holding one <section data-section-id=…>
// element per label section. HTML content is preferred over plain content.
func FromSections(sections []Section) (*Node, error) {
	doc := NewDocument()
	for _, s := range sections {
		el := NewElement("section", Attr{Key: SectionAttr, Val: s.ID})
		if s.Title != "" {
			el.SetAttr("data-section-title", s.Title)
		}
		if strings.TrimSpace(s.ContentHTML) != "" {
			frag, err := ParseString(s.ContentHTML)
			if err != nil {
				return nil, fmt.Errorf("section %s: %w", s.ID, err)
			}
			for _, c := range append([]*Node(nil), frag.Children...) {
				el.AppendChild(c)
			}
		} else if s.Content != "" {
			el.AppendChild(NewText(s.Content))
		}
		doc.AppendChild(el)
	}
	return doc, nil
}

func fromHTML(hn *html.Node) *Node {
	var n *Node
	switch hn.Type {
	case html.TextNode:
		return NewText(hn.Data)
	case html.ElementNode:
		n = NewElement(hn.Data)
		for _, a := range hn.Attr {
			n.Attrs = append(n.Attrs, Attr{Key: a.Key, Val: a.Val})
		}
	case html.DocumentNode:
		n = NewDocument()
	default:
		return nil
	}
	for c := hn.FirstChild; c != nil; c = c.NextSibling {
		if cc := fromHTML(c); cc != nil {
			n.AppendChild(cc)
		}
	}
	return n
}

func toHTML(n *Node) *html.Node {
	var hn *html.Node
	switch n.Kind {
	case TextNode:
		return &html.Node{Type: html.TextNode, Data: n.Text}
	case ElementNode:
		hn = &html.Node{Type: html.ElementNode, Data: n.Tag, DataAtom: atom.Lookup([]byte(n.Tag))}
		for _, a := range n.Attrs {
			hn.Attr = append(hn.Attr, html.Attribute{Key: a.Key, Val: a.Val})
		}
	default:
		hn = &html.Node{Type: html.DocumentNode}
	}
	for _, c := range n.Children {
		hn.AppendChild(toHTML(c))
	}
	return hn
}

// Render writes n as HTML. Document nodes render their children only.
func Render(w io.Writer, n *Node) error {
	if n.Kind == DocumentNode {
		for _, c := range n.Children {
			if err := html.Render(w, toHTML(c)); err != nil {
				return err
			}
		}
		return nil
	}
	return html.Render(w, toHTML(n))
}

// RenderString is Render into a string. It returns "" if rendering fails.
func RenderString(n *Node) string {
	var buf bytes.Buffer
	if err := Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// InnerHTML renders the children of n.
func InnerHTML(n *Node) string {
	var buf bytes.Buffer
	for _, c := range n.Children {
		if err := html.Render(&buf, toHTML(c)); err != nil {
			return ""
		}
	}
	return buf.String()
}
