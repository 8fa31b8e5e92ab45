// Package selection maps a text selection inside rendered label content to
// offsets into one section's plain text, independent of the markup.
package selection

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"labelscope/api/internal/content"
)

var ErrInvalidSelection = errors.New("invalid selection")

var (
	ErrOutsideSection = fmt.Errorf("%w: not inside a section", ErrInvalidSelection)
	ErrCrossSection   = fmt.Errorf("%w: selection crosses a section boundary", ErrInvalidSelection)
	ErrCollapsed      = fmt.Errorf("%w: selection is empty", ErrInvalidSelection)
	ErrUnresolvable   = fmt.Errorf("%w: selection cannot be mapped to offsets", ErrInvalidSelection)
)

// Rect is the last known on-screen box of a selection. Advisory only.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Boundary is a DOM-style position: on a text node Offset counts runes, on an
// element it counts children.
type Boundary struct {
	Node   *content.Node
	Offset int
}

type Selection struct {
	Anchor Boundary
	Focus  Boundary
	Rect   *Rect
}

// WireBoundary addresses a node by its child-index path from a root node.
type WireBoundary struct {
	Path   []int `json:"path"`
	Offset int   `json:"offset"`
}

// WireSelection is a selection sent by a client. With SectionID set, paths
// start at that section as served by the render endpoint, marks included.
// Without it they start at the unmarked document root.
type WireSelection struct {
	SectionID string       `json:"sectionId,omitempty"`
	Anchor    WireBoundary `json:"anchor"`
	Focus     WireBoundary `json:"focus"`
	Rect      *Rect        `json:"rect,omitempty"`
}

type Range struct {
	SectionID   string `json:"sectionId"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Text        string `json:"text"`
	Rect        *Rect  `json:"rect,omitempty"`
}

// Resolve maps sel to a section range. Backward selections are normalised.
func Resolve(sel Selection) (Range, error) {
	if sel.Anchor.Node == nil || sel.Focus.Node == nil {
		return Range{}, ErrUnresolvable
	}
	anchorSec, anchorID, ok := content.SectionOf(sel.Anchor.Node)
	if !ok {
		return Range{}, ErrOutsideSection
	}
	focusSec, focusID, ok := content.SectionOf(sel.Focus.Node)
	if !ok {
		return Range{}, ErrOutsideSection
	}
	if anchorSec != focusSec || anchorID != focusID {
		return Range{}, ErrCrossSection
	}

	start, ok := position(anchorSec, sel.Anchor)
	if !ok {
		return Range{}, ErrUnresolvable
	}
	end, ok := position(anchorSec, sel.Focus)
	if !ok {
		return Range{}, ErrUnresolvable
	}
	if start > end {
		start, end = end, start
	}
	if start == end {
		return Range{}, ErrCollapsed
	}

	return Range{
		SectionID:   anchorID,
		StartOffset: start,
		EndOffset:   end,
		Text:        content.SliceRunes(content.PlainText(anchorSec), start, end),
		Rect:        sel.Rect,
	}, nil
}

// ResolveWire locates both boundaries below root and resolves the selection.
// root is the document, or the section element when sel.SectionID is set.
func ResolveWire(root *content.Node, sel WireSelection) (Range, error) {
	anchor, err := content.Locate(root, sel.Anchor.Path)
	if err != nil {
		return Range{}, ErrUnresolvable
	}
	focus, err := content.Locate(root, sel.Focus.Path)
	if err != nil {
		return Range{}, ErrUnresolvable
	}
	return Resolve(Selection{
		Anchor: Boundary{Node: anchor, Offset: sel.Anchor.Offset},
		Focus:  Boundary{Node: focus, Offset: sel.Focus.Offset},
		Rect:   sel.Rect,
	})
}

// position walks section in document order with a running rune offset until
// it reaches b.
func position(section *content.Node, b Boundary) (int, bool) {
	switch b.Node.Kind {
	case content.TextNode:
		if b.Offset < 0 || b.Offset > utf8.RuneCountInString(b.Node.Text) {
			return 0, false
		}
	case content.ElementNode, content.DocumentNode:
		if b.Offset < 0 || b.Offset > len(b.Node.Children) {
			return 0, false
		}
	}

	offset := 0
	result := -1
	var visit func(n *content.Node) bool
	visit = func(n *content.Node) bool {
		if n != section {
			if _, nested := n.SectionID(); nested {
				return false
			}
		}
		if n == b.Node {
			if n.Kind == content.TextNode {
				result = offset + b.Offset
				return true
			}
			for i, c := range n.Children {
				if i == b.Offset {
					result = offset
					return true
				}
				visit(c)
			}
			result = offset
			return true
		}
		if n.Kind == content.TextNode {
			offset += utf8.RuneCountInString(n.Text)
			return false
		}
		for _, c := range n.Children {
			if visit(c) {
				return true
			}
		}
		return false
	}
	visit(section)
	return result, result >= 0
}
