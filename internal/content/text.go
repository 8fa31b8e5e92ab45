package content

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPath is returned by Locate for an index out of range.
var ErrInvalidPath = errors.New("content: path does not address a node")

// TextRun is one text node of a section with its running offset. Start and
// Len are counted in runes.
type TextRun struct {
	Node  *Node
	Start int
	Len   int
}

// End is the offset just past the run.
func (r TextRun) End() int { return r.Start + r.Len }

// TextRuns lists the text nodes under root in document order. Nested
// sections belong to themselves and are skipped.
func TextRuns(root *Node) []TextRun {
	var runs []TextRun
	offset := 0
	Walk(root, func(n *Node) bool {
		if n != root {
			if _, ok := n.SectionID(); ok {
				return false
			}
		}
		if n.Kind == TextNode {
			l := utf8.RuneCountInString(n.Text)
			runs = append(runs, TextRun{Node: n, Start: offset, Len: l})
			offset += l
		}
		return true
	})
	return runs
}

// PlainText concatenates the text runs of root.
func PlainText(root *Node) string {
	var b strings.Builder
	for _, r := range TextRuns(root) {
		b.WriteString(r.Node.Text)
	}
	return b.String()
}

// TextLength is the rune length of PlainText(root).
func TextLength(root *Node) int {
	runs := TextRuns(root)
	if len(runs) == 0 {
		return 0
	}
	return runs[len(runs)-1].End()
}

// Sections returns every section root under doc in document order.
func Sections(doc *Node) []*Node {
	var out []*Node
	Walk(doc, func(n *Node) bool {
		if _, ok := n.SectionID(); ok {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FindSection returns the section of doc marked id, or nil.
func FindSection(doc *Node, id string) *Node {
	var found *Node
	Walk(doc, func(n *Node) bool {
		if found != nil {
			return false
		}
		if sid, ok := n.SectionID(); ok && sid == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// SectionOf returns the nearest ancestor-or-self carrying the section marker.
func SectionOf(n *Node) (*Node, string, bool) {
	for cur := n; cur != nil; cur = cur.Parent {
		if id, ok := cur.SectionID(); ok {
			return cur, id, true
		}
	}
	return nil, "", false
}

// SectionLength reports the plain-text length of section id within doc.
func SectionLength(doc *Node, id string) (int, bool) {
	sec := FindSection(doc, id)
	if sec == nil {
		return 0, false
	}
	return TextLength(sec), true
}

// Path addresses n as child indexes from the topmost ancestor.
func Path(n *Node) []int {
	var path []int
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		path = append(path, cur.Parent.IndexOf(cur))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Locate follows path down from root. It is the inverse of Path.
func Locate(root *Node, path []int) (*Node, error) {
	cur := root
	for _, i := range path {
		if i < 0 || i >= len(cur.Children) {
			return nil, ErrInvalidPath
		}
		cur = cur.Children[i]
	}
	return cur, nil
}

// SliceRunes returns s[start:end] measured in runes, clamped to s.
func SliceRunes(s string, start, end int) string {
	r := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}
