package content

// SectionAttr marks the root element of a label section.
const SectionAttr = "data-section-id"

// Kind tells document, element and text nodes apart.
type Kind int

const (
	DocumentNode Kind = iota
	ElementNode
	TextNode
)

// Attr is one element attribute. Attribute order is preserved.
type Attr struct {
	Key string
	Val string
}

// Node is a minimal ordered tree of label content. Offsets into a section are
// computed over its text nodes in document order.
type Node struct {
	Kind     Kind
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
	Parent   *Node
}

// NewDocument returns an empty document root.
func NewDocument() *Node {
	return &Node{Kind: DocumentNode}
}

// NewElement returns a detached element.
func NewElement(tag string, attrs ...Attr) *Node {
	return &Node{Kind: ElementNode, Tag: tag, Attrs: attrs}
}

// NewText returns a detached text node.
func NewText(text string) *Node {
	return &Node{Kind: TextNode, Text: text}
}

// Attr looks up an attribute by key.
func (n *Node) Attr(key string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr overwrites key or appends it.
func (n *Node) SetAttr(key, val string) {
	for i, a := range n.Attrs {
		if a.Key == key {
			n.Attrs[i].Val = val
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: key, Val: val})
}

// SectionID returns the section marker of an element, if any.
func (n *Node) SectionID() (string, bool) {
	if n == nil || n.Kind != ElementNode {
		return "", false
	}
	return n.Attr(SectionAttr)
}

// AppendChild moves c to the end of n's children.
func (n *Node) AppendChild(c *Node) {
	if c.Parent != nil {
		c.Parent.RemoveChild(c)
	}
	c.Parent = n
	n.Children = append(n.Children, c)
}

// InsertAt inserts c at child index i, clamped to the valid range.
func (n *Node) InsertAt(i int, c *Node) {
	if c.Parent != nil {
		c.Parent.RemoveChild(c)
	}
	if i < 0 {
		i = 0
	}
	if i > len(n.Children) {
		i = len(n.Children)
	}
	c.Parent = n
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
}

// RemoveChild detaches c. It is a no-op when c is not a child of n.
func (n *Node) RemoveChild(c *Node) {
	i := n.IndexOf(c)
	if i < 0 {
		return
	}
	n.Children = append(n.Children[:i], n.Children[i+1:]...)
	c.Parent = nil
}

// IndexOf is the child index of c, or -1.
func (n *Node) IndexOf(c *Node) int {
	for i, child := range n.Children {
		if child == c {
			return i
		}
	}
	return -1
}

// ReplaceWith puts nodes in place of n within its parent.
func (n *Node) ReplaceWith(nodes ...*Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	i := parent.IndexOf(n)
	parent.RemoveChild(n)
	for j, r := range nodes {
		parent.InsertAt(i+j, r)
	}
}

// Unwrap replaces n by its children.
func (n *Node) Unwrap() {
	children := append([]*Node(nil), n.Children...)
	for _, c := range children {
		c.Parent = nil
	}
	n.Children = nil
	n.ReplaceWith(children...)
}

// Clone deep-copies the subtree rooted at n. The copy has no parent.
func (n *Node) Clone() *Node {
	c := &Node{Kind: n.Kind, Tag: n.Tag, Text: n.Text}
	if len(n.Attrs) > 0 {
		c.Attrs = append([]Attr(nil), n.Attrs...)
	}
	for _, child := range n.Children {
		cc := child.Clone()
		cc.Parent = c
		c.Children = append(c.Children, cc)
	}
	return c
}

// Walk visits n and its descendants in document order until fn returns false
// for a node, which skips that node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Normalize merges adjacent text nodes and drops empty ones below n.
func Normalize(n *Node) {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == TextNode {
			if c.Text == "" {
				c.Parent = nil
				continue
			}
			if len(out) > 0 && out[len(out)-1].Kind == TextNode {
				out[len(out)-1].Text += c.Text
				c.Parent = nil
				continue
			}
		} else {
			Normalize(c)
		}
		out = append(out, c)
	}
	n.Children = out
}
