package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<section data-section-id="ind"><p>Indicated for <b>hypertension</b>.</p><p>Adults only.</p></section>` +
	`<section data-section-id="dos"><p>Take daily.</p></section>`

func TestParseAndRenderRoundTrip(t *testing.T) {
	doc, err := ParseString(sampleHTML)
	require.NoError(t, err)
	assert.Equal(t, sampleHTML, RenderString(doc))
}

func TestTextRunsAndPlainText(t *testing.T) {
	doc, err := ParseString(sampleHTML)
	require.NoError(t, err)

	sec := FindSection(doc, "ind")
	require.NotNil(t, sec)

	runs := TextRuns(sec)
	require.Len(t, runs, 4)
	assert.Equal(t, "Indicated for ", runs[0].Node.Text)
	assert.Equal(t, 0, runs[0].Start)
	assert.Equal(t, 14, runs[1].Start)
	assert.Equal(t, "hypertension", runs[1].Node.Text)
	assert.Equal(t, 26, runs[2].Start)

	assert.Equal(t, "Indicated for hypertension.Adults only.", PlainText(sec))
	n, ok := SectionLength(doc, "ind")
	assert.True(t, ok)
	assert.Equal(t, 39, n)

	_, ok = SectionLength(doc, "missing")
	assert.False(t, ok)
}

func TestOffsetsCountRunes(t *testing.T) {
	doc, err := ParseString(`<div data-section-id="s"><p>µg dose ≤ 5</p></div>`)
	require.NoError(t, err)
	n, _ := SectionLength(doc, "s")
	assert.Equal(t, 11, n)
	assert.Equal(t, "dose", SliceRunes(PlainText(FindSection(doc, "s")), 3, 7))
}

func TestNestedSectionsAreSeparate(t *testing.T) {
	doc, err := ParseString(`<div data-section-id="outer">ab<div data-section-id="inner">cd</div>ef</div>`)
	require.NoError(t, err)
	assert.Equal(t, "abef", PlainText(FindSection(doc, "outer")))
	assert.Equal(t, "cd", PlainText(FindSection(doc, "inner")))
	assert.Len(t, Sections(doc), 2)
}

func TestSectionOfAndPaths(t *testing.T) {
	doc, err := ParseString(sampleHTML)
	require.NoError(t, err)

	bold := FindSection(doc, "ind").Children[0].Children[1].Children[0]
	require.Equal(t, TextNode, bold.Kind)

	sec, id, ok := SectionOf(bold)
	require.True(t, ok)
	assert.Equal(t, "ind", id)
	assert.Same(t, FindSection(doc, "ind"), sec)

	path := Path(bold)
	assert.Equal(t, []int{0, 0, 1, 0}, path)
	got, err := Locate(doc, path)
	require.NoError(t, err)
	assert.Same(t, bold, got)

	_, err = Locate(doc, []int{0, 9})
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, _, ok = SectionOf(doc)
	assert.False(t, ok)
}

func TestFromSections(t *testing.T) {
	doc, err := FromSections([]Section{
		{ID: "1", Title: "INDICATIONS", ContentHTML: "<p>Use for <i>pain</i></p>"},
		{ID: "2", Title: "WARNINGS", Content: "a < b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Use for pain", PlainText(FindSection(doc, "1")))
	assert.Equal(t, "a < b", PlainText(FindSection(doc, "2")))
	assert.Contains(t, RenderString(doc), `a &lt; b`)
	title, _ := FindSection(doc, "1").Attr("data-section-title")
	assert.Equal(t, "INDICATIONS", title)
}

func TestTreeEditing(t *testing.T) {
	p := NewElement("p")
	a, b := NewText("a"), NewText("b")
	p.AppendChild(a)
	p.AppendChild(b)

	mark := NewElement("mark")
	a.ReplaceWith(mark)
	mark.AppendChild(a)
	assert.Equal(t, "<p><mark>a</mark>b</p>", RenderString(p))

	mark.Unwrap()
	assert.Equal(t, "<p>ab</p>", RenderString(p))
	assert.Len(t, p.Children, 2)

	p.InsertAt(1, NewText(""))
	Normalize(p)
	require.Len(t, p.Children, 1)
	assert.Equal(t, "ab", p.Children[0].Text)

	clone := p.Clone()
	clone.Children[0].Text = "changed"
	assert.Equal(t, "ab", p.Children[0].Text)
	assert.Nil(t, clone.Parent)
}
