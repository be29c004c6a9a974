package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, body string) []Node {
	t.Helper()
	doc, err := NewParser().Parse(body)
	require.NoError(t, err)
	return doc.Children
}

func TestParseHeadingsAndParagraphs(t *testing.T) {
	nodes := parse(t, `<div id="main-content"><h1>Intro</h1>
		<p>Hello <strong>World</strong></p></div>`)
	assert.Equal(t, []Node{
		&Heading{Level: 1, Children: []Node{&Text{Text: "Intro"}}},
		&Paragraph{Children: []Node{
			&Text{Text: "Hello "},
			&Effect{Kind: EffectStrong, Children: []Node{&Text{Text: "World"}}},
		}},
	}, nodes)
}

func TestParseLooseInlineBecomesParagraph(t *testing.T) {
	nodes := parse(t, `plain <em>text</em><h2>Next</h2>`)
	require.Len(t, nodes, 2)
	p, ok := nodes[0].(*Paragraph)
	require.True(t, ok)
	assert.Equal(t, "plain text", FlattenText(p))
}

func TestParseStorageLink(t *testing.T) {
	nodes := parse(t, `<p><ac:link><ri:page ri:content-title="Architecture Overview" /><ac:plain-text-link-body><![CDATA[arch]]></ac:plain-text-link-body></ac:link></p>`)
	require.Len(t, nodes, 1)
	p := nodes[0].(*Paragraph)
	require.Len(t, p.Children, 1)
	link, ok := p.Children[0].(*Link)
	require.True(t, ok)
	assert.True(t, link.Internal())
	assert.Equal(t, "Architecture Overview", link.PageTitle)
	assert.Equal(t, "arch", FlattenText(link))
}

func TestParseExportLinks(t *testing.T) {
	nodes := parse(t, `<p><a href="Architecture-Overview_65541.html">arch</a> and <a href="https://example.com">ext</a></p>`)
	p := nodes[0].(*Paragraph)
	internal := p.Children[0].(*Link)
	assert.Equal(t, "65541", internal.PageID)
	assert.Empty(t, internal.Href)
	external := p.Children[2].(*Link)
	assert.False(t, external.Internal())
	assert.Equal(t, "https://example.com", external.Href)
}

func TestPageIDFromHref(t *testing.T) {
	for href, want := range map[string]string{
		"Architecture-Overview_65541.html":   "65541",
		"65541.html":                         "65541",
		"65541.html#section":                 "65541",
		"/pages/viewpage.action?pageId=42":   "42",
		"https://example.com/page_1.html":    "",
		"attachments/1/2.png":                "",
		"":                                   "",
	} {
		assert.Equal(t, want, PageIDFromHref(href), href)
	}
}

func TestParseCodeMacro(t *testing.T) {
	nodes := parse(t, `<ac:structured-macro ac:name="code"><ac:parameter ac:name="language">go</ac:parameter><ac:plain-text-body><![CDATA[fmt.Println("hi")]]></ac:plain-text-body></ac:structured-macro>`)
	assert.Equal(t, []Node{&CodeBlock{Language: "go", Text: `fmt.Println("hi")`}}, nodes)
}

func TestParseExportCodeBlock(t *testing.T) {
	nodes := parse(t, `<div class="code panel pdl"><div class="codeContent panelContent pdl"><pre class="syntaxhighlighter-pre" data-syntaxhighlighter-params="brush: java; gutter: false">int x = 1;
</pre></div></div>`)
	assert.Equal(t, []Node{&CodeBlock{Language: "java", Text: "int x = 1;"}}, nodes)
}

func TestParsePanels(t *testing.T) {
	nodes := parse(t, `<div class="confluence-information-macro confluence-information-macro-warning"><div class="confluence-information-macro-body"><p>Careful</p></div></div>`+
		`<ac:structured-macro ac:name="tip"><ac:rich-text-body><p>Hint</p></ac:rich-text-body></ac:structured-macro>`)
	require.Len(t, nodes, 2)
	assert.Equal(t, &Panel{Kind: "warning", Children: []Node{&Paragraph{Children: []Node{&Text{Text: "Careful"}}}}}, nodes[0])
	assert.Equal(t, &Panel{Kind: "tip", Children: []Node{&Paragraph{Children: []Node{&Text{Text: "Hint"}}}}}, nodes[1])
}

func TestParseExpand(t *testing.T) {
	nodes := parse(t, `<ac:structured-macro ac:name="expand"><ac:parameter ac:name="title">More</ac:parameter><ac:rich-text-body><p>hidden</p></ac:rich-text-body></ac:structured-macro>`)
	require.Len(t, nodes, 1)
	expand := nodes[0].(*Expand)
	assert.Equal(t, "More", expand.Title)
	assert.Equal(t, "hidden", FlattenText(expand))
}

func TestParseUnknownMacro(t *testing.T) {
	nodes := parse(t, `<ac:structured-macro ac:name="jira"><ac:parameter ac:name="key">ABC-1</ac:parameter><ac:rich-text-body><p>ticket</p></ac:rich-text-body></ac:structured-macro>`)
	require.Len(t, nodes, 1)
	macro := nodes[0].(*Macro)
	assert.Equal(t, "jira", macro.Name)
	assert.Equal(t, "ticket", FlattenText(macro))
}

func TestParseListsAndTables(t *testing.T) {
	nodes := parse(t, `<ol><li>one</li><li>two <ul><li>nested</li></ul></li></ol>
		<table><tbody><tr><th>A</th><th>B</th></tr><tr><td>1</td><td>2</td></tr></tbody></table>`)
	require.Len(t, nodes, 2)

	list := nodes[0].(*List)
	assert.True(t, list.Ordered)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "one", ItemText(list.Items[0]))
	assert.Equal(t, "two nested", ItemText(list.Items[1]))

	table := nodes[1].(*Table)
	require.Len(t, table.Rows, 2)
	assert.True(t, table.Rows[0].Cells[0].Header)
	assert.Equal(t, "2", CellText(table.Rows[1].Cells[1]))
}

func TestParseImages(t *testing.T) {
	nodes := parse(t, `<p><img alt="diagram" src="attachments/1/diagram.png"></p><ac:image ac:alt="logo"><ri:attachment ri:filename="logo.png" /></ac:image>`)
	require.Len(t, nodes, 2)
	assert.Equal(t, &Paragraph{Children: []Node{&Image{Alt: "diagram", Source: "attachments/1/diagram.png"}}}, nodes[0])
	assert.Equal(t, &Paragraph{Children: []Node{&Image{Alt: "logo", Source: "logo.png"}}}, nodes[1])
}

func TestParseMalformed(t *testing.T) {
	_, err := NewParser().Parse("<p>\xff\xfe</p>")
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestFlattenText(t *testing.T) {
	node := &Fragment{Children: []Node{
		&Heading{Level: 2, Children: []Node{&Text{Text: "A"}}},
		&Effect{Kind: EffectStrong, Children: []Node{&Text{Text: "B"}}},
		&Link{Href: "x", Children: []Node{&Text{Text: "C"}}},
		&Image{Alt: "ignored", Source: "img.png"},
	}}
	assert.Equal(t, "ABC", FlattenText(node))
}
