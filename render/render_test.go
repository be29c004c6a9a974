package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/content"
	"github.com/foomo/confluence-markdown/service/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testExport(t *testing.T) *vo.Export {
	t.Helper()
	export, err := vo.NewExport("docs.zip", "", vo.Space{Key: "DOCS"}, []*vo.Page{
		{ID: "1", Title: "Home"},
		{ID: "2", Title: "Getting Started", ParentID: "1", Position: 1},
		{ID: "3", Title: "Installation Guide", ParentID: "2"},
		{ID: "4", Title: "Architecture Overview", ParentID: "1", Position: 2},
	})
	require.NoError(t, err)
	return export
}

func plainSettings() *config.Settings {
	s := config.Default()
	s.Content.IncludeFrontmatter = false
	return s
}

func renderBody(t *testing.T, s *config.Settings, pageID, body string) *Result {
	t.Helper()
	r, err := NewRenderer(s)
	require.NoError(t, err)
	export := testExport(t)
	page, ok := export.Page(pageID)
	require.True(t, ok)
	page.Body = body
	return r.Render(page, export)
}

func TestRenderBlocks(t *testing.T) {
	for name, tc := range map[string]struct {
		body string
		want string
	}{
		"effects": {
			body: `<p>Hello <strong>World </strong>and <em>you</em> <code>x</code> <s>old</s> <u>u</u> H<sub>2</sub>O<sup>n</sup></p>`,
			want: "Hello **World** and *you* `x` ~~old~~ <u>u</u> H<sub>2</sub>O<sup>n</sup>\n",
		},
		"lists": {
			body: `<ul><li>one</li><li>two</li></ul><ol><li>a</li><li>b</li></ol>`,
			want: "- one\n- two\n\n1. a\n2. b\n",
		},
		"quote": {
			body: `<blockquote>wise words</blockquote>`,
			want: "> wise words\n",
		},
		"code": {
			body: `<ac:structured-macro ac:name="code"><ac:parameter ac:name="language">go</ac:parameter><ac:plain-text-body><![CDATA[fmt.Println("hi")]]></ac:plain-text-body></ac:structured-macro>`,
			want: "```go\nfmt.Println(\"hi\")\n```\n",
		},
		"panel": {
			body: `<ac:structured-macro ac:name="info"><ac:rich-text-body><p>Read this</p></ac:rich-text-body></ac:structured-macro>`,
			want: "> **Info:** Read this\n",
		},
		"custom panel": {
			body: `<div class="panel"><div class="panelContent"><p>Boxed</p></div></div>`,
			want: "> **panel:** Boxed\n",
		},
		"expand": {
			body: `<ac:structured-macro ac:name="expand"><ac:parameter ac:name="title">More</ac:parameter><ac:rich-text-body><p>Hidden</p></ac:rich-text-body></ac:structured-macro>`,
			want: "<details>\n<summary>More</summary>\n\nHidden\n\n</details>\n",
		},
		"expand without title": {
			body: `<ac:structured-macro ac:name="expand"><ac:rich-text-body><p>Hidden</p></ac:rich-text-body></ac:structured-macro>`,
			want: "<details>\n<summary>Details</summary>\n\nHidden\n\n</details>\n",
		},
		"image": {
			body: `<p><img src="diagram.png" alt="Diagram"></p>`,
			want: "![Diagram](diagram.png)\n",
		},
		"external link": {
			body: `<p><a href="https://example.com">Example</a></p>`,
			want: "[Example](https://example.com)\n",
		},
	} {
		t.Run(name, func(t *testing.T) {
			res := renderBody(t, plainSettings(), "1", tc.body)
			assert.Equal(t, tc.want, string(res.Markdown))
			assert.Empty(t, res.Warnings)
		})
	}
}

func TestRenderHeadingLevelCap(t *testing.T) {
	s := plainSettings()
	s.Output.MaxHeadingLevel = 2
	res := renderBody(t, s, "1", `<h1>Top</h1><h4>Deep</h4>`)
	assert.Equal(t, "# Top\n\n## Deep\n", string(res.Markdown))
}

func TestRenderTableIsGFM(t *testing.T) {
	res := renderBody(t, plainSettings(), "1", `<table><tr><th>a</th><th>b</th></tr><tr><td>1</td><td>x|y</td></tr></table>`)
	assert.Equal(t, "| a | b |\n| --- | --- |\n| 1 | x\\|y |\n", string(res.Markdown))

	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	require.NoError(t, md.Convert([]byte(res.Markdown), &buf))
	assert.Contains(t, buf.String(), "<table>")
	assert.Contains(t, buf.String(), "<th>a</th>")
}

func TestRenderEmptyBody(t *testing.T) {
	res := renderBody(t, plainSettings(), "1", "  \n")
	assert.Equal(t, vo.Markdown(""), res.Markdown)

	res = renderBody(t, config.Default(), "1", "")
	assert.Equal(t, "---\ntitle: Home\n---\n", string(res.Markdown))
}

func TestRenderSectionExclusion(t *testing.T) {
	s := plainSettings()
	s.ExcludeSections = []string{"**/Change Log"}
	res := renderBody(t, s, "1", `<h1>Intro</h1><p>Welcome</p>`+
		`<h2>Change Log</h2><p>v1 fixed</p><h3>Older</h3><p>v0</p>`+
		`<h2>Usage</h2><p>Run it</p>`)
	assert.Equal(t, "# Intro\n\nWelcome\n\n## Usage\n\nRun it\n", string(res.Markdown))
	assert.Equal(t, []string{"Intro/Change Log"}, res.SkippedSections)
}

func TestRenderSectionExclusionEndsAtSameLevel(t *testing.T) {
	s := plainSettings()
	s.ExcludeSections = []string{"Internal*"}
	res := renderBody(t, s, "1", `<h1>Internal notes</h1><p>secret</p><h1>Public</h1><p>hello</p><h1>Internal again</h1>`)
	assert.Equal(t, "# Public\n\nhello\n", string(res.Markdown))
	assert.Equal(t, []string{"Internal notes", "Internal again"}, res.SkippedSections)
}

func TestRenderUnknownMacro(t *testing.T) {
	body := `<div data-macro-name="jira">ABC-1: Fix login</div>`
	for mode, want := range map[string]string{
		config.UnknownMacroComment:      "<!-- Unknown macro: jira -->\nABC-1: Fix login\n",
		config.UnknownMacroStrip:        "",
		config.UnknownMacroPreserveText: "ABC-1: Fix login\n",
	} {
		t.Run(mode, func(t *testing.T) {
			s := plainSettings()
			s.Content.UnknownMacroHandling = mode
			res := renderBody(t, s, "1", body)
			assert.Equal(t, want, string(res.Markdown))
			assert.Equal(t, []string{"jira"}, res.UnknownMacros)
		})
	}
}

func TestRenderInternalLinks(t *testing.T) {
	res := renderBody(t, plainSettings(), "3", `<p>See <a href="4.html">the overview</a>.</p>`)
	assert.Equal(t, "See [the overview](../architecture-overview.md).\n", string(res.Markdown))
	assert.Empty(t, res.Warnings)

	// storage links carry the title only and count as missing by default
	body := `<p><ac:link><ri:page ri:content-title="Architecture Overview" /></ac:link></p>`
	res = renderBody(t, plainSettings(), "2", body)
	assert.Equal(t, "<!-- Link to missing page: Architecture Overview -->[Architecture Overview]\n", string(res.Markdown))
	assert.Equal(t, []string{"Link target not found: Architecture Overview"}, res.Warnings)

	s := plainSettings()
	s.Content.Links.ResolveTitles = true
	res = renderBody(t, s, "2", body)
	assert.Equal(t, "[Architecture Overview](architecture-overview.md)\n", string(res.Markdown))
	assert.Empty(t, res.Warnings)
}

func TestRenderTitleOnlyLinks(t *testing.T) {
	s := plainSettings()
	s.Content.Links.InternalLinkStyle = config.LinkStyleTitleOnly
	res := renderBody(t, s, "2", `<p><ac:link><ri:page ri:content-title="Architecture Overview" /><ac:plain-text-link-body><![CDATA[read]]></ac:plain-text-link-body></ac:link></p>`)
	assert.Equal(t, "[Architecture Overview]\n", string(res.Markdown))
}

func TestRenderMissingLinks(t *testing.T) {
	body := `<p><a href="99.html">Gone</a></p>`
	for mode, want := range map[string]string{
		config.MissingLinkComment:  "<!-- Link to missing page: Gone -->[Gone]\n",
		config.MissingLinkStrip:    "Gone\n",
		config.MissingLinkPreserve: "[Gone]\n",
	} {
		t.Run(mode, func(t *testing.T) {
			s := plainSettings()
			s.Content.Links.MissingPageLinks = mode
			res := renderBody(t, s, "1", body)
			assert.Equal(t, want, string(res.Markdown))
			assert.Equal(t, []string{"Link target not found: Gone"}, res.Warnings)
		})
	}
}

func TestRelativePath(t *testing.T) {
	for name, tc := range map[string]struct {
		from  []string
		to    []string
		style string
		want  string
	}{
		"sibling of parent": {
			from: []string{"Home", "Getting Started"}, to: []string{"Home", "Architecture Overview"},
			style: config.FilenameStyleSlugify, want: "../architecture-overview.md",
		},
		"sibling": {
			from: []string{"Home"}, to: []string{"Home", "Architecture Overview"},
			style: config.FilenameStyleSlugify, want: "architecture-overview.md",
		},
		"ancestor": {
			from: []string{"Home", "Getting Started"}, to: []string{"Home"},
			style: config.FilenameStyleSlugify, want: "../../home.md",
		},
		"descendant": {
			from: []string{}, to: []string{"Home", "Getting Started", "Installation Guide"},
			style: config.FilenameStyleSlugify, want: "Home/Getting Started/installation-guide.md",
		},
		"preserve": {
			from: []string{"Home"}, to: []string{"Home", "Architecture Overview"},
			style: config.FilenameStylePreserve, want: "Architecture Overview.md",
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, RelativePath(tc.from, tc.to, tc.style))
		})
	}
}

func TestRelativeLinkFlatLayout(t *testing.T) {
	s := plainSettings()
	s.Output.Layout = config.LayoutFlat
	res := renderBody(t, s, "3", `<p><a href="4.html">x</a></p>`)
	assert.Equal(t, "[x](architecture-overview.md)\n", string(res.Markdown))
}

func TestRenderFrontmatter(t *testing.T) {
	s := config.Default()
	s.Content.FrontmatterFields = []string{config.FieldTitle, config.FieldCreatedDate, config.FieldLabels}
	r, err := NewRenderer(s)
	require.NoError(t, err)

	export := testExport(t)
	page, _ := export.Page("4")
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	page.Created = &created
	page.Labels = []string{"architecture", "draft"}
	page.Body = `<h1>Overview</h1>`

	res := r.Render(page, export)
	var fm Frontmatter
	rest, err := frontmatter.Parse(strings.NewReader(string(res.Markdown)), &fm)
	require.NoError(t, err)
	assert.Equal(t, "Architecture Overview", fm.Title)
	assert.Equal(t, "2024-01-15T10:00:00Z", fm.CreatedDate)
	assert.Empty(t, fm.ModifiedDate)
	assert.Equal(t, []string{"architecture", "draft"}, fm.Labels)
	assert.Equal(t, "# Overview", strings.TrimSpace(string(rest)))
	assert.Equal(t, &fm, res.Frontmatter)
}

type failingParser struct{}

func (failingParser) Parse(string) (*content.Fragment, error) {
	return nil, errors.New("boom")
}

func TestRenderParseFallback(t *testing.T) {
	body := `<p><strong>bold</strong></p>`

	r, err := NewRenderer(plainSettings(), WithParser(failingParser{}))
	require.NoError(t, err)
	page := &vo.Page{ID: "1", Title: "Home", Body: body}
	res := r.Render(page, nil)
	assert.Equal(t, "<!-- Parse error: boom -->\n\n"+body+"\n", string(res.Markdown))
	assert.Equal(t, []string{"Parse error: boom"}, res.Warnings)

	s := plainSettings()
	s.Content.ParseFallback = config.ParseFallbackConvert
	r, err = NewRenderer(s, WithParser(failingParser{}))
	require.NoError(t, err)
	res = r.Render(page, nil)
	assert.Equal(t, "**bold**\n", string(res.Markdown))
	assert.Equal(t, []string{"Parse error: boom"}, res.Warnings)
}

func TestRenderMalformedBody(t *testing.T) {
	res := renderBody(t, plainSettings(), "1", "<p>\xff</p>")
	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "Parse error:"))
	assert.True(t, strings.HasPrefix(string(res.Markdown), "<!-- Parse error:"))
}

func TestRenderDebugDump(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r, err := NewRenderer(plainSettings(), WithLogger(zap.New(core)))
	require.NoError(t, err)
	export := testExport(t)
	page, _ := export.Page("1")
	page.Body = `<h2>Setup</h2><p>run it</p>`
	r.Render(page, export)

	entries := logs.FilterMessage("parsed page body").All()
	require.Len(t, entries, 1)
	tree := entries[0].ContextMap()["tree"].(string)
	assert.Contains(t, tree, "content.Heading")
	assert.Contains(t, tree, "Setup")

	// nothing is dumped above debug level
	core, logs = observer.New(zap.InfoLevel)
	r, err = NewRenderer(plainSettings(), WithLogger(zap.New(core)))
	require.NoError(t, err)
	r.Render(page, export)
	assert.Zero(t, logs.FilterMessage("parsed page body").Len())
}

func TestSlugify(t *testing.T) {
	for in, want := range map[string]string{
		"Architecture Overview": "architecture-overview",
		"  Q&A: FAQ / Help  ":   "qa-faq-help",
		"snake_case__title":     "snake-case-title",
		"Über Größe":            "über-größe",
		"---":                   "",
	} {
		assert.Equal(t, want, Slugify(in), in)
	}
	assert.Equal(t, "untitled.md", Filename("???", config.FilenameStyleSlugify))
	assert.Equal(t, "A-B.md", Filename("A/B", config.FilenameStylePreserve))
}

func TestOutputPath(t *testing.T) {
	export := testExport(t)
	page, _ := export.Page("3")

	r, err := NewRenderer(plainSettings())
	require.NoError(t, err)
	assert.Equal(t, "docs/Home/Getting Started/installation-guide.md", r.OutputPath(export, page))

	s := plainSettings()
	s.Output.Layout = config.LayoutFlat
	s.Output.FilenameStyle = config.FilenameStylePreserve
	r, err = NewRenderer(s)
	require.NoError(t, err)
	assert.Equal(t, "docs/Installation Guide.md", r.OutputPath(export, page))
}
