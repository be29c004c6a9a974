// Package render turns a parsed page body into Markdown. It applies section
// exclusion, resolves page links relative to the page's location and adds
// the frontmatter block.
package render

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/content"
	"github.com/foomo/confluence-markdown/service/vo"
	"go.uber.org/zap"
)

type Result struct {
	Markdown        vo.Markdown
	Frontmatter     *Frontmatter
	Warnings        []string
	SkippedSections []string
	UnknownMacros   []string
}

type Renderer struct {
	settings *config.Settings
	parser   content.Parser
	sections Patterns
	l        *zap.Logger
}

type Option func(r *Renderer)

func WithParser(parser content.Parser) Option {
	return func(r *Renderer) {
		r.parser = parser
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) {
		r.l = l
	}
}

func NewRenderer(settings *config.Settings, opts ...Option) (*Renderer, error) {
	sections, err := CompilePatterns(settings.ExcludeSections)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		settings: settings,
		parser:   content.NewParser(),
		sections: sections,
		l:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// page scoped state collected while rendering one document
type pageContext struct {
	page     *vo.Page
	export   *vo.Export
	warnings []string
	skipped  []string
	macros   []string
}

func (c *pageContext) warn(format string, a ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, a...))
}

// Render converts the body of page, which must belong to export. It never
// fails: parse errors degrade to a fallback body and a warning.
func (r *Renderer) Render(page *vo.Page, export *vo.Export) *Result {
	ctx := &pageContext{page: page, export: export}
	body := r.body(ctx)

	fm := buildFrontmatter(page, r.settings)
	out := body
	if !fm.empty() {
		block, err := fm.Marshal()
		if err != nil {
			ctx.warn("Frontmatter error: %v", err)
		} else {
			out = block + "\n" + body
		}
	}
	if out = strings.TrimSpace(out); out != "" {
		out += "\n"
	}
	return &Result{
		Markdown:        vo.Markdown(out),
		Frontmatter:     fm,
		Warnings:        ctx.warnings,
		SkippedSections: ctx.skipped,
		UnknownMacros:   ctx.macros,
	}
}

func (r *Renderer) body(ctx *pageContext) string {
	if strings.TrimSpace(ctx.page.Body) == "" {
		return ""
	}
	doc, err := r.parser.Parse(ctx.page.Body)
	if err != nil {
		ctx.warn("Parse error: %v", err)
		r.l.Warn("failed to parse page body",
			zap.String("page", ctx.page.ID),
			zap.String("title", ctx.page.Title),
			zap.Error(err),
		)
		return r.fallback(ctx.page.Body, err)
	}
	if ce := r.l.Check(zap.DebugLevel, "parsed page body"); ce != nil {
		ce.Write(zap.String("page", ctx.page.ID), zap.String("tree", spew.Sdump(doc)))
	}
	return r.document(doc, ctx)
}

func (r *Renderer) fallback(body string, err error) string {
	if r.settings.Content.ParseFallback == config.ParseFallbackConvert {
		markdown, convErr := htmltomarkdown.ConvertString(body)
		if convErr == nil {
			return markdown
		}
		r.l.Debug("html to markdown fallback failed", zap.Error(convErr))
	}
	return fmt.Sprintf("<!-- Parse error: %v -->\n\n%s", err, body)
}

// document renders the top level blocks and drops the ones that fall into
// an excluded section.
func (r *Renderer) document(doc *content.Fragment, ctx *pageContext) string {
	filter := &sectionFilter{patterns: r.sections}
	parts := make([]string, 0, len(doc.Children))
	for _, child := range doc.Children {
		if heading, ok := child.(*content.Heading); ok {
			text := strings.TrimSpace(content.FlattenText(heading))
			if path, skip := filter.heading(heading.Level, text); skip {
				if path != "" {
					ctx.skipped = append(ctx.skipped, path)
				}
				continue
			}
		} else if filter.skipping() {
			continue
		}
		if md := r.node(child, ctx); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *Renderer) blocks(nodes []content.Node, ctx *pageContext) string {
	parts := make([]string, 0, len(nodes))
	for _, child := range nodes {
		if md := strings.TrimSpace(r.node(child, ctx)); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *Renderer) inline(nodes []content.Node, ctx *pageContext) string {
	var sb strings.Builder
	for _, child := range nodes {
		sb.WriteString(r.node(child, ctx))
	}
	return sb.String()
}

func (r *Renderer) node(n content.Node, ctx *pageContext) string {
	switch n := n.(type) {
	case *content.Fragment:
		return r.blocks(n.Children, ctx)
	case *content.Paragraph:
		return strings.TrimSpace(r.inline(n.Children, ctx))
	case *content.Heading:
		level := min(max(n.Level, 1), r.maxHeadingLevel())
		return strings.Repeat("#", level) + " " + strings.TrimSpace(content.FlattenText(n))
	case *content.Text:
		return n.Text
	case *content.Effect:
		return effect(n)
	case *content.List:
		return list(n)
	case *content.Table:
		return table(n)
	case *content.Link:
		return r.link(n, ctx)
	case *content.Image:
		return "![" + n.Alt + "](" + n.Source + ")"
	case *content.CodeBlock:
		return "```" + n.Language + "\n" + n.Text + "\n```"
	case *content.Panel:
		return panel(n.Kind, r.blocks(n.Children, ctx))
	case *content.Expand:
		title := strings.TrimSpace(n.Title)
		if title == "" {
			title = "Details"
		}
		return "<details>\n<summary>" + title + "</summary>\n\n" + r.blocks(n.Children, ctx) + "\n\n</details>"
	case *content.Macro:
		return r.macro(n.Name, strings.TrimSpace(content.FlattenText(n)), ctx)
	default:
		r.l.Debug("unhandled node", zap.String("page", ctx.page.ID), zap.String("node", fmt.Sprintf("%T", n)))
		return r.macro(fmt.Sprintf("%T", n), strings.TrimSpace(content.FlattenText(n)), ctx)
	}
}

func (r *Renderer) maxHeadingLevel() int {
	if l := r.settings.Output.MaxHeadingLevel; l > 0 {
		return l
	}
	return 6
}

func (r *Renderer) macro(name, text string, ctx *pageContext) string {
	ctx.macros = append(ctx.macros, name)
	switch r.settings.Content.UnknownMacroHandling {
	case config.UnknownMacroStrip:
		return ""
	case config.UnknownMacroPreserveText:
		return text
	default:
		comment := "<!-- Unknown macro: " + name + " -->"
		if text == "" {
			return comment
		}
		return comment + "\n" + text
	}
}

var effectMarkers = map[content.EffectKind][2]string{
	content.EffectStrong:      {"**", "**"},
	content.EffectEmphasis:    {"*", "*"},
	content.EffectCode:        {"`", "`"},
	content.EffectStrike:      {"~~", "~~"},
	content.EffectUnderline:   {"<u>", "</u>"},
	content.EffectSubscript:   {"<sub>", "</sub>"},
	content.EffectSuperscript: {"<sup>", "</sup>"},
}

func effect(n *content.Effect) string {
	text := content.FlattenText(n)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	if n.Kind == content.EffectQuote {
		return quote(trimmed)
	}
	markers, ok := effectMarkers[n.Kind]
	if !ok {
		return text
	}
	// keep surrounding blanks outside of the markers
	lead := text[:strings.Index(text, trimmed)]
	trail := text[len(lead)+len(trimmed):]
	return lead + markers[0] + trimmed + markers[1] + trail
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight("> "+line, " ")
	}
	return strings.Join(lines, "\n")
}

func list(n *content.List) string {
	lines := make([]string, 0, len(n.Items))
	for i, item := range n.Items {
		text := strings.TrimSpace(content.ItemText(item))
		if n.Ordered {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, text))
		} else {
			lines = append(lines, "- "+text)
		}
	}
	return strings.Join(lines, "\n")
}

func table(n *content.Table) string {
	lines := make([]string, 0, len(n.Rows)+1)
	for i, row := range n.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			text := strings.TrimSpace(content.CellText(cell))
			text = strings.ReplaceAll(text, "\n", " ")
			cells[j] = strings.ReplaceAll(text, "|", `\|`)
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if i == 0 {
			sep := make([]string, len(row.Cells))
			for j := range sep {
				sep[j] = "---"
			}
			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n")
}

var panelLabels = map[string]string{
	"info":    "Info",
	"warning": "Warning",
	"note":    "Note",
	"tip":     "Tip",
}

func panel(kind, body string) string {
	label, ok := panelLabels[strings.ToLower(kind)]
	if !ok {
		label = kind
	}
	head := "> **" + label + ":**"
	if body == "" {
		return head
	}
	quoted := quote(body)
	return head + " " + strings.TrimPrefix(quoted, "> ")
}

// sectionFilter tracks the heading path of the document and whether the
// current section is excluded.
type sectionFilter struct {
	patterns  Patterns
	path      []string
	skipLevel int
}

func (f *sectionFilter) skipping() bool {
	return f.skipLevel > 0
}

// heading advances the filter past a heading of the given level. It
// reports whether the heading is dropped and, when the heading itself
// starts an excluded section, its joined path.
func (f *sectionFilter) heading(level int, text string) (string, bool) {
	if f.skipping() && level > f.skipLevel {
		return "", true
	}
	f.skipLevel = 0
	if len(f.path) >= level {
		f.path = f.path[:max(level-1, 0)]
	}
	f.path = append(f.path, text)
	path := strings.Join(f.path, "/")
	if f.patterns.Match(path) {
		f.skipLevel = level
		return path, true
	}
	return "", false
}
