package content

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var ErrMalformedBody = errors.New("malformed page body")

// Parser turns a raw page body into a node tree.
type Parser interface {
	Parse(body string) (*Fragment, error)
}

// HTMLParser understands both Confluence storage format (ac:/ri: elements)
// and the HTML Confluence writes into space exports.
type HTMLParser struct{}

func NewParser() *HTMLParser {
	return &HTMLParser{}
}

func (p *HTMLParser) Parse(body string) (*Fragment, error) {
	if !utf8.ValidString(body) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedBody)
	}
	// HTML has no CDATA outside foreign content; turn sections into text
	body = cdataSection.ReplaceAllStringFunc(body, func(section string) string {
		return html.EscapeString(section[len("<![CDATA[") : len(section)-len("]]>")])
	})
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse body: %w", err)
	}
	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}
	return &Fragment{Children: blocks(root)}, nil
}

var (
	cdataSection = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
	whitespace   = regexp.MustCompile(`\s+`)
	brushParam   = regexp.MustCompile(`brush:\s*([\w+#-]+)`)
	pageIDParam  = regexp.MustCompile(`[?&]pageId=(\d+)`)
	filenameID   = regexp.MustCompile(`(?:^|_)(\d+)\.html?$`)
	displayTitle = regexp.MustCompile(`/display/[^/]+/([^/?#]+)`)
)

// elements whose whitespace-only text children carry no meaning
var inlineParents = map[string]bool{
	"p": true, "span": true, "a": true, "strong": true, "b": true, "em": true, "i": true,
	"code": true, "tt": true, "kbd": true, "s": true, "del": true, "strike": true, "u": true,
	"ins": true, "sub": true, "sup": true, "li": true, "td": true, "th": true, "font": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "label": true,
}

// macros with a dedicated node type
var knownMacros = map[string]bool{
	"code": true, "noformat": true, "info": true, "note": true, "warning": true,
	"tip": true, "panel": true, "expand": true,
}

var dropped = map[string]bool{
	"script": true, "style": true, "head": true, "title": true, "meta": true, "link": true,
	"ac:parameter": true, "noscript": true,
}

// blocks converts the children of n and wraps runs of inline nodes into
// paragraphs so that only block nodes remain at this level.
func blocks(n *html.Node) []Node {
	var ret []Node
	var run []Node
	flush := func() {
		if len(run) == 0 {
			return
		}
		if strings.TrimSpace(FlattenText(&Fragment{Children: run})) != "" || hasImage(run) {
			ret = append(ret, &Paragraph{Children: run})
		}
		run = nil
	}
	for _, child := range inline(n) {
		if isInline(child) {
			run = append(run, child)
			continue
		}
		flush()
		ret = append(ret, child)
	}
	flush()
	return ret
}

func hasImage(nodes []Node) bool {
	for _, n := range nodes {
		if _, ok := n.(*Image); ok {
			return true
		}
	}
	return false
}

func isInline(n Node) bool {
	switch n := n.(type) {
	case *Text, *Link, *Image:
		return true
	case *Effect:
		return n.Kind != EffectQuote
	}
	return false
}

// inline converts all children of n in document order.
func inline(n *html.Node) []Node {
	var ret []Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		ret = append(ret, convert(c, n)...)
	}
	return ret
}

func convert(n, parent *html.Node) []Node {
	switch n.Type {
	case html.TextNode:
		text := whitespace.ReplaceAllString(n.Data, " ")
		if strings.TrimSpace(text) == "" && !inlineParents[parent.Data] {
			return nil
		}
		return []Node{&Text{Text: text}}
	case html.CommentNode:
		return nil
	case html.ElementNode:
	default:
		return inline(n)
	}

	if dropped[n.Data] {
		return nil
	}
	if name := attr(n, "data-macro-name"); name != "" && !knownMacros[name] {
		return []Node{&Macro{Name: name, Children: blocks(n)}}
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return []Node{&Heading{Level: int(n.Data[1] - '0'), Children: inline(n)}}
	case "p":
		return []Node{&Paragraph{Children: inline(n)}}
	case "br":
		return []Node{&Text{Text: "\n"}}
	case "hr":
		return nil
	case "strong", "b":
		return effect(n, EffectStrong)
	case "em", "i", "cite":
		return effect(n, EffectEmphasis)
	case "code", "tt", "kbd":
		return effect(n, EffectCode)
	case "s", "del", "strike":
		return effect(n, EffectStrike)
	case "u", "ins":
		return effect(n, EffectUnderline)
	case "sub":
		return effect(n, EffectSubscript)
	case "sup":
		return effect(n, EffectSuperscript)
	case "blockquote":
		return []Node{&Effect{Kind: EffectQuote, Children: blocks(n)}}
	case "ul", "ol":
		return []Node{list(n)}
	case "table":
		return []Node{table(n)}
	case "a":
		return []Node{anchor(n)}
	case "img":
		return []Node{&Image{Alt: attr(n, "alt"), Source: attr(n, "src")}}
	case "pre":
		return []Node{&CodeBlock{Language: preLanguage(n), Text: strings.TrimRight(rawText(n), "\n")}}
	case "ac:link":
		return []Node{storageLink(n)}
	case "ac:image":
		return []Node{storageImage(n)}
	case "ac:structured-macro", "ac:macro":
		return []Node{storageMacro(n)}
	case "ac:task-list":
		return []Node{taskList(n)}
	case "div":
		if node := exportMacro(n); node != nil {
			return []Node{node}
		}
	}
	// containers and unknown elements are transparent
	return inline(n)
}

func effect(n *html.Node, kind EffectKind) []Node {
	return []Node{&Effect{Kind: kind, Children: inline(n)}}
}

func list(n *html.Node) *List {
	l := &List{Ordered: n.Data == "ol"}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			l.Items = append(l.Items, Item{Children: inline(c)})
		}
	}
	return l
}

func taskList(n *html.Node) *List {
	l := &List{}
	for _, task := range findElements(n, "ac:task") {
		body := findElement(task, "ac:task-body")
		if body == nil {
			continue
		}
		l.Items = append(l.Items, Item{Children: inline(body)})
	}
	return l
}

func table(n *html.Node) *Table {
	t := &Table{}
	var rows func(n *html.Node)
	rows = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				var row Row
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						row.Cells = append(row.Cells, Cell{Header: cell.Data == "th", Children: inline(cell)})
					}
				}
				t.Rows = append(t.Rows, row)
			case "thead", "tbody", "tfoot":
				rows(c)
			}
		}
	}
	rows(n)
	return t
}

func anchor(n *html.Node) *Link {
	href := attr(n, "href")
	link := &Link{Children: inline(n)}
	if id := PageIDFromHref(href); id != "" {
		link.PageID = id
		return link
	}
	if m := displayTitle.FindStringSubmatch(href); m != nil {
		if title, err := url.QueryUnescape(m[1]); err == nil {
			link.PageTitle = title
			return link
		}
	}
	link.Href = href
	return link
}

// PageIDFromHref extracts a page id from links between pages of an export:
// "Title_12345.html", "12345.html" or "viewpage.action?pageId=12345".
func PageIDFromHref(href string) string {
	if href == "" {
		return ""
	}
	if m := pageIDParam.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if m := filenameID.FindStringSubmatch(path.Base(u.Path)); m != nil {
		return m[1]
	}
	return ""
}

func storageLink(n *html.Node) *Link {
	link := &Link{}
	if page := findElement(n, "ri:page"); page != nil {
		link.PageTitle = attr(page, "ri:content-title")
		link.PageID = attr(page, "ri:content-id")
	}
	body := findElement(n, "ac:plain-text-link-body")
	if body == nil {
		body = findElement(n, "ac:link-body")
	}
	if body != nil {
		link.Children = inline(body)
	}
	if link.Children == nil && link.PageTitle != "" {
		link.Children = []Node{&Text{Text: link.PageTitle}}
	}
	if !link.Internal() {
		if u := findElement(n, "ri:url"); u != nil {
			link.Href = attr(u, "ri:value")
		}
	}
	return link
}

func storageImage(n *html.Node) *Image {
	img := &Image{Alt: attr(n, "ac:alt")}
	if img.Alt == "" {
		img.Alt = attr(n, "ac:title")
	}
	if a := findElement(n, "ri:attachment"); a != nil {
		img.Source = attr(a, "ri:filename")
	} else if u := findElement(n, "ri:url"); u != nil {
		img.Source = attr(u, "ri:value")
	}
	return img
}

func storageMacro(n *html.Node) Node {
	name := attr(n, "ac:name")
	params := map[string]string{}
	for _, p := range findElements(n, "ac:parameter") {
		// nested macros come later in document order
		if _, ok := params[attr(p, "ac:name")]; !ok {
			params[attr(p, "ac:name")] = rawText(p)
		}
	}
	var children []Node
	if body := findElement(n, "ac:rich-text-body"); body != nil {
		children = blocks(body)
	}
	plain := ""
	if body := findElement(n, "ac:plain-text-body"); body != nil {
		plain = rawText(body)
	}
	switch name {
	case "code", "noformat":
		return &CodeBlock{Language: params["language"], Text: strings.Trim(plain, "\n")}
	case "info", "note", "warning", "tip", "panel":
		return &Panel{Kind: name, Children: children}
	case "expand":
		return &Expand{Title: params["title"], Children: children}
	}
	if children == nil && plain != "" {
		children = []Node{&Text{Text: plain}}
	}
	return &Macro{Name: name, Children: children}
}

var panelClasses = map[string]string{
	"confluence-information-macro-information": "info",
	"confluence-information-macro-note":        "note",
	"confluence-information-macro-warning":     "warning",
	"confluence-information-macro-tip":         "tip",
}

// exportMacro recognises the div structures Confluence emits for macros in
// HTML exports.
func exportMacro(n *html.Node) Node {
	if hasClass(n, "confluence-information-macro") {
		kind := "info"
		for class, k := range panelClasses {
			if hasClass(n, class) {
				kind = k
			}
		}
		body := findByClass(n, "confluence-information-macro-body")
		if body == nil {
			body = n
		}
		return &Panel{Kind: kind, Children: blocks(body)}
	}
	if hasClass(n, "expand-container") {
		title := ""
		if control := findByClass(n, "expand-control-text"); control != nil {
			title = strings.TrimSpace(rawText(control))
		}
		body := findByClass(n, "expand-content")
		if body == nil {
			return &Expand{Title: title}
		}
		return &Expand{Title: title, Children: blocks(body)}
	}
	if hasClass(n, "panel") && !hasClass(n, "code") && !hasClass(n, "preformatted") {
		body := findByClass(n, "panelContent")
		if body == nil {
			body = n
		}
		return &Panel{Kind: "panel", Children: blocks(body)}
	}
	return nil
}

func preLanguage(n *html.Node) string {
	if m := brushParam.FindStringSubmatch(attr(n, "data-syntaxhighlighter-params")); m != nil {
		return m[1]
	}
	for _, class := range strings.Fields(attr(n, "class")) {
		if lang, ok := strings.CutPrefix(class, "language-"); ok {
			return lang
		}
	}
	return ""
}

// rawText returns the text below n without whitespace normalisation.
func rawText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findElements(n *html.Node, tag string) []*html.Node {
	var ret []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			ret = append(ret, c)
		}
		ret = append(ret, findElements(c, tag)...)
	}
	return ret
}

func findByClass(n *html.Node, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, class) {
			return c
		}
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}
