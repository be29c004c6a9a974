package export

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// findBySelector finds the first element matching a simple selector of the
// form "tag", "#id", ".class", "tag#id" or "tag.class".
func findBySelector(doc *html.Node, selector string) (*html.Node, error) {
	tag, rest := selector, ""
	if i := strings.IndexAny(selector, "#."); i >= 0 {
		tag, rest = selector[:i], selector[i:]
	}
	match := func(n *html.Node) bool {
		if tag != "" && n.Data != tag {
			return false
		}
		switch {
		case strings.HasPrefix(rest, "#"):
			return attr(n, "id") == rest[1:]
		case strings.HasPrefix(rest, "."):
			return hasClass(n, rest[1:])
		}
		return true
	}
	if n := findNode(doc, match); n != nil {
		return n, nil
	}
	return nil, fmt.Errorf("element matching '%s' not found", selector)
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result := findNode(c, match); result != nil {
			return result
		}
	}
	return nil
}

func findNodes(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var ret []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			ret = append(ret, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return ret
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Data == tag
	}
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return hasClass(n, class)
	}
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

// textContent returns the whitespace normalised text below n.
func textContent(n *html.Node) string {
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
	return strings.Join(strings.Fields(sb.String()), " ")
}

// extractTitle extracts the title from the HTML document
func extractTitle(doc *html.Node) string {
	if n := findNode(doc, byTag("title")); n != nil {
		return textContent(n)
	}
	return ""
}

// extractMetaKeywords extracts the meta keywords from the HTML document
func extractMetaKeywords(doc *html.Node) []string {
	meta := findNode(doc, func(n *html.Node) bool {
		return n.Data == "meta" && attr(n, "name") == "keywords" && attr(n, "content") != ""
	})
	if meta == nil {
		return nil
	}
	var keywords []string
	for _, keyword := range strings.Split(attr(meta, "content"), ",") {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords
}
