// Package content holds the typed rich-text tree of a page body and the
// parser that builds it from Confluence storage format or exported HTML.
package content

import "strings"

// Node is one of the variants declared in this file. The set is closed:
// only types in this package implement it.
type Node interface {
	node()
}

type EffectKind string

const (
	EffectStrong      EffectKind = "strong"
	EffectEmphasis    EffectKind = "emphasis"
	EffectCode        EffectKind = "code"
	EffectStrike      EffectKind = "strike"
	EffectUnderline   EffectKind = "underline"
	EffectSubscript   EffectKind = "subscript"
	EffectSuperscript EffectKind = "superscript"
	EffectQuote       EffectKind = "quote"
)

type (
	Fragment struct {
		Children []Node
	}

	// Paragraph renders its inline children back to back.
	Paragraph struct {
		Children []Node
	}

	Heading struct {
		Level    int
		Children []Node
	}

	Text struct {
		Text string
	}

	Effect struct {
		Kind     EffectKind
		Children []Node
	}

	List struct {
		Ordered bool
		Items   []Item
	}

	Item struct {
		Children []Node
	}

	Table struct {
		Rows []Row
	}

	Row struct {
		Cells []Cell
	}

	Cell struct {
		Header   bool
		Children []Node
	}

	// Link points either at an external Href or at another page of the
	// export by PageID and/or PageTitle.
	Link struct {
		Href      string
		PageID    string
		PageTitle string
		Children  []Node
	}

	Image struct {
		Alt    string
		Source string
	}

	CodeBlock struct {
		Language string
		Text     string
	}

	Panel struct {
		Kind     string
		Children []Node
	}

	Expand struct {
		Title    string
		Children []Node
	}

	Macro struct {
		Name     string
		Children []Node
	}
)

func (*Fragment) node()  {}
func (*Paragraph) node() {}
func (*Heading) node()   {}
func (*Text) node()      {}
func (*Effect) node()    {}
func (*List) node()      {}
func (*Table) node()     {}
func (*Link) node()      {}
func (*Image) node()     {}
func (*CodeBlock) node() {}
func (*Panel) node()     {}
func (*Expand) node()    {}
func (*Macro) node()     {}

// Internal reports whether the link references a page of the export.
func (l *Link) Internal() bool {
	return l.PageID != "" || l.PageTitle != ""
}

// FlattenText concatenates all text below n depth first and ignores markup.
func FlattenText(n Node) string {
	var sb strings.Builder
	flatten(&sb, n)
	return sb.String()
}

func flattenAll(sb *strings.Builder, nodes []Node) {
	for _, child := range nodes {
		flatten(sb, child)
	}
}

func flatten(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Text:
		sb.WriteString(n.Text)
	case *CodeBlock:
		sb.WriteString(n.Text)
	case *Fragment:
		flattenAll(sb, n.Children)
	case *Paragraph:
		flattenAll(sb, n.Children)
	case *Heading:
		flattenAll(sb, n.Children)
	case *Effect:
		flattenAll(sb, n.Children)
	case *List:
		for _, item := range n.Items {
			flattenAll(sb, item.Children)
		}
	case *Table:
		for _, row := range n.Rows {
			for _, cell := range row.Cells {
				flattenAll(sb, cell.Children)
			}
		}
	case *Link:
		flattenAll(sb, n.Children)
	case *Panel:
		flattenAll(sb, n.Children)
	case *Expand:
		flattenAll(sb, n.Children)
	case *Macro:
		flattenAll(sb, n.Children)
	}
}

// ItemText is the flattened text of a list item.
func ItemText(item Item) string {
	var sb strings.Builder
	flattenAll(&sb, item.Children)
	return sb.String()
}

// CellText is the flattened text of a table cell.
func CellText(cell Cell) string {
	var sb strings.Builder
	flattenAll(&sb, cell.Children)
	return sb.String()
}
