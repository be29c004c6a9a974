package render

import (
	"path"
	"strings"

	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/content"
	"github.com/foomo/confluence-markdown/service/vo"
)

func (r *Renderer) link(n *content.Link, ctx *pageContext) string {
	text := strings.TrimSpace(content.FlattenText(n))
	if !n.Internal() {
		if n.Href == "" {
			return text
		}
		if text == "" {
			text = n.Href
		}
		return "[" + text + "](" + n.Href + ")"
	}

	title := n.PageTitle
	if title == "" {
		title = text
	}
	if title == "" {
		title = n.PageID
	}
	if r.settings.Content.Links.InternalLinkStyle == config.LinkStyleTitleOnly {
		return "[" + title + "]"
	}

	if target, ok := r.target(n, ctx.export); ok {
		if text == "" {
			text = target.Title
		}
		return "[" + text + "](" + r.RelativeLink(ctx.export, ctx.page, target) + ")"
	}

	ctx.warn("Link target not found: %s", title)
	if text == "" {
		text = title
	}
	switch r.settings.Content.Links.MissingPageLinks {
	case config.MissingLinkStrip:
		return text
	case config.MissingLinkPreserve:
		return "[" + text + "]"
	default:
		return "<!-- Link to missing page: " + title + " -->[" + text + "]"
	}
}

// target looks the link up by page id. Links without an id, as storage
// format links mostly are, resolve by title only when configured.
func (r *Renderer) target(n *content.Link, export *vo.Export) (*vo.Page, bool) {
	if export == nil {
		return nil, false
	}
	if n.PageID != "" {
		return export.Page(n.PageID)
	}
	if r.settings.Content.Links.ResolveTitles && n.PageTitle != "" {
		return export.PageByTitle(n.PageTitle)
	}
	return nil, false
}

// RelativeLink is the path from the Markdown file of source to the one of
// target, following the configured layout and filename style.
func (r *Renderer) RelativeLink(export *vo.Export, source, target *vo.Page) string {
	style := r.settings.Output.FilenameStyle
	if r.settings.Output.Layout == config.LayoutFlat {
		return Filename(target.Title, style)
	}
	from := export.TitlePath(source.ID)
	return RelativePath(from[:max(len(from)-1, 0)], export.TitlePath(target.ID), style)
}

// RelativePath walks up from the directory of the source page, given by
// the titles of its ancestors, to the target page, given by its full title
// path. The final segment becomes the target's file name.
//
//	RelativePath([]string{"Home", "Getting Started"}, []string{"Home", "Architecture Overview"}, "slugify")
//	// ../architecture-overview.md
func RelativePath(sourceDir, target []string, filenameStyle string) string {
	if len(target) == 0 {
		return ""
	}
	common := 0
	// the target file itself is never part of the shared directory prefix
	for common < len(sourceDir) && common < len(target)-1 && sourceDir[common] == target[common] {
		common++
	}
	parts := make([]string, 0, len(sourceDir)-common+len(target)-common)
	for range len(sourceDir) - common {
		parts = append(parts, "..")
	}
	for _, title := range target[common : len(target)-1] {
		parts = append(parts, DirName(title))
	}
	parts = append(parts, Filename(target[len(target)-1], filenameStyle))
	return path.Join(parts...)
}
