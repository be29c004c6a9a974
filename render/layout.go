package render

import (
	"path"
	"strings"

	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/service/vo"
)

// OutputPath is the slash separated location of the page's Markdown file
// relative to the exports directory, e.g. "docs/Home/getting-started.md".
func (r *Renderer) OutputPath(export *vo.Export, page *vo.Page) string {
	parts := []string{strings.ToLower(export.Space.Key)}
	if r.settings.Output.Layout != config.LayoutFlat {
		ancestors := export.TitlePath(page.ID)
		for _, title := range ancestors[:max(len(ancestors)-1, 0)] {
			parts = append(parts, DirName(title))
		}
	}
	parts = append(parts, Filename(page.Title, r.settings.Output.FilenameStyle))
	return path.Join(parts...)
}
