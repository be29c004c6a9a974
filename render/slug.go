package render

import (
	"regexp"
	"strings"

	"github.com/foomo/confluence-markdown/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	slugInvalid   = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s-]`)
	slugSeparator = regexp.MustCompile(`[\s_]+`)
	slugDashes    = regexp.MustCompile(`-+`)
	lower         = cases.Lower(language.Und)
)

// Slugify lowercases text and reduces it to letters, digits and single
// hyphens, e.g. "Architecture Overview" -> "architecture-overview".
func Slugify(text string) string {
	text = lower.String(text)
	text = slugInvalid.ReplaceAllString(text, "")
	text = slugSeparator.ReplaceAllString(text, "-")
	text = slugDashes.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}

// Filename returns the Markdown file name of a page title for the given
// filename style.
func Filename(title, style string) string {
	name := DirName(title)
	if style == config.FilenameStyleSlugify {
		name = Slugify(title)
	}
	if name == "" {
		name = "untitled"
	}
	return name + ".md"
}

// DirName is the directory name used for an ancestor title.
func DirName(title string) string {
	return strings.ReplaceAll(title, "/", "-")
}
