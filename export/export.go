// Package export reads Confluence HTML space exports, either the ZIP archive
// Confluence produces or an extracted directory, into a vo.Export.
package export

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/foomo/confluence-markdown/content"
	"github.com/foomo/confluence-markdown/service/vo"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var (
	ErrNoPages           = errors.New("no pages found in export")
	ErrUnsupportedSource = errors.New("unsupported export source")
)

const indexFile = "index.html"

// selectors tried in order to find the page body
var bodySelectors = []string{
	"div#main-content",
	"div.wiki-content",
	"div#content",
	"article",
	"main",
	"body",
}

var (
	createdOn   = regexp.MustCompile(`(?i)created by [^,]*? on ([A-Z][a-z]{2} \d{1,2}, \d{4})`)
	modifiedOn  = regexp.MustCompile(`(?i)last (?:modified|updated)(?: by [^,]*?)? on ([A-Z][a-z]{2} \d{1,2}, \d{4})`)
	filenameTag = regexp.MustCompile(`_\d+$`)
)

type Parser struct {
	l *zap.Logger
}

func NewParser(l *zap.Logger) *Parser {
	if l == nil {
		l = zap.NewNop()
	}
	return &Parser{l: l}
}

// Parse reads the export at source, a .zip file or a directory. The export
// is named after the base name of source.
func (p *Parser) Parse(ctx context.Context, source string) (*vo.Export, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("export not found: %w", err)
	}
	name := filepath.Base(source)

	var export *vo.Export
	switch {
	case info.IsDir():
		export, err = p.parseDir(ctx, name, source, source)
		if err != nil {
			return nil, err
		}
	case strings.EqualFold(filepath.Ext(source), ".zip"):
		export, err = p.parseZip(ctx, name, source)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s (expected a .zip file or a directory)", ErrUnsupportedSource, source)
	}
	export.SourceModTime = info.ModTime().UTC()
	return export, nil
}

// List returns the export sources in dir: .zip files and directories.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports in %s: %w", dir, err)
	}
	var ret []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() || strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			ret = append(ret, filepath.Join(dir, e.Name()))
		}
	}
	return ret, nil
}

func (p *Parser) parseZip(ctx context.Context, name, source string) (*vo.Export, error) {
	dir, err := os.MkdirTemp("", "confluence-export-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := unzip(source, dir); err != nil {
		return nil, err
	}
	hash, err := fileHash(source)
	if err != nil {
		return nil, err
	}
	export, err := p.parseDir(ctx, name, source, dir)
	if err != nil {
		return nil, err
	}
	export.SourceHash = hash
	return export, nil
}

func unzip(source, dir string) error {
	r, err := zip.OpenReader(source)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = r.Close()
		return fmt.Errorf("%w: archive %s contains paths outside the export", ErrUnsupportedSource, source)
	} else if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", source, err)
	}
	defer r.Close()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range r.File {
		dest := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(dest, root) {
			return fmt.Errorf("%w: archive entry %q escapes the export", ErrUnsupportedSource, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func fileHash(name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pageFile is a parsed html file before it is linked into the tree
type pageFile struct {
	rel         string
	page        *vo.Page
	breadcrumbs []string
}

func (p *Parser) parseDir(ctx context.Context, name, source, dir string) (*vo.Export, error) {
	files, err := htmlFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no html files in %s", ErrNoPages, source)
	}

	space := vo.Space{Key: spaceKey(name, files)}
	var order []string
	if index := indexPath(files); index != "" {
		doc, err := readHTML(filepath.Join(dir, filepath.FromSlash(index)))
		if err != nil {
			return nil, err
		}
		space.Name = extractTitle(doc)
		order = links(doc, index)
	}
	if space.Name == "" {
		space.Name = space.Key
	}

	var parsed []*pageFile
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if path.Base(rel) == indexFile {
			continue
		}
		doc, err := readHTML(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		pf := parsePage(doc, rel, space.Name)
		if pf == nil {
			p.l.Debug("skipping page without body", zap.String("file", rel))
			continue
		}
		parsed = append(parsed, pf)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPages, source)
	}

	link(parsed, order)
	pages := make([]*vo.Page, len(parsed))
	for i, pf := range parsed {
		pages[i] = pf.page
	}
	export, err := vo.NewExport(name, source, space, pages)
	if err != nil {
		return nil, fmt.Errorf("invalid export %s: %w", source, err)
	}
	p.l.Info("parsed export",
		zap.String("export", name),
		zap.String("space", space.Key),
		zap.Int("pages", export.Len()),
	)
	return export, nil
}

// htmlFiles lists the html files below dir as sorted slash separated paths.
func htmlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		if d.IsDir() || (ext != ".html" && ext != ".htm") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// spaceKey is the single top level directory Confluence puts all files in,
// or the export name without extension.
func spaceKey(name string, files []string) string {
	key := ""
	for _, f := range files {
		first, _, nested := strings.Cut(f, "/")
		if !nested || (key != "" && first != key) {
			return strings.TrimSuffix(name, filepath.Ext(name))
		}
		key = first
	}
	return key
}

func indexPath(files []string) string {
	ret := ""
	for _, f := range files {
		if path.Base(f) != indexFile {
			continue
		}
		if ret == "" || strings.Count(f, "/") < strings.Count(ret, "/") {
			ret = f
		}
	}
	return ret
}

func readHTML(name string) (*html.Node, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return doc, nil
}

// links returns the targets of all anchors of doc in document order,
// resolved against the location of doc.
func links(doc *html.Node, rel string) []string {
	var ret []string
	for _, a := range findNodes(doc, byTag("a")) {
		if target := resolve(rel, attr(a, "href")); target != "" {
			ret = append(ret, target)
		}
	}
	return ret
}

func resolve(from, href string) string {
	if href == "" || strings.Contains(href, "://") || strings.HasPrefix(href, "#") {
		return ""
	}
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return ""
	}
	return path.Clean(path.Join(path.Dir(from), href))
}

func parsePage(doc *html.Node, rel, spaceName string) *pageFile {
	var body *html.Node
	for _, selector := range bodySelectors {
		if n, err := findBySelector(doc, selector); err == nil {
			body = n
			break
		}
	}
	if body == nil || (textContent(body) == "" && findNode(body, byTag("img")) == nil) {
		return nil
	}
	var sb strings.Builder
	if err := html.Render(&sb, body); err != nil {
		return nil
	}

	base := path.Base(rel)
	page := &vo.Page{
		ID:       content.PageIDFromHref(base),
		Title:    pageTitle(doc, base, spaceName),
		Body:     sb.String(),
		Filename: base,
		Labels:   labels(doc),
	}
	if page.ID == "" {
		sum := sha256.Sum256([]byte(rel))
		page.ID = hex.EncodeToString(sum[:])[:12]
	}
	if meta := findNode(doc, byClass("page-metadata")); meta != nil {
		text := textContent(meta)
		page.Created = metaDate(createdOn, text)
		page.Modified = metaDate(modifiedOn, text)
	}

	pf := &pageFile{rel: rel, page: page}
	crumbs := findNode(doc, func(n *html.Node) bool { return attr(n, "id") == "breadcrumbs" })
	if crumbs != nil {
		pf.breadcrumbs = links(crumbs, rel)
	}
	return pf
}

func pageTitle(doc *html.Node, filename, spaceName string) string {
	title := extractTitle(doc)
	if _, after, ok := strings.Cut(title, " : "); ok {
		title = after
	}
	if spaceName != "" {
		title = strings.TrimSuffix(title, " - "+spaceName)
	}
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	if h1 := findNode(doc, byTag("h1")); h1 != nil {
		if title = textContent(h1); title != "" {
			return title
		}
	}
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	return strings.ReplaceAll(filenameTag.ReplaceAllString(stem, ""), "-", " ")
}

func labels(doc *html.Node) []string {
	var ret []string
	seen := map[string]bool{}
	add := func(label string) {
		if label != "" && !seen[label] {
			seen[label] = true
			ret = append(ret, label)
		}
	}
	for _, n := range findNodes(doc, func(n *html.Node) bool {
		return hasClass(n, "aui-label-split-main") || (n.Data == "a" && hasClass(n, "label"))
	}) {
		add(textContent(n))
	}
	for _, keyword := range extractMetaKeywords(doc) {
		add(keyword)
	}
	return ret
}

func metaDate(re *regexp.Regexp, text string) *time.Time {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	t, err := time.Parse("Jan 2, 2006", m[1])
	if err != nil {
		return nil
	}
	return &t
}

// link resolves parents from breadcrumbs and positions from the order of
// the index. Breadcrumb entries that are not pages of the export, such as
// the space overview or dropped empty pages, are skipped.
func link(parsed []*pageFile, order []string) {
	ids := make(map[string]string, len(parsed))
	for _, pf := range parsed {
		ids[pf.rel] = pf.page.ID
	}
	positions := make(map[string]int, len(order))
	for i, rel := range order {
		if _, ok := positions[rel]; !ok {
			positions[rel] = i
		}
	}
	for i, pf := range parsed {
		if pos, ok := positions[pf.rel]; ok {
			pf.page.Position = pos
		} else {
			pf.page.Position = len(order) + i
		}
		for j := len(pf.breadcrumbs) - 1; j >= 0; j-- {
			crumb := pf.breadcrumbs[j]
			if id, ok := ids[crumb]; ok && crumb != pf.rel {
				pf.page.ParentID = id
				break
			}
		}
	}
}
