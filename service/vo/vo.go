package vo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Markdown string

var (
	ErrPageNotFound  = errors.New("page not found")
	ErrDuplicatePage = errors.New("duplicate page id")
	ErrUnknownParent = errors.New("unknown parent page")
	ErrCycle         = errors.New("page hierarchy contains a cycle")
)

type Space struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Page is a single node of the page tree. Parent and children are id
// references resolved through the owning Export.
type Page struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Body     string     `json:"-"`
	Created  *time.Time `json:"created,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
	Labels   []string   `json:"labels,omitempty"`
	Position int        `json:"position"`
	ParentID string     `json:"parentId,omitempty"`
	Filename string     `json:"filename,omitempty"`

	childIDs []string
}

// ContentHash returns the SHA-256 digest of the raw body.
func (p *Page) ContentHash() string {
	return ContentHash(p.Body)
}

func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Export is a parsed space: the pages, keyed by id, and the roots of the tree.
type Export struct {
	Name       string
	SourcePath string
	Space      Space

	// SourceModTime and SourceHash describe the archive or directory the
	// export was read from; SourceHash is empty for directories.
	SourceModTime time.Time
	SourceHash    string

	pages   map[string]*Page
	titles  map[string]string
	rootIDs []string
}

// NewExport indexes pages by id and links children to parents. Pages with an
// empty ParentID are roots.
func NewExport(name, sourcePath string, space Space, pages []*Page) (*Export, error) {
	e := &Export{
		Name:       name,
		SourcePath: sourcePath,
		Space:      space,
		pages:      make(map[string]*Page, len(pages)),
	}
	for _, p := range pages {
		if _, ok := e.pages[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePage, p.ID)
		}
		p.childIDs = nil
		e.pages[p.ID] = p
	}
	for _, p := range pages {
		if p.ParentID == "" {
			e.rootIDs = append(e.rootIDs, p.ID)
			continue
		}
		parent, ok := e.pages[p.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s (parent of %s)", ErrUnknownParent, p.ParentID, p.ID)
		}
		parent.childIDs = append(parent.childIDs, p.ID)
	}
	e.sortIDs(e.rootIDs)
	for _, p := range e.pages {
		e.sortIDs(p.childIDs)
	}
	// every page must be reachable from a root exactly once
	seen := make(map[string]struct{}, len(e.pages))
	e.titles = make(map[string]string, len(e.pages))
	e.Walk(func(p *Page, _ int) {
		seen[p.ID] = struct{}{}
		if _, ok := e.titles[p.Title]; !ok {
			e.titles[p.Title] = p.ID
		}
	})
	if len(seen) != len(e.pages) {
		return nil, ErrCycle
	}
	return e, nil
}

// PageByTitle returns the first page in traversal order with the given title.
func (e *Export) PageByTitle(title string) (*Page, bool) {
	id, ok := e.titles[title]
	if !ok {
		return nil, false
	}
	return e.Page(id)
}

func (e *Export) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := e.pages[ids[i]], e.pages[ids[j]]
		if a.Position == b.Position {
			return a.ID < b.ID
		}
		return a.Position < b.Position
	})
}

func (e *Export) Page(id string) (*Page, bool) {
	p, ok := e.pages[id]
	return p, ok
}

func (e *Export) Len() int {
	return len(e.pages)
}

func (e *Export) Roots() []*Page {
	return e.resolve(e.rootIDs)
}

func (e *Export) Children(id string) []*Page {
	p, ok := e.pages[id]
	if !ok {
		return nil
	}
	return e.resolve(p.childIDs)
}

func (e *Export) Parent(id string) (*Page, bool) {
	p, ok := e.pages[id]
	if !ok || p.ParentID == "" {
		return nil, false
	}
	return e.Page(p.ParentID)
}

func (e *Export) resolve(ids []string) []*Page {
	ret := make([]*Page, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, e.pages[id])
	}
	return ret
}

// Walk visits the tree depth first, parents before children, siblings by
// position.
func (e *Export) Walk(fn func(p *Page, depth int)) {
	var walk func(ids []string, depth int)
	walk = func(ids []string, depth int) {
		for _, id := range ids {
			p := e.pages[id]
			fn(p, depth)
			walk(p.childIDs, depth+1)
		}
	}
	walk(e.rootIDs, 0)
}

// Pages returns all pages in traversal order.
func (e *Export) Pages() []*Page {
	ret := make([]*Page, 0, len(e.pages))
	e.Walk(func(p *Page, _ int) {
		ret = append(ret, p)
	})
	return ret
}

// TitlePath returns the titles from the root down to the page itself.
func (e *Export) TitlePath(id string) []string {
	var titles []string
	for p, ok := e.pages[id]; ok; p, ok = e.pages[p.ParentID] {
		titles = append(titles, p.Title)
	}
	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return titles
}

// Path is the "/" joined title path. It is computed on every call.
func (e *Export) Path(id string) string {
	return strings.Join(e.TitlePath(id), "/")
}

// Depth is the number of parent hops to a root.
func (e *Export) Depth(id string) int {
	depth := len(e.TitlePath(id)) - 1
	if depth < 0 {
		return 0
	}
	return depth
}

type PageStatus string

const (
	PageStatusSuccess PageStatus = "success"
	PageStatusPartial PageStatus = "partial"
	PageStatusFailed  PageStatus = "failed"
)

type PageReport struct {
	PageID           string     `json:"pageId"`
	Title            string     `json:"title"`
	OutputFile       string     `json:"outputFile"`
	Status           PageStatus `json:"status"`
	Warnings         []string   `json:"warnings,omitempty"`
	Errors           []string   `json:"errors,omitempty"`
	SkippedSections  []string   `json:"skippedSections,omitempty"`
	UnknownMacros    []string   `json:"unknownMacros,omitempty"`
	ConversionTimeMS int64      `json:"conversionTimeMs"`
}

type BuildResult struct {
	RunID          string        `json:"runId"`
	Export         string        `json:"export"`
	PagesConverted int           `json:"pagesConverted"`
	PagesSkipped   int           `json:"pagesSkipped"`
	PagesFailed    int           `json:"pagesFailed"`
	PagesExcluded  int           `json:"pagesExcluded"`
	TotalTime      time.Duration `json:"totalTime"`
	PageReports    []PageReport  `json:"pageReports,omitempty"`
}

// Warnings collects the warnings of all page reports in report order.
func (r *BuildResult) Warnings() []string {
	var ret []string
	for _, report := range r.PageReports {
		for _, w := range report.Warnings {
			ret = append(ret, report.Title+": "+w)
		}
	}
	return ret
}

type ExportStatus struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
}

type Status struct {
	StateExists        bool           `json:"stateExists"`
	StateLocation      string         `json:"stateLocation"`
	SettingsHash       string         `json:"settingsHash"`
	CurrentFingerprint string         `json:"currentFingerprint"`
	Exports            []ExportStatus `json:"exports"`
}

// PagePreview is a rendered page that was not written.
type PagePreview struct {
	PageID          string   `json:"pageId"`
	Title           string   `json:"title"`
	OutputFile      string   `json:"outputFile"`
	Markdown        Markdown `json:"markdown"`
	Warnings        []string `json:"warnings,omitempty"`
	SkippedSections []string `json:"skippedSections,omitempty"`
	UnknownMacros   []string `json:"unknownMacros,omitempty"`
}
