package state

import (
	"context"
	"os"
	"time"

	"github.com/foomo/confluence-markdown/service/vo"
	"go.uber.org/zap"
)

// Cache decides which pages of an export need converting and records the
// outcome of a run.
type Cache struct {
	store       Store
	fingerprint string
	state       *BuildState
	l           *zap.Logger
	// full is set for exports whose selection ignored the recorded state
	full map[string]bool
	now  func() time.Time
	// OutputExists reports whether a previously written file is still there.
	OutputExists func(path string) bool
	// OutputPath, when set, is the file a page would be written to now. A
	// page whose recorded output differs is converted again.
	OutputPath func(export *vo.Export, page *vo.Page) string
}

func NewCache(store Store, fingerprint string, l *zap.Logger) *Cache {
	if l == nil {
		l = zap.NewNop()
	}
	return &Cache{
		store:        store,
		fingerprint:  fingerprint,
		state:        New(),
		l:            l,
		full:         map[string]bool{},
		now:          time.Now,
		OutputExists: fileExists,
	}
}

// Open loads the persisted state. A state that cannot be read is logged and
// replaced by an empty one.
func (c *Cache) Open(ctx context.Context) {
	bs, err := c.store.Load(ctx)
	if err != nil {
		c.l.Warn("failed to load build state, starting fresh",
			zap.String("location", c.store.Location()),
			zap.Error(err),
		)
		bs = New()
	}
	c.state = bs
}

func (c *Cache) State() *BuildState {
	return c.state
}

func (c *Cache) Fingerprint() string {
	return c.fingerprint
}

// Select returns, in traversal order, the pages of export that need
// converting.
func (c *Cache) Select(export *vo.Export, force bool) []*vo.Page {
	pages := export.Pages()
	es, known := c.state.Exports[export.Name]
	switch {
	case force:
		c.l.Info("forced rebuild", zap.String("export", export.Name))
	case !known:
		c.l.Info("new export", zap.String("export", export.Name))
	case c.settingsHash(es) != c.fingerprint:
		c.l.Info("settings changed, rebuilding all pages", zap.String("export", export.Name))
	default:
		c.full[export.Name] = false
		return c.selectChanged(export, pages, es)
	}
	c.full[export.Name] = true
	return pages
}

// settingsHash is the fingerprint es was converted with. States written
// before exports carried their own fall back to the global one.
func (c *Cache) settingsHash(es *ExportState) string {
	if es.SettingsHash != "" {
		return es.SettingsHash
	}
	return c.state.SettingsHash
}

func (c *Cache) selectChanged(export *vo.Export, pages []*vo.Page, es *ExportState) []*vo.Page {
	var ret []*vo.Page
	for _, p := range pages {
		reason := ""
		ps, ok := es.Pages[p.ID]
		switch {
		case !ok:
			reason = "new page"
		case c.OutputPath != nil && ps.OutputPath != c.OutputPath(export, p):
			reason = "output path changed"
		case !c.OutputExists(ps.OutputPath):
			reason = "output missing"
		case ps.ContentHash != p.ContentHash():
			reason = "content changed"
		}
		if reason == "" {
			c.l.Debug("unchanged", zap.String("page", p.ID), zap.String("title", p.Title))
			continue
		}
		c.l.Debug("will convert", zap.String("page", p.ID), zap.String("title", p.Title), zap.String("reason", reason))
		ret = append(ret, p)
	}
	return ret
}

// Record stores the reports of a run. Failed pages keep their previous
// record unless the whole export was rebuilt, in which case it is stale.
func (c *Cache) Record(export *vo.Export, reports []vo.PageReport) {
	es, ok := c.state.Exports[export.Name]
	if !ok {
		es = &ExportState{Pages: map[string]*PageState{}}
		c.state.Exports[export.Name] = es
	}
	es.SourcePath = export.SourcePath
	es.SourceMtime = export.SourceModTime
	es.SourceHash = export.SourceHash
	es.SettingsHash = c.fingerprint

	now := c.now()
	for _, report := range reports {
		if report.Status == vo.PageStatusFailed {
			if c.full[export.Name] {
				delete(es.Pages, report.PageID)
			}
			continue
		}
		page, ok := export.Page(report.PageID)
		if !ok {
			continue
		}
		es.Pages[page.ID] = &PageState{
			Title:       page.Title,
			OutputPath:  report.OutputFile,
			ContentHash: page.ContentHash(),
			ConvertedAt: now,
		}
	}
	c.state.SettingsHash = c.fingerprint
}

func (c *Cache) Flush(ctx context.Context) error {
	return c.store.Save(ctx, c.state)
}

// Reset drops the persisted and the in-memory state.
func (c *Cache) Reset(ctx context.Context) error {
	c.state = New()
	c.full = map[string]bool{}
	return c.store.Reset(ctx)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
