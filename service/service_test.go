package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/content"
	"github.com/foomo/confluence-markdown/service/vo"
	"github.com/foomo/confluence-markdown/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func htmlPage(title, crumbs, body string) string {
	return `<html><head><title>Docs : ` + title + `</title></head><body>` +
		`<ol id="breadcrumbs">` + crumbs + `</ol>` +
		`<div id="main-content">` + body + `</div></body></html>`
}

type fixture struct {
	settings *config.Settings
	source   string
	store    state.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	source := filepath.Join(root, "imports", "docs-export")
	files := map[string]string{
		"DOCS/Home_1.html":  htmlPage("Home", "", `<h1>Welcome</h1><p>Start here</p>`),
		"DOCS/Guide_2.html": htmlPage("Guide", `<li><a href="Home_1.html">Home</a></li>`, `<p>Back to <a href="Home_1.html">home</a></p>`),
		"DOCS/Draft_3.html": htmlPage("Draft notes", `<li><a href="Home_1.html">Home</a></li>`, `<p>wip</p>`),
	}
	for name, data := range files {
		writeFile(t, filepath.Join(source, filepath.FromSlash(name)), data)
	}
	writeFile(t, filepath.Join(root, "exports", ".gitkeep"), "")

	s := config.Default()
	s.ImportsDir = filepath.Join(root, "imports")
	s.ExportsDir = filepath.Join(root, "exports")
	s.State.Path = filepath.Join(root, "state.json")
	s.ExcludePages = []string{"Draft*"}
	return &fixture{
		settings: s,
		source:   source,
		store:    state.NewJSONFileStore(s.State.Path),
	}
}

func writeFile(t *testing.T, name, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(data), 0o644))
}

func (f *fixture) service(t *testing.T, opts ...Option) Service {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	svc, err := NewService(context.Background(), f.settings, f.store, opts...)
	require.NoError(t, err)
	return svc
}

func (f *fixture) output(name string) string {
	return filepath.Join(f.settings.ExportsDir, filepath.FromSlash(name))
}

func TestConvertIncremental(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var events []EventType
	svc := f.service(t, WithObserver(func(e Event) { events = append(events, e.Type) }))
	result, err := svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "docs-export", result.Export)
	assert.Equal(t, 2, result.PagesConverted)
	assert.Equal(t, 0, result.PagesSkipped)
	assert.Equal(t, 1, result.PagesExcluded)
	assert.Equal(t, 0, result.PagesFailed)
	assert.Equal(t, []EventType{EventRunStarted, EventPageDone, EventPageExcluded, EventPageDone, EventRunFinished}, events)

	home, err := os.ReadFile(f.output("docs/home.md"))
	require.NoError(t, err)
	assert.Equal(t, "---\ntitle: Home\n---\n\n# Welcome\n\nStart here\n", string(home))
	guide, err := os.ReadFile(f.output("docs/Home/guide.md"))
	require.NoError(t, err)
	assert.Contains(t, string(guide), "Back to [home](../home.md)")
	assert.NoFileExists(t, f.output("docs/Home/draft-notes.md"))

	// a fresh service sees the persisted state
	svc = f.service(t)
	result, err = svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.PagesConverted)
	assert.Equal(t, 2, result.PagesSkipped)

	// only the changed page is converted again
	writeFile(t, filepath.Join(f.source, "DOCS", "Guide_2.html"),
		htmlPage("Guide", `<li><a href="Home_1.html">Home</a></li>`, `<p>Updated</p>`))
	result, err = svc.Convert(ctx, "docs-export", false)
	require.NoError(t, err)
	require.Len(t, result.PageReports, 1)
	assert.Equal(t, "Guide", result.PageReports[0].Title)
	assert.Equal(t, vo.PageStatusSuccess, result.PageReports[0].Status)

	// removed output is regenerated
	require.NoError(t, os.Remove(f.output("docs/home.md")))
	result, err = svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PagesConverted)
	assert.FileExists(t, f.output("docs/home.md"))

	// force
	result, err = svc.Convert(ctx, f.source, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesConverted)
}

type failingWriter struct {
	Writer
	match string
}

func (w failingWriter) Write(ctx context.Context, path string, data []byte) error {
	if strings.Contains(path, w.match) {
		return errors.New("disk full")
	}
	return w.Writer.Write(ctx, path, data)
}

type panickingParser struct {
	content.Parser
}

func (p panickingParser) Parse(body string) (*content.Fragment, error) {
	if strings.Contains(body, "boom") {
		panic("unexpected node")
	}
	return p.Parser.Parse(body)
}

func TestConvertFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	writeFile(t, filepath.Join(f.source, "DOCS", "Broken_4.html"),
		htmlPage("Broken", `<li><a href="Home_1.html">Home</a></li>`, `<p>boom</p>`))

	svc := f.service(t,
		WithWriter(failingWriter{Writer: NewFileWriter(), match: "guide.md"}),
		WithContentParser(panickingParser{Parser: content.NewParser()}),
	)
	result, err := svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PagesConverted)
	assert.Equal(t, 2, result.PagesFailed)

	reports := map[string]vo.PageReport{}
	for _, r := range result.PageReports {
		reports[r.Title] = r
	}
	assert.Equal(t, vo.PageStatusSuccess, reports["Home"].Status)
	assert.Equal(t, vo.PageStatusFailed, reports["Guide"].Status)
	assert.Equal(t, []string{"disk full"}, reports["Guide"].Errors)
	assert.Equal(t, vo.PageStatusFailed, reports["Broken"].Status)
	assert.Equal(t, []string{"panic: unexpected node"}, reports["Broken"].Errors)
	assert.FileExists(t, f.output("docs/home.md"))

	// failed pages are retried by the next run
	svc = f.service(t)
	result, err = svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesConverted)
	assert.Equal(t, 1, result.PagesSkipped)
}

func TestConvertWarningsArePartial(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.source, "DOCS", "Links_5.html"),
		htmlPage("Links", "", `<p><a href="99.html">Gone</a></p>`))

	result, err := f.service(t).Convert(context.Background(), f.source, false)
	require.NoError(t, err)
	for _, r := range result.PageReports {
		if r.Title == "Links" {
			assert.Equal(t, vo.PageStatusPartial, r.Status)
			assert.Equal(t, []string{"Link target not found: Gone"}, r.Warnings)
		}
	}
	assert.Equal(t, []string{"Links: Link target not found: Gone"}, result.Warnings())
}

func TestConvertSettingsChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service(t).Convert(ctx, f.source, false)
	require.NoError(t, err)

	f.settings.Output.MaxHeadingLevel = 3
	result, err := f.service(t).Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesConverted)
	assert.Equal(t, 0, result.PagesSkipped)
}

func TestConvertAllSettingsChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	writeFile(t, filepath.Join(f.settings.ImportsDir, "other-export", "OPS", "Runbook_7.html"),
		htmlPage("Runbook", "", `<h1>Runbook</h1>`))

	results, err := f.service(t).ConvertAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	f.settings.Output.MaxHeadingLevel = 3
	results, err = f.service(t).ConvertAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, 0, result.PagesSkipped, result.Export)
	}
	assert.Equal(t, 2, results[0].PagesConverted)
	assert.Equal(t, 1, results[1].PagesConverted)
}

func TestConvertExportsDirChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service(t).Convert(ctx, f.source, false)
	require.NoError(t, err)

	f.settings.ExportsDir = filepath.Join(filepath.Dir(f.settings.ExportsDir), "exports-v2")
	result, err := f.service(t).Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesConverted)
	assert.FileExists(t, f.output("docs/home.md"))
	assert.FileExists(t, f.output("docs/Home/guide.md"))
}

func TestRenderPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t)

	preview, err := svc.RenderPage(ctx, f.source, "2")
	require.NoError(t, err)
	assert.Equal(t, "Guide", preview.Title)
	assert.Equal(t, f.output("docs/Home/guide.md"), preview.OutputFile)
	assert.Contains(t, string(preview.Markdown), "[home](../home.md)")
	assert.NoFileExists(t, preview.OutputFile)
	assert.False(t, f.store.Exists(ctx))

	_, err = svc.RenderPage(ctx, f.source, "42")
	assert.ErrorIs(t, err, vo.ErrPageNotFound)
}

func TestStatusAndClean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.StateExists)
	assert.Empty(t, status.Exports)
	assert.Equal(t, f.settings.Fingerprint(), status.CurrentFingerprint)

	_, err = svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	status, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.StateExists)
	assert.Equal(t, f.settings.State.Path, status.StateLocation)
	assert.Equal(t, status.CurrentFingerprint, status.SettingsHash)
	assert.Equal(t, []vo.ExportStatus{{Name: "docs-export", Pages: 2}}, status.Exports)

	removed, err := svc.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.FileExists(t, filepath.Join(f.settings.ExportsDir, ".gitkeep"))
	assert.NoDirExists(t, f.output("docs"))
	assert.False(t, f.store.Exists(ctx))

	result, err := svc.Convert(ctx, f.source, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesConverted)
}

func TestConvertAll(t *testing.T) {
	f := newFixture(t)
	var finished []string
	ctx := ContextWithObserver(context.Background(), func(e Event) {
		if e.Type == EventRunFinished {
			finished = append(finished, e.Export)
		}
	})
	results, err := f.service(t).ConvertAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].PagesConverted)
	assert.Equal(t, []string{"docs-export"}, finished)
}
