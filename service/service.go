package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/content"
	"github.com/foomo/confluence-markdown/export"
	"github.com/foomo/confluence-markdown/render"
	"github.com/foomo/confluence-markdown/service/vo"
	"github.com/foomo/confluence-markdown/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service interface {
	// Convert converts the changed pages of the export at source.
	Convert(ctx context.Context, source string, force bool) (*vo.BuildResult, error)
	// ConvertAll converts every export found in the imports directory.
	ConvertAll(ctx context.Context, force bool) ([]*vo.BuildResult, error)
	// RenderPage renders a single page without writing it or touching the
	// build state.
	RenderPage(ctx context.Context, source, pageID string) (*vo.PagePreview, error)
	Status(ctx context.Context) (*vo.Status, error)
	// Clean removes all generated files and the build state and returns the
	// number of removed files.
	Clean(ctx context.Context) (int, error)
}

type service struct {
	settings     *config.Settings
	exports      *export.Parser
	parser       content.Parser
	renderer     *render.Renderer
	cache        *state.Cache
	store        state.Store
	writer       Writer
	observers    []Observer
	excludePages render.Patterns
	l            *zap.Logger
	// runs share the cache
	mu sync.Mutex
}

type Option func(s *service)

func WithLogger(l *zap.Logger) Option {
	return func(s *service) {
		s.l = l
	}
}

func WithWriter(w Writer) Option {
	return func(s *service) {
		s.writer = w
	}
}

func WithObserver(o Observer) Option {
	return func(s *service) {
		s.observers = append(s.observers, o)
	}
}

func WithContentParser(p content.Parser) Option {
	return func(s *service) {
		s.parser = p
	}
}

func NewService(ctx context.Context, settings *config.Settings, store state.Store, opts ...Option) (Service, error) {
	s := &service{
		settings: settings,
		store:    store,
		writer:   NewFileWriter(),
		l:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	renderOpts := []render.Option{render.WithLogger(s.l)}
	if s.parser != nil {
		renderOpts = append(renderOpts, render.WithParser(s.parser))
	}
	renderer, err := render.NewRenderer(settings, renderOpts...)
	if err != nil {
		return nil, err
	}
	excludePages, err := render.CompilePatterns(settings.ExcludePages)
	if err != nil {
		return nil, err
	}
	s.renderer = renderer
	s.excludePages = excludePages
	s.exports = export.NewParser(s.l)
	s.cache = state.NewCache(store, settings.Fingerprint(), s.l)
	s.cache.OutputPath = s.outputFile
	s.cache.Open(ctx)
	return s, nil
}

func (s *service) emit(ctx context.Context, e Event) {
	for _, o := range s.observers {
		o(e)
	}
	if o, ok := observerFromContext(ctx); ok {
		o(e)
	}
}

// resolveSource falls back to the imports directory for relative sources
// that do not exist as given.
func (s *service) resolveSource(source string) string {
	if _, err := os.Stat(source); err == nil || filepath.IsAbs(source) || s.settings.ImportsDir == "" {
		return source
	}
	if candidate := filepath.Join(s.settings.ImportsDir, source); fileExists(candidate) {
		return candidate
	}
	return source
}

func (s *service) Convert(ctx context.Context, source string, force bool) (*vo.BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	runID := uuid.NewString()
	l := s.l.With(zap.String("run", runID))
	l.Info("starting conversion", zap.String("source", source), zap.Bool("force", force))

	exp, err := s.exports.Parse(ctx, s.resolveSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to read export %s: %w", source, err)
	}
	selected := s.cache.Select(exp, force)
	l.Info("pages to convert",
		zap.String("export", exp.Name),
		zap.Int("selected", len(selected)),
		zap.Int("unchanged", exp.Len()-len(selected)),
	)

	result := &vo.BuildResult{
		RunID:        runID,
		Export:       exp.Name,
		PagesSkipped: exp.Len() - len(selected),
	}
	s.emit(ctx, Event{Type: EventRunStarted, RunID: runID, Export: exp.Name, Total: len(selected)})

	var runErr error
	for _, page := range selected {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if s.excludePages.Match(page.Title) {
			l.Debug("excluded page", zap.String("page", page.ID), zap.String("title", page.Title))
			result.PagesExcluded++
			s.emit(ctx, Event{Type: EventPageExcluded, RunID: runID, Export: exp.Name, Page: &vo.PageReport{PageID: page.ID, Title: page.Title}})
			continue
		}
		report := s.convertPage(ctx, l, exp, page)
		if report.Status == vo.PageStatusFailed {
			result.PagesFailed++
		} else {
			result.PagesConverted++
		}
		result.PageReports = append(result.PageReports, report)
		s.emit(ctx, Event{Type: EventPageDone, RunID: runID, Export: exp.Name, Page: &report})
	}

	s.cache.Record(exp, result.PageReports)
	if err := s.cache.Flush(ctx); err != nil {
		l.Error("failed to save build state", zap.String("location", s.store.Location()), zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("failed to save build state: %w", err))
	}
	result.TotalTime = time.Since(start)

	l.Info("conversion complete",
		zap.String("export", exp.Name),
		zap.Int("converted", result.PagesConverted),
		zap.Int("skipped", result.PagesSkipped),
		zap.Int("failed", result.PagesFailed),
		zap.Int("excluded", result.PagesExcluded),
		zap.Duration("duration", result.TotalTime),
	)
	s.emit(ctx, Event{Type: EventRunFinished, RunID: runID, Export: exp.Name, Result: result})
	return result, runErr
}

func (s *service) ConvertAll(ctx context.Context, force bool) ([]*vo.BuildResult, error) {
	sources, err := export.List(s.settings.ImportsDir)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing to convert in %s", export.ErrNoPages, s.settings.ImportsDir)
	}
	var results []*vo.BuildResult
	var errs []error
	for _, source := range sources {
		result, err := s.Convert(ctx, source, force)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return results, errors.Join(errs...)
}

// convertPage renders and writes one page. Failures, panics included, end
// up in the report and never abort the run.
func (s *service) convertPage(ctx context.Context, l *zap.Logger, exp *vo.Export, page *vo.Page) (report vo.PageReport) {
	start := time.Now()
	report = vo.PageReport{
		PageID:     page.ID,
		Title:      page.Title,
		OutputFile: s.outputFile(exp, page),
	}
	l = l.With(zap.String("page", page.ID), zap.String("title", page.Title))
	defer func() {
		if r := recover(); r != nil {
			report.Status = vo.PageStatusFailed
			report.Errors = append(report.Errors, fmt.Sprintf("panic: %v", r))
			l.Error("failed to convert page", zap.Any("panic", r))
		}
		report.ConversionTimeMS = time.Since(start).Milliseconds()
	}()

	l.Info("converting page")
	res := s.renderer.Render(page, exp)
	report.Warnings = res.Warnings
	report.SkippedSections = res.SkippedSections
	report.UnknownMacros = res.UnknownMacros
	for _, w := range res.Warnings {
		l.Warn(w)
	}

	if err := s.writer.Write(ctx, report.OutputFile, []byte(res.Markdown)); err != nil {
		report.Status = vo.PageStatusFailed
		report.Errors = append(report.Errors, err.Error())
		l.Error("failed to convert page", zap.Error(err))
		return report
	}
	report.Status = vo.PageStatusSuccess
	if len(report.Warnings) > 0 {
		report.Status = vo.PageStatusPartial
	}
	return report
}

func (s *service) outputFile(exp *vo.Export, page *vo.Page) string {
	return filepath.Join(s.settings.ExportsDir, filepath.FromSlash(s.renderer.OutputPath(exp, page)))
}

func (s *service) RenderPage(ctx context.Context, source, pageID string) (*vo.PagePreview, error) {
	exp, err := s.exports.Parse(ctx, s.resolveSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to read export %s: %w", source, err)
	}
	page, ok := exp.Page(pageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", vo.ErrPageNotFound, pageID)
	}
	res := s.renderer.Render(page, exp)
	return &vo.PagePreview{
		PageID:          page.ID,
		Title:           page.Title,
		OutputFile:      s.outputFile(exp, page),
		Markdown:        res.Markdown,
		Warnings:        res.Warnings,
		SkippedSections: res.SkippedSections,
		UnknownMacros:   res.UnknownMacros,
	}, nil
}

func (s *service) Status(ctx context.Context) (*vo.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs := s.cache.State()
	status := &vo.Status{
		StateExists:        s.store.Exists(ctx),
		StateLocation:      s.store.Location(),
		SettingsHash:       bs.SettingsHash,
		CurrentFingerprint: s.cache.Fingerprint(),
		Exports:            []vo.ExportStatus{},
	}
	for name, es := range bs.Exports {
		status.Exports = append(status.Exports, vo.ExportStatus{Name: name, Pages: len(es.Pages)})
	}
	sort.Slice(status.Exports, func(i, j int) bool {
		return status.Exports[i].Name < status.Exports[j].Name
	})
	return status, nil
}

func (s *service) Clean(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	root := s.settings.ExportsDir
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) && path == root {
			return fs.SkipAll
		} else if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if d.Name() == ".gitkeep" {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to clean %s: %w", root, err)
	}
	// deepest first; directories that still hold a .gitkeep stay
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	if err := s.cache.Reset(ctx); err != nil {
		return removed, fmt.Errorf("failed to reset build state: %w", err)
	}
	s.l.Info("cleaned exports", zap.String("dir", root), zap.Int("removed", removed))
	return removed, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
