package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/mcp"
	"github.com/foomo/confluence-markdown/service"
	"github.com/foomo/confluence-markdown/service/vo"
	"github.com/foomo/confluence-markdown/state"
	"go.uber.org/zap"
)

const maxPrintedWarnings = 10

type options struct {
	configPath string
	force      bool
	verbose    bool
	status     bool
	clean      bool
	stdio      bool
	httpAddr   string
	source     string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "", "YAML settings file")
	flag.BoolVar(&opts.force, "force", false, "Convert every page regardless of the build state")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&opts.status, "status", false, "Show the build state and exit")
	flag.BoolVar(&opts.clean, "clean", false, "Remove generated files and reset the build state")
	flag.BoolVar(&opts.stdio, "stdio", false, "Run as MCP server in stdio mode")
	flag.StringVar(&opts.httpAddr, "http", "", "Run as MCP server on this HTTP address (e.g., ':8080')")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [export.zip|dir]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.source = flag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		settings := config.Default()
		return settings, settings.Validate()
	}
	return config.Load(path)
}

func run(ctx context.Context, opts options, out io.Writer) error {
	settings, err := loadSettings(opts.configPath)
	if err != nil {
		return err
	}
	l, err := newLogger(settings.Logging, opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	store, err := state.Open(ctx, settings.State)
	if err != nil {
		return fmt.Errorf("failed to open build state: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Warn("failed to close build state", zap.Error(err))
		}
	}()

	svcOpts := []service.Option{service.WithLogger(l)}
	var progress *mcp.ProgressServer
	if opts.httpAddr != "" {
		progress = mcp.NewProgressServer(l.Named("sse"), nil, nil)
		defer progress.Close()
		svcOpts = append(svcOpts, service.WithObserver(progress.Observe))
	}
	svc, err := service.NewService(ctx, settings, store, svcOpts...)
	if err != nil {
		return err
	}

	switch {
	case opts.httpAddr != "":
		return serveHTTP(ctx, opts.httpAddr, svc, progress, l)
	case opts.stdio:
		return serveStdio(svc, l)
	case opts.status:
		status, err := svc.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(out, status)
		return nil
	case opts.clean:
		removed, err := svc.Clean(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d files from %s\n", removed, settings.ExportsDir)
		return nil
	}

	var results []*vo.BuildResult
	if opts.source != "" {
		var result *vo.BuildResult
		result, err = svc.Convert(ctx, opts.source, opts.force)
		if result != nil {
			results = append(results, result)
		}
	} else {
		results, err = svc.ConvertAll(ctx, opts.force)
	}
	for _, result := range results {
		printResult(out, result)
	}
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.PagesFailed > 0 {
			return errors.New("some pages failed to convert")
		}
	}
	fmt.Fprintln(out, "Done!")
	return nil
}

func printResult(out io.Writer, result *vo.BuildResult) {
	fmt.Fprintf(out, "%s:\n", result.Export)
	fmt.Fprintf(out, "  Converted: %d, Skipped: %d, Failed: %d, Excluded: %d\n",
		result.PagesConverted, result.PagesSkipped, result.PagesFailed, result.PagesExcluded)

	warnings := result.Warnings()
	if len(warnings) > 0 {
		fmt.Fprintf(out, "\nWarnings (%d):\n", len(warnings))
		for _, w := range warnings[:min(len(warnings), maxPrintedWarnings)] {
			fmt.Fprintf(out, "  - %s\n", w)
		}
		if len(warnings) > maxPrintedWarnings {
			fmt.Fprintf(out, "  ... and %d more\n", len(warnings)-maxPrintedWarnings)
		}
	}
	for _, r := range result.PageReports {
		if r.Status == vo.PageStatusFailed {
			fmt.Fprintf(out, "  failed: %s: %v\n", r.Title, r.Errors)
		}
	}
	fmt.Fprintln(out)
}

func printStatus(out io.Writer, status *vo.Status) {
	if !status.StateExists {
		fmt.Fprintf(out, "No build state at %s\n", status.StateLocation)
		return
	}
	fmt.Fprintf(out, "Build state: %s\n", status.StateLocation)
	fingerprint := "current"
	if status.SettingsHash != status.CurrentFingerprint {
		fingerprint = "changed, next run converts everything"
	}
	fmt.Fprintf(out, "Settings: %s (%s)\n", status.SettingsHash, fingerprint)
	for _, e := range status.Exports {
		fmt.Fprintf(out, "  %s: %d pages\n", e.Name, e.Pages)
	}
}
