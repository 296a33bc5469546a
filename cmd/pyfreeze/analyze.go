// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/invowk/pyfreeze/internal/codeunit"
	"github.com/invowk/pyfreeze/internal/config"
	"github.com/invowk/pyfreeze/internal/issue"
	"github.com/invowk/pyfreeze/internal/modgraph"
	"github.com/invowk/pyfreeze/internal/report"
	"github.com/invowk/pyfreeze/internal/watch"
)

// ErrStrictFindings is returned by analyze --strict when the graph holds
// error findings or mandatory missing modules.
var ErrStrictFindings = errors.New("analysis found blocking problems")

// analyzeOptions are the analyze flags. Zero values leave the configuration alone.
type analyzeOptions struct {
	python        string
	pythonVersion string
	format        string
	output        string
	render        bool
	strict        bool
	platform      string
	policy        string
	excludes      []string
	hookDirs      []string
	searchPath    []string
	hidden        []string
	watch         bool
	debounce      time.Duration
}

func newAnalyzeCommand(app *App) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <script>...",
		Short: "Build the module graph of one or more entry-point scripts",
		Long: `Build the module graph of one or more entry-point scripts.

Every script is scanned for imports; each import is resolved on the search
path (the script directories followed by search_path) and scanned in turn
until nothing new is found. The graph is written in the requested format.

With --strict the command exits with status 2 when the graph contains an
invalid relative import or a module that is missing although every run of
the program needs it.

With --watch the command keeps running after the first report and rebuilds
the graph whenever a module file or hook below the script directories or
the hook directories changes. Unchanged files are answered from the scan
cache.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runAnalyze(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.python, "python", "", "interpreter command used to compile sources")
	flags.StringVar(&opts.pythonVersion, "python-version", "", "bytecode version to analyze (3.8, 3.9 or 3.10)")
	flags.StringVarP(&opts.format, "format", "f", "", "report format (text, json, yaml, markdown)")
	flags.StringVarP(&opts.output, "output", "o", "", "write the report to a file instead of stdout")
	flags.BoolVar(&opts.render, "render", false, "render markdown reports for the terminal")
	flags.BoolVar(&opts.strict, "strict", false, "exit with status 2 on invalid relative imports or mandatory missing modules")
	flags.StringVar(&opts.platform, "platform", "", "target platform (posix or nt)")
	flags.StringVar(&opts.policy, "policy", "", "hook exclusion policy (hook or static)")
	flags.StringSliceVarP(&opts.excludes, "exclude", "x", nil, "exclude modules matching a pattern (repeatable)")
	flags.StringSliceVar(&opts.hookDirs, "hooks-dir", nil, "additional hook directory (repeatable)")
	flags.StringSliceVarP(&opts.searchPath, "path", "p", nil, "additional search path entry (repeatable)")
	flags.StringSliceVar(&opts.hidden, "hidden-import", nil, "module to include although no code imports it (repeatable)")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "rebuild the graph when module files change")
	flags.DurationVar(&opts.debounce, "debounce", watch.DefaultDebounce, "quiet period before a rebuild in watch mode")
	return cmd
}

// apply lets flags override cfg.
func (o *analyzeOptions) apply(cfg *config.Config) {
	if o.python != "" {
		cfg.Python.Interpreter = o.python
	}
	if o.pythonVersion != "" {
		cfg.Python.Version = o.pythonVersion
	}
	if o.format != "" {
		cfg.Report.Format = o.format
	}
	if o.platform != "" {
		cfg.Platform = config.Platform(o.platform)
	}
	if o.policy != "" {
		cfg.HookExclusionPolicy = config.ExclusionPolicy(o.policy)
	}
	cfg.Excludes = append(cfg.Excludes, o.excludes...)
	cfg.HookDirs = append(cfg.HookDirs, o.hookDirs...)
	cfg.SearchPath = append(cfg.SearchPath, o.searchPath...)
}

func (app *App) runAnalyze(cmd *cobra.Command, scripts []string, opts *analyzeOptions) error {
	ctx := cmd.Context()

	cfg, _, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(cmd, newServiceError(err, issue.ConfigLoadFailedId))
	}
	opts.apply(cfg)
	if err := cfg.Validate("command line"); err != nil {
		return app.fail(cmd, err)
	}
	logger := app.newLogger()

	p, err := newPipeline(ctx, cfg, scripts, logger)
	if err != nil {
		return app.fail(cmd, err)
	}
	defer p.close()
	if p.cacheErr != nil && app.verbose {
		renderServiceError(app.stderr, p.cacheErr)
	}

	result, err := app.analyzeOnce(ctx, p, scripts, opts)
	if err != nil {
		return app.fail(cmd, err)
	}

	if opts.watch {
		return app.watchAnalyze(cmd, p, scripts, opts)
	}
	if opts.strict {
		return app.checkStrict(cmd, result)
	}
	return nil
}

// analyzeOnce builds the graph and writes it to every configured sink.
func (app *App) analyzeOnce(ctx context.Context, p *pipeline, scripts []string, opts *analyzeOptions) (*modgraph.Result, error) {
	result, err := p.build(ctx, scripts, opts.hidden)
	if err != nil {
		return nil, err
	}

	out := app.stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return nil, fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	sink, closeSinks, err := openSinks(ctx, p.cfg, out, opts.render, p.scanner, p.logger)
	if err != nil {
		return nil, newServiceError(err, issue.ExportFailedId)
	}
	reportErr := sink.Report(ctx, result)
	closeSinks()
	if reportErr != nil {
		return nil, newServiceError(reportErr, issue.ExportFailedId)
	}
	return result, nil
}

// watchAnalyze rebuilds the graph on every change until the command's
// context is cancelled. Failed rebuilds are reported and the watch goes on.
func (app *App) watchAnalyze(cmd *cobra.Command, p *pipeline, scripts []string, opts *analyzeOptions) error {
	w, err := watch.New(watch.Config{
		Roots:    p.watchRoots(scripts),
		Debounce: opts.debounce,
		Logger:   p.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			p.logger.Info("rebuilding module graph", "changed", len(changed), "first", changed[0])
			if err := p.refresh(ctx); err != nil {
				app.printError(err)
				return nil
			}
			result, err := app.analyzeOnce(ctx, p, scripts, opts)
			if err != nil {
				app.printError(err)
				return nil
			}
			if opts.strict {
				if _, blocked := strictIssue(result); blocked {
					fmt.Fprintf(app.stderr, "%s %s\n", WarningStyle.Render("Warning:"), ErrStrictFindings)
				}
			}
			return nil
		},
	})
	if err != nil {
		return app.fail(cmd, err)
	}

	fmt.Fprintf(app.stderr, "%s %s\n", SubtitleStyle.Render("Watching"), strings.Join(w.Roots(), ", "))
	if err := w.Run(cmd.Context()); err != nil {
		return app.fail(cmd, err)
	}
	return nil
}

func (app *App) printError(err error) {
	fmt.Fprintf(app.stderr, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, app.verbose))
}

// strictIssue returns the issue explaining why result blocks a strict run.
func strictIssue(result *modgraph.Result) (issue.Id, bool) {
	switch {
	case result.HasErrors():
		return issue.InvalidRelativeImportId, true
	case result.HasMandatoryMissing():
		return issue.MissingModulesId, true
	default:
		return 0, false
	}
}

// checkStrict maps blocking findings to ExitStrict.
func (app *App) checkStrict(cmd *cobra.Command, result *modgraph.Result) error {
	id, blocked := strictIssue(result)
	if !blocked {
		return nil
	}
	renderServiceError(app.stderr, newServiceError(ErrStrictFindings, id))
	fmt.Fprintf(app.stderr, "%s %s\n", ErrorStyle.Render("Error:"), ErrStrictFindings)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: ExitStrict, Err: ErrStrictFindings}
}

// openSinks builds the document writer plus every configured export. The
// returned function releases the export connections.
func openSinks(ctx context.Context, cfg *config.Config, w io.Writer, render bool, scanner *codeunit.Scanner, logger *log.Logger) (report.Multi, func(), error) {
	var (
		sinks   report.Multi
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	format := report.Format(cfg.Report.Format)
	if format == report.FormatMarkdown && render {
		sinks = append(sinks, report.NewMarkdown(w, true))
	} else {
		writer, err := report.NewWriter(format, w)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, writer)
	}

	if neo := cfg.Report.Neo4j; neo.URI != "" {
		sink, err := report.NewNeo4j(neo.URI, neo.User, neo.Password, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		logger.Debug("exporting to neo4j", "uri", neo.URI, "run_id", sink.RunID())
		sinks = append(sinks, sink)
		closers = append(closers, func() {
			if err := sink.Close(ctx); err != nil {
				logger.Warn("closing neo4j driver", "error", err)
			}
		})
	}

	if path := cfg.Report.SQLitePath; path != "" {
		sink, err := report.OpenSQLite(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("closing sqlite database", "path", path, "error", err)
			}
		})
	}

	if path := cfg.Report.MetricsFile; path != "" {
		metrics := report.NewMetrics(path)
		if err := registerScannerMetrics(metrics.Registry(), scanner); err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, metrics)
	}

	return sinks, closeAll, nil
}

// registerScannerMetrics exposes the scanner counters next to the graph metrics.
func registerScannerMetrics(registry *prometheus.Registry, scanner *codeunit.Scanner) error {
	counters := []struct {
		name, help string
		value      func(codeunit.Stats) int
	}{
		{"pyfreeze_scans_total", "Code units scanned.", func(s codeunit.Stats) int { return s.Scans }},
		{"pyfreeze_scan_cache_hits_total", "Scans answered by the scan cache.", func(s codeunit.Stats) int { return s.CacheHits }},
		{"pyfreeze_scan_failures_total", "Scans that failed.", func(s codeunit.Stats) int { return s.Failures }},
	}
	for _, c := range counters {
		value := c.value
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{Name: c.name, Help: c.help}, func() float64 {
			return float64(value(scanner.Stats()))
		})
		if err := registry.Register(collector); err != nil {
			return fmt.Errorf("registering %s: %w", c.name, err)
		}
	}
	return nil
}
