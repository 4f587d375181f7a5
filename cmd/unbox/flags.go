package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/unbox/internal/config"
	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/filter"
	"github.com/bamsammich/unbox/internal/stats"
	"github.com/bamsammich/unbox/internal/status"
	"github.com/bamsammich/unbox/internal/ui"
)

// filterRule is one --exclude or --include in command-line order.
type filterRule struct {
	pattern string
	include bool
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules.
type filterFlag struct {
	rules   *[]filterRule
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	*f.rules = append(*f.rules, filterRule{pattern: val, include: f.include})
	return nil
}

// filterOpts collects the selection flags shared by every subcommand.
type filterOpts struct {
	rules         []filterRule
	filterFile    string
	minSize       string
	maxSize       string
	newer         string
	older         string
	excludeUsers  []string
	excludeGroups []string
}

func (o *filterOpts) register(fs *pflag.FlagSet) {
	fs.Var(&filterFlag{rules: &o.rules}, "exclude", "exclude entries matching PATTERN (repeatable)")
	fs.Var(&filterFlag{rules: &o.rules, include: true}, "include", "include entries matching PATTERN (repeatable)")
	fs.StringVar(&o.filterFile, "filter", "", "read filter rules from FILE")
	fs.StringVar(&o.minSize, "min-size", "", "skip files smaller than SIZE (e.g. 1M, 100K)")
	fs.StringVar(&o.maxSize, "max-size", "", "skip files larger than SIZE (e.g. 1G, 500M)")
	fs.StringVar(&o.newer, "newer", "", "only entries modified after TIME (RFC 3339, date, or duration ago)")
	fs.StringVar(&o.older, "older", "", "only entries modified before TIME (RFC 3339, date, or duration ago)")
	fs.StringSliceVar(&o.excludeUsers, "exclude-user", nil, "skip entries owned by USER (name or id, repeatable)")
	fs.StringSliceVar(&o.excludeGroups, "exclude-group", nil, "skip entries owned by GROUP (name or id, repeatable)")
}

// build assembles the filter chain: config file rules first, then the
// filter file, then the command line. Nil means no filtering.
func (o *filterOpts) build(cfg config.FilterConfig, now time.Time) (*filter.Chain, error) {
	chain := filter.NewChain()
	for _, p := range cfg.Exclude {
		if err := chain.AddExclude(p); err != nil {
			return nil, fmt.Errorf("config exclude %q: %w", p, err)
		}
	}
	for _, p := range cfg.Include {
		if err := chain.AddInclude(p); err != nil {
			return nil, fmt.Errorf("config include %q: %w", p, err)
		}
	}
	if o.filterFile != "" {
		if err := chain.LoadFile(o.filterFile); err != nil {
			return nil, fmt.Errorf("load filter file: %w", err)
		}
	}
	for _, r := range o.rules {
		add := chain.AddExclude
		if r.include {
			add = chain.AddInclude
		}
		if err := add(r.pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", r.pattern, err)
		}
	}
	if o.minSize != "" {
		n, err := filter.ParseSize(o.minSize)
		if err != nil {
			return nil, fmt.Errorf("invalid --min-size: %w", err)
		}
		chain.SetMinSize(n)
	}
	if o.maxSize != "" {
		n, err := filter.ParseSize(o.maxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-size: %w", err)
		}
		chain.SetMaxSize(n)
	}
	if o.newer != "" {
		t, err := filter.ParseTime(o.newer, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --newer: %w", err)
		}
		chain.SetNewerThan(t)
	}
	if o.older != "" {
		t, err := filter.ParseTime(o.older, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --older: %w", err)
		}
		chain.SetOlderThan(t)
	}
	for _, u := range o.excludeUsers {
		chain.ExcludeUser(u)
	}
	for _, g := range o.excludeGroups {
		chain.ExcludeGroup(g)
	}
	if chain.Empty() {
		return nil, nil
	}
	return chain, nil
}

// outputOpts are the persistent logging and display flags.
type outputOpts struct {
	verbose    bool
	quiet      bool
	noProgress bool
	logFile    string

	closeLog func()
}

func (o *outputOpts) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "suppress all output except errors")
	fs.BoolVar(&o.noProgress, "no-progress", false, "disable progress display")
	fs.StringVar(&o.logFile, "log", "", "write structured JSON log to FILE")
}

// setupLogging installs the default slog logger: text on stderr at a level
// chosen by --verbose/--quiet, plus JSON to --log when set. The returned
// func closes the log file.
func setupLogging(o outputOpts, stderr io.Writer) (func(), error) {
	logLevel := slog.LevelWarn
	if o.verbose {
		logLevel = slog.LevelDebug
	} else if !o.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})

	var logHandler slog.Handler = textHandler
	closeFn := func() {}
	if o.logFile != "" {
		lf, err := os.Create(o.logFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		closeFn = func() { _ = lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))
	return closeFn, nil
}

// withPresenter runs work with an events channel drained by the presenter
// chosen from o. With --log, events are also written as structured records.
// The summary line is printed to stderr unless --quiet.
func withPresenter(o outputOpts, collector *stats.Collector, work func(events chan<- event.Event)) {
	events := make(chan event.Event, 256)

	presenterEvents := (<-chan event.Event)(events)
	if o.logFile != "" {
		teed := make(chan event.Event, 256)
		go func() {
			for ev := range events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("path", ev.Path),
					slog.Int64("size", ev.Size),
				}
				if ev.Detail != "" {
					attrs = append(attrs, slog.String("detail", ev.Detail))
				}
				if ev.Error != nil {
					attrs = append(attrs, slog.String("error", ev.Error.Error()))
				}
				slog.LogAttrs(context.Background(), slog.LevelDebug, "unbox.event", attrs...)
				teed <- ev
			}
			close(teed)
		}()
		presenterEvents = teed
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Stats:      collector,
		IsTTY:      ui.IsTTY(os.Stderr),
		Quiet:      o.quiet,
		Verbose:    o.verbose,
		NoProgress: o.noProgress,
	})

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	work(events)
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
	}
	if !o.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}
}

// exitFor maps a run's worst status to the process exit code: warnings
// still exit 0, failed entries 1, fatal errors 2.
func exitFor(code status.Code, err error, what string) error {
	switch {
	case code >= status.Fatal:
		slog.Error(what+" failed", "error", err)
		return &exitError{code: 2}
	case code >= status.Failed:
		slog.Error(what+" finished with errors", "error", err)
		return &exitError{code: 1}
	case err != nil:
		slog.Warn(what+" finished with warnings", "error", err)
	}
	return nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// boolDefault pairs a flag with its config file key.
type boolDefault struct {
	flag string
	dst  *bool
	cfg  *bool
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults []boolDefault) {
	for _, d := range defaults {
		if d.cfg != nil && !cmd.Flags().Changed(d.flag) {
			*d.dst = *d.cfg
		}
	}
}

func parseBWLimit(cmd *cobra.Command, flagVal string, cfg *string) (int64, error) {
	if !cmd.Flags().Changed("bwlimit") && cfg != nil {
		flagVal = *cfg
	}
	if flagVal == "" {
		return 0, nil
	}
	n, err := filter.ParseSize(flagVal)
	if err != nil {
		return 0, fmt.Errorf("invalid --bwlimit: %w", err)
	}
	return n, nil
}
