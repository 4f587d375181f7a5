package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/unbox/internal/archive"
	"github.com/bamsammich/unbox/internal/config"
	"github.com/bamsammich/unbox/internal/engine"
	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/restore"
	"github.com/bamsammich/unbox/internal/stats"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// extractOpts holds the root command's flags.
type extractOpts struct {
	restore     restore.Options
	noTimes     bool
	verify      bool
	workers     int
	bwLimit     string
	zipCharset  string
	raw         bool
	showVersion bool
	filters     filterOpts
}

func run(args []string) int {
	var out outputOpts
	rootCmd := newRootCmd(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	if out.closeLog != nil {
		out.closeLog()
	}
	if err != nil {
		if exitErr, ok := err.(*exitError); ok {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd(out *outputOpts) *cobra.Command {
	opts := extractOpts{restore: restore.DefaultOptions()}

	rootCmd := &cobra.Command{
		Use:   "unbox [flags] <archive> [destination]",
		Short: "Extract zip and tar archives with full metadata restoration",
		Long: `Extract a zip or tar archive, optionally wrapped in gzip, bzip2, xz, zstd,
lz4 or s2 compression. The format is detected from the content, not the
file name. Use "-" as the archive to read standard input.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			closeLog, err := setupLogging(*out, os.Stderr)
			if err != nil {
				return err
			}
			out.closeLog = closeLog
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(os.Stdout, "unbox %s\n", version)
				return nil
			}
			dest := "."
			if len(args) == 2 {
				dest = args[1]
			}
			return runExtract(cmd, *out, &opts, args[0], dest)
		},
	}

	pf := rootCmd.PersistentFlags()
	out.register(pf)

	f := rootCmd.Flags()
	r := &opts.restore
	f.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	f.BoolVar(&r.Owner, "owner", r.Owner, "restore file ownership (uid/gid)")
	f.BoolVarP(&r.Perm, "perm", "p", r.Perm, "restore the full mode, including setuid, setgid and sticky bits")
	f.BoolVar(&r.ACL, "acls", r.ACL, "restore POSIX ACLs")
	f.BoolVar(&r.Xattrs, "xattrs", r.Xattrs, "restore extended attributes")
	f.BoolVar(&r.Fflags, "fflags", r.Fflags, "restore file flags (immutable, append-only, nodump)")
	f.BoolVar(&r.MacMetadata, "mac-metadata", r.MacMetadata, "restore macOS metadata blobs")
	f.BoolVarP(&r.NoOverwrite, "no-overwrite", "k", r.NoOverwrite, "never overwrite existing files")
	f.BoolVar(&r.NoOverwriteNewer, "keep-newer", r.NoOverwriteNewer, "do not overwrite files newer than the archive entry")
	f.BoolVarP(&r.Unlink, "unlink", "U", r.Unlink, "replace symlinks and files found in the middle of a path")
	f.BoolVar(&r.SecureSymlinks, "secure-symlinks", r.SecureSymlinks, "refuse to extract through symlinks")
	f.BoolVar(&r.NoDotDot, "secure-nodotdot", r.NoDotDot, "refuse entries whose path contains '..'")
	f.BoolVar(&r.NoAbsolutePaths, "secure-noabsolutepaths", r.NoAbsolutePaths, "refuse absolute entry paths instead of stripping the leading '/'")
	f.BoolVar(&r.NoAutodir, "no-autodir", r.NoAutodir, "do not create missing parent directories")
	f.BoolVar(&r.SafeWrites, "safe-writes", r.SafeWrites, "write to a temporary file and rename into place")
	f.BoolVar(&r.NumericOwner, "numeric-owner", r.NumericOwner, "ignore owner names and use numeric ids")
	f.BoolVar(&opts.noTimes, "no-times", false, "do not restore timestamps")
	f.BoolVar(&opts.verify, "verify", false, "verify extracted files against the archive (BLAKE3)")
	f.IntVar(&opts.workers, "verify-workers", 0, "parallel verify workers (default: NumCPU, at most 8)")
	f.StringVar(&opts.bwLimit, "bwlimit", "", "limit archive read rate (e.g. 100M, 1G)")
	f.StringVar(&opts.zipCharset, "zip-charset", "", "charset for zip names without the UTF-8 flag (default CP437)")
	f.BoolVar(&opts.raw, "raw", false, "treat a non-archive input as a single file named \"data\"")
	opts.filters.register(f)

	rootCmd.AddCommand(newListCmd(out))
	rootCmd.AddCommand(newPackCmd(out))
	rootCmd.AddCommand(docsCmd)
	return rootCmd
}

func runExtract(cmd *cobra.Command, out outputOpts, opts *extractOpts, archivePath, dest string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "path", config.Path(), "error", err)
	}
	d := cfg.Defaults
	r := &opts.restore
	applyConfigDefaults(cmd, []boolDefault{
		{"owner", &r.Owner, d.Owner},
		{"perm", &r.Perm, d.Perm},
		{"acls", &r.ACL, d.ACLs},
		{"xattrs", &r.Xattrs, d.Xattrs},
		{"fflags", &r.Fflags, d.Fflags},
		{"no-overwrite", &r.NoOverwrite, d.NoOverwrite},
		{"keep-newer", &r.NoOverwriteNewer, d.KeepNewer},
		{"secure-symlinks", &r.SecureSymlinks, d.SecureSymlinks},
		{"secure-nodotdot", &r.NoDotDot, d.SecureNoDotDot},
		{"safe-writes", &r.SafeWrites, d.SafeWrites},
		{"numeric-owner", &r.NumericOwner, d.NumericOwner},
		{"verify", &opts.verify, d.Verify},
	})
	bwLimit, err := parseBWLimit(cmd, opts.bwLimit, d.BWLimit)
	if err != nil {
		return err
	}
	chain, err := opts.filters.build(cfg.Filter, time.Now())
	if err != nil {
		return err
	}

	r.Times = !opts.noTimes
	if r.Owner && !r.NumericOwner {
		r.Lookup = restore.NewSystemLookup()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Temp files from --safe-writes must not outlive an interrupted run.
	defer restore.CleanupTmpFiles()

	collector := stats.NewCollector()
	engineCfg := engine.Config{
		Archive:       archivePath,
		Dest:          dest,
		Restore:       *r,
		Registry:      archive.Options{ZipCharset: opts.zipCharset, RawUnfiltered: opts.raw},
		Filter:        chain,
		Verify:        opts.verify,
		VerifyWorkers: opts.workers,
		BWLimit:       bwLimit,
		Stats:         collector,
	}

	slog.Debug("starting extraction",
		"archive", archivePath,
		"dest", dest,
		"owner", r.Owner,
		"perm", r.Perm,
		"verify", opts.verify,
	)

	var result engine.Result
	withPresenter(out, collector, func(events chan<- event.Event) {
		engineCfg.Events = events
		result = engine.Run(ctx, engineCfg)
	})
	if result.Verify.Failed > 0 {
		for _, ve := range result.Verify.Errors {
			slog.Warn("verify mismatch", "path", ve.Path, "expected", ve.Expected, "actual", ve.Actual, "error", ve.Err)
		}
	}
	return exitFor(result.Code, result.Err, "extraction")
}
