package main

import (
	"context"
	"log/slog"
	"os/signal"
	"strings"
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

type packOpts struct {
	format          string
	compress        string
	zipMethod       string
	dataDescriptors bool
	xattrs          bool
	acls            bool
	numericOwner    bool
	workers         int
	bwLimit         string
	filters         filterOpts
}

func newPackCmd(out *outputOpts) *cobra.Command {
	opts := packOpts{xattrs: true, acls: true}
	cmd := &cobra.Command{
		Use:   "pack [flags] <source-dir> <archive>",
		Short: "Create a zip or tar archive from a directory",
		Long: `Create an archive from a directory tree. The format and outer compression
default from the archive name: .zip writes zip, anything else tar, and
suffixes such as .gz, .zst, .xz, .lz4 and .sz add a compression filter.
Use "-" as the archive to write standard output.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, *out, &opts, args[0], args[1])
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "archive format: zip or tar (default from the archive name)")
	f.StringVar(&opts.compress, "compress", "", "outer compression: "+strings.Join(archive.Compressors, ", ")+" (default from the archive name)")
	f.StringVar(&opts.zipMethod, "zip-method", "", "zip entry compression: store, deflate, zstd or xz (default deflate)")
	f.BoolVar(&opts.dataDescriptors, "data-descriptors", false, "write zip sizes after the data, as streaming writers do")
	f.BoolVar(&opts.xattrs, "xattrs", opts.xattrs, "record extended attributes")
	f.BoolVar(&opts.acls, "acls", opts.acls, "record POSIX ACLs")
	f.BoolVar(&opts.numericOwner, "numeric-owner", false, "record numeric ids only")
	f.IntVar(&opts.workers, "workers", 0, "parallel scan workers (default: NumCPU, at most 8)")
	f.StringVar(&opts.bwLimit, "bwlimit", "", "limit archive write rate (e.g. 100M, 1G)")
	opts.filters.register(f)
	return cmd
}

func runPack(cmd *cobra.Command, out outputOpts, opts *packOpts, src, dst string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "path", config.Path(), "error", err)
	}
	d := cfg.Defaults
	applyConfigDefaults(cmd, []boolDefault{
		{"xattrs", &opts.xattrs, d.Xattrs},
		{"acls", &opts.acls, d.ACLs},
		{"numeric-owner", &opts.numericOwner, d.NumericOwner},
	})
	bwLimit, err := parseBWLimit(cmd, opts.bwLimit, d.BWLimit)
	if err != nil {
		return err
	}
	chain, err := opts.filters.build(cfg.Filter, time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	packCfg := engine.PackConfig{
		Src:             src,
		Archive:         dst,
		Format:          opts.format,
		Compress:        opts.compress,
		ZipMethod:       opts.zipMethod,
		DataDescriptors: opts.dataDescriptors,
		Xattrs:          opts.xattrs,
		ACL:             opts.acls,
		NumericOwner:    opts.numericOwner,
		Lookup:          restore.NewSystemLookup(),
		Filter:          chain,
		ScanWorkers:     opts.workers,
		BWLimit:         bwLimit,
		Stats:           collector,
	}

	var result engine.PackResult
	withPresenter(out, collector, func(events chan<- event.Event) {
		packCfg.Events = events
		result = engine.Pack(ctx, packCfg)
	})
	slog.Debug("archive written", "path", dst, "entries", result.Entries, "bytes", result.Bytes)
	return exitFor(result.Code, result.Err, "pack")
}
