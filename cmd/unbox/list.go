package main

import (
	"bufio"
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
	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/ui"
)

func newListCmd(_ *outputOpts) *cobra.Command {
	var (
		long       bool
		zipCharset string
		filters    filterOpts
	)
	cmd := &cobra.Command{
		Use:     "list [flags] <archive>",
		Aliases: []string{"ls"},
		Short:   "List archive contents without extracting",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "path", config.Path(), "error", err)
			}
			chain, err := filters.build(cfg.Filter, time.Now())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := bufio.NewWriter(os.Stdout)
			res := engine.List(ctx, engine.ListConfig{
				Archive:  args[0],
				Registry: archive.Options{ZipCharset: zipCharset},
				Filter:   chain,
			}, func(e *entry.Entry) error {
				if long {
					_, err := fmt.Fprintln(w, ui.ListLine(e))
					return err
				}
				_, err := fmt.Fprintln(w, e.Path)
				return err
			})
			if err := w.Flush(); err != nil {
				return err
			}
			slog.Debug("listed archive", "format", res.Format, "filters", res.Filters, "entries", res.Entries)
			return exitFor(res.Code, res.Err, "listing")
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "ls -l style output")
	cmd.Flags().StringVar(&zipCharset, "zip-charset", "", "charset for zip names without the UTF-8 flag (default CP437)")
	filters.register(cmd.Flags())
	return cmd
}
