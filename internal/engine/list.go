package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bamsammich/unbox/internal/archive"
	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/filter"
	"github.com/bamsammich/unbox/internal/stats"
	"github.com/bamsammich/unbox/internal/status"
)

// ListConfig describes a listing.
type ListConfig struct {
	Archive  string
	Source   io.Reader
	Registry archive.Options
	Filter   *filter.Chain
}

// ListResult is the outcome of a listing.
type ListResult struct {
	Filters []string
	Format  string
	Entries int64
	Code    status.Code
	Err     error
}

// List walks the archive headers without touching the disk and calls fn for
// each entry that passes the filter. The entry is only valid during the
// call. A non-nil error from fn stops the walk and is returned.
func List(ctx context.Context, cfg ListConfig, fn func(e *entry.Entry) error) ListResult {
	src, closeSrc, err := openSource(&Config{Archive: cfg.Archive, Source: cfg.Source}, stats.NewCollector())
	if err != nil {
		return ListResult{Code: status.Fatal, Err: err}
	}
	defer closeSrc()

	reg, err := archive.DefaultRegistry(cfg.Registry)
	if err != nil {
		return ListResult{Code: status.Fatal, Err: err}
	}
	ar := archive.NewReader(reg)
	defer ar.Close()
	if err := ar.Open(&ctxReader{ctx: ctx, r: src}); err != nil {
		return ListResult{Code: status.CodeOf(err), Err: fmt.Errorf("open archive: %w", err)}
	}

	res := ListResult{Filters: ar.FilterNames(), Format: ar.FormatName()}
	var t status.Tally
	for ctx.Err() == nil {
		e, err := ar.NextHeader()
		if e == nil {
			if !errors.Is(err, io.EOF) {
				t.Add(err)
			}
			break
		}
		t.Add(err)
		if status.CodeOf(err) >= status.Failed {
			continue
		}
		if cfg.Filter != nil && !cfg.Filter.MatchEntry(e) {
			continue
		}
		res.Entries++
		if err := fn(e); err != nil {
			t.Add(status.Wrap(status.Fatal, status.KindIO, "list", e.Path, err))
			break
		}
	}
	if err := ctx.Err(); err != nil {
		t.Add(status.Wrap(status.Fatal, status.KindIO, "list", "", err))
	}
	res.Code = t.Code()
	res.Err = summarize(t.Errors())
	return res
}
