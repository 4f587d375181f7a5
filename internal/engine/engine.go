package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bamsammich/unbox/internal/archive"
	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/filter"
	"github.com/bamsammich/unbox/internal/platform"
	"github.com/bamsammich/unbox/internal/restore"
	"github.com/bamsammich/unbox/internal/stats"
	"github.com/bamsammich/unbox/internal/status"
)

// Config describes an extraction.
type Config struct {
	// Archive is a file path, or "-" for standard input. Ignored when
	// Source is set.
	Archive string
	Source  io.Reader

	// Dest is the extraction root. Restore.Root is overwritten with it.
	Dest     string
	Restore  restore.Options
	Registry archive.Options

	Filter *filter.Chain
	// Veto is consulted after Filter; returning false skips the entry.
	Veto func(e *entry.Entry) bool

	Verify        bool
	VerifyWorkers int
	// BWLimit caps reads from the archive in bytes/sec. Zero is unlimited.
	BWLimit int64

	Events chan<- event.Event
	Stats  *stats.Collector
}

// Result is the outcome of an extraction.
type Result struct {
	Stats   stats.Snapshot
	Code    status.Code
	Err     error
	Filters []string
	Format  string
	Verify  VerifyResult
}

// Run extracts an archive, blocking until complete. Per-entry failures do
// not stop the run; a Fatal error or cancellation does.
func Run(ctx context.Context, cfg Config) Result {
	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}

	src, closeSrc, err := openSource(&cfg, collector)
	if err != nil {
		return Result{Code: status.Fatal, Err: err, Stats: collector.Snapshot()}
	}
	defer closeSrc()

	var r io.Reader = &countingReader{r: src, stats: collector}
	if cfg.BWLimit > 0 {
		r = newRateLimitedReader(ctx, r, NewBWLimiter(cfg.BWLimit))
	}
	r = &ctxReader{ctx: ctx, r: r}

	reg, err := archive.DefaultRegistry(cfg.Registry)
	if err != nil {
		return Result{Code: status.Fatal, Err: err, Stats: collector.Snapshot()}
	}
	ar := archive.NewReader(reg)
	defer ar.Close()
	if err := ar.Open(r); err != nil {
		return Result{Code: status.CodeOf(err), Err: fmt.Errorf("open archive: %w", err), Stats: collector.Snapshot()}
	}
	emitEvent(cfg.Events, event.Event{
		Type:   event.ArchiveOpened,
		Path:   cfg.Archive,
		Detail: chainName(ar.FilterNames(), ar.FormatName()),
	})
	slog.Debug("archive opened", "filters", ar.FilterNames(), "format", ar.FormatName())

	if cfg.Dest == "" {
		cfg.Dest = "."
	}
	if err := os.MkdirAll(cfg.Dest, 0o755); err != nil {
		return Result{Code: status.Fatal, Err: fmt.Errorf("create destination: %w", err), Stats: collector.Snapshot()}
	}
	opts := cfg.Restore
	opts.Root = cfg.Dest
	rs, err := restore.New(opts)
	if err != nil {
		return Result{Code: status.Fatal, Err: err, Stats: collector.Snapshot()}
	}

	x := &extractor{cfg: cfg, ar: ar, rs: rs, stats: collector}
	x.loop(ctx)
	x.run.Add(rs.Close())

	res := Result{
		Filters: ar.FilterNames(),
		Format:  ar.FormatName(),
	}
	if cfg.Verify && x.run.Code() < status.Fatal && ctx.Err() == nil {
		res.Verify = Verify(ctx, VerifyConfig{
			Root:    rs.Root(),
			Files:   x.digests,
			Workers: cfg.VerifyWorkers,
			Events:  cfg.Events,
			Stats:   collector,
		})
		if res.Verify.Failed > 0 {
			x.run.Add(status.Failf(status.KindIO, "verify", "",
				"%d of %d files differ from the archive",
				res.Verify.Failed, res.Verify.Failed+res.Verify.Verified))
		}
	}
	if err := ctx.Err(); err != nil {
		x.run.Add(status.Wrap(status.Fatal, status.KindIO, "extract", "", err))
	}

	res.Code = x.run.Code()
	res.Err = summarize(x.run.Errors())
	emitEvent(cfg.Events, event.Event{Type: event.ArchiveComplete, Error: res.Err})
	res.Stats = collector.Snapshot()
	return res
}

// extractor pumps entries from the archive reader into the restorer.
type extractor struct {
	cfg     Config
	ar      *archive.Reader
	rs      *restore.Restorer
	stats   *stats.Collector
	run     status.Tally
	digests []FileDigest
}

func (x *extractor) loop(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		e, err := x.ar.NextHeader()
		if errors.Is(err, io.EOF) && e == nil {
			return
		}
		if e == nil {
			x.run.Add(err)
			return
		}
		x.stats.AddEntriesRead(1)
		x.entry(e, err)
		if x.run.Code() >= status.Fatal {
			return
		}
	}
}

// entry restores one archive entry. headerErr is what the reader reported
// alongside the header.
func (x *extractor) entry(e *entry.Entry, headerErr error) {
	var t status.Tally
	t.Add(headerErr)
	name := e.Path
	typ := e.Type

	if status.CodeOf(headerErr) >= status.Failed {
		t.Add(x.ar.SkipData())
		x.finish(name, typ, 0, &t)
		return
	}
	if !x.wanted(e) {
		if err := x.ar.SkipData(); err != nil {
			t.Add(err)
			x.finish(name, typ, 0, &t)
			return
		}
		x.stats.AddEntriesSkipped(1)
		emitEvent(x.cfg.Events, event.Event{Type: event.EntrySkipped, Path: name, EntryType: typ})
		return
	}

	emitEvent(x.cfg.Events, event.Event{Type: event.EntryStarted, Path: name, EntryType: typ, Size: e.Size()})
	var ph *payloadHash
	if x.cfg.Verify && typ == entry.Regular && !e.IsHardlink() {
		ph = newPayloadHash(e)
	}
	rel := e.Path
	link, symlink := e.Hardlink, e.Symlink

	if err := x.rs.WriteHeader(e); status.CodeOf(err) >= status.Failed {
		t.Add(x.ar.SkipData())
		t.Add(x.rs.FinishEntry())
		x.finish(name, typ, 0, &t)
		return
	}
	written := x.pump(ph, &t)
	t.Add(x.rs.FinishEntry())

	if t.Code() < status.Failed && !x.rs.Skipped() {
		switch {
		case typ == entry.Dir:
			x.stats.AddDirsCreated(1)
			emitEvent(x.cfg.Events, event.Event{Type: event.DirCreated, Path: name, EntryType: typ})
		case link != "" || typ == entry.Symlink:
			x.stats.AddLinksCreated(1)
			emitEvent(x.cfg.Events, event.Event{
				Type: event.LinkCreated, Path: name, EntryType: typ, Detail: link + symlink,
			})
		default:
			x.stats.AddFilesWritten(1)
		}
		if ph != nil {
			if clean, err := restore.CleanPath(rel, false, false); status.CodeOf(err) < status.Failed {
				x.digests = append(x.digests, FileDigest{Path: clean, Sum: ph.sum()})
			}
		}
	}
	x.finish(name, typ, written, &t)
}

// pump copies payload blocks from the reader to the restorer. It stops
// early when the restorer abandons the entry; the reader skips the rest on
// the next header.
func (x *extractor) pump(ph *payloadHash, t *status.Tally) int64 {
	var written int64
	for {
		b, err := x.ar.ReadBlock()
		if len(b.Data) > 0 {
			if ph != nil {
				ph.write(b)
			}
			n, werr := x.rs.WriteBlock(b.Data, b.Offset)
			written += int64(n)
			x.stats.AddBytesWritten(int64(n))
			if status.CodeOf(werr) >= status.Failed {
				return written
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && status.CodeOf(err) == status.EOF:
			return written
		default:
			t.Add(err)
			if status.CodeOf(err) >= status.Failed {
				return written
			}
		}
	}
}

func (x *extractor) wanted(e *entry.Entry) bool {
	if x.cfg.Filter != nil && !x.cfg.Filter.MatchEntry(e) {
		return false
	}
	return x.cfg.Veto == nil || x.cfg.Veto(e)
}

// finish records the entry's verdict and emits its closing event.
func (x *extractor) finish(name string, typ entry.Type, written int64, t *status.Tally) {
	err := t.Err()
	x.run.Add(err)
	ev := event.Event{Path: name, EntryType: typ, Size: written, Error: err}
	switch t.Code() {
	case status.OK, status.EOF:
		ev.Type = event.EntryCompleted
	case status.Warn:
		ev.Type = event.EntryWarned
		x.stats.AddEntriesWarned(1)
		slog.Warn("entry restored with warnings", "path", name, "error", err)
	default:
		ev.Type = event.EntryFailed
		x.stats.AddEntriesFailed(1)
		slog.Debug("entry failed", "path", name, "error", err)
	}
	emitEvent(x.cfg.Events, ev)
}

// openSource opens the archive and, for regular files, reports its size and
// identity so the restorer never writes over it.
func openSource(cfg *Config, collector *stats.Collector) (io.Reader, func(), error) {
	if cfg.Source != nil {
		return cfg.Source, func() {}, nil
	}
	var f *os.File
	if cfg.Archive == "-" || cfg.Archive == "" {
		f = os.Stdin
	} else {
		var err error
		f, err = os.Open(cfg.Archive)
		if err != nil {
			return nil, nil, status.Wrap(status.Fatal, status.KindIO, "open", cfg.Archive, err)
		}
	}
	closeFn := func() {
		if f != os.Stdin {
			_ = f.Close()
		}
	}
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		collector.SetSourceTotal(fi.Size())
		if id, ok := platform.Native().DevIno(fi); ok && cfg.Restore.SkipFile == nil {
			cfg.Restore.SkipFile = &id
		}
	}
	return f, closeFn, nil
}

func chainName(filters []string, format string) string {
	parts := append(append([]string{}, filters...), format)
	return strings.Join(parts, " > ")
}

// summarize condenses per-entry errors into one error.
func summarize(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Errorf("%w (and %d more errors)", errs[0], len(errs)-1)
}

// emitEvent blocks until the presenter takes the event; a non-nil Events
// channel must be drained.
func emitEvent(ch chan<- event.Event, e event.Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	ch <- e
}
