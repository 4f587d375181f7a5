package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bamsammich/unbox/internal/archive"
	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/filter"
	"github.com/bamsammich/unbox/internal/restore"
	"github.com/bamsammich/unbox/internal/stats"
	"github.com/bamsammich/unbox/internal/status"
)

// PackConfig describes archive creation.
type PackConfig struct {
	Src string
	// Archive is the output path, or "-" for standard output. Ignored when
	// Output is set.
	Archive string
	Output  io.Writer

	// Format is "zip" or "tar". Empty picks zip for a .zip suffix, else tar.
	Format string
	// Compress names an outer filter (see archive.Compressors). Empty picks
	// one from the archive suffix.
	Compress string
	// ZipMethod names the per-entry zip compression: store, deflate, zstd
	// or xz. Empty means deflate.
	ZipMethod       string
	DataDescriptors bool

	Xattrs       bool
	ACL          bool
	NumericOwner bool
	Lookup       restore.OwnerLookup
	Filter       *filter.Chain
	ScanWorkers  int
	BWLimit      int64

	Events chan<- event.Event
	Stats  *stats.Collector
}

// PackResult is the outcome of archive creation.
type PackResult struct {
	Entries int64
	Bytes   int64
	Code    status.Code
	Err     error
}

// archiveWriter is satisfied by archive.ZipWriter and archive.TarWriter.
type archiveWriter interface {
	WriteHeader(e *entry.Entry) error
	io.Writer
	Close() error
}

// Pack scans cfg.Src and writes every object into a new archive.
func Pack(ctx context.Context, cfg PackConfig) PackResult {
	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}
	format := cfg.Format
	if format == "" {
		format = "tar"
		if strings.HasSuffix(strings.ToLower(cfg.Archive), ".zip") {
			format = "zip"
		}
	}
	compress := cfg.Compress
	if compress == "" {
		compress = archive.CompressorForExt(cfg.Archive)
	}

	lookup := cfg.Lookup
	if cfg.NumericOwner {
		lookup = nil
	}
	scanner := NewScanner(ScannerConfig{
		Root:    cfg.Src,
		Workers: cfg.ScanWorkers,
		Filter:  cfg.Filter,
		Xattrs:  cfg.Xattrs,
		ACL:     cfg.ACL,
		Sparse:  true,
		Lookup:  lookup,
	})
	items, scanErr := scanner.Scan(ctx)
	var t status.Tally
	t.Add(scanErr)
	if t.Code() >= status.Fatal {
		return PackResult{Code: t.Code(), Err: scanErr}
	}

	out, closeOut, err := openOutput(cfg)
	if err != nil {
		return PackResult{Code: status.Fatal, Err: err}
	}
	if cfg.BWLimit > 0 {
		out = &rateLimitedWriter{w: out, limiter: NewBWLimiter(cfg.BWLimit), ctx: ctx}
	}
	comp, err := archive.NewCompressor(compress, out)
	if err != nil {
		closeOut(false)
		return PackResult{Code: status.Fatal, Err: err}
	}

	var aw archiveWriter
	switch format {
	case "zip":
		method, err := zipMethod(cfg.ZipMethod)
		if err != nil {
			closeOut(false)
			return PackResult{Code: status.Fatal, Err: err}
		}
		opts := []archive.ZipOption{archive.WithZipMethod(method)}
		if cfg.DataDescriptors {
			opts = append(opts, archive.WithDataDescriptors())
		}
		aw = archive.NewZipWriter(comp, opts...)
	case "tar":
		aw = archive.NewTarWriter(comp)
	default:
		closeOut(false)
		return PackResult{Code: status.Fatal, Err: fmt.Errorf("unknown archive format %q", format)}
	}

	p := &packer{cfg: cfg, aw: aw, stats: collector}
	for _, sc := range items {
		if ctx.Err() != nil {
			t.Add(status.Wrap(status.Fatal, status.KindIO, "pack", "", ctx.Err()))
			break
		}
		if err := p.add(sc); err != nil {
			t.Add(err)
			if status.IsFatal(err) {
				break
			}
		}
	}

	if err := aw.Close(); err != nil {
		t.Add(status.Wrap(status.Fatal, status.KindIO, "close archive", cfg.Archive, err))
	}
	if err := comp.Close(); err != nil {
		t.Add(status.Wrap(status.Fatal, status.KindIO, "close compressor", cfg.Archive, err))
	}
	closeOut(t.Code() < status.Fatal)

	emitEvent(cfg.Events, event.Event{Type: event.ArchiveComplete, Path: cfg.Archive})
	return PackResult{
		Entries: p.entries,
		Bytes:   p.bytes,
		Code:    t.Code(),
		Err:     summarize(t.Errors()),
	}
}

func zipMethod(name string) (uint16, error) {
	switch name {
	case "", "deflate":
		return archive.MethodDeflate, nil
	case "store":
		return archive.MethodStore, nil
	case "zstd":
		return archive.MethodZstd, nil
	case "xz":
		return archive.MethodXz, nil
	}
	return 0, fmt.Errorf("unknown zip method %q (use store, deflate, zstd or xz)", name)
}

type packer struct {
	cfg     PackConfig
	aw      archiveWriter
	stats   *stats.Collector
	entries int64
	bytes   int64
}

// add writes one entry. A file that vanished or became unreadable since the
// scan is Failed; an archive write error is Fatal since the stream is now
// inconsistent.
func (p *packer) add(sc *Scanned) error {
	e := sc.Entry
	var f *os.File
	if e.Type == entry.Regular && !e.IsHardlink() && e.Size() > 0 {
		var err error
		if f, err = os.Open(sc.Src); err != nil {
			return p.done(e, status.Wrap(status.Failed, status.KindIO, "open", sc.Src, err))
		}
		defer f.Close()
	}
	emitEvent(p.cfg.Events, event.Event{Type: event.EntryStarted, Path: e.Path, EntryType: e.Type, Size: e.Size()})
	if err := p.aw.WriteHeader(e); err != nil {
		return p.done(e, status.Wrap(status.Fatal, status.KindIO, "write header", e.Path, err))
	}
	if f == nil {
		return p.done(e, nil)
	}
	n, err := copyPayload(p.aw, f, e)
	p.bytes += n
	p.stats.AddBytesWritten(n)
	if err != nil {
		// The header promised StoredSize bytes; a short payload corrupts the stream.
		return p.done(e, status.Wrap(status.Fatal, status.KindIO, "write payload", e.Path, err))
	}
	return p.done(e, nil)
}

func (p *packer) done(e *entry.Entry, err error) error {
	ev := event.Event{Path: e.Path, EntryType: e.Type, Size: e.Size(), Error: err}
	switch {
	case err == nil:
		p.entries++
		p.stats.AddEntriesRead(1)
		p.stats.AddFilesWritten(1)
		ev.Type = event.EntryCompleted
	default:
		p.stats.AddEntriesFailed(1)
		ev.Type = event.EntryFailed
	}
	emitEvent(p.cfg.Events, ev)
	return err
}

// copyPayload writes exactly StoredSize bytes: the data spans of a sparse
// entry, else the whole file. A file that shrank since the scan is an error.
func copyPayload(w io.Writer, f *os.File, e *entry.Entry) (int64, error) {
	spans := e.Sparse
	if e.IsDense() {
		spans = []entry.SparseRegion{{Offset: 0, Length: e.Size()}}
	}
	buf := make([]byte, 256*1024)
	var total int64
	for _, r := range spans {
		n, err := io.CopyBuffer(w, io.NewSectionReader(f, r.Offset, r.Length), buf)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.Length {
			return total, fmt.Errorf("%s: file shrank while archiving: %w", e.Path, io.ErrUnexpectedEOF)
		}
	}
	return total, nil
}

// openOutput creates the archive file. The returned closer removes a
// partial file unless keep is true.
func openOutput(cfg PackConfig) (io.Writer, func(keep bool), error) {
	if cfg.Output != nil {
		return cfg.Output, func(bool) {}, nil
	}
	if cfg.Archive == "-" || cfg.Archive == "" {
		return os.Stdout, func(bool) {}, nil
	}
	f, err := os.OpenFile(cfg.Archive, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, status.Wrap(status.Fatal, status.KindIO, "create", cfg.Archive, err)
	}
	return f, func(keep bool) {
		err := f.Close()
		if !keep || err != nil {
			_ = os.Remove(cfg.Archive)
		}
	}, nil
}
