package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/filter"
	"github.com/bamsammich/unbox/internal/platform"
	"github.com/bamsammich/unbox/internal/restore"
	"github.com/bamsammich/unbox/internal/status"
)

// ScannerConfig controls scanner behavior.
type ScannerConfig struct {
	Root    string
	Workers int
	Filter  *filter.Chain
	Xattrs  bool
	ACL     bool
	Sparse  bool
	// Lookup resolves owner names. Nil records numeric ids only.
	Lookup restore.OwnerLookup
	Caps   platform.Capabilities
}

// Scanned is one filesystem object found by the scanner.
type Scanned struct {
	Entry *entry.Entry
	// Src is the absolute path to read the payload from.
	Src   string
	id    platform.DevIno
	nlink uint64
}

// Scanner traverses a directory tree in parallel and collects entries in
// archive order.
type Scanner struct {
	cfg  ScannerConfig
	mu   sync.Mutex
	out  []*Scanned
	errs status.Tally
}

// NewScanner creates a scanner with the given config.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = min(runtime.NumCPU(), 8)
	}
	if cfg.Caps == nil {
		cfg.Caps = platform.Native()
	}
	return &Scanner{cfg: cfg}
}

// Scan walks the tree and returns its entries sorted by path, parents
// before children, with repeated inodes turned into hardlinks to the first
// path. Unreadable objects are reported in the returned error and left out.
func (s *Scanner) Scan(ctx context.Context) ([]*Scanned, error) {
	fi, err := os.Lstat(s.cfg.Root)
	if err != nil {
		return nil, status.Wrap(status.Fatal, status.KindIO, "scan", s.cfg.Root, err)
	}
	if !fi.IsDir() {
		return nil, status.Failf(status.KindMisuse, "scan", s.cfg.Root, "not a directory")
	}
	s.scanTree(ctx)
	if err := ctx.Err(); err != nil {
		s.errs.Add(status.Wrap(status.Fatal, status.KindIO, "scan", s.cfg.Root, err))
	}

	slices.SortFunc(s.out, func(a, b *Scanned) int {
		return strings.Compare(a.Entry.Path, b.Entry.Path)
	})
	linkHardlinks(s.out)
	return s.out, s.errs.Err()
}

func (s *Scanner) scanTree(ctx context.Context) {
	workQueue := make(chan string, s.cfg.Workers*2)
	var outstanding sync.WaitGroup // directories queued but not yet processed

	var workerWg sync.WaitGroup
	for range s.cfg.Workers {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for dirPath := range workQueue {
				s.scanDir(ctx, dirPath, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	outstanding.Add(1)
	workQueue <- s.cfg.Root

	outstanding.Wait()
	close(workQueue)
	workerWg.Wait()
}

func (s *Scanner) scanDir(ctx context.Context, dirPath string, workQueue chan<- string, outstanding *sync.WaitGroup) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		s.fail(status.Wrap(status.Failed, status.KindIO, "readdir", dirPath, err))
		return
	}

	for _, de := range entries {
		if ctx.Err() != nil {
			return
		}
		p := filepath.Join(dirPath, de.Name())
		sc, err := s.scanOne(p)
		if err != nil {
			s.fail(err)
			continue
		}
		if sc == nil {
			continue
		}
		s.mu.Lock()
		s.out = append(s.out, sc)
		s.mu.Unlock()

		if sc.Entry.Type == entry.Dir {
			outstanding.Add(1)
			select {
			case workQueue <- p:
			default:
				// Queue full: hand off so a busy worker never blocks on itself.
				go func() { workQueue <- p }()
			}
		}
	}
}

// scanOne builds the entry for p. It returns nil for filtered-out objects
// and sockets, which no archive format carries.
func (s *Scanner) scanOne(p string) (*Scanned, error) {
	fi, err := os.Lstat(p)
	if err != nil {
		return nil, status.Wrap(status.Failed, status.KindIO, "lstat", p, err)
	}
	rel, err := filepath.Rel(s.cfg.Root, p)
	if err != nil {
		return nil, status.Wrap(status.Failed, status.KindIO, "rel", p, err)
	}
	e := entry.New(filepath.ToSlash(rel))
	mode := fi.Mode()
	switch {
	case mode.IsDir():
		e.Type = entry.Dir
	case mode&fs.ModeSymlink != 0:
		e.Type = entry.Symlink
		if e.Symlink, err = os.Readlink(p); err != nil {
			return nil, status.Wrap(status.Failed, status.KindIO, "readlink", p, err)
		}
	case mode&fs.ModeNamedPipe != 0:
		e.Type = entry.FIFO
	case mode&fs.ModeDevice != 0:
		e.Type = entry.BlockDevice
		if mode&fs.ModeCharDevice != 0 {
			e.Type = entry.CharDevice
		}
		e.Rdev = s.cfg.Caps.Rdev(fi)
	case mode.IsRegular():
		e.SetSize(fi.Size())
	default:
		return nil, nil
	}
	e.Mode = permBits(mode)
	e.Mtime = fi.ModTime()
	e.Atime, e.Ctime, e.Birthtime = statTimes(p, fi)
	if uid, gid, ok := s.cfg.Caps.Owner(fi); ok {
		e.UID, e.GID = uid, gid
		if s.cfg.Lookup != nil {
			e.Uname = s.cfg.Lookup.UserName(uid)
			e.Gname = s.cfg.Lookup.GroupName(gid)
		}
	}

	if s.cfg.Filter != nil && !s.cfg.Filter.MatchEntry(e) {
		return nil, nil
	}

	sc := &Scanned{Entry: e, Src: p}
	if id, ok := s.cfg.Caps.DevIno(fi); ok {
		sc.id = id
		sc.nlink = nlinkOf(fi)
	}
	s.metadata(sc, fi)
	return sc, nil
}

// metadata attaches xattrs, ACLs and the sparse map. Failures are Warnings:
// the object is still archived without them.
func (s *Scanner) metadata(sc *Scanned, fi fs.FileInfo) {
	e, p := sc.Entry, sc.Src
	if s.cfg.Xattrs {
		xs, err := s.cfg.Caps.Xattrs(p)
		s.warn("xattrs", p, err)
		for _, x := range xs {
			e.AddXattr(x.Name, x.Value)
		}
	}
	if s.cfg.ACL && e.Type != entry.Symlink {
		acl, err := s.cfg.Caps.ACL(p, e.Type == entry.Dir)
		s.warn("acl", p, err)
		e.ACL = acl
	}
	if s.cfg.Sparse && e.Type == entry.Regular && fi.Size() > 0 {
		f, err := os.Open(p)
		if err != nil {
			s.warn("sparse map", p, err)
			return
		}
		regions, err := SparseMap(f, fi.Size())
		_ = f.Close()
		s.warn("sparse map", p, err)
		for _, r := range regions {
			if err := e.AddSparse(r.Offset, r.Length); err != nil {
				s.warn("sparse map", p, err)
				e.Sparse = e.Sparse[:0]
				break
			}
		}
	}
}

func (s *Scanner) warn(op, p string, err error) {
	if err == nil || errors.Is(err, errors.ErrUnsupported) {
		return
	}
	s.fail(status.Wrap(status.Warn, status.KindIO, op, p, err))
}

func (s *Scanner) fail(err error) {
	s.mu.Lock()
	s.errs.Add(err)
	s.mu.Unlock()
}

// linkHardlinks turns every later path of a multiply-linked regular file
// into a hardlink entry naming the first path in archive order.
func linkHardlinks(out []*Scanned) {
	first := make(map[platform.DevIno]string)
	for _, sc := range out {
		e := sc.Entry
		if e.Type != entry.Regular || sc.nlink < 2 {
			continue
		}
		target, seen := first[sc.id]
		if !seen {
			first[sc.id] = e.Path
			continue
		}
		e.Hardlink = target
		e.SetSize(0)
		e.Sparse = nil
	}
}

func permBits(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= entry.ModeSetuid
	}
	if m&fs.ModeSetgid != 0 {
		bits |= entry.ModeSetgid
	}
	if m&fs.ModeSticky != 0 {
		bits |= entry.ModeSticky
	}
	return bits
}

func nlinkOf(fi fs.FileInfo) uint64 {
	if n, ok := linkCount(fi); ok {
		return n
	}
	return 1
}
