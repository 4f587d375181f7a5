package restore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/platform"
	"github.com/bamsammich/unbox/internal/status"
)

// Device type bits for mknod, identical on Linux and macOS.
const (
	sIFCHR = 0o020000
	sIFBLK = 0o060000
)

// Directories are created with at least owner rwx so nested entries can be
// written, and never group/other writable until the fixup pass.
const (
	minDirMode = 0o700
	maxDirMode = 0o775
)

// Restorer reconstructs entries under a root directory. Each entry is one
// WriteHeader, any number of WriteBlock calls and one FinishEntry. Close
// replays the deferred fixups and ends the session; it must always be called.
type Restorer struct {
	opts   Options
	root   string
	caps   platform.Capabilities
	sess   *Session
	ledger *Ledger

	cur     *current
	fatal   error
	closed  bool
	skipped bool
}

// current is the entry being restored.
type current struct {
	e   *entry.Entry
	rel string
	// path receives data and metadata while the entry is open. It differs
	// from final only for safe writes.
	path  string
	final string

	f       *os.File
	holes   bool
	end     int64
	clipped bool

	mode     uint32
	uid, gid int64
	existing bool
	replace  bool
	skip     bool
	tally    status.Tally
}

// New starts a restore session rooted at opts.Root, which must exist.
func New(opts Options) (*Restorer, error) {
	if opts.Caps == nil {
		opts.Caps = platform.Native()
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("extraction root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("extraction root %s: not a directory", abs)
	}
	return &Restorer{
		opts:   opts,
		root:   abs,
		caps:   opts.Caps,
		sess:   BeginSession(opts.Caps),
		ledger: NewLedger(),
	}, nil
}

// Root returns the absolute extraction directory.
func (r *Restorer) Root() string { return r.root }

// Umask returns the mask that was in effect before the session began.
func (r *Restorer) Umask() uint32 { return r.sess.Umask() }

// Pending returns the number of paths waiting for fixups.
func (r *Restorer) Pending() int { return r.ledger.Len() }

// Skipped reports whether the last finished entry left the disk untouched,
// either because it failed early or because an existing object was kept.
func (r *Restorer) Skipped() bool { return r.skipped }

// WriteHeader creates the object for e. A Warn leaves the entry open for
// data; a Failed error means the entry was abandoned and its data will be
// discarded. FinishEntry must still be called.
func (r *Restorer) WriteHeader(e *entry.Entry) error {
	switch {
	case r.closed, r.cur != nil:
		return status.ErrMisuse
	case r.fatal != nil:
		return r.fatal
	}
	c := &current{e: e.Clone()}
	r.cur = c
	if err := r.begin(c); err != nil {
		c.tally.Add(err)
		c.skip = true
		r.discard(c)
		if status.IsFatal(err) {
			r.fatal = err
		}
	}
	return c.tally.Err()
}

func (r *Restorer) begin(c *current) error {
	if _, err := os.Stat(r.root); err != nil {
		return status.Wrap(status.Fatal, status.KindIO, "stat root", r.root, err)
	}
	e := c.e
	rel, err := CleanPath(e.Path, r.opts.NoDotDot, r.opts.NoAbsolutePaths)
	if status.CodeOf(err) >= status.Failed {
		return err
	}
	c.tally.Add(err)
	if rel == "." && e.Type != entry.Dir {
		return status.Failf(status.KindFormat, "path", e.Path, "only a directory may name the extraction root")
	}
	c.rel = rel
	c.path = filepath.Join(r.root, filepath.FromSlash(rel))
	c.final = c.path

	if r.opts.SecureSymlinks && rel != "." {
		if err := r.guard(rel); err != nil {
			return err
		}
	}
	if r.opts.SkipFile != nil {
		if fi, err := os.Lstat(c.path); err == nil {
			if id, ok := r.caps.DevIno(fi); ok && id == *r.opts.SkipFile {
				return status.Failf(status.KindPolicy, "restore", rel, "refusing to overwrite the archive being read")
			}
		}
	}

	c.uid, c.gid = e.UID, e.GID
	if !r.opts.NumericOwner && r.opts.Lookup != nil {
		c.uid = r.opts.Lookup.UID(e.Uname, e.UID)
		c.gid = r.opts.Lookup.GID(e.Gname, e.GID)
	}
	c.mode = r.finalMode(e)
	return r.create(c)
}

func (r *Restorer) finalMode(e *entry.Entry) uint32 {
	mode := e.Mode & entry.ModeMask
	if !r.opts.Perm {
		mode &^= entry.ModeSetuid | entry.ModeSetgid | entry.ModeSticky
		mode &^= r.sess.Umask()
	}
	return mode
}

func dirWorkingMode(mode uint32) uint32 {
	return (mode&entry.ModePerm | minDirMode) & maxDirMode
}

func fileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & entry.ModePerm)
	if m&entry.ModeSetuid != 0 {
		mode |= fs.ModeSetuid
	}
	if m&entry.ModeSetgid != 0 {
		mode |= fs.ModeSetgid
	}
	if m&entry.ModeSticky != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// create makes the object, creating missing parents or clearing a
// conflicting object and retrying once.
func (r *Restorer) create(c *current) error {
	err := r.createOnce(c)
	if err == nil {
		return nil
	}
	var se *status.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		if r.opts.NoAutodir {
			return status.Wrap(status.Failed, status.KindIO, "create", c.rel, err)
		}
		if err := r.mkParents(c); err != nil {
			return err
		}
		if err = r.createOnce(c); err == nil || errors.As(err, &se) {
			return err
		}
	}
	if !errors.Is(err, fs.ErrExist) {
		return status.Wrap(status.Failed, status.KindIO, "create", c.rel, err)
	}
	return r.resolveConflict(c)
}

func (r *Restorer) resolveConflict(c *current) error {
	e := c.e
	fi, err := os.Lstat(c.path)
	if err != nil {
		return status.Wrap(status.Failed, status.KindIO, "lstat", c.rel, err)
	}
	if fi.IsDir() && e.Type == entry.Dir {
		c.existing = true
		c.skip = r.opts.NoOverwrite
		return nil
	}
	if r.opts.NoOverwrite {
		c.skip = true
		c.tally.Add(status.Warnf(status.KindPolicy, "create", c.rel, "already exists, not overwriting"))
		return nil
	}
	if r.opts.NoOverwriteNewer && !e.Mtime.IsZero() && fi.ModTime().After(e.Mtime) {
		c.skip = true
		c.tally.Add(status.Warnf(status.KindPolicy, "create", c.rel, "existing object is newer, not overwriting"))
		return nil
	}

	switch {
	case fi.IsDir():
		// Only an empty directory can be replaced.
		if err := os.Remove(c.path); err != nil {
			return status.Wrap(status.Failed, status.KindIO, "replace directory", c.rel, err)
		}
	case r.opts.SafeWrites && e.Type == entry.Regular && !e.IsHardlink():
		c.replace = true
	default:
		if err := os.Remove(c.path); err != nil {
			return status.Wrap(status.Failed, status.KindIO, "unlink", c.rel, err)
		}
	}
	if err := r.createOnce(c); err != nil {
		var se *status.Error
		if errors.As(err, &se) {
			return err
		}
		return status.Wrap(status.Failed, status.KindIO, "create", c.rel, err)
	}
	return nil
}

func (r *Restorer) mkParents(c *current) error {
	perm := (0o777 &^ r.sess.Umask()) | minDirMode
	if err := os.MkdirAll(filepath.Dir(c.final), fileMode(perm)); err != nil {
		return status.Wrap(status.Failed, status.KindIO, "create parent", c.rel, err)
	}
	return nil
}

func (r *Restorer) createOnce(c *current) error {
	e := c.e
	perm := c.mode & entry.ModePerm
	switch {
	case e.IsHardlink():
		return r.link(c)
	case e.Type == entry.Symlink:
		return os.Symlink(e.Symlink, c.path)
	case e.Type == entry.Dir:
		return os.Mkdir(c.path, fileMode(dirWorkingMode(c.mode)))
	case e.Type == entry.CharDevice:
		return r.caps.Mknod(c.path, sIFCHR|perm, e.Rdev)
	case e.Type == entry.BlockDevice:
		return r.caps.Mknod(c.path, sIFBLK|perm, e.Rdev)
	case e.Type == entry.FIFO:
		return r.caps.Mkfifo(c.path, perm)
	}
	return r.openFile(c)
}

// link creates a hardlink to an earlier entry. The target's directory is
// resolved inside the root so a symlinked parent cannot point it elsewhere.
func (r *Restorer) link(c *current) error {
	e := c.e
	rel, err := CleanPath(e.Hardlink, r.opts.NoDotDot, r.opts.NoAbsolutePaths)
	if status.CodeOf(err) >= status.Failed {
		return err
	}
	dir, base := path.Split(rel)
	scoped, err := securejoin.SecureJoin(r.root, filepath.FromSlash(dir))
	if err != nil {
		return status.Wrap(status.Failed, status.KindPolicy, "hardlink target", e.Hardlink, err)
	}
	src := filepath.Join(scoped, base)
	payload := e.SizeKnown() && e.Size() > 0
	if payload {
		// Data for the link rewrites the shared inode, which must be a
		// regular file inside the root.
		fi, err := os.Lstat(src)
		if err != nil {
			return status.Wrap(status.Failed, status.KindIO, "hardlink target", e.Hardlink, err)
		}
		if !fi.Mode().IsRegular() {
			return status.Failf(status.KindPolicy, "hardlink", c.rel,
				"target %s is not a regular file", e.Hardlink)
		}
	}
	if err := os.Link(src, c.path); err != nil {
		return err
	}
	if payload {
		f, err := platform.OpenNoFollow(c.path, os.O_WRONLY|os.O_TRUNC)
		if err != nil {
			return status.Wrap(status.Failed, status.KindIO, "open hardlink", c.rel, err)
		}
		c.f = f
		c.holes = r.caps.SupportsHoles(f)
		c.existing = true
	}
	return nil
}

func (r *Restorer) openFile(c *current) error {
	target := c.final
	if r.opts.SafeWrites {
		if !c.replace {
			if _, err := os.Lstat(c.final); err == nil {
				return &fs.PathError{Op: "create", Path: c.final, Err: fs.ErrExist}
			}
		}
		target = tmpName(c.final)
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode(c.mode&entry.ModePerm))
	if err != nil {
		return err
	}
	if target != c.final {
		tmpFiles.add(target)
	}
	c.path = target
	c.f = f
	c.holes = r.caps.SupportsHoles(f)
	if c.e.SizeKnown() && c.e.IsDense() {
		if err := r.caps.Preallocate(f, c.e.Size()); err != nil {
			return status.Wrap(status.Fatal, status.KindResource, "preallocate", c.rel, err)
		}
	}
	return nil
}

// WriteBlock writes payload at its logical offset. Gaps are left as holes
// unless the filesystem cannot hold them, in which case they are zeroed.
// Data past the declared size is dropped with a warning.
func (r *Restorer) WriteBlock(data []byte, offset int64) (int, error) {
	c := r.cur
	if c == nil || r.closed {
		return 0, status.ErrMisuse
	}
	if c.skip || c.f == nil {
		return len(data), nil
	}
	n := int64(len(data))
	if c.e.SizeKnown() && offset+n > c.e.Size() {
		n = max(c.e.Size()-offset, 0)
		if !c.clipped {
			c.clipped = true
			c.tally.Add(status.Warnf(status.KindFormat, "write", c.rel,
				"data beyond declared size %d discarded", c.e.Size()))
		}
	}
	if n == 0 {
		return 0, nil
	}
	if !c.holes && offset > c.end {
		if _, err := platform.WriteZeros(c.f, c.end, offset-c.end); err != nil {
			return 0, r.writeFailed(c, err)
		}
	}
	w, err := c.f.WriteAt(data[:n], offset)
	if end := offset + int64(w); end > c.end {
		c.end = end
	}
	if err != nil {
		return w, r.writeFailed(c, err)
	}
	return w, nil
}

func (r *Restorer) writeFailed(c *current, err error) error {
	code, kind := status.Failed, status.KindIO
	if errors.Is(err, syscall.ENOSPC) {
		code, kind = status.Fatal, status.KindResource
	}
	serr := status.Wrap(code, kind, "write", c.rel, err)
	c.tally.Add(serr)
	c.skip = true
	r.discard(c)
	if code == status.Fatal {
		r.fatal = serr
	}
	return serr
}

// discard drops an abandoned entry's open file and any staging temp.
func (r *Restorer) discard(c *current) {
	if c.f != nil {
		_ = c.f.Close()
		c.f = nil
	}
	if c.path != c.final {
		_ = os.Remove(c.path)
		tmpFiles.remove(c.path)
		c.path = c.final
	}
}

// FinishEntry sizes the file, applies metadata that can be set now, queues
// the rest and returns the worst outcome of the whole entry.
func (r *Restorer) FinishEntry() error {
	c := r.cur
	if c == nil || r.closed {
		return status.ErrMisuse
	}
	r.cur = nil
	r.skipped = c.skip
	if c.skip {
		return c.tally.Err()
	}
	if c.f != nil {
		if err := r.finishData(c); err != nil {
			c.tally.Add(err)
			r.discard(c)
			return c.tally.Err()
		}
	}
	r.settle(c)
	if c.path != c.final {
		if err := os.Rename(c.path, c.final); err != nil {
			c.tally.Add(status.Wrap(status.Failed, status.KindIO, "rename", c.rel, err))
			r.discard(c)
			return c.tally.Err()
		}
		tmpFiles.remove(c.path)
		c.path = c.final
	}
	return c.tally.Err()
}

func (r *Restorer) finishData(c *current) error {
	size := c.end
	if c.e.SizeKnown() {
		size = c.e.Size()
	}
	if size > c.end {
		var err error
		if c.holes {
			err = c.f.Truncate(size)
		} else {
			_, err = platform.WriteZeros(c.f, c.end, size-c.end)
		}
		if err != nil {
			return status.Wrap(status.Failed, status.KindIO, "extend", c.rel, err)
		}
	}
	err := c.f.Close()
	c.f = nil
	if err != nil {
		return status.Wrap(status.Failed, status.KindIO, "close", c.rel, err)
	}
	return nil
}

// settle applies ownership first since chown may clear SUID/SGID, then
// mode, xattrs, ACL, times and flags. Directory metadata and flags that
// would block later writes go to the ledger.
func (r *Restorer) settle(c *current) {
	e := c.e
	t := &c.tally
	if e.IsHardlink() && !c.existing {
		return
	}
	if r.opts.Owner {
		t.Add(metaErr("chown", c.rel, r.caps.Lchown(c.path, int(c.uid), int(c.gid))))
	}
	if e.Type == entry.Dir {
		r.deferDir(c)
		return
	}
	symlink := e.Type == entry.Symlink
	if !symlink && (c.existing || c.mode&^entry.ModePerm != 0) {
		r.chmod(c.path, c.rel, c.mode, c.uid, c.gid, t)
	}
	if r.opts.Xattrs && len(e.Xattrs) > 0 {
		t.Add(metaErr("xattrs", c.rel, r.caps.SetXattrs(c.path, e.Xattrs)))
	}
	if r.opts.ACL && len(e.ACL) > 0 && !symlink {
		t.Add(metaErr("acl", c.rel, r.caps.SetACL(c.path, e.ACL, c.mode, false)))
	}
	if r.opts.Times {
		r.setTimes(c.path, c.rel, e.Atime, e.Mtime, e.Birthtime, t)
	}
	if r.opts.MacMetadata && len(e.MacMetadata) > 0 {
		t.Add(metaErr("mac metadata", c.rel, r.caps.SetMacMetadata(c.path, e.MacMetadata)))
	}
	if r.opts.Fflags && !symlink && e.Fflags != (entry.Fflags{}) {
		if e.Fflags.Blocking() {
			fx := r.ledger.Get(c.final)
			r.track(fx, c.path)
			fx.Ops.Add(OpFflags)
			fx.Fflags = e.Fflags
			return
		}
		t.Add(metaErr("fflags", c.rel, r.caps.SetFlags(c.path, e.Fflags.Set, e.Fflags.Clear)))
	}
}

// deferDir records a directory's metadata for the replay at Close, after
// every nested entry has been written.
func (r *Restorer) deferDir(c *current) {
	e := c.e
	fx := r.ledger.Get(c.final)
	fx.IsDir = true
	r.track(fx, c.path)
	fx.Mode, fx.UID, fx.GID = c.mode, c.uid, c.gid
	if (!c.existing && dirWorkingMode(c.mode) != c.mode) || (c.existing && r.opts.Perm) {
		fx.Ops.Add(OpMode)
		if c.mode&entry.ModeSetuid != 0 {
			fx.Ops.Add(OpSUID)
		}
		if c.mode&entry.ModeSetgid != 0 {
			fx.Ops.Add(OpSGID)
		}
	}
	if r.opts.Times && !e.Mtime.IsZero() {
		fx.Ops.Add(OpTimes)
		fx.Atime, fx.Mtime, fx.Birthtime = e.Atime, e.Mtime, e.Birthtime
	}
	if r.opts.ACL && len(e.ACL) > 0 {
		fx.Ops.Add(OpACL)
		fx.ACL = e.ACL
	}
	if r.opts.Xattrs && len(e.Xattrs) > 0 {
		fx.Ops.Add(OpXattrs)
		fx.Xattrs = e.Xattrs
	}
	if r.opts.Fflags && e.Fflags != (entry.Fflags{}) {
		fx.Ops.Add(OpFflags)
		fx.Fflags = e.Fflags
	}
	if r.opts.MacMetadata && len(e.MacMetadata) > 0 {
		fx.Ops.Add(OpMacMetadata)
		fx.MacMetadata = e.MacMetadata
	}
}

// track remembers which inode a fixup belongs to.
func (r *Restorer) track(fx *Fixup, p string) {
	if fi, err := os.Lstat(p); err == nil {
		fx.ID, fx.HasID = r.caps.DevIno(fi)
	}
}

// chmod sets mode, dropping SUID/SGID with a warning unless the object's
// actual owner and group match the ones the entry asked for.
func (r *Restorer) chmod(p, rel string, mode uint32, uid, gid int64, t *status.Tally) {
	if fi, err := os.Lstat(p); err == nil {
		mode = r.specialBits(fi, rel, mode, uid, gid, t)
	} else {
		mode &^= entry.ModeSetuid | entry.ModeSetgid
	}
	t.Add(metaErr("chmod", rel, os.Chmod(p, fileMode(mode))))
}

func (r *Restorer) specialBits(fi fs.FileInfo, rel string, mode uint32, uid, gid int64, t *status.Tally) uint32 {
	if mode&(entry.ModeSetuid|entry.ModeSetgid) == 0 {
		return mode
	}
	fuid, fgid, ok := r.caps.Owner(fi)
	if mode&entry.ModeSetuid != 0 && (!ok || fuid != uid) {
		mode &^= entry.ModeSetuid
		t.Add(status.Warnf(status.KindPolicy, "chmod", rel, "cannot restore SUID bit: owner does not match"))
	}
	if mode&entry.ModeSetgid != 0 && (!ok || fgid != gid) {
		mode &^= entry.ModeSetgid
		t.Add(status.Warnf(status.KindPolicy, "chmod", rel, "cannot restore SGID bit: group does not match"))
	}
	return mode
}

func (r *Restorer) setTimes(p, rel string, atime, mtime, birth time.Time, t *status.Tally) {
	if !birth.IsZero() {
		if err := r.caps.SetBirthtime(p, birth); !errors.Is(err, errors.ErrUnsupported) {
			t.Add(metaErr("birthtime", rel, err))
		}
	}
	if mtime.IsZero() {
		return
	}
	t.Add(metaErr("utimes", rel, r.caps.Lutimes(p, atime, mtime)))
}

// metaErr turns a metadata failure into a warning. Missing platform
// support is reported as a capability gap.
func metaErr(op, rel string, err error) error {
	if err == nil {
		return nil
	}
	kind := status.KindIO
	if errors.Is(err, errors.ErrUnsupported) {
		kind = status.KindCapability
	}
	return status.Wrap(status.Warn, kind, op, rel, err)
}

// Close finishes any open entry, replays the fixup ledger deepest path
// first and restores the umask. Every replay failure is a warning.
func (r *Restorer) Close() error {
	if r.closed {
		return nil
	}
	var t status.Tally
	if r.cur != nil {
		t.Add(r.FinishEntry())
	}
	r.closed = true
	defer r.sess.End()

	fixups := r.ledger.Sorted()
	slog.Debug("replaying fixups", "root", r.root, "count", len(fixups))
	for _, fx := range fixups {
		r.replay(fx, &t)
	}
	return t.Err()
}

func (r *Restorer) replay(fx *Fixup, t *status.Tally) {
	rel, err := filepath.Rel(r.root, fx.Path)
	if err != nil {
		rel = fx.Path
	}
	rel = filepath.ToSlash(rel)

	fi, err := os.Lstat(fx.Path)
	if err != nil {
		t.Add(metaErr("fixup", rel, err))
		return
	}
	if !r.sameObject(fx, fi) {
		t.Add(status.Warnf(status.KindPolicy, "fixup", rel,
			"replaced after extraction, not applying deferred metadata"))
		return
	}

	if fx.Ops.Has(OpTimes) {
		r.setTimes(fx.Path, rel, fx.Atime, fx.Mtime, fx.Birthtime, t)
	}
	if fx.Ops.Has(OpMode) {
		mode := fx.Mode
		if !fx.Ops.Has(OpSUID) {
			mode &^= entry.ModeSetuid
		}
		if !fx.Ops.Has(OpSGID) {
			mode &^= entry.ModeSetgid
		}
		r.chmodFixup(fx, fi, rel, mode, t)
	}
	if fx.Ops.Has(OpACL) {
		t.Add(metaErr("acl", rel, r.caps.SetACL(fx.Path, fx.ACL, fx.Mode, fx.IsDir)))
	}
	if fx.Ops.Has(OpXattrs) {
		t.Add(metaErr("xattrs", rel, r.caps.SetXattrs(fx.Path, fx.Xattrs)))
	}
	if fx.Ops.Has(OpFflags) {
		t.Add(metaErr("fflags", rel, r.caps.SetFlags(fx.Path, fx.Fflags.Set, fx.Fflags.Clear)))
	}
	if fx.Ops.Has(OpMacMetadata) {
		t.Add(metaErr("mac metadata", rel, r.caps.SetMacMetadata(fx.Path, fx.MacMetadata)))
	}
}

// sameObject reports whether fi is still the object the fixup was recorded
// for. A directory must still be a real directory and nothing may have
// turned into a symlink.
func (r *Restorer) sameObject(fx *Fixup, fi fs.FileInfo) bool {
	if fx.IsDir && !fi.IsDir() {
		return false
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return false
	}
	if fx.HasID {
		id, ok := r.caps.DevIno(fi)
		return ok && id == fx.ID
	}
	return true
}

// chmodFixup changes a directory's mode through a descriptor that cannot
// follow a symlink swapped in after the identity check.
func (r *Restorer) chmodFixup(fx *Fixup, fi fs.FileInfo, rel string, mode uint32, t *status.Tally) {
	if !fx.IsDir {
		r.chmod(fx.Path, rel, mode, fx.UID, fx.GID, t)
		return
	}
	f, err := platform.OpenDir(fx.Path)
	if err != nil {
		t.Add(metaErr("chmod", rel, err))
		return
	}
	defer f.Close()
	mode = r.specialBits(fi, rel, mode, fx.UID, fx.GID, t)
	t.Add(metaErr("chmod", rel, f.Chmod(fileMode(mode))))
}
