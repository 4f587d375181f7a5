//go:build linux || darwin

package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/unbox/internal/entry"
)

// unixCaps implements the operations shared by Linux and macOS.
type unixCaps struct{}

func (unixCaps) Umask(mask int) int { return unix.Umask(mask) }

func (unixCaps) Lchown(path string, uid, gid int) error {
	return os.Lchown(path, uid, gid)
}

func (unixCaps) Owner(fi fs.FileInfo) (int64, int64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int64(st.Uid), int64(st.Gid), true
}

//nolint:unconvert,gosec // G115: dev_t is int32 on darwin, always non-negative
func (unixCaps) DevIno(fi fs.FileInfo) (DevIno, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return DevIno{}, false
	}
	return DevIno{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, true
}

//nolint:unconvert,gosec // G115: rdev is non-negative
func (unixCaps) Rdev(fi fs.FileInfo) uint64 {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Rdev)
}

func (unixCaps) Mknod(path string, mode uint32, dev uint64) error {
	//nolint:gosec // G115: device numbers fit in int on supported platforms
	if err := unix.Mknod(path, mode, int(dev)); err != nil {
		return &fs.PathError{Op: "mknod", Path: path, Err: err}
	}
	return nil
}

func (unixCaps) Mkfifo(path string, mode uint32) error {
	if err := unix.Mkfifo(path, mode); err != nil {
		return &fs.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

func (unixCaps) Lutimes(path string, atime, mtime time.Time) error {
	if atime.IsZero() {
		atime = mtime
	}
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("utimensat %s: %w", path, err)
	}
	return nil
}

func (unixCaps) Xattrs(path string) ([]entry.Xattr, error) {
	sz, err := unix.Llistxattr(path, nil)
	if err != nil {
		return nil, xattrErr("listxattr", path, err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	sz, err = unix.Llistxattr(path, buf)
	if err != nil {
		return nil, xattrErr("listxattr", path, err)
	}

	var out []entry.Xattr
	for _, name := range parseXattrNames(buf[:sz]) {
		if name == XattrPOSIXACLAccess || name == XattrPOSIXACLDefault {
			continue // carried as ACL entries
		}
		val, err := getXattr(path, name)
		if err != nil {
			continue
		}
		out = append(out, entry.Xattr{Name: name, Value: val})
	}
	return out, nil
}

func (unixCaps) SetXattrs(path string, xattrs []entry.Xattr) error {
	var errs []error
	for _, x := range xattrs {
		if err := unix.Lsetxattr(path, x.Name, x.Value, 0); err != nil {
			errs = append(errs, xattrErr("setxattr "+x.Name, path, err))
		}
	}
	return errors.Join(errs...)
}

func getXattr(path, name string) ([]byte, error) {
	sz, err := unix.Lgetxattr(path, name, nil)
	if err != nil || sz == 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	sz, err = unix.Lgetxattr(path, name, buf)
	return buf[:sz], err
}

func parseXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

// xattrErr maps "not supported here" errnos onto errors.ErrUnsupported.
func xattrErr(op, path string, err error) error {
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("%s %s: %w (%w)", op, path, errors.ErrUnsupported, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

// SetMacMetadata needs copyfile(3), which is not reachable without cgo.
func (unixCaps) SetMacMetadata(path string, blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	return fmt.Errorf("mac metadata %s: %w", path, errors.ErrUnsupported)
}

func (unixCaps) SupportsHoles(*os.File) bool { return true }

func (unixCaps) Preallocate(f *os.File, size int64) error { return preallocate(f, size) }
