//go:build !linux && !darwin

package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/bamsammich/unbox/internal/entry"
)

// otherCaps is the fallback for platforms without the unix syscalls the
// restorer relies on. Everything beyond plain file creation is unsupported.
type otherCaps struct{}

// Native returns the capabilities of the running platform.
//
//nolint:ireturn // factory returns interface by design
func Native() Capabilities { return otherCaps{} }

func unsupported(what string) error {
	return fmt.Errorf("%s: %w", what, errors.ErrUnsupported)
}

func (otherCaps) Umask(int) int { return 0 }

func (otherCaps) Lchown(path string, uid, gid int) error { return os.Lchown(path, uid, gid) }

func (otherCaps) Owner(fs.FileInfo) (int64, int64, bool) { return 0, 0, false }

func (otherCaps) DevIno(fs.FileInfo) (DevIno, bool) { return DevIno{}, false }

func (otherCaps) Rdev(fs.FileInfo) uint64 { return 0 }

func (otherCaps) Mknod(string, uint32, uint64) error { return unsupported("mknod") }

func (otherCaps) Mkfifo(string, uint32) error { return unsupported("mkfifo") }

func (otherCaps) Lutimes(path string, atime, mtime time.Time) error {
	if atime.IsZero() {
		atime = mtime
	}
	return os.Chtimes(path, atime, mtime)
}

func (otherCaps) SetBirthtime(string, time.Time) error { return unsupported("birthtime") }

func (otherCaps) Xattrs(string) ([]entry.Xattr, error) { return nil, nil }

func (otherCaps) SetXattrs(_ string, xattrs []entry.Xattr) error {
	if len(xattrs) == 0 {
		return nil
	}
	return unsupported("xattr")
}

func (otherCaps) ACL(string, bool) (entry.ACLList, error) { return nil, nil }

func (otherCaps) SetACL(_ string, acl entry.ACLList, _ uint32, _ bool) error {
	if len(acl) == 0 {
		return nil
	}
	return unsupported("acl")
}

func (otherCaps) SetFlags(_ string, set, clear uint64) error {
	if set == 0 && clear == 0 {
		return nil
	}
	return unsupported("fflags")
}

func (otherCaps) SetMacMetadata(_ string, blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	return unsupported("mac metadata")
}

func (otherCaps) SupportsHoles(*os.File) bool { return false }

func (otherCaps) Preallocate(f *os.File, size int64) error { return preallocate(f, size) }
