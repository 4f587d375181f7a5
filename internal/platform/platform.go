package platform

import (
	"io/fs"
	"os"
	"time"

	"github.com/bamsammich/unbox/internal/entry"
)

// DevIno uniquely identifies an inode.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// Capabilities is the narrow set of OS operations the restorer and packer
// need beyond the os package. Methods return errors.ErrUnsupported (possibly
// wrapped) when the platform or filesystem lacks the feature.
type Capabilities interface {
	// Umask sets the process file mode creation mask and returns the old one.
	Umask(mask int) int
	Lchown(path string, uid, gid int) error
	// Owner extracts numeric ownership from a stat result.
	Owner(fi fs.FileInfo) (uid, gid int64, ok bool)
	DevIno(fi fs.FileInfo) (DevIno, bool)
	// Rdev returns the device number of a device node.
	Rdev(fi fs.FileInfo) uint64
	Mknod(path string, mode uint32, dev uint64) error
	Mkfifo(path string, mode uint32) error
	// Lutimes sets access and modification times without following a final
	// symlink. A zero atime is replaced by mtime.
	Lutimes(path string, atime, mtime time.Time) error
	SetBirthtime(path string, t time.Time) error
	Xattrs(path string) ([]entry.Xattr, error)
	SetXattrs(path string, xattrs []entry.Xattr) error
	ACL(path string, isDir bool) (entry.ACLList, error)
	SetACL(path string, acl entry.ACLList, mode uint32, isDir bool) error
	SetFlags(path string, set, clear uint64) error
	// SetMacMetadata restores an AppleDouble blob captured on macOS.
	SetMacMetadata(path string, blob []byte) error
	// SupportsHoles reports whether seeking past EOF and truncating leaves
	// unallocated holes rather than requiring explicit zero writes.
	SupportsHoles(f *os.File) bool
	Preallocate(f *os.File, size int64) error
}
