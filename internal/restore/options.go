package restore

import (
	"github.com/bamsammich/unbox/internal/platform"
)

// Options controls how entries are reconstructed on disk.
type Options struct {
	// Root is the extraction directory. Empty means the working directory.
	Root string

	Owner       bool // restore uid/gid
	Perm        bool // restore the full mode, including SUID/SGID/sticky
	Times       bool
	ACL         bool
	Xattrs      bool
	Fflags      bool
	MacMetadata bool

	NoOverwrite      bool // leave existing objects alone
	NoOverwriteNewer bool // leave existing objects newer than the entry alone

	// Unlink removes symlinks and non-directories found in the middle of a
	// destination path instead of failing the entry.
	Unlink         bool
	SecureSymlinks bool
	// NoDotDot fails entries whose path has a ".." component. When false,
	// such paths are kept with a warning and may resolve outside Root;
	// SecureSymlinks then only checks the components still inside Root.
	NoDotDot        bool
	NoAbsolutePaths bool
	NoAutodir       bool

	// SafeWrites writes regular files to a temporary name in the target
	// directory and renames them into place when complete.
	SafeWrites   bool
	NumericOwner bool

	// Lookup maps owner names to ids. Nil means numeric ids only.
	Lookup OwnerLookup
	// Caps is the platform layer. Nil means platform.Native().
	Caps platform.Capabilities
	// SkipFile identifies the archive being read so it is never overwritten.
	SkipFile *platform.DevIno
}

// DefaultOptions returns the settings used by the CLI when no flags or
// config say otherwise.
func DefaultOptions() Options {
	return Options{
		Times:          true,
		ACL:            true,
		Xattrs:         true,
		Fflags:         true,
		SecureSymlinks: true,
		NoDotDot:       true,
	}
}
