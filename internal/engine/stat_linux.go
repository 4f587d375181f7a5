//go:build linux

package engine

import (
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// statTimes returns the access, change and birth times of path. Birth time
// comes from statx and is zero when the filesystem does not record it.
func statTimes(path string, fi fs.FileInfo) (atime, ctime, birth time.Time) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err == nil && stx.Mask&unix.STATX_BTIME != 0 {
		birth = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	return atime, ctime, birth
}

func linkCount(fi fs.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Nlink), true //nolint:unconvert // nlink_t width differs per arch
}
