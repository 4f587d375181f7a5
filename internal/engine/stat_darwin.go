//go:build darwin

package engine

import (
	"io/fs"
	"syscall"
	"time"
)

// statTimes returns the access, change and birth times of a stat result.
func statTimes(_ string, fi fs.FileInfo) (atime, ctime, birth time.Time) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return atime, ctime, birth
	}
	atime = time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)
	ctime = time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)
	birth = time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec)
	return atime, ctime, birth
}

func linkCount(fi fs.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Nlink), true
}
