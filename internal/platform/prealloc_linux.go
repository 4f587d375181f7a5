//go:build linux

package platform

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// preallocThreshold is the smallest payload worth reserving up front.
const preallocThreshold = 1 << 20

// preallocate reserves blocks for a dense payload of size bytes without
// changing the file length. Only ENOSPC is reported; filesystems that lack
// fallocate are ignored.
//
//nolint:gosec // G115: fd values are small non-negative integers
func preallocate(f *os.File, size int64) error {
	if size < preallocThreshold {
		return nil
	}
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if errors.Is(err, unix.ENOSPC) {
		return err
	}
	return nil
}
