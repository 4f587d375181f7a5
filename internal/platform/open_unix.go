//go:build linux || darwin

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenNoFollow opens path with flag, failing with ELOOP when the last
// component is a symlink.
func OpenNoFollow(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
}

// OpenDir opens path read-only, only if it is a real directory.
func OpenDir(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
}
