//go:build !linux && !darwin

package platform

import (
	"fmt"
	"io/fs"
	"os"
)

// OpenNoFollow opens path with flag after checking that the last component
// is not a symlink. The check and the open are not atomic here.
func OpenNoFollow(path string, flag int) (*os.File, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fmt.Errorf("is a symlink")}
	}
	return os.OpenFile(path, flag, 0)
}

// OpenDir opens path read-only, only if it is a real directory.
func OpenDir(path string) (*os.File, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fmt.Errorf("not a directory")}
	}
	return os.Open(path)
}
