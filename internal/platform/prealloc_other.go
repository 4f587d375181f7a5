//go:build !linux

package platform

import "os"

// preallocate does nothing where fallocate is unavailable; the space check
// happens on the first write instead.
func preallocate(*os.File, int64) error { return nil }
