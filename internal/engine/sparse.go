//go:build linux || darwin

package engine

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/unbox/internal/entry"
)

// SparseMap walks SEEK_DATA/SEEK_HOLE and returns the data regions of f.
// A nil map means the file is dense, or the filesystem cannot tell.
//
//nolint:revive // cognitive-complexity: SEEK_DATA/SEEK_HOLE state machine with error recovery
func SparseMap(f *os.File, size int64) ([]entry.SparseRegion, error) {
	if size == 0 {
		return nil, nil
	}
	fd := int(f.Fd()) //nolint:gosec // G115: fd conversion is safe for file descriptors
	var regions []entry.SparseRegion
	offset := int64(0)

	for offset < size {
		dataStart, err := unix.Seek(fd, offset, unix.SEEK_DATA)
		if err != nil {
			if errors.Is(err, unix.ENXIO) {
				break // trailing hole
			}
			if errors.Is(err, unix.EINVAL) {
				return nil, nil
			}
			return nil, err
		}
		if dataStart >= size {
			break
		}
		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		switch {
		case errors.Is(err, unix.ENXIO):
			holeStart = size
		case errors.Is(err, unix.EINVAL):
			return nil, nil
		case err != nil:
			return nil, err
		}
		holeStart = min(holeStart, size)
		regions = append(regions, entry.SparseRegion{Offset: dataStart, Length: holeStart - dataStart})
		offset = holeStart
	}

	if len(regions) == 1 && regions[0].Offset == 0 && regions[0].Length == size {
		return nil, nil
	}
	if len(regions) == 0 {
		// All hole: store the final (zero) byte so the map is non-empty.
		return []entry.SparseRegion{{Offset: size - 1, Length: 1}}, nil
	}
	return regions, nil
}
