//go:build !linux && !darwin

package engine

import (
	"os"

	"github.com/bamsammich/unbox/internal/entry"
)

// SparseMap reports every file as dense where SEEK_DATA is unavailable.
func SparseMap(*os.File, int64) ([]entry.SparseRegion, error) { return nil, nil }
