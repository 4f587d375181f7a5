package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// tmpFiles tracks safe-write temporaries that have not been renamed into
// place yet, so an interrupted run can remove them.
var tmpFiles = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (t *tmpRegistry) add(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paths == nil {
		t.paths = make(map[string]struct{})
	}
	t.paths[path] = struct{}{}
}

func (t *tmpRegistry) remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.paths, path)
}

func (t *tmpRegistry) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}

// CleanupTmpFiles removes every temporary file still registered.
func CleanupTmpFiles() {
	tmpFiles.mu.Lock()
	paths := make([]string, 0, len(tmpFiles.paths))
	for p := range tmpFiles.paths {
		paths = append(paths, p)
	}
	tmpFiles.paths = nil
	tmpFiles.mu.Unlock()

	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// tmpName returns a hidden sibling of dst for staging its content.
func tmpName(dst string) string {
	base := filepath.Base(dst)
	return filepath.Join(filepath.Dir(dst), fmt.Sprintf(".%s.%s.unbox-tmp", base, uuid.New().String()[:8]))
}
