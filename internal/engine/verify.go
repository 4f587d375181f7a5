package engine

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/stats"
)

// FileDigest is the expected BLAKE3 digest of one extracted regular file.
type FileDigest struct {
	Path string // slash-separated, relative to the extraction root
	Sum  string
}

// VerifyConfig controls the post-extraction verification pass.
type VerifyConfig struct {
	Root    string
	Files   []FileDigest
	Workers int
	Events  chan<- event.Event
	Stats   *stats.Collector
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Verified int64
	Failed   int64
	Errors   []VerifyError
}

// VerifyError records a single mismatch or unreadable file.
type VerifyError struct {
	Path     string
	Expected string
	Actual   string
	Err      error
}

// Verify rehashes every extracted file and compares it with the digest of
// the payload that was read from the archive. It fans out to cfg.Workers
// goroutines.
func Verify(ctx context.Context, cfg VerifyConfig) VerifyResult {
	workers := cfg.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 4)
	}

	taskCh := make(chan FileDigest, workers*2)
	var mu sync.Mutex
	var result VerifyResult
	var wg sync.WaitGroup

	fail := func(ve VerifyError) {
		mu.Lock()
		result.Failed++
		result.Errors = append(result.Errors, ve)
		mu.Unlock()
		if cfg.Stats != nil {
			cfg.Stats.AddVerifyFailed(1)
		}
		emitEvent(cfg.Events, event.Event{Type: event.VerifyFailed, Path: ve.Path, Error: ve.Err})
	}

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fd := range taskCh {
				if ctx.Err() != nil {
					continue
				}
				got, err := HashFile(filepath.Join(cfg.Root, filepath.FromSlash(fd.Path)))
				if err != nil {
					fail(VerifyError{Path: fd.Path, Expected: fd.Sum, Actual: "error", Err: err})
					continue
				}
				if got != fd.Sum {
					fail(VerifyError{Path: fd.Path, Expected: fd.Sum, Actual: got})
					continue
				}
				mu.Lock()
				result.Verified++
				mu.Unlock()
				if cfg.Stats != nil {
					cfg.Stats.AddFilesVerified(1)
				}
				emitEvent(cfg.Events, event.Event{Type: event.VerifyOK, Path: fd.Path})
			}
		}()
	}

feed:
	for _, fd := range cfg.Files {
		select {
		case <-ctx.Done():
			break feed
		case taskCh <- fd:
		}
	}
	close(taskCh)
	wg.Wait()

	return result
}
