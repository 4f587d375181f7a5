package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/unbox/internal/event"
	"github.com/bamsammich/unbox/internal/stats"
)

func digestOf(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ref")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	sum, err := HashFile(p)
	require.NoError(t, err)
	return sum
}

func TestVerify_MatchingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	var files []FileDigest
	for _, rel := range []string{"a.txt", "sub/b.txt"} {
		data := []byte("content of " + rel)
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), data, 0o644))
		files = append(files, FileDigest{Path: rel, Sum: digestOf(t, data)})
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 64)
	vr := Verify(context.Background(), VerifyConfig{
		Root:    root,
		Files:   files,
		Workers: 2,
		Stats:   collector,
		Events:  events,
	})
	close(events)

	assert.Equal(t, int64(2), vr.Verified)
	assert.Equal(t, int64(0), vr.Failed)
	assert.Empty(t, vr.Errors)
	assert.Equal(t, int64(2), collector.Snapshot().FilesVerified)

	var oks int
	for ev := range events {
		if ev.Type == event.VerifyOK {
			oks++
		}
	}
	assert.Equal(t, 2, oks)
}

func TestVerify_CorruptedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("tampered"), 0o644))

	collector := stats.NewCollector()
	vr := Verify(context.Background(), VerifyConfig{
		Root:  root,
		Files: []FileDigest{{Path: "f", Sum: digestOf(t, []byte("original"))}},
		Stats: collector,
	})

	assert.Equal(t, int64(0), vr.Verified)
	assert.Equal(t, int64(1), vr.Failed)
	require.Len(t, vr.Errors, 1)
	assert.Equal(t, "f", vr.Errors[0].Path)
	assert.NotEqual(t, vr.Errors[0].Expected, vr.Errors[0].Actual)
	assert.Equal(t, int64(1), collector.Snapshot().VerifyFailed)
}

func TestVerify_MissingFile(t *testing.T) {
	vr := Verify(context.Background(), VerifyConfig{
		Root:  t.TempDir(),
		Files: []FileDigest{{Path: "gone", Sum: "00"}},
	})
	assert.Equal(t, int64(1), vr.Failed)
	require.Len(t, vr.Errors, 1)
	assert.Error(t, vr.Errors[0].Err)
}

func TestVerify_CancelledContext(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vr := Verify(ctx, VerifyConfig{
		Root:  root,
		Files: []FileDigest{{Path: "f", Sum: digestOf(t, []byte("x"))}},
	})
	assert.Equal(t, int64(0), vr.Verified+vr.Failed)
}
