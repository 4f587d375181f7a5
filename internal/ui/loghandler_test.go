package ui_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/unbox/internal/ui"
)

var errDiskFull = errors.New("disk full")

// failingHandler accepts every record and always fails, like a JSON log on
// a full disk.
type failingHandler struct{ calls int }

func (f *failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (f *failingHandler) Handle(context.Context, slog.Record) error {
	f.calls++
	return errDiskFull
}
func (f *failingHandler) WithAttrs([]slog.Attr) slog.Handler { return f }
func (f *failingHandler) WithGroup(string) slog.Handler      { return f }

func TestMultiHandlerKeepsWritingPastAFailedSink(t *testing.T) {
	var stderr bytes.Buffer
	bad := &failingHandler{}
	m := ui.NewMultiHandler(bad, slog.NewTextHandler(&stderr, nil))

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "entry failed", 0)
	r.AddAttrs(slog.String("path", "etc/passwd"))
	err := m.Handle(context.Background(), r)

	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, bad.calls)
	assert.Contains(t, stderr.String(), "path=etc/passwd")
}

func TestMultiHandlerSkipsSinksBelowTheirLevel(t *testing.T) {
	var stderr, logFile bytes.Buffer
	m := ui.NewMultiHandler(
		slog.NewTextHandler(&stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&logFile, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	ctx := context.Background()
	assert.True(t, m.Enabled(ctx, slog.LevelDebug))
	assert.False(t, ui.NewMultiHandler().Enabled(ctx, slog.LevelError))

	logger := slog.New(m)
	logger.Debug("hole skipped", "offset", 4096)
	assert.Empty(t, stderr.String())
	assert.Contains(t, logFile.String(), `"offset":4096`)
}

func TestMultiHandlerScopesReachEverySink(t *testing.T) {
	var text, js bytes.Buffer
	m := ui.NewMultiHandler(slog.NewTextHandler(&text, nil), slog.NewJSONHandler(&js, nil))

	logger := slog.New(m).With("archive", "src.tar").WithGroup("entry")
	logger.Info("restored", "path", "a")

	assert.Contains(t, text.String(), "archive=src.tar")
	assert.Contains(t, text.String(), "entry.path=a")
	assert.Contains(t, js.String(), `"archive":"src.tar"`)
	assert.Contains(t, js.String(), `"entry":{"path":"a"}`)
}
