package ui

import (
	"io"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer     io.Writer
	ErrWriter  io.Writer
	Stats      *stats.Collector
	IsTTY      bool
	Quiet      bool
	Verbose    bool
	NoProgress bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	if !cfg.IsTTY || cfg.NoProgress {
		return &plainPresenter{
			w:       cfg.Writer,
			errW:    cfg.ErrWriter,
			stats:   cfg.Stats,
			verbose: cfg.Verbose,
		}
	}
	return &hudPresenter{
		w:       cfg.ErrWriter, // HUD renders to stderr (the TTY)
		stats:   cfg.Stats,
		verbose: cfg.Verbose,
	}
}

// feedLine describes how one event reads in a per-entry listing. ok is
// false for events that produce no line.
func feedLine(ev Event, announced string, verbose bool) (icon, text string, ok bool) {
	switch ev.Type {
	case DirCreated:
		return "✓", ev.Path + "/", true
	case LinkCreated:
		if ev.EntryType == entry.Symlink {
			return "✓", ev.Path + " -> " + ev.Detail, true
		}
		return "✓", ev.Path + " link to " + ev.Detail, true
	case EntryCompleted:
		if ev.Path == announced {
			return "", "", false
		}
		return "✓", ev.Path + "  " + FormatBytes(ev.Size), true
	case EntryWarned:
		return "!", ev.Path + "  warning: " + errText(ev.Error), true
	case EntryFailed:
		return "✗", ev.Path + "  error: " + errText(ev.Error), true
	case EntrySkipped:
		if verbose {
			return "–", ev.Path + "  skipped", true
		}
	case VerifyFailed:
		return "✗", "MISMATCH: " + ev.Path, true
	case VerifyOK:
		if verbose {
			return "✓", "verified: " + ev.Path, true
		}
	}
	return "", "", false
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
