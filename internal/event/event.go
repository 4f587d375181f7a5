package event

import (
	"time"

	"github.com/bamsammich/unbox/internal/entry"
)

// Type identifies the kind of event.
type Type int

const (
	ArchiveOpened Type = iota + 1
	EntryStarted
	EntryProgress
	EntryCompleted
	EntryWarned
	EntryFailed
	EntrySkipped
	DirCreated
	LinkCreated
	VerifyOK
	VerifyFailed
	ArchiveComplete
)

var typeNames = [...]string{
	ArchiveOpened:   "ArchiveOpened",
	EntryStarted:    "EntryStarted",
	EntryProgress:   "EntryProgress",
	EntryCompleted:  "EntryCompleted",
	EntryWarned:     "EntryWarned",
	EntryFailed:     "EntryFailed",
	EntrySkipped:    "EntrySkipped",
	DirCreated:      "DirCreated",
	LinkCreated:     "LinkCreated",
	VerifyOK:        "VerifyOK",
	VerifyFailed:    "VerifyFailed",
	ArchiveComplete: "ArchiveComplete",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the extraction driver.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // entry path as stored in the archive
	EntryType entry.Type
	Size      int64  // entry size or bytes written so far
	Detail    string // filter chain and format for ArchiveOpened, link target for LinkCreated
	Error     error
}
