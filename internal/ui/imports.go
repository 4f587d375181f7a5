package ui

import "github.com/bamsammich/unbox/internal/event"

// Event is the unit presenters consume.
type Event = event.Event

// Re-export event types for convenience.
const (
	ArchiveOpened   = event.ArchiveOpened
	EntryStarted    = event.EntryStarted
	EntryProgress   = event.EntryProgress
	EntryCompleted  = event.EntryCompleted
	EntryWarned     = event.EntryWarned
	EntryFailed     = event.EntryFailed
	EntrySkipped    = event.EntrySkipped
	DirCreated      = event.DirCreated
	LinkCreated     = event.LinkCreated
	VerifyOK        = event.VerifyOK
	VerifyFailed    = event.VerifyFailed
	ArchiveComplete = event.ArchiveComplete
)
