package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bamsammich/unbox/internal/stats"
)

// FormatRate formats a bytes-per-second rate in IEC units.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// FormatETA formats a duration as a human-readable ETA string.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return FormatDuration(d)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// ProgressBar renders a progress bar of the given width using ▪/□ characters.
func ProgressBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	pct = max(0, min(pct, 1))
	filled := min(int(pct*float64(width)), width)
	return strings.Repeat("▪", filled) + strings.Repeat("□", width-filled)
}

// FormatBytes wraps stats.FormatBytes for UI use.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// CompletionSummary builds the final summary line.
// Format: done ✓  entries 1,204  files 980  size 2.1 GiB  time 3s  warnings 0  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	icon := "✓"
	if snap.EntriesFailed > 0 || snap.VerifyFailed > 0 {
		icon = "✗"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "done %s  entries %s  files %s  size %s  time %s",
		icon,
		FormatCount(snap.EntriesRead),
		FormatCount(snap.FilesWritten),
		FormatBytes(snap.BytesWritten),
		FormatDuration(snap.Elapsed),
	)
	if snap.EntriesSkipped > 0 {
		fmt.Fprintf(&b, "  skipped %s", FormatCount(snap.EntriesSkipped))
	}
	if snap.FilesVerified > 0 || snap.VerifyFailed > 0 {
		fmt.Fprintf(&b, "  verified %s", FormatCount(snap.FilesVerified))
	}
	fmt.Fprintf(&b, "  warnings %d  errors %d", snap.EntriesWarned, snap.EntriesFailed+snap.VerifyFailed)
	return b.String()
}
