package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human-readable size string into bytes.
// Single-letter suffixes (K, M, G, T) use powers of 1024, matching rsync.
// Longer suffixes follow go-humanize: "KB" is 1000, "KiB" is 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	in := s
	switch s[len(s)-1] {
	case 'k', 'K', 'm', 'M', 'g', 'G', 't', 'T':
		in += "iB"
	}

	n, err := humanize.ParseBytes(in)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	if n > 1<<63-1 {
		return 0, fmt.Errorf("size out of range: %q", s)
	}
	return int64(n), nil
}

// ParseTime parses a --newer/--older bound: RFC 3339, a bare date, or a
// duration counted back from now (e.g. "36h").
func ParseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid time: %q", s)
}
