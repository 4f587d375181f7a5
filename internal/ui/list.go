package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bamsammich/unbox/internal/entry"
)

// ListLine renders an entry the way ls -l does:
//
//	-rw-r--r--  alice  staff  1.2 KiB  2024-01-02 15:04  docs/readme.txt
func ListLine(e *entry.Entry) string {
	size := "-"
	switch {
	case e.Type == entry.CharDevice || e.Type == entry.BlockDevice:
		size = fmt.Sprintf("%d,%d", e.Major(), e.Minor())
	case e.SizeKnown():
		size = FormatBytes(e.Size())
	}
	mtime := "-"
	if !e.Mtime.IsZero() {
		mtime = e.Mtime.Local().Format(time.DateOnly + " 15:04")
	}
	line := fmt.Sprintf("%s  %-8s %-8s %10s  %s  %s",
		ModeString(e.Type, e.Mode, e.IsHardlink()),
		ownerName(e.Uname, e.UID), ownerName(e.Gname, e.GID),
		size, mtime, e.Path)
	switch {
	case e.Type == entry.Symlink:
		line += " -> " + e.Symlink
	case e.IsHardlink():
		line += " link to " + e.Hardlink
	}
	return line
}

// ModeString formats permission bits as in ls -l, including the type
// character and setuid, setgid and sticky markers. Hardlinks show as "h".
func ModeString(t entry.Type, mode uint32, hardlink bool) string {
	var b [10]byte
	switch {
	case hardlink:
		b[0] = 'h'
	case t == entry.Dir:
		b[0] = 'd'
	case t == entry.Symlink:
		b[0] = 'l'
	case t == entry.CharDevice:
		b[0] = 'c'
	case t == entry.BlockDevice:
		b[0] = 'b'
	case t == entry.FIFO:
		b[0] = 'p'
	default:
		b[0] = '-'
	}
	const rwx = "rwxrwxrwx"
	for i := range 9 {
		if mode&(1<<(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}
	special := func(bit uint32, idx int, set, unexec byte) {
		if mode&bit == 0 {
			return
		}
		if b[idx] == 'x' {
			b[idx] = set
		} else {
			b[idx] = unexec
		}
	}
	special(entry.ModeSetuid, 3, 's', 'S')
	special(entry.ModeSetgid, 6, 's', 'S')
	special(entry.ModeSticky, 9, 't', 'T')
	return string(b[:])
}

func ownerName(name string, id int64) string {
	if name != "" {
		return name
	}
	return strconv.FormatInt(id, 10)
}
