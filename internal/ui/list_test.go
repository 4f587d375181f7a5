package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bamsammich/unbox/internal/entry"
)

func TestModeString(t *testing.T) {
	assert.Equal(t, "-rw-r--r--", ModeString(entry.Regular, 0o644, false))
	assert.Equal(t, "drwxr-xr-x", ModeString(entry.Dir, 0o755, false))
	assert.Equal(t, "lrwxrwxrwx", ModeString(entry.Symlink, 0o777, false))
	assert.Equal(t, "-rwsr-xr-x", ModeString(entry.Regular, 0o4755, false))
	assert.Equal(t, "-rwSr--r--", ModeString(entry.Regular, 0o4644, false))
	assert.Equal(t, "drwxrwxrwt", ModeString(entry.Dir, 0o1777, false))
	assert.Equal(t, "-rwxr-sr-x", ModeString(entry.Regular, 0o2755, false))
	assert.Equal(t, "hrw-------", ModeString(entry.Regular, 0o600, true))
	assert.Equal(t, "crw-rw-rw-", ModeString(entry.CharDevice, 0o666, false))
	assert.Equal(t, "prw-r--r--", ModeString(entry.FIFO, 0o644, false))
}

func TestListLine(t *testing.T) {
	e := entry.New("docs/readme.txt")
	e.Mode = 0o644
	e.Uname, e.GID = "alice", 50
	e.SetSize(1536)
	e.Mtime = time.Date(2024, 1, 2, 15, 4, 0, 0, time.Local)

	line := ListLine(e)
	assert.Contains(t, line, "-rw-r--r--")
	assert.Contains(t, line, "alice")
	assert.Contains(t, line, "50")
	assert.Contains(t, line, "1.5 KiB")
	assert.Contains(t, line, "2024-01-02 15:04")
	assert.Contains(t, line, "docs/readme.txt")

	l := entry.New("link")
	l.Type = entry.Symlink
	l.Symlink = "target"
	assert.Contains(t, ListLine(l), "link -> target")
	assert.Contains(t, ListLine(l), " - ")

	h := entry.New("copy")
	h.Hardlink = "orig"
	h.SetSize(0)
	assert.Contains(t, ListLine(h), "copy link to orig")

	d := entry.New("dev")
	d.Type = entry.CharDevice
	d.SetDevice(1, 3)
	assert.Contains(t, ListLine(d), "1,3")
}
