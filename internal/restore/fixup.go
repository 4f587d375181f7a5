package restore

import (
	"slices"
	"strings"
	"time"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/platform"
)

// Op is one kind of deferred metadata operation.
type Op uint8

const (
	OpMode Op = iota
	OpSUID
	OpSGID
	OpTimes
	OpACL
	OpXattrs
	OpFflags
	OpMacMetadata
)

var opNames = [...]string{
	OpMode:        "mode",
	OpSUID:        "suid",
	OpSGID:        "sgid",
	OpTimes:       "times",
	OpACL:         "acl",
	OpXattrs:      "xattrs",
	OpFflags:      "fflags",
	OpMacMetadata: "mac-metadata",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// Ops is a set of pending operations.
type Ops uint16

func (s Ops) Has(o Op) bool { return s&(1<<o) != 0 }

func (s *Ops) Add(o Op) { *s |= 1 << o }

func (s Ops) Empty() bool { return s == 0 }

// List returns the members in replay order.
func (s Ops) List() []Op {
	var out []Op
	for o := range Op(len(opNames)) {
		if s.Has(o) {
			out = append(out, o)
		}
	}
	return out
}

// Fixup holds the metadata still owed to one path.
type Fixup struct {
	Path  string
	IsDir bool
	Ops   Ops
	// ID is the inode the metadata belongs to. A path that no longer names
	// it at replay time is left alone.
	ID    platform.DevIno
	HasID bool

	Mode     uint32
	UID, GID int64 // expected owner, checked before SUID/SGID are set

	Atime, Mtime, Birthtime time.Time

	ACL         entry.ACLList
	Xattrs      []entry.Xattr
	Fflags      entry.Fflags
	MacMetadata []byte
}

// Ledger collects fixups for the whole session, one record per path.
type Ledger struct {
	recs  []*Fixup
	index map[string]*Fixup
}

func NewLedger() *Ledger {
	return &Ledger{index: map[string]*Fixup{}}
}

// Get returns the record for path, creating it on first use.
func (l *Ledger) Get(path string) *Fixup {
	if f, ok := l.index[path]; ok {
		return f
	}
	f := &Fixup{Path: path}
	l.recs = append(l.recs, f)
	l.index[path] = f
	return f
}

func (l *Ledger) Len() int { return len(l.recs) }

// Sorted returns the records ordered by path descending, so every
// descendant comes before its ancestors. Equal paths keep insertion order.
func (l *Ledger) Sorted() []*Fixup {
	out := slices.Clone(l.recs)
	slices.SortStableFunc(out, func(a, b *Fixup) int {
		return strings.Compare(b.Path, a.Path)
	})
	return out
}
