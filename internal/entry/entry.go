package entry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Type identifies the kind of filesystem object an entry describes.
type Type int

const (
	Regular Type = iota
	Dir
	Symlink
	CharDevice
	BlockDevice
	FIFO
)

var typeNames = [...]string{
	Regular:     "file",
	Dir:         "dir",
	Symlink:     "symlink",
	CharDevice:  "chardev",
	BlockDevice: "blockdev",
	FIFO:        "fifo",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Permission bits above the rwx triplets.
const (
	ModeSetuid uint32 = 0o4000
	ModeSetgid uint32 = 0o2000
	ModeSticky uint32 = 0o1000
	ModePerm   uint32 = 0o777
	ModeMask   uint32 = 0o7777
)

// File flag bits, numbered like the Linux inode flags.
const (
	FlagImmutable uint64 = 0x10
	FlagAppend    uint64 = 0x20
	FlagNoDump    uint64 = 0x40
	FlagNoAtime   uint64 = 0x80
)

// Fflags holds the file flags to set and to clear on restore.
type Fflags struct {
	Set   uint64
	Clear uint64
}

// Blocking reports whether the flags would prevent later modification of
// the object (immutable or append-only).
func (f Fflags) Blocking() bool {
	return f.Set&(FlagImmutable|FlagAppend) != 0
}

// Xattr is one extended attribute.
type Xattr struct {
	Name  string
	Value []byte
}

// SparseRegion is a span of the logical file that holds stored data.
type SparseRegion struct {
	Offset int64
	Length int64
}

// End returns the offset just past the region.
func (r SparseRegion) End() int64 { return r.Offset + r.Length }

var (
	ErrSparseOrder = errors.New("sparse region overlaps or precedes previous region")
	ErrSparseRange = errors.New("sparse region lies outside entry size")
)

// Entry describes one archived filesystem object.
type Entry struct {
	Path       string
	SourcePath string
	// PathIsLocal reports that Path is already in local convention and
	// needs no charset or separator translation.
	PathIsLocal bool
	Type        Type

	Mode  uint32
	UID   int64
	GID   int64
	Uname string
	Gname string

	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time

	Symlink  string
	Hardlink string
	Rdev     uint64

	Fflags      Fflags
	ACL         ACLList
	Xattrs      []Xattr
	Sparse      []SparseRegion
	MacMetadata []byte

	size      int64
	sizeKnown bool
}

// New returns an empty regular-file entry with the given path.
func New(path string) *Entry {
	return &Entry{Path: path, SourcePath: path}
}

// Reset clears e for reuse by the next header.
func (e *Entry) Reset() {
	*e = Entry{
		ACL:    e.ACL[:0],
		Xattrs: e.Xattrs[:0],
		Sparse: e.Sparse[:0],
	}
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := *e
	c.ACL = slices.Clone(e.ACL)
	c.Sparse = slices.Clone(e.Sparse)
	c.MacMetadata = slices.Clone(e.MacMetadata)
	c.Xattrs = make([]Xattr, len(e.Xattrs))
	for i, x := range e.Xattrs {
		c.Xattrs[i] = Xattr{Name: x.Name, Value: slices.Clone(x.Value)}
	}
	return &c
}

// Size returns the logical size, or zero if it is not known yet.
func (e *Entry) Size() int64 { return e.size }

// SizeKnown reports whether the logical size has been declared.
func (e *Entry) SizeKnown() bool { return e.sizeKnown }

// SetSize declares the logical size.
func (e *Entry) SetSize(n int64) {
	e.size = n
	e.sizeKnown = true
}

// UnsetSize marks the size as unknown until the payload is read.
func (e *Entry) UnsetSize() {
	e.size = 0
	e.sizeKnown = false
}

// IsDense reports whether the entry has no sparse map.
func (e *Entry) IsDense() bool { return len(e.Sparse) == 0 }

// StoredSize returns the number of payload bytes actually stored: the sum of
// the sparse data spans, or the logical size for dense entries.
func (e *Entry) StoredSize() int64 {
	if e.IsDense() {
		return e.size
	}
	var n int64
	for _, r := range e.Sparse {
		n += r.Length
	}
	return n
}

// AddXattr appends an extended attribute.
func (e *Entry) AddXattr(name string, value []byte) {
	e.Xattrs = append(e.Xattrs, Xattr{Name: name, Value: slices.Clone(value)})
}

// AddSparse appends a data span. Spans must be added in ascending order and
// must not overlap; a span touching the previous one is merged into it.
func (e *Entry) AddSparse(offset, length int64) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("sparse region (%d,%d): %w", offset, length, ErrSparseRange)
	}
	if length == 0 {
		return nil
	}
	if n := len(e.Sparse); n > 0 {
		last := &e.Sparse[n-1]
		switch {
		case offset < last.End():
			return fmt.Errorf("sparse region (%d,%d): %w", offset, length, ErrSparseOrder)
		case offset == last.End():
			last.Length += length
			return nil
		}
	}
	e.Sparse = append(e.Sparse, SparseRegion{Offset: offset, Length: length})
	return nil
}

// Validate checks that a known size covers every sparse span.
func (e *Entry) Validate() error {
	if !e.sizeKnown {
		return nil
	}
	for _, r := range e.Sparse {
		if r.End() > e.size {
			return fmt.Errorf("sparse region (%d,%d) beyond size %d: %w", r.Offset, r.Length, e.size, ErrSparseRange)
		}
	}
	return nil
}

// IsHardlink reports whether the entry links to an earlier entry.
func (e *Entry) IsHardlink() bool { return e.Hardlink != "" }

// Major returns the device major number.
func (e *Entry) Major() uint32 { return uint32((e.Rdev>>8)&0xfff) | uint32((e.Rdev>>32)&^0xfff) }

// Minor returns the device minor number.
func (e *Entry) Minor() uint32 { return uint32(e.Rdev&0xff) | uint32((e.Rdev>>12)&^0xff) }

// SetDevice encodes major and minor into Rdev using the Linux layout.
func (e *Entry) SetDevice(major, minor uint32) {
	e.Rdev = uint64(minor&0xff) | uint64(major&0xfff)<<8 |
		uint64(minor&^0xff)<<12 | uint64(major&^0xfff)<<32
}
