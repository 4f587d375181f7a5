package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bamsammich/unbox/internal/entry"
)

// Extra field header IDs.
const (
	extraZip64     = 0x0001
	extraTimestamp = 0x5455
	extraUnixIDs   = 0x7875
	extraUnbox     = 0x6c78
)

// Unix st_mode file type bits as stored in zip external attributes.
const (
	sIFMT  = 0o170000
	sIFIFO = 0o010000
	sIFCHR = 0o020000
	sIFDIR = 0o040000
	sIFBLK = 0o060000
	sIFREG = 0o100000
	sIFLNK = 0o120000
)

var errBadExtra = errors.New("malformed extra field")

func typeFromUnix(mode uint32) (entry.Type, bool) {
	switch mode & sIFMT {
	case sIFREG:
		return entry.Regular, true
	case sIFDIR:
		return entry.Dir, true
	case sIFLNK:
		return entry.Symlink, true
	case sIFCHR:
		return entry.CharDevice, true
	case sIFBLK:
		return entry.BlockDevice, true
	case sIFIFO:
		return entry.FIFO, true
	}
	return entry.Regular, false
}

func unixFromType(t entry.Type) uint32 {
	switch t {
	case entry.Dir:
		return sIFDIR
	case entry.Symlink:
		return sIFLNK
	case entry.CharDevice:
		return sIFCHR
	case entry.BlockDevice:
		return sIFBLK
	case entry.FIFO:
		return sIFIFO
	}
	return sIFREG
}

// zipExtra is the decoded content of an extra field block.
type zipExtra struct {
	zip64 []uint64

	hasMtime, hasAtime, hasCtime bool
	mtime, atime, ctime          int64

	hasIDs   bool
	uid, gid int64

	meta *unboxMeta
}

func parseExtra(b []byte) (zipExtra, error) {
	var x zipExtra
	for len(b) >= 4 {
		id := binary.LittleEndian.Uint16(b)
		n := int(binary.LittleEndian.Uint16(b[2:]))
		b = b[4:]
		if n > len(b) {
			return x, errBadExtra
		}
		d := b[:n]
		b = b[n:]
		switch id {
		case extraZip64:
			for len(d) >= 8 {
				x.zip64 = append(x.zip64, binary.LittleEndian.Uint64(d))
				d = d[8:]
			}
		case extraTimestamp:
			parseTimestampExtra(&x, d)
		case extraUnixIDs:
			parseUnixIDs(&x, d)
		case extraUnbox:
			var m unboxMeta
			if err := cbor.Unmarshal(d, &m); err != nil {
				return x, fmt.Errorf("metadata extra: %w", err)
			}
			x.meta = &m
		}
	}
	return x, nil
}

func parseTimestampExtra(x *zipExtra, d []byte) {
	if len(d) < 1 {
		return
	}
	flags := d[0]
	d = d[1:]
	next := func() (int64, bool) {
		if len(d) < 4 {
			return 0, false
		}
		v := int64(int32(binary.LittleEndian.Uint32(d)))
		d = d[4:]
		return v, true
	}
	if flags&1 != 0 {
		x.mtime, x.hasMtime = next()
	}
	if flags&2 != 0 {
		x.atime, x.hasAtime = next()
	}
	if flags&4 != 0 {
		x.ctime, x.hasCtime = next()
	}
}

func parseUnixIDs(x *zipExtra, d []byte) {
	if len(d) < 1 || d[0] != 1 {
		return
	}
	uid, rest, ok := readSizedID(d[1:])
	if !ok {
		return
	}
	gid, _, ok := readSizedID(rest)
	if !ok {
		return
	}
	x.uid, x.gid, x.hasIDs = uid, gid, true
}

func readSizedID(d []byte) (int64, []byte, bool) {
	if len(d) < 1 {
		return 0, nil, false
	}
	n := int(d[0])
	if n == 0 || n > 8 || len(d) < 1+n {
		return 0, nil, false
	}
	var v uint64
	for i := n; i >= 1; i-- {
		v = v<<8 | uint64(d[i])
	}
	return int64(v), d[1+n:], true
}

func appendExtra(b []byte, id uint16, data []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, id)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

// timestampExtra encodes the Info-ZIP extended timestamp. The central
// directory copy carries only mtime but keeps the local flags.
func timestampExtra(e *entry.Entry, central bool) []byte {
	var flags byte
	var vals []byte
	add := func(bit byte, t time.Time, include bool) {
		if t.IsZero() {
			return
		}
		flags |= bit
		if include {
			vals = binary.LittleEndian.AppendUint32(vals, uint32(int32(t.Unix())))
		}
	}
	add(1, e.Mtime, true)
	add(2, e.Atime, !central)
	add(4, e.Ctime, !central)
	if flags == 0 {
		return nil
	}
	return append([]byte{flags}, vals...)
}

func unixIDsExtra(uid, gid int64) []byte {
	if uid < 0 || gid < 0 || uid > 0xffffffff || gid > 0xffffffff {
		return nil
	}
	b := []byte{1, 4}
	b = binary.LittleEndian.AppendUint32(b, uint32(uid))
	b = append(b, 4)
	return binary.LittleEndian.AppendUint32(b, uint32(gid))
}

type metaTime struct {
	_    struct{} `cbor:",toarray"`
	Sec  int64
	Nsec int64
}

func newMetaTime(t time.Time) *metaTime {
	if t.IsZero() {
		return nil
	}
	return &metaTime{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func (m *metaTime) time() time.Time {
	if m == nil {
		return time.Time{}
	}
	return time.Unix(m.Sec, m.Nsec)
}

type metaXattr struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value []byte
}

type metaACE struct {
	_       struct{} `cbor:",toarray"`
	Type    int
	Tag     int
	ID      int64
	Name    string
	Perm    uint32
	Inherit uint32
}

// unboxMeta is the CBOR payload of the 0x6c78 extra. It carries what the
// standard zip fields cannot: full mode, names, nanosecond times, extended
// metadata and the sparse map of the stored payload.
type unboxMeta struct {
	Mode        *uint32     `cbor:"1,keyasint,omitempty"`
	UID         *int64      `cbor:"2,keyasint,omitempty"`
	GID         *int64      `cbor:"3,keyasint,omitempty"`
	Uname       string      `cbor:"4,keyasint,omitempty"`
	Gname       string      `cbor:"5,keyasint,omitempty"`
	Mtime       *metaTime   `cbor:"6,keyasint,omitempty"`
	Atime       *metaTime   `cbor:"7,keyasint,omitempty"`
	Ctime       *metaTime   `cbor:"8,keyasint,omitempty"`
	Birthtime   *metaTime   `cbor:"9,keyasint,omitempty"`
	Size        *int64      `cbor:"10,keyasint,omitempty"`
	Sparse      [][2]int64  `cbor:"11,keyasint,omitempty"`
	Xattrs      []metaXattr `cbor:"12,keyasint,omitempty"`
	ACL         []metaACE   `cbor:"13,keyasint,omitempty"`
	FflagsSet   uint64      `cbor:"14,keyasint,omitempty"`
	FflagsClear uint64      `cbor:"15,keyasint,omitempty"`
	Rdev        uint64      `cbor:"16,keyasint,omitempty"`
	Hardlink    string      `cbor:"17,keyasint,omitempty"`
	MacMetadata []byte      `cbor:"18,keyasint,omitempty"`
}

func metaFromEntry(e *entry.Entry) *unboxMeta {
	mode := unixFromType(e.Type) | e.Mode&entry.ModeMask
	uid, gid := e.UID, e.GID
	m := &unboxMeta{
		Mode:        &mode,
		UID:         &uid,
		GID:         &gid,
		Uname:       e.Uname,
		Gname:       e.Gname,
		Mtime:       newMetaTime(e.Mtime),
		Atime:       newMetaTime(e.Atime),
		Ctime:       newMetaTime(e.Ctime),
		Birthtime:   newMetaTime(e.Birthtime),
		FflagsSet:   e.Fflags.Set,
		FflagsClear: e.Fflags.Clear,
		Rdev:        e.Rdev,
		Hardlink:    e.Hardlink,
		MacMetadata: e.MacMetadata,
	}
	if e.Type == entry.Regular && e.SizeKnown() {
		size := e.Size()
		m.Size = &size
	}
	if !e.IsDense() {
		for _, r := range e.Sparse {
			m.Sparse = append(m.Sparse, [2]int64{r.Offset, r.Length})
		}
	}
	for _, x := range e.Xattrs {
		m.Xattrs = append(m.Xattrs, metaXattr{Name: x.Name, Value: x.Value})
	}
	for _, a := range e.ACL {
		m.ACL = append(m.ACL, metaACE{
			Type: int(a.Type), Tag: int(a.Tag), ID: a.ID, Name: a.Name, Perm: a.Perm, Inherit: a.Inherit,
		})
	}
	return m
}

// apply overlays the metadata onto e. Malformed ACL or sparse records are
// reported after everything else has been applied.
func (m *unboxMeta) apply(e *entry.Entry) error {
	if m.Mode != nil {
		if t, ok := typeFromUnix(*m.Mode); ok {
			e.Type = t
		}
		e.Mode = *m.Mode & entry.ModeMask
	}
	if m.UID != nil {
		e.UID = *m.UID
	}
	if m.GID != nil {
		e.GID = *m.GID
	}
	if m.Uname != "" {
		e.Uname = m.Uname
	}
	if m.Gname != "" {
		e.Gname = m.Gname
	}
	if m.Mtime != nil {
		e.Mtime = m.Mtime.time()
	}
	if m.Atime != nil {
		e.Atime = m.Atime.time()
	}
	if m.Ctime != nil {
		e.Ctime = m.Ctime.time()
	}
	if m.Birthtime != nil {
		e.Birthtime = m.Birthtime.time()
	}
	e.Fflags = entry.Fflags{Set: m.FflagsSet, Clear: m.FflagsClear}
	e.Rdev = m.Rdev
	e.Hardlink = m.Hardlink
	if len(m.MacMetadata) > 0 {
		e.MacMetadata = m.MacMetadata
	}
	for _, x := range m.Xattrs {
		e.AddXattr(x.Name, x.Value)
	}
	var errs []error
	for _, a := range m.ACL {
		err := e.ACL.Add(entry.ACLEntry{
			Type: entry.ACLType(a.Type), Tag: entry.ACLTag(a.Tag), ID: a.ID, Name: a.Name, Perm: a.Perm, Inherit: a.Inherit,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if m.Size != nil {
		e.SetSize(*m.Size)
		for _, r := range m.Sparse {
			if err := e.AddSparse(r[0], r[1]); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}
