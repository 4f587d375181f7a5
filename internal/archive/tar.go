package archive

import (
	"archive/tar"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/status"
)

const tarBlockSize = 512

// PAX record keys understood by the tar reader and writer.
const (
	paxSchilyXattr  = "SCHILY.xattr."
	paxLibarchXattr = "LIBARCHIVE.xattr."
	paxACLAccess    = "SCHILY.acl.access"
	paxACLDefault   = "SCHILY.acl.default"
	paxFflags       = "SCHILY.fflags"
	paxCreationTime = "LIBARCHIVE.creationtime"

	// paxSparseMap lists the data spans of an entry whose payload is stored
	// dense, as "offset,length,offset,length...". Readers that do not know
	// it still see the full logical file.
	paxSparseMap = "UNBOX.sparse.map"

	paxGNUSparseMajor    = "GNU.sparse.major"
	paxGNUSparseMap      = "GNU.sparse.map"
	paxGNUSparseRealSize = "GNU.sparse.realsize"
	paxGNUSparseSize     = "GNU.sparse.size"
)

// holeChunk is the granularity at which zero runs of a sparse member with
// no usable map are turned back into holes.
const holeChunk = 4096

// TarBidder recognizes ustar, pax, gnu and v7 tar archives.
type TarBidder struct{}

func (TarBidder) Name() string { return "tar" }

func (TarBidder) Bid(head Peeker) int {
	p, _ := head.Peek(tarBlockSize)
	if len(p) < tarBlockSize {
		return 0
	}
	if isZeroBlock(p) {
		// An archive holding no entries is two zero blocks.
		p2, _ := head.Peek(2 * tarBlockSize)
		if len(p2) == 2*tarBlockSize && isZeroBlock(p2[tarBlockSize:]) {
			return 10
		}
		return 0
	}
	if !tarChecksumOK(p) {
		return 0
	}
	bits := 48
	switch {
	case bytes.Equal(p[257:263], []byte("ustar\x00")):
		bits += 56
	case bytes.Equal(p[257:265], []byte("ustar  \x00")):
		bits += 56
	}
	return bits
}

func isZeroBlock(b []byte) bool {
	for _, c := range b[:tarBlockSize] {
		if c != 0 {
			return false
		}
	}
	return true
}

// tarChecksumOK verifies the header checksum, accepting both the unsigned
// and the historical signed sums.
func tarChecksumOK(h []byte) bool {
	field := strings.Trim(string(h[148:156]), " \x00")
	want, err := strconv.ParseInt(field, 8, 64)
	if err != nil {
		return false
	}
	var unsigned, signed int64
	for i, c := range h[:tarBlockSize] {
		if i >= 148 && i < 156 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return want == unsigned || want == signed
}

func (TarBidder) Attach(s *Stream) (Format, error) {
	return &tarFormat{tr: tar.NewReader(s), buf: make([]byte, streamBufferSize)}, nil
}

type tarFormat struct {
	tr     *tar.Reader
	buf    []byte
	path   string
	offset int64
	active bool

	// pending is the part of buf not yet handed out, starting at pendOff.
	pending []byte
	pendOff int64
	// regions restricts output to the entry's data spans; the tar reader
	// fills holes with zeros. zeroHoles drops all-zero chunks instead when
	// the member is sparse but its map is internal to the reader.
	regions   []entry.SparseRegion
	ri        int
	zeroHoles bool
}

func (t *tarFormat) NextHeader(e *entry.Entry) error {
	t.active = false
	hdr, err := t.tr.Next()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return status.Wrap(status.Fatal, status.KindFormat, "tar", "", err)
	}
	t.path = hdr.Name
	t.offset = 0
	t.active = true
	t.pending, t.pendOff = nil, 0
	t.regions, t.ri, t.zeroHoles = nil, 0, false

	err = fillTarEntry(e, hdr)
	if e.Type == entry.Regular && !e.IsHardlink() {
		switch {
		case !e.IsDense():
			t.regions = e.Sparse
		case gnuSparse(hdr) && e.Size() > 0:
			// The map is known only to the tar reader: one span covering
			// the file, with holes recovered from zero runs.
			t.zeroHoles = true
			_ = e.AddSparse(0, e.Size())
		}
	}
	return err
}

func gnuSparse(hdr *tar.Header) bool {
	if hdr.Typeflag == tar.TypeGNUSparse {
		return true
	}
	for _, k := range []string{paxGNUSparseMajor, paxGNUSparseMap, paxGNUSparseRealSize, paxGNUSparseSize} {
		if _, ok := hdr.PAXRecords[k]; ok {
			return true
		}
	}
	return false
}

// parseSparseMap adds the spans of an "offset,length,..." list to e.
func parseSparseMap(e *entry.Entry, v string) error {
	fields := strings.Split(v, ",")
	if len(fields)%2 != 0 {
		return fmt.Errorf("sparse map %q: odd number of fields", v)
	}
	for i := 0; i < len(fields); i += 2 {
		off, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return fmt.Errorf("sparse map offset: %w", err)
		}
		n, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return fmt.Errorf("sparse map length: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := e.AddSparse(off, n); err != nil {
			return err
		}
	}
	return nil
}

func fillTarEntry(e *entry.Entry, hdr *tar.Header) error {
	var tally status.Tally
	e.Path = strings.TrimSuffix(hdr.Name, "/")
	e.SourcePath = hdr.Name
	e.PathIsLocal = true
	e.Mode = uint32(hdr.Mode) & entry.ModeMask
	e.UID, e.GID = int64(hdr.Uid), int64(hdr.Gid)
	e.Uname, e.Gname = hdr.Uname, hdr.Gname
	e.Mtime, e.Atime, e.Ctime = hdr.ModTime, hdr.AccessTime, hdr.ChangeTime
	e.SetSize(hdr.Size)

	switch hdr.Typeflag {
	case tar.TypeReg, '\x00', tar.TypeGNUSparse, tar.TypeCont:
		e.Type = entry.Regular
	case tar.TypeDir:
		e.Type = entry.Dir
		e.SetSize(0)
	case tar.TypeSymlink:
		e.Type = entry.Symlink
		e.Symlink = hdr.Linkname
		e.SetSize(0)
	case tar.TypeLink:
		e.Type = entry.Regular
		e.Hardlink = strings.TrimSuffix(hdr.Linkname, "/")
		// The tar reader never yields data for a link, whatever size the
		// header records.
		e.SetSize(0)
	case tar.TypeChar, tar.TypeBlock:
		e.Type = entry.CharDevice
		if hdr.Typeflag == tar.TypeBlock {
			e.Type = entry.BlockDevice
		}
		e.SetDevice(uint32(hdr.Devmajor), uint32(hdr.Devminor))
		e.SetSize(0)
	case tar.TypeFifo:
		e.Type = entry.FIFO
		e.SetSize(0)
	default:
		tally.Add(status.Warnf(status.KindFormat, "tar", hdr.Name, "unknown type %q restored as a regular file", hdr.Typeflag))
	}

	keys := make([]string, 0, len(hdr.PAXRecords))
	for k := range hdr.PAXRecords {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := hdr.PAXRecords[k]
		switch {
		case strings.HasPrefix(k, paxSchilyXattr):
			e.AddXattr(strings.TrimPrefix(k, paxSchilyXattr), []byte(v))
		case strings.HasPrefix(k, paxLibarchXattr):
			name, err := url.QueryUnescape(strings.TrimPrefix(k, paxLibarchXattr))
			if err != nil {
				tally.Add(status.Wrap(status.Warn, status.KindFormat, "tar xattr", hdr.Name, err))
				continue
			}
			val, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				val, err = base64.RawStdEncoding.DecodeString(v)
			}
			if err != nil {
				tally.Add(status.Wrap(status.Warn, status.KindFormat, "tar xattr", hdr.Name, err))
				continue
			}
			if !hasXattr(e, name) {
				e.AddXattr(name, val)
			}
		case k == paxACLAccess:
			if err := e.ACL.ParseText(entry.ACLAccess, v); err != nil {
				tally.Add(status.Wrap(status.Warn, status.KindFormat, "tar acl", hdr.Name, err))
			}
		case k == paxACLDefault:
			if err := e.ACL.ParseText(entry.ACLDefault, v); err != nil {
				tally.Add(status.Wrap(status.Warn, status.KindFormat, "tar acl", hdr.Name, err))
			}
		case k == paxFflags:
			e.Fflags = ParseFflags(v)
		case k == paxCreationTime:
			if t, ok := parsePAXTime(v); ok {
				e.Birthtime = t
			}
		case k == paxSparseMap, k == paxGNUSparseMap && hdr.PAXRecords[paxGNUSparseMajor] != "1":
			if e.Type != entry.Regular || e.IsHardlink() || !e.IsDense() {
				continue
			}
			if err := parseSparseMap(e, v); err != nil {
				e.Sparse = nil
				tally.Add(status.Wrap(status.Warn, status.KindFormat, "tar sparse map", hdr.Name, err))
			}
		}
	}
	return tally.Err()
}

func hasXattr(e *entry.Entry, name string) bool {
	for _, x := range e.Xattrs {
		if x.Name == name {
			return true
		}
	}
	return false
}

func parsePAXTime(v string) (time.Time, bool) {
	secs, frac, _ := strings.Cut(v, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var ns int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		ns, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
	}
	return time.Unix(s, ns), true
}

func formatPAXTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10) + "." + strconv.FormatInt(int64(t.Nanosecond())+1e9, 10)[1:]
}

var fflagNames = []struct {
	name string
	bit  uint64
}{
	{"uimmutable", entry.FlagImmutable},
	{"schg", entry.FlagImmutable},
	{"uappnd", entry.FlagAppend},
	{"sappnd", entry.FlagAppend},
	{"nodump", entry.FlagNoDump},
	{"noatime", entry.FlagNoAtime},
}

// ParseFflags parses a comma separated flag list; a "no" prefix clears.
// Unknown names are ignored.
func ParseFflags(s string) entry.Fflags {
	var f entry.Fflags
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		unset := false
		if name != "nodump" && name != "noatime" && strings.HasPrefix(name, "no") {
			name, unset = strings.TrimPrefix(name, "no"), true
		}
		for _, fn := range fflagNames {
			if fn.name != name {
				continue
			}
			if unset {
				f.Clear |= fn.bit
			} else {
				f.Set |= fn.bit
			}
			break
		}
	}
	return f
}

// FormatFflags renders the set flags in the form ParseFflags reads.
func FormatFflags(f entry.Fflags) string {
	var names []string
	seen := uint64(0)
	for _, fn := range fflagNames {
		if f.Set&fn.bit != 0 && seen&fn.bit == 0 {
			names = append(names, fn.name)
			seen |= fn.bit
		}
	}
	return strings.Join(names, ",")
}

// ReadBlock returns the next stored span of the payload. Holes of a sparse
// member are skipped rather than returned as zeros.
func (t *tarFormat) ReadBlock() (Block, error) {
	for t.active {
		if len(t.pending) == 0 {
			if err := t.fill(); err != nil {
				return Block{}, err
			}
			continue
		}
		if b, ok := t.take(); ok {
			return b, nil
		}
	}
	return Block{}, io.EOF
}

func (t *tarFormat) fill() error {
	n, err := t.tr.Read(t.buf)
	if n > 0 {
		t.pending, t.pendOff = t.buf[:n], t.offset
		t.offset += int64(n)
		return nil
	}
	if errors.Is(err, io.EOF) {
		t.active = false
		return io.EOF
	}
	if err != nil {
		return status.Wrap(status.Fatal, status.KindFormat, "tar read", t.path, err)
	}
	return nil
}

// take hands out the next piece of pending. It reports false once pending
// held nothing but holes.
func (t *tarFormat) take() (Block, bool) {
	switch {
	case t.regions != nil:
		return t.takeRegion()
	case t.zeroHoles:
		return t.takeNonZero()
	}
	b := Block{Data: t.pending, Offset: t.pendOff}
	t.pending = nil
	return b, true
}

func (t *tarFormat) advance(n int) {
	t.pending = t.pending[n:]
	t.pendOff += int64(n)
}

func (t *tarFormat) takeRegion() (Block, bool) {
	for t.ri < len(t.regions) && t.regions[t.ri].End() <= t.pendOff {
		t.ri++
	}
	end := t.pendOff + int64(len(t.pending))
	if t.ri == len(t.regions) || t.regions[t.ri].Offset >= end {
		t.pending = nil
		return Block{}, false
	}
	r := t.regions[t.ri]
	if r.Offset > t.pendOff {
		t.advance(int(r.Offset - t.pendOff))
	}
	n := int(min(end, r.End()) - t.pendOff)
	b := Block{Data: t.pending[:n], Offset: t.pendOff}
	t.advance(n)
	return b, true
}

func (t *tarFormat) takeNonZero() (Block, bool) {
	for len(t.pending) > 0 {
		n := t.chunkLen()
		if !allZero(t.pending[:n]) {
			break
		}
		t.advance(n)
	}
	if len(t.pending) == 0 {
		return Block{}, false
	}
	data, off, size := t.pending, t.pendOff, 0
	for len(t.pending) > 0 {
		n := t.chunkLen()
		if allZero(t.pending[:n]) {
			break
		}
		size += n
		t.advance(n)
	}
	return Block{Data: data[:size], Offset: off}, true
}

// chunkLen is the length of the pending bytes up to the next chunk boundary
// of the logical file.
func (t *tarFormat) chunkLen() int {
	return min(holeChunk-int(t.pendOff%holeChunk), len(t.pending))
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// SkipData is a no-op: the tar reader discards unread payload on Next.
func (t *tarFormat) SkipData() error {
	t.active = false
	return nil
}

func (t *tarFormat) Close() error { return nil }
