package archive

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/status"
)

const (
	sigLocal      = 0x04034b50
	sigCentral    = 0x02014b50
	sigEnd        = 0x06054b50
	sigEnd64      = 0x06064b50
	sigEnd64Loc   = 0x07064b50
	sigDescriptor = 0x08074b50

	flagEncrypted  = 0x0001
	flagDescriptor = 0x0008
	flagUTF8       = 0x0800

	localHeaderLen   = 30
	centralHeaderLen = 46
	endRecordLen     = 22
	end64RecordLen   = 56
	end64LocatorLen  = 20

	maxCentralSize = 256 << 20
	maxSymlinkLen  = 64 << 10
	uint32Max      = 0xffffffff
	uint16Max      = 0xffff
)

// Compression methods understood by the zip reader and writer.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
	MethodBzip2   uint16 = 12
	MethodZstd    uint16 = 93
	MethodXz      uint16 = 95
)

var descriptorSig = []byte{'P', 'K', 7, 8}

var le = binary.LittleEndian

// ZipBidder recognizes zip archives. Charset decodes names that lack the
// UTF-8 flag; nil leaves them as-is.
type ZipBidder struct {
	Charset encoding.Encoding
}

func (*ZipBidder) Name() string { return "zip" }

func (*ZipBidder) Bid(head Peeker) int {
	p, _ := head.Peek(8)
	if len(p) < 4 || p[0] != 'P' || p[1] != 'K' {
		return 0
	}
	switch {
	case p[2] == 3 && p[3] == 4:
		return 32
	case p[2] == 5 && p[3] == 6:
		return 32
	case p[2] == 7 && p[3] == 8 && len(p) == 8 && le.Uint32(p[4:]) == sigLocal:
		// Split-archive marker followed by the first local header.
		return 64
	}
	return 0
}

func (b *ZipBidder) Attach(s *Stream) (Format, error) {
	z := &zipReader{s: s, charset: b.Charset, buf: make([]byte, streamBufferSize)}
	if s.Seekable() {
		if err := z.loadCentral(); err != nil {
			z.pending = status.Wrap(status.Warn, status.KindFormat, "central directory", "", err)
			z.central = nil
		}
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}
	if peekPrefix(s, descriptorSig) {
		if _, err := s.Skip(4); err != nil {
			return nil, err
		}
	}
	return z, nil
}

type centralRecord struct {
	name    string
	madeBy  uint16
	flags   uint16
	method  uint16
	crc     uint32
	csize   int64
	usize   int64
	extAttr uint32
	offset  int64
}

type zipReader struct {
	s       *Stream
	charset encoding.Encoding
	central map[int64]*centralRecord
	pending error
	cur     *zipEntry
	buf     []byte
}

type zipEntry struct {
	path     string
	flags    uint16
	method   uint16
	zip64    bool
	crc      uint32
	crcKnown bool
	csize    int64
	usize    int64

	limited *io.LimitedReader
	counter *countingReader
	body    io.Reader
	closer  io.Closer
	hash    hash.Hash32

	produced   int64
	sparse     []entry.SparseRegion
	region     int
	regionLeft int64

	err        error
	pendingErr error
	sawEOF     bool
	done       bool
	descRead   bool
}

func (z *zipReader) NextHeader(e *entry.Entry) error {
	if z.cur != nil {
		if err := z.SkipData(); status.IsFatal(err) {
			return err
		}
		z.closeEntry()
	}
	offset := z.s.Position()
	sig, _ := z.s.Peek(4)
	if len(sig) < 4 {
		return status.Fatalf(status.KindFormat, "zip", "", "truncated archive at offset %d", offset)
	}
	switch le.Uint32(sig) {
	case sigLocal:
	case sigCentral, sigEnd, sigEnd64:
		return io.EOF
	default:
		return status.Fatalf(status.KindFormat, "zip", "", "bad header signature %#08x at offset %d", le.Uint32(sig), offset)
	}

	hdr, err := z.s.ReadFull(localHeaderLen)
	if err != nil {
		return z.truncated("", err)
	}
	nameLen := int(le.Uint16(hdr[26:]))
	extraLen := int(le.Uint16(hdr[28:]))
	rawName, err := z.s.ReadFull(nameLen)
	if err != nil {
		return z.truncated("", err)
	}
	extraBytes, err := z.s.ReadFull(extraLen)
	if err != nil {
		return z.truncated(string(rawName), err)
	}

	var tally status.Tally
	if z.pending != nil {
		tally.Add(z.pending)
		z.pending = nil
	}

	ze := &zipEntry{
		flags:  le.Uint16(hdr[6:]),
		method: le.Uint16(hdr[8:]),
		crc:    le.Uint32(hdr[14:]),
		csize:  int64(le.Uint32(hdr[18:])),
		usize:  int64(le.Uint32(hdr[22:])),
		hash:   crc32.NewIEEE(),
	}
	name := z.decodeName(rawName, ze.flags)
	ze.path = name

	x, xerr := parseExtra(extraBytes)
	if xerr != nil {
		tally.Add(status.Wrap(status.Warn, status.KindFormat, "zip extra", name, xerr))
	}
	if len(x.zip64) > 0 {
		ze.zip64 = true
		vals := x.zip64
		if ze.usize == uint32Max && len(vals) > 0 {
			ze.usize, vals = int64(vals[0]), vals[1:]
		}
		if ze.csize == uint32Max && len(vals) > 0 {
			ze.csize = int64(vals[0])
		}
	}
	if ze.flags&flagDescriptor != 0 {
		ze.csize, ze.usize = -1, -1
	} else {
		ze.crcKnown = true
	}

	e.Path = strings.TrimSuffix(name, "/")
	e.SourcePath = name
	e.Mode = 0o644
	if strings.HasSuffix(name, "/") {
		e.Type = entry.Dir
		e.Mode = 0o755
	}
	e.Mtime = dosToTime(le.Uint16(hdr[12:]), le.Uint16(hdr[10:]))

	if z.central != nil {
		rec, ok := z.central[offset]
		if !ok {
			tally.Add(status.Warnf(status.KindFormat, "zip", name, "entry missing from central directory"))
		} else {
			z.crossCheck(ze, rec, string(rawName), &tally)
			applyExternalAttrs(e, rec)
		}
	}

	if x.hasMtime {
		e.Mtime = unixTime(x.mtime)
	}
	if x.hasAtime {
		e.Atime = unixTime(x.atime)
	}
	if x.hasCtime {
		e.Ctime = unixTime(x.ctime)
	}
	if x.hasIDs {
		e.UID, e.GID = x.uid, x.gid
	}
	if x.meta != nil {
		if err := x.meta.apply(e); err != nil {
			tally.Add(status.Wrap(status.Warn, status.KindFormat, "zip metadata", name, err))
		}
	}
	if !e.SizeKnown() && ze.usize >= 0 {
		e.SetSize(ze.usize)
	}
	switch e.Type {
	case entry.Dir, entry.CharDevice, entry.BlockDevice, entry.FIFO:
		e.SetSize(0)
	}
	if !e.IsDense() {
		ze.sparse = e.Sparse
		ze.regionLeft = ze.sparse[0].Length
	}

	switch {
	case ze.flags&flagEncrypted != 0:
		ze.err = status.Failf(status.KindFormat, "zip", name, "encrypted entries are not supported")
	case !methodSupported(ze.method):
		ze.err = status.Failf(status.KindFormat, "zip", name, "compression method %d is not supported", ze.method)
	case ze.csize < 0 && ze.method != MethodStore && ze.method != MethodDeflate:
		ze.err = status.Fatalf(status.KindFormat, "zip", name, "method %d with deferred sizes needs a seekable archive", ze.method)
	}
	z.cur = ze
	if ze.err != nil {
		if ze.csize >= 0 {
			ze.limited = &io.LimitedReader{R: z.s, N: ze.csize}
		}
		if ze.csize < 0 {
			ze.err = status.Wrap(status.Fatal, status.KindFormat, "zip", name, ze.err)
			return ze.err
		}
		tally.Add(ze.err)
		return tally.Err()
	}
	if err := z.openBody(ze); err != nil {
		ze.err = status.Wrap(status.Failed, status.KindFormat, "zip", name, err)
		if ze.csize < 0 {
			ze.err = status.Wrap(status.Fatal, status.KindFormat, "zip", name, err)
			return ze.err
		}
		tally.Add(ze.err)
		return tally.Err()
	}

	if e.Type == entry.Symlink {
		target, err := z.readAll(maxSymlinkLen)
		if err != nil {
			if status.IsFatal(err) {
				return err
			}
			tally.Add(err)
		}
		e.Symlink = string(target)
		e.SetSize(0)
	}
	return tally.Err()
}

func unixTime(sec int64) time.Time { return time.Unix(sec, 0) }

func methodSupported(m uint16) bool {
	switch m {
	case MethodStore, MethodDeflate, MethodBzip2, MethodZstd, MethodXz:
		return true
	}
	return false
}

func (z *zipReader) truncated(path string, err error) error {
	return status.Wrap(status.Fatal, status.KindFormat, "zip", path, fmt.Errorf("truncated header: %w", err))
}

func (z *zipReader) decodeName(raw []byte, flags uint16) string {
	if flags&flagUTF8 != 0 || z.charset == nil || isASCII(raw) {
		return string(raw)
	}
	s, err := z.charset.NewDecoder().Bytes(raw)
	if err != nil || !utf8.Valid(s) {
		return string(raw)
	}
	return string(s)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

func applyExternalAttrs(e *entry.Entry, rec *centralRecord) {
	hostOS := rec.madeBy >> 8
	mode := rec.extAttr >> 16
	if (hostOS == 3 || hostOS == 19) && mode != 0 {
		if t, ok := typeFromUnix(mode); ok {
			e.Type = t
		}
		e.Mode = mode & entry.ModeMask
		return
	}
	if rec.extAttr&0x10 != 0 {
		e.Type = entry.Dir
		e.Mode = 0o755
	}
	if rec.extAttr&0x01 != 0 {
		e.Mode &^= 0o222
	}
}

func (z *zipReader) crossCheck(ze *zipEntry, rec *centralRecord, rawName string, t *status.Tally) {
	if rec.name != rawName {
		t.Add(status.Warnf(status.KindFormat, "zip", ze.path, "central directory names it %q", rec.name))
	}
	if rec.method != ze.method {
		t.Add(status.Warnf(status.KindFormat, "zip", ze.path, "central directory method %d, local %d", rec.method, ze.method))
	}
	if ze.flags&flagDescriptor != 0 {
		ze.crc, ze.crcKnown = rec.crc, true
		ze.csize, ze.usize = rec.csize, rec.usize
		return
	}
	if rec.crc != ze.crc || rec.csize != ze.csize || rec.usize != ze.usize {
		t.Add(status.Warnf(status.KindFormat, "zip", ze.path, "local header disagrees with central directory"))
	}
}

func (z *zipReader) openBody(ze *zipEntry) error {
	var raw io.Reader
	switch {
	case ze.csize >= 0:
		ze.limited = &io.LimitedReader{R: z.s, N: ze.csize}
		raw = ze.limited
	case ze.method == MethodStore:
		raw = &storedScanner{s: z.s, zip64: ze.zip64}
	default:
		ze.counter = &countingReader{s: z.s}
		raw = ze.counter
	}
	switch ze.method {
	case MethodStore:
		ze.body = raw
	case MethodDeflate:
		fr := flate.NewReader(raw)
		ze.body, ze.closer = fr, fr
	case MethodBzip2:
		ze.body = bzip2.NewReader(raw)
	case MethodZstd:
		d, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		rc := d.IOReadCloser()
		ze.body, ze.closer = rc, rc
	case MethodXz:
		xr, err := xz.NewReader(raw)
		if err != nil {
			return err
		}
		ze.body = xr
	}
	return nil
}

func (z *zipReader) closeEntry() {
	if z.cur != nil && z.cur.closer != nil {
		z.cur.closer.Close()
	}
	z.cur = nil
}

// readAll reads the whole payload of the current entry, up to limit bytes.
func (z *zipReader) readAll(limit int) ([]byte, error) {
	var out []byte
	for {
		b, err := z.ReadBlock()
		out = append(out, b.Data...)
		if len(out) > limit {
			return nil, status.Failf(status.KindFormat, "zip", z.cur.path, "payload exceeds %d bytes", limit)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func (z *zipReader) ReadBlock() (Block, error) {
	ze := z.cur
	switch {
	case ze == nil || ze.done:
		return Block{}, io.EOF
	case ze.err != nil:
		return Block{}, ze.err
	case ze.pendingErr != nil:
		return Block{}, z.dataError(ze, ze.pendingErr)
	case ze.sawEOF:
		return Block{}, z.finish(ze)
	}
	for {
		want := len(z.buf)
		off := ze.produced
		if ze.sparse != nil {
			for ze.regionLeft == 0 && ze.region < len(ze.sparse)-1 {
				ze.region++
				ze.regionLeft = ze.sparse[ze.region].Length
			}
			if ze.regionLeft == 0 {
				// Every span is filled; only end of payload may follow.
				var one [1]byte
				n, err := io.ReadFull(ze.body, one[:])
				if n > 0 {
					return Block{}, z.dataError(ze, status.Failf(status.KindFormat, "zip", ze.path, "payload longer than its sparse map"))
				}
				if errors.Is(err, io.EOF) {
					return Block{}, z.finish(ze)
				}
				return Block{}, z.dataError(ze, err)
			}
			r := ze.sparse[ze.region]
			off = r.End() - ze.regionLeft
			want = int(min(int64(want), ze.regionLeft))
		}
		n, err := ze.body.Read(z.buf[:want])
		if n > 0 {
			ze.hash.Write(z.buf[:n])
			ze.produced += int64(n)
			if ze.sparse != nil {
				ze.regionLeft -= int64(n)
			}
			switch {
			case errors.Is(err, io.EOF):
				ze.sawEOF = true
			case err != nil:
				ze.pendingErr = err
			}
			return Block{Data: z.buf[:n], Offset: off}, nil
		}
		if errors.Is(err, io.EOF) {
			return Block{}, z.finish(ze)
		}
		if err != nil {
			return Block{}, z.dataError(ze, err)
		}
	}
}

// dataError records a payload failure. Bounded entries can be skipped so the
// failure stays with this entry; unbounded ones lose the stream position.
func (z *zipReader) dataError(ze *zipEntry, err error) error {
	code := status.Failed
	if ze.limited == nil {
		code = status.Fatal
	} else if _, perr := z.s.Peek(1); perr != nil && ze.limited.N > 0 {
		code = status.Fatal
	}
	ze.err = status.Wrap(code, status.KindFormat, "zip read", ze.path, err)
	return ze.err
}

// finish validates the fully read payload and consumes the descriptor.
func (z *zipReader) finish(ze *zipEntry) error {
	ze.done = true
	if ze.limited != nil && ze.limited.N > 0 {
		if _, err := z.s.Skip(ze.limited.N); err != nil {
			return status.Wrap(status.Fatal, status.KindFormat, "zip read", ze.path, err)
		}
		ze.limited.N = 0
	}
	var t status.Tally
	crc, crcKnown := ze.crc, ze.crcKnown
	if ze.flags&flagDescriptor != 0 {
		dcrc, dcsize, dusize, err := z.readDescriptor(ze)
		if err != nil {
			return err
		}
		if !crcKnown {
			crc, crcKnown = dcrc, true
		} else if dcrc != crc {
			t.Add(status.Warnf(status.KindFormat, "zip", ze.path, "descriptor crc %08x, central directory %08x", dcrc, crc))
		}
		if ze.counter != nil && dcsize != truncSize(ze.counter.n, ze.zip64) {
			t.Add(status.Warnf(status.KindFormat, "zip", ze.path, "descriptor compressed size %d, read %d", dcsize, ze.counter.n))
		}
		if dusize != truncSize(ze.produced, ze.zip64) {
			t.Add(status.Failf(status.KindFormat, "zip", ze.path, "descriptor size %d, read %d", dusize, ze.produced))
		}
	}
	if ze.usize >= 0 && ze.produced != ze.usize {
		t.Add(status.Failf(status.KindFormat, "zip", ze.path, "expected %d bytes, read %d", ze.usize, ze.produced))
	}
	if crcKnown && ze.hash.Sum32() != crc {
		t.Add(status.Failf(status.KindFormat, "zip", ze.path, "checksum mismatch: stored %08x, computed %08x", crc, ze.hash.Sum32()))
	}
	if err := t.Err(); err != nil {
		return err
	}
	return io.EOF
}

func truncSize(n int64, zip64 bool) int64 {
	if zip64 {
		return n
	}
	return n & uint32Max
}

func (z *zipReader) readDescriptor(ze *zipEntry) (crc uint32, csize, usize int64, err error) {
	if ze.descRead {
		return ze.crc, ze.csize, ze.usize, nil
	}
	ze.descRead = true
	if peekPrefix(z.s, descriptorSig) {
		if _, err := z.s.Skip(4); err != nil {
			return 0, 0, 0, z.truncated(ze.path, err)
		}
	}
	n := 12
	if ze.zip64 {
		n = 20
	}
	b, err := z.s.ReadFull(n)
	if err != nil {
		return 0, 0, 0, z.truncated(ze.path, err)
	}
	crc = le.Uint32(b)
	if ze.zip64 {
		return crc, int64(le.Uint64(b[4:])), int64(le.Uint64(b[12:])), nil
	}
	return crc, int64(le.Uint32(b[4:])), int64(le.Uint32(b[8:])), nil
}

func (z *zipReader) SkipData() error {
	ze := z.cur
	if ze == nil || ze.done {
		return nil
	}
	if ze.limited != nil {
		if _, err := z.s.Skip(ze.limited.N); err != nil {
			return status.Wrap(status.Fatal, status.KindFormat, "zip skip", ze.path, err)
		}
		ze.limited.N = 0
	} else {
		if ze.err != nil {
			return ze.err
		}
		if _, err := io.Copy(io.Discard, ze.body); err != nil {
			ze.err = status.Wrap(status.Fatal, status.KindFormat, "zip skip", ze.path, err)
			return ze.err
		}
	}
	ze.done = true
	if ze.flags&flagDescriptor != 0 {
		if _, _, _, err := z.readDescriptor(ze); err != nil {
			return err
		}
	}
	return nil
}

func (z *zipReader) Close() error {
	z.closeEntry()
	return nil
}

// loadCentral reads the central directory of a seekable archive, keyed by
// local header offset.
func (z *zipReader) loadCentral() error {
	size, err := z.s.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	tail := min(size, int64(endRecordLen+uint16Max))
	if _, err := z.s.Seek(size-tail, io.SeekStart); err != nil {
		return err
	}
	buf, err := z.s.ReadFull(int(tail))
	if err != nil {
		return err
	}
	i := findEndRecord(buf)
	if i < 0 {
		return errors.New("end of central directory not found")
	}
	rec := buf[i:]
	count := uint64(le.Uint16(rec[10:]))
	cdSize := uint64(le.Uint32(rec[12:]))
	cdOff := uint64(le.Uint32(rec[16:]))
	if count == uint16Max || cdSize == uint32Max || cdOff == uint32Max {
		if i < end64LocatorLen || le.Uint32(buf[i-end64LocatorLen:]) != sigEnd64Loc {
			return errors.New("zip64 end locator missing")
		}
		at := int64(le.Uint64(buf[i-end64LocatorLen+8:]))
		if _, err := z.s.Seek(at, io.SeekStart); err != nil {
			return err
		}
		r64, err := z.s.ReadFull(end64RecordLen)
		if err != nil {
			return err
		}
		if le.Uint32(r64) != sigEnd64 {
			return errors.New("bad zip64 end record")
		}
		count = le.Uint64(r64[32:])
		cdSize = le.Uint64(r64[40:])
		cdOff = le.Uint64(r64[48:])
	}
	if cdSize > maxCentralSize || cdOff+cdSize > uint64(size) {
		return fmt.Errorf("central directory out of range (offset %d, size %d)", cdOff, cdSize)
	}
	if _, err := z.s.Seek(int64(cdOff), io.SeekStart); err != nil {
		return err
	}
	data, err := z.s.ReadFull(int(cdSize))
	if err != nil {
		return err
	}
	z.central = make(map[int64]*centralRecord, min(count, 1<<16))
	for len(data) >= centralHeaderLen {
		if le.Uint32(data) != sigCentral {
			return errors.New("bad central directory signature")
		}
		nl := int(le.Uint16(data[28:]))
		el := int(le.Uint16(data[30:]))
		cl := int(le.Uint16(data[32:]))
		end := centralHeaderLen + nl + el + cl
		if end > len(data) {
			return errors.New("truncated central directory")
		}
		r := &centralRecord{
			name:    string(data[centralHeaderLen : centralHeaderLen+nl]),
			madeBy:  le.Uint16(data[4:]),
			flags:   le.Uint16(data[8:]),
			method:  le.Uint16(data[10:]),
			crc:     le.Uint32(data[16:]),
			csize:   int64(le.Uint32(data[20:])),
			usize:   int64(le.Uint32(data[24:])),
			extAttr: le.Uint32(data[38:]),
			offset:  int64(le.Uint32(data[42:])),
		}
		x, _ := parseExtra(data[centralHeaderLen+nl : centralHeaderLen+nl+el])
		vals := x.zip64
		if r.usize == uint32Max && len(vals) > 0 {
			r.usize, vals = int64(vals[0]), vals[1:]
		}
		if r.csize == uint32Max && len(vals) > 0 {
			r.csize, vals = int64(vals[0]), vals[1:]
		}
		if r.offset == uint32Max && len(vals) > 0 {
			r.offset = int64(vals[0])
		}
		z.central[r.offset] = r
		data = data[end:]
	}
	return nil
}

func findEndRecord(buf []byte) int {
	for i := len(buf) - endRecordLen; i >= 0; i-- {
		if le.Uint32(buf[i:]) != sigEnd {
			continue
		}
		if i+endRecordLen+int(le.Uint16(buf[i+20:])) <= len(buf) {
			return i
		}
	}
	return -1
}

// countingReader tracks compressed bytes consumed when the size is not
// known up front. It keeps ReadByte so flate does not read ahead.
type countingReader struct {
	s *Stream
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.s.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.s.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// storedScanner delimits a stored entry whose size follows in a data
// descriptor by looking for a descriptor whose sizes match the bytes seen.
type storedScanner struct {
	s     *Stream
	n     int64
	zip64 bool
	done  bool
}

func (r *storedScanner) descLen() int {
	if r.zip64 {
		return 24
	}
	return 16
}

func (r *storedScanner) matches(d []byte, at int64) bool {
	want := r.n + at
	if r.zip64 {
		return int64(le.Uint64(d[8:])) == want && int64(le.Uint64(d[16:])) == want
	}
	return int64(le.Uint32(d[8:])) == want&uint32Max && int64(le.Uint32(d[12:])) == want&uint32Max
}

func (r *storedScanner) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	win, perr := r.s.Peek(streamBufferSize)
	limit := len(win)
	for i := 0; i < len(win); i++ {
		j := bytes.Index(win[i:], descriptorSig)
		if j < 0 {
			if perr == nil {
				limit = max(len(win)-len(descriptorSig)+1, 0)
			}
			break
		}
		i += j
		if i+r.descLen() > len(win) {
			if perr == nil {
				limit = i
			}
			break
		}
		if r.matches(win[i:], int64(i)) {
			if i == 0 {
				r.done = true
				return 0, io.EOF
			}
			limit = i
			break
		}
	}
	if limit == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n, err := r.s.Read(p[:min(len(p), limit)])
	r.n += int64(n)
	return n, err
}
