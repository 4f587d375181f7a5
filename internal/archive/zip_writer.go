package archive

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/bamsammich/unbox/internal/entry"
)

const (
	unixHostOS     = 3
	versionDefault = 20
	versionZip64   = 45
	versionModern  = 63
)

var errWriterClosed = errors.New("zip writer closed")

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ZipOption configures a ZipWriter.
type ZipOption func(*ZipWriter)

// WithZipMethod selects the compression method for regular file payloads.
func WithZipMethod(m uint16) ZipOption {
	return func(zw *ZipWriter) { zw.method = m }
}

// WithDataDescriptors streams payloads and writes sizes after them instead
// of buffering each entry. Only stored and deflated payloads are allowed.
func WithDataDescriptors() ZipOption {
	return func(zw *ZipWriter) { zw.descriptors = true }
}

// ZipWriter encodes entries as a zip archive, including the metadata extra
// that the zip reader restores.
type ZipWriter struct {
	w           *countWriter
	method      uint16
	descriptors bool
	dir         []centralEntry
	cur         *zipWriteEntry
	closed      bool
}

type centralEntry struct {
	name    []byte
	flags   uint16
	method  uint16
	date    uint16
	time    uint16
	crc     uint32
	csize   int64
	usize   int64
	offset  int64
	extAttr uint32
	stamp   []byte
}

type zipWriteEntry struct {
	path   string
	name   []byte
	flags  uint16
	method uint16
	date   uint16
	time   uint16
	mode   uint32
	isDir  bool
	offset int64
	expect int64
	extra  []byte
	stamp  []byte

	crc   hash.Hash32
	usize int64
	buf   *bytes.Buffer
	comp  io.WriteCloser
	start int64
}

// NewZipWriter returns a writer producing a zip archive on w.
func NewZipWriter(w io.Writer, opts ...ZipOption) *ZipWriter {
	zw := &ZipWriter{w: &countWriter{w: w}, method: MethodDeflate}
	for _, o := range opts {
		o(zw)
	}
	return zw
}

// WriteHeader starts a new entry. For sparse entries the payload written
// afterwards must be the concatenated data spans only. Symlink targets are
// written automatically.
func (zw *ZipWriter) WriteHeader(e *entry.Entry) error {
	if zw.closed {
		return errWriterClosed
	}
	if err := zw.finishEntry(); err != nil {
		return err
	}
	name := e.Path
	if e.Type == entry.Dir && name != "" && name[len(name)-1] != '/' {
		name += "/"
	}
	ze := &zipWriteEntry{
		path:   e.Path,
		name:   []byte(name),
		method: zw.method,
		mode:   unixFromType(e.Type) | e.Mode&entry.ModeMask,
		isDir:  e.Type == entry.Dir,
		offset: zw.w.n,
		expect: -1,
		crc:    crc32.NewIEEE(),
	}
	if !isASCII(ze.name) {
		ze.flags |= flagUTF8
	}
	ze.date, ze.time = timeToDOS(e.Mtime)
	switch e.Type {
	case entry.Regular:
		if e.SizeKnown() {
			ze.expect = e.StoredSize()
		}
		if e.IsHardlink() && ze.expect <= 0 {
			ze.method = MethodStore
		}
	case entry.Symlink:
		ze.method = MethodStore
		ze.expect = int64(len(e.Symlink))
	default:
		ze.method = MethodStore
		ze.expect = 0
	}
	if zw.descriptors && ze.method != MethodStore && ze.method != MethodDeflate {
		return fmt.Errorf("%s: method %d cannot be streamed with data descriptors", e.Path, ze.method)
	}

	meta, err := cbor.Marshal(metaFromEntry(e))
	if err != nil {
		return fmt.Errorf("%s: encode metadata: %w", e.Path, err)
	}
	ze.stamp = timestampExtra(e, true)
	if ts := timestampExtra(e, false); ts != nil {
		ze.extra = appendExtra(ze.extra, extraTimestamp, ts)
	}
	if ids := unixIDsExtra(e.UID, e.GID); ids != nil {
		ze.extra = appendExtra(ze.extra, extraUnixIDs, ids)
	}
	ze.extra = appendExtra(ze.extra, extraUnbox, meta)
	// Room for a zip64 block added later.
	if len(ze.extra)+20 > uint16Max || len(meta) > uint16Max {
		return fmt.Errorf("%s: metadata too large for a zip extra field", e.Path)
	}

	var dst io.Writer
	if zw.descriptors {
		ze.flags |= flagDescriptor
		if err := zw.writeLocal(ze, 0, 0, 0, false); err != nil {
			return err
		}
		ze.start = zw.w.n
		dst = zw.w
	} else {
		ze.buf = &bytes.Buffer{}
		dst = ze.buf
	}
	comp, err := newZipCompressor(ze.method, dst)
	if err != nil {
		return fmt.Errorf("%s: %w", e.Path, err)
	}
	ze.comp = comp
	zw.cur = ze
	if e.Type == entry.Symlink {
		if _, err := zw.Write([]byte(e.Symlink)); err != nil {
			return err
		}
	}
	return nil
}

func newZipCompressor(method uint16, w io.Writer) (io.WriteCloser, error) {
	switch method {
	case MethodStore:
		return nopWriteCloser{w}, nil
	case MethodDeflate:
		return flate.NewWriter(w, flate.DefaultCompression)
	case MethodZstd:
		return zstd.NewWriter(w)
	case MethodXz:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("compression method %d cannot be written", method)
}

// Write appends payload bytes to the current entry.
func (zw *ZipWriter) Write(p []byte) (int, error) {
	if zw.cur == nil {
		return 0, errors.New("zip write without header")
	}
	ze := zw.cur
	n, err := ze.comp.Write(p)
	ze.crc.Write(p[:n])
	ze.usize += int64(n)
	return n, err
}

func (zw *ZipWriter) finishEntry() error {
	ze := zw.cur
	if ze == nil {
		return nil
	}
	zw.cur = nil
	if err := ze.comp.Close(); err != nil {
		return fmt.Errorf("%s: %w", ze.path, err)
	}
	if ze.expect >= 0 && ze.usize != ze.expect {
		return fmt.Errorf("%s: wrote %d payload bytes, header declared %d", ze.path, ze.usize, ze.expect)
	}
	crc := ze.crc.Sum32()
	var csize int64
	if zw.descriptors {
		csize = zw.w.n - ze.start
		if csize >= uint32Max || ze.usize >= uint32Max {
			return fmt.Errorf("%s: entry too large for a 32-bit data descriptor", ze.path)
		}
		d := le.AppendUint32(nil, sigDescriptor)
		d = le.AppendUint32(d, crc)
		d = le.AppendUint32(d, uint32(csize))
		d = le.AppendUint32(d, uint32(ze.usize))
		if _, err := zw.w.Write(d); err != nil {
			return err
		}
	} else {
		csize = int64(ze.buf.Len())
		zip64 := csize >= uint32Max || ze.usize >= uint32Max
		if err := zw.writeLocal(ze, crc, csize, ze.usize, zip64); err != nil {
			return err
		}
		if _, err := ze.buf.WriteTo(zw.w); err != nil {
			return err
		}
	}
	extAttr := ze.mode << 16
	if ze.isDir {
		extAttr |= 0x10
	}
	zw.dir = append(zw.dir, centralEntry{
		name: ze.name, flags: ze.flags, method: ze.method,
		date: ze.date, time: ze.time, crc: crc,
		csize: csize, usize: ze.usize, offset: ze.offset,
		extAttr: extAttr, stamp: ze.stamp,
	})
	return nil
}

func versionNeeded(method uint16, zip64 bool) uint16 {
	switch {
	case method == MethodZstd || method == MethodXz:
		return versionModern
	case zip64:
		return versionZip64
	}
	return versionDefault
}

func (zw *ZipWriter) writeLocal(ze *zipWriteEntry, crc uint32, csize, usize int64, zip64 bool) error {
	extra := ze.extra
	hcsize, husize := uint32(csize), uint32(usize)
	if zip64 {
		var z64 []byte
		z64 = le.AppendUint64(z64, uint64(usize))
		z64 = le.AppendUint64(z64, uint64(csize))
		extra = appendExtra(append([]byte(nil), extra...), extraZip64, z64)
		hcsize, husize = uint32Max, uint32Max
	}
	h := le.AppendUint32(make([]byte, 0, localHeaderLen+len(ze.name)+len(extra)), sigLocal)
	h = le.AppendUint16(h, versionNeeded(ze.method, zip64))
	h = le.AppendUint16(h, ze.flags)
	h = le.AppendUint16(h, ze.method)
	h = le.AppendUint16(h, ze.time)
	h = le.AppendUint16(h, ze.date)
	h = le.AppendUint32(h, crc)
	h = le.AppendUint32(h, hcsize)
	h = le.AppendUint32(h, husize)
	h = le.AppendUint16(h, uint16(len(ze.name)))
	h = le.AppendUint16(h, uint16(len(extra)))
	h = append(h, ze.name...)
	h = append(h, extra...)
	_, err := zw.w.Write(h)
	return err
}

// Close finishes the last entry and writes the central directory. It does
// not close the underlying writer.
func (zw *ZipWriter) Close() error {
	if zw.closed {
		return nil
	}
	if err := zw.finishEntry(); err != nil {
		return err
	}
	zw.closed = true
	start := zw.w.n
	for _, c := range zw.dir {
		if err := zw.writeCentral(c); err != nil {
			return err
		}
	}
	size := zw.w.n - start
	count := int64(len(zw.dir))
	if count >= uint16Max || start >= uint32Max || size >= uint32Max {
		if err := zw.writeEnd64(count, start, size); err != nil {
			return err
		}
	}
	end := le.AppendUint32(nil, sigEnd)
	end = le.AppendUint16(end, 0)
	end = le.AppendUint16(end, 0)
	end = le.AppendUint16(end, uint16(min(count, uint16Max)))
	end = le.AppendUint16(end, uint16(min(count, uint16Max)))
	end = le.AppendUint32(end, uint32(min(size, uint32Max)))
	end = le.AppendUint32(end, uint32(min(start, uint32Max)))
	end = le.AppendUint16(end, 0)
	_, err := zw.w.Write(end)
	return err
}

func (zw *ZipWriter) writeCentral(c centralEntry) error {
	var z64 []byte
	csize, usize, offset := uint32(c.csize), uint32(c.usize), uint32(c.offset)
	if c.usize >= uint32Max {
		z64 = le.AppendUint64(z64, uint64(c.usize))
		usize = uint32Max
	}
	if c.csize >= uint32Max {
		z64 = le.AppendUint64(z64, uint64(c.csize))
		csize = uint32Max
	}
	if c.offset >= uint32Max {
		z64 = le.AppendUint64(z64, uint64(c.offset))
		offset = uint32Max
	}
	var extra []byte
	if z64 != nil {
		extra = appendExtra(extra, extraZip64, z64)
	}
	if c.stamp != nil {
		extra = appendExtra(extra, extraTimestamp, c.stamp)
	}
	version := versionNeeded(c.method, z64 != nil)
	h := le.AppendUint32(make([]byte, 0, centralHeaderLen+len(c.name)+len(extra)), sigCentral)
	h = le.AppendUint16(h, unixHostOS<<8|version)
	h = le.AppendUint16(h, version)
	h = le.AppendUint16(h, c.flags)
	h = le.AppendUint16(h, c.method)
	h = le.AppendUint16(h, c.time)
	h = le.AppendUint16(h, c.date)
	h = le.AppendUint32(h, c.crc)
	h = le.AppendUint32(h, csize)
	h = le.AppendUint32(h, usize)
	h = le.AppendUint16(h, uint16(len(c.name)))
	h = le.AppendUint16(h, uint16(len(extra)))
	h = le.AppendUint16(h, 0)
	h = le.AppendUint16(h, 0)
	h = le.AppendUint16(h, 0)
	h = le.AppendUint32(h, c.extAttr)
	h = le.AppendUint32(h, offset)
	h = append(h, c.name...)
	h = append(h, extra...)
	_, err := zw.w.Write(h)
	return err
}

func (zw *ZipWriter) writeEnd64(count, start, size int64) error {
	locAt := zw.w.n
	r := le.AppendUint32(nil, sigEnd64)
	r = le.AppendUint64(r, end64RecordLen-12)
	r = le.AppendUint16(r, unixHostOS<<8|versionZip64)
	r = le.AppendUint16(r, versionZip64)
	r = le.AppendUint32(r, 0)
	r = le.AppendUint32(r, 0)
	r = le.AppendUint64(r, uint64(count))
	r = le.AppendUint64(r, uint64(count))
	r = le.AppendUint64(r, uint64(size))
	r = le.AppendUint64(r, uint64(start))
	r = le.AppendUint32(r, sigEnd64Loc)
	r = le.AppendUint32(r, 0)
	r = le.AppendUint64(r, uint64(locAt))
	r = le.AppendUint32(r, 1)
	_, err := zw.w.Write(r)
	return err
}
