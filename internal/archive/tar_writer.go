package archive

import (
	"archive/tar"
	"encoding/base64"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/bamsammich/unbox/internal/entry"
)

// TarWriter encodes entries as a PAX tar archive. A sparse entry is stored
// dense with its map in a PAX record: the caller writes only the data spans
// and the writer fills the holes with zeros.
type TarWriter struct {
	tw *tar.Writer

	regions []entry.SparseRegion
	ri      int
	inSpan  int64 // bytes of regions[ri] already written
	pos     int64 // logical bytes written
	size    int64
}

// NewTarWriter returns a writer producing a tar archive on w.
func NewTarWriter(w io.Writer) *TarWriter {
	return &TarWriter{tw: tar.NewWriter(w)}
}

func (t *TarWriter) WriteHeader(e *entry.Entry) error {
	if err := t.finishSparse(); err != nil {
		return err
	}
	mtime := e.Mtime
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}
	hdr := &tar.Header{
		Name:       e.Path,
		Mode:       int64(e.Mode & entry.ModeMask),
		Uid:        int(e.UID),
		Gid:        int(e.GID),
		Uname:      e.Uname,
		Gname:      e.Gname,
		ModTime:    mtime,
		AccessTime: e.Atime,
		ChangeTime: e.Ctime,
		Format:     tar.FormatPAX,
		PAXRecords: map[string]string{},
	}
	switch e.Type {
	case entry.Dir:
		hdr.Typeflag = tar.TypeDir
		if !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
	case entry.Symlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.Symlink
	case entry.CharDevice, entry.BlockDevice:
		hdr.Typeflag = tar.TypeChar
		if e.Type == entry.BlockDevice {
			hdr.Typeflag = tar.TypeBlock
		}
		hdr.Devmajor, hdr.Devminor = int64(e.Major()), int64(e.Minor())
	case entry.FIFO:
		hdr.Typeflag = tar.TypeFifo
	default:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.Size()
		if e.IsHardlink() {
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = e.Hardlink
			hdr.Size = 0
		}
	}
	for _, x := range e.Xattrs {
		if plainXattrName(x.Name) {
			hdr.PAXRecords[paxSchilyXattr+x.Name] = string(x.Value)
			continue
		}
		hdr.PAXRecords[paxLibarchXattr+url.QueryEscape(x.Name)] = base64.StdEncoding.EncodeToString(x.Value)
	}
	if e.ACL.POSIX() {
		if e.ACL.Count(entry.ACLAccess) > 0 {
			hdr.PAXRecords[paxACLAccess] = e.ACL.Text(entry.ACLAccess, e.Mode)
		}
		if e.ACL.Count(entry.ACLDefault) > 0 {
			hdr.PAXRecords[paxACLDefault] = e.ACL.Text(entry.ACLDefault, e.Mode)
		}
	}
	if f := FormatFflags(e.Fflags); f != "" {
		hdr.PAXRecords[paxFflags] = f
	}
	if !e.Birthtime.IsZero() {
		hdr.PAXRecords[paxCreationTime] = formatPAXTime(e.Birthtime)
	}
	if hdr.Typeflag == tar.TypeReg && !e.IsDense() {
		hdr.PAXRecords[paxSparseMap] = formatSparseMap(e.Sparse)
		t.regions = slices.Clone(e.Sparse)
		t.ri, t.inSpan, t.pos, t.size = 0, 0, 0, e.Size()
	}
	return t.tw.WriteHeader(hdr)
}

func formatSparseMap(regions []entry.SparseRegion) string {
	var b strings.Builder
	for i, r := range regions {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(r.Offset, 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(r.Length, 10))
	}
	return b.String()
}

func plainXattrName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == '=' || r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Write stores payload. For a sparse entry p continues the data spans in
// order; the holes before each span are written as zeros.
func (t *TarWriter) Write(p []byte) (int, error) {
	if t.regions == nil {
		return t.tw.Write(p)
	}
	written := 0
	for len(p) > 0 {
		if t.ri == len(t.regions) {
			return written, tar.ErrWriteTooLong
		}
		r := t.regions[t.ri]
		if err := t.zeros(r.Offset + t.inSpan - t.pos); err != nil {
			return written, err
		}
		n := int(min(int64(len(p)), r.Length-t.inSpan))
		m, err := t.tw.Write(p[:n])
		written += m
		t.pos += int64(m)
		t.inSpan += int64(m)
		if err != nil {
			return written, err
		}
		if t.inSpan == r.Length {
			t.ri++
			t.inSpan = 0
		}
		p = p[n:]
	}
	return written, nil
}

// finishSparse writes the trailing hole of the current sparse entry.
func (t *TarWriter) finishSparse() error {
	if t.regions == nil {
		return nil
	}
	err := t.zeros(t.size - t.pos)
	t.regions = nil
	return err
}

var zeroFill [32 * 1024]byte

func (t *TarWriter) zeros(n int64) error {
	for n > 0 {
		chunk := min(n, int64(len(zeroFill)))
		m, err := t.tw.Write(zeroFill[:chunk])
		t.pos += int64(m)
		if err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Close writes the trailer. It does not close the underlying writer.
func (t *TarWriter) Close() error {
	if err := t.finishSparse(); err != nil {
		return err
	}
	return t.tw.Close()
}
