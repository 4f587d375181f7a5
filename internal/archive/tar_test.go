package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/unbox/internal/entry"
)

func TestTarPAXMetadataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	gz, err := NewCompressor("gzip", &buf)
	require.NoError(t, err)
	tw := NewTarWriter(gz)

	d := entry.New("dir")
	d.Type = entry.Dir
	d.Mode = 0o2775
	d.Mtime = time.Unix(1700000000, 0)
	require.NoError(t, d.ACL.ParseText(entry.ACLDefault, "user::rwx,group::r-x,other::---"))
	require.NoError(t, tw.WriteHeader(d))

	f := entry.New("dir/file")
	f.Mode = 0o640
	f.Mtime = time.Unix(1700000000, 250000000)
	f.Birthtime = time.Unix(1500000000, 7)
	f.SetSize(5)
	f.AddXattr("user.plain", []byte("v1"))
	f.AddXattr("user.odd=name", []byte{0xff, 0})
	require.NoError(t, f.ACL.ParseText(entry.ACLAccess, "user::rw-,user:alice:rw-:1000,group::r--,mask::rw-,other::---"))
	f.Fflags = entry.Fflags{Set: entry.FlagNoDump | entry.FlagImmutable}
	require.NoError(t, tw.WriteHeader(f))
	_, err = tw.Write([]byte("12345"))
	require.NoError(t, err)

	l := entry.New("dir/link")
	l.Type = entry.Symlink
	l.Symlink = "file"
	require.NoError(t, tw.WriteHeader(l))

	h := entry.New("dir/hard")
	h.Hardlink = "dir/file"
	require.NoError(t, tw.WriteHeader(h))

	dev := entry.New("dir/null")
	dev.Type = entry.CharDevice
	dev.SetDevice(1, 3)
	require.NoError(t, tw.WriteHeader(dev))

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	r := openReader(t, bytes.NewReader(buf.Bytes()))
	assert.Equal(t, []string{"gzip"}, r.FilterNames())
	assert.Equal(t, "tar", r.FormatName())

	hdr, err := r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, "dir", hdr.Path)
	assert.Equal(t, entry.Dir, hdr.Type)
	assert.Equal(t, uint32(0o2775), hdr.Mode)
	assert.Equal(t, 3, hdr.ACL.Count(entry.ACLDefault))

	hdr, err = r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, "dir/file", hdr.Path)
	assert.True(t, hdr.Mtime.Equal(f.Mtime))
	assert.True(t, hdr.Birthtime.Equal(f.Birthtime))
	assert.ElementsMatch(t, f.Xattrs, hdr.Xattrs)
	require.Equal(t, 2, hdr.ACL.Count(entry.ACLAccess))
	assert.Equal(t, "alice", hdr.ACL[0].Name)
	assert.Equal(t, int64(1000), hdr.ACL[0].ID)
	assert.Equal(t, f.Fflags, hdr.Fflags)
	assert.Equal(t, []byte("12345"), drain(t, r))

	hdr, err = r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, entry.Symlink, hdr.Type)
	assert.Equal(t, "file", hdr.Symlink)

	hdr, err = r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, "dir/file", hdr.Hardlink)

	hdr, err = r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, entry.CharDevice, hdr.Type)
	assert.Equal(t, uint32(1), hdr.Major())
	assert.Equal(t, uint32(3), hdr.Minor())

	_, err = r.NextHeader()
	assert.ErrorIs(t, err, io.EOF)
}

func TestTarBidRequiresChecksum(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTarWriter(&buf)
	e := entry.New("x")
	e.SetSize(0)
	require.NoError(t, tw.WriteHeader(e))
	require.NoError(t, tw.Close())

	data := buf.Bytes()
	assert.Greater(t, TarBidder{}.Bid(newRawStream(bytes.NewReader(data))), 0)

	bad := bytes.Clone(data)
	bad[0] ^= 0x20
	assert.Equal(t, 0, TarBidder{}.Bid(newRawStream(bytes.NewReader(bad))))
}

func TestFflagsText(t *testing.T) {
	f := ParseFflags("nodump,uappnd,nouchg,bogus")
	assert.Equal(t, entry.FlagNoDump|entry.FlagAppend, f.Set)
	assert.Equal(t, "uappnd,nodump", FormatFflags(f))
	assert.Equal(t, entry.Fflags{Clear: entry.FlagImmutable}, ParseFflags("nouimmutable"))
}

// ustarBlock builds a ustar header block with a valid checksum.
func ustarBlock(name string, flag byte, size int64) []byte {
	b := make([]byte, tarBlockSize)
	copy(b[0:100], name)
	copy(b[100:108], "0000644\x00")
	copy(b[108:116], "0000000\x00")
	copy(b[116:124], "0000000\x00")
	copy(b[124:136], fmt.Sprintf("%011o\x00", size))
	copy(b[136:148], fmt.Sprintf("%011o\x00", 1700000000))
	b[156] = flag
	copy(b[257:265], "ustar\x0000")
	copy(b[148:156], "        ")
	var sum int64
	for _, c := range b {
		sum += int64(c)
	}
	copy(b[148:156], fmt.Sprintf("%06o\x00 ", sum))
	return b
}

func padBlock(b []byte) []byte {
	if r := len(b) % tarBlockSize; r != 0 {
		b = append(b, make([]byte, tarBlockSize-r)...)
	}
	return b
}

func paxRecord(k, v string) string {
	body := " " + k + "=" + v + "\n"
	n := len(body) + 1
	for len(strconv.Itoa(n))+len(body) != n {
		n = len(strconv.Itoa(n)) + len(body)
	}
	return strconv.Itoa(n) + body
}

// gnuSparseTar builds a tar holding one member described by PAX records,
// the way GNU tar stores sparse files.
func gnuSparseTar(records []string, payload []byte) []byte {
	pax := strings.Join(records, "")
	var out []byte
	out = append(out, ustarBlock("PaxHeaders/sparse.bin", tar.TypeXHeader, int64(len(pax)))...)
	out = append(out, padBlock([]byte(pax))...)
	out = append(out, ustarBlock("sparse.bin", tar.TypeReg, int64(len(payload)))...)
	out = append(out, padBlock(bytes.Clone(payload))...)
	return append(out, make([]byte, 2*tarBlockSize)...)
}

// readBlocks collects the current payload's blocks without placing them.
func readBlocks(t *testing.T, r *Reader) []Block {
	t.Helper()
	var out []Block
	for {
		b, err := r.ReadBlock()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		if len(b.Data) > 0 {
			out = append(out, Block{Data: bytes.Clone(b.Data), Offset: b.Offset})
		}
	}
}

func assertNoBlockIn(t *testing.T, blocks []Block, lo, hi int64) {
	t.Helper()
	for _, b := range blocks {
		end := b.Offset + int64(len(b.Data))
		assert.False(t, b.Offset < hi && end > lo, "block [%d,%d) overlaps hole [%d,%d)", b.Offset, end, lo, hi)
	}
}

func storedBytes(blocks []Block) int64 {
	var n int64
	for _, b := range blocks {
		n += int64(len(b.Data))
	}
	return n
}

func TestTarGNUSparseMapSkipsHoles(t *testing.T) {
	payload := append(bytes.Repeat([]byte("a"), 4096), bytes.Repeat([]byte("b"), 4096)...)
	data := gnuSparseTar([]string{
		paxRecord("GNU.sparse.size", "12288"),
		paxRecord("GNU.sparse.numblocks", "2"),
		paxRecord("GNU.sparse.map", "0,4096,8192,4096"),
	}, payload)

	r := openReader(t, bytes.NewReader(data))
	hdr, err := r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, "sparse.bin", hdr.Path)
	assert.Equal(t, int64(12288), hdr.Size())
	assert.Equal(t, []entry.SparseRegion{{Offset: 0, Length: 4096}, {Offset: 8192, Length: 4096}}, hdr.Sparse)

	blocks := readBlocks(t, r)
	assertNoBlockIn(t, blocks, 4096, 8192)
	assert.Equal(t, int64(8192), storedBytes(blocks))
}

func TestTarGNUSparse1xSkipsZeroRuns(t *testing.T) {
	payload := padBlock([]byte("2\n0\n4096\n8192\n4096\n"))
	payload = append(payload, bytes.Repeat([]byte("a"), 4096)...)
	payload = append(payload, bytes.Repeat([]byte("b"), 4096)...)
	data := gnuSparseTar([]string{
		paxRecord("GNU.sparse.major", "1"),
		paxRecord("GNU.sparse.minor", "0"),
		paxRecord("GNU.sparse.name", "sparse.bin"),
		paxRecord("GNU.sparse.realsize", "12288"),
	}, payload)

	r := openReader(t, bytes.NewReader(data))
	hdr, err := r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, int64(12288), hdr.Size())
	assert.False(t, hdr.IsDense())

	blocks := readBlocks(t, r)
	assertNoBlockIn(t, blocks, 4096, 8192)
	assert.Equal(t, int64(8192), storedBytes(blocks))
}

func TestTarWriterSparseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTarWriter(&buf)
	e := entry.New("sparse")
	e.Mode = 0o644
	e.SetSize(3 * 4096)
	require.NoError(t, e.AddSparse(0, 100))
	require.NoError(t, e.AddSparse(8192, 50))
	require.NoError(t, tw.WriteHeader(e))
	_, err := tw.Write(bytes.Repeat([]byte("x"), 100))
	require.NoError(t, err)
	_, err = tw.Write(bytes.Repeat([]byte("y"), 50))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	// Other readers see the dense logical file.
	plain := tar.NewReader(bytes.NewReader(buf.Bytes()))
	_, err = plain.Next()
	require.NoError(t, err)
	dense, err := io.ReadAll(plain)
	require.NoError(t, err)
	require.Len(t, dense, 3*4096)
	assert.Equal(t, byte('y'), dense[8192])
	assert.Equal(t, byte(0), dense[4096])

	r := openReader(t, bytes.NewReader(buf.Bytes()))
	hdr, err := r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, e.Sparse, hdr.Sparse)
	blocks := readBlocks(t, r)
	assertNoBlockIn(t, blocks, 100, 8192)
	assertNoBlockIn(t, blocks, 8242, 3*4096)
	assert.Equal(t, int64(150), storedBytes(blocks))
}

func TestTarHardlinkCarriesNoPayload(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "a", Mode: 0o644, Size: 5, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "b", Linkname: "a", Mode: 0o644, Size: 5, Typeflag: tar.TypeLink}))
	require.NoError(t, tw.Close())

	r := openReader(t, bytes.NewReader(buf.Bytes()))
	_, err = r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), drain(t, r))

	hdr, err := r.NextHeader()
	require.NoError(t, err)
	assert.Equal(t, "a", hdr.Hardlink)
	assert.True(t, hdr.SizeKnown())
	assert.Equal(t, int64(0), hdr.Size())
}
