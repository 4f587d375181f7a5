package archive

import (
	"bytes"
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// peekPrefix reports whether the head starts with magic. A short head is
// simply not a match.
func peekPrefix(head Peeker, magic []byte) bool {
	p, _ := head.Peek(len(magic))
	return bytes.Equal(p, magic)
}

type gzipBidder struct{}

func (gzipBidder) Name() string { return "gzip" }

func (gzipBidder) Bid(head Peeker) int {
	p, _ := head.Peek(10)
	if len(p) < 10 || p[0] != 0x1f || p[1] != 0x8b || p[2] != 8 {
		return 0
	}
	bits := 24
	// Reserved flag bits must be clear.
	if p[3]&0xe0 != 0 {
		return 0
	}
	bits += 3
	return bits
}

type gzipStage struct {
	*gzip.Reader
}

func (g gzipStage) OriginalName() string { return g.Header.Name }

func (gzipBidder) Attach(up *Stream) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(up)
	if err != nil {
		return nil, err
	}
	return gzipStage{zr}, nil
}

type bzip2Bidder struct{}

func (bzip2Bidder) Name() string { return "bzip2" }

var (
	bzip2BlockMagic = []byte{0x31, 0x41, 0x59, 0x26, 0x53, 0x59}
	bzip2EndMagic   = []byte{0x17, 0x72, 0x45, 0x38, 0x50, 0x90}
)

func (bzip2Bidder) Bid(head Peeker) int {
	p, _ := head.Peek(10)
	if len(p) < 10 || p[0] != 'B' || p[1] != 'Z' || p[2] != 'h' || p[3] < '1' || p[3] > '9' {
		return 0
	}
	if bytes.Equal(p[4:10], bzip2BlockMagic) || bytes.Equal(p[4:10], bzip2EndMagic) {
		return 24 + 8 + 48
	}
	return 0
}

func (bzip2Bidder) Attach(up *Stream) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(up)), nil
}

type xzBidder struct{}

func (xzBidder) Name() string { return "xz" }

var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

func (xzBidder) Bid(head Peeker) int {
	if peekPrefix(head, xzMagic) {
		return 48
	}
	return 0
}

func (xzBidder) Attach(up *Stream) (io.ReadCloser, error) {
	r, err := xz.NewReader(up)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

type zstdBidder struct{}

func (zstdBidder) Name() string { return "zstd" }

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func (zstdBidder) Bid(head Peeker) int {
	if peekPrefix(head, zstdMagic) {
		return 32
	}
	return 0
}

func (zstdBidder) Attach(up *Stream) (io.ReadCloser, error) {
	d, err := zstd.NewReader(up, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type lz4Bidder struct{}

func (lz4Bidder) Name() string { return "lz4" }

var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

func (lz4Bidder) Bid(head Peeker) int {
	if peekPrefix(head, lz4Magic) {
		return 32
	}
	return 0
}

func (lz4Bidder) Attach(up *Stream) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(up)), nil
}

type s2Bidder struct{}

func (s2Bidder) Name() string { return "s2" }

var (
	s2Magic     = []byte{0xff, 0x06, 0x00, 0x00, 'S', '2', 's', 'T', 'w', 'O'}
	snappyMagic = []byte{0xff, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}
)

func (s2Bidder) Bid(head Peeker) int {
	if peekPrefix(head, s2Magic) || peekPrefix(head, snappyMagic) {
		return 80
	}
	return 0
}

func (s2Bidder) Attach(up *Stream) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(up)), nil
}
