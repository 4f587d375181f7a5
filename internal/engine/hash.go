package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/unbox/internal/archive"
	"github.com/bamsammich/unbox/internal/entry"
)

// HashFile computes the BLAKE3 hash of the file at path, returning the hex-encoded digest.
// Holes read back as zeros, so a sparse file hashes like its logical content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var zeroPage [32 * 1024]byte

// payloadHash digests an entry's logical payload as the restorer lays it
// out: gaps between blocks and the tail up to the declared size count as
// zeros, and data past the declared size is ignored.
type payloadHash struct {
	h     *blake3.Hasher
	pos   int64
	size  int64
	known bool
}

func newPayloadHash(e *entry.Entry) *payloadHash {
	return &payloadHash{h: blake3.New(), size: e.Size(), known: e.SizeKnown()}
}

func (p *payloadHash) write(b archive.Block) {
	data := b.Data
	off := b.Offset
	if off < p.pos {
		// Overlapping rewrite; the restorer keeps the later bytes, which a
		// streaming digest cannot model. Only the new tail is hashed.
		skip := p.pos - off
		if skip >= int64(len(data)) {
			return
		}
		data, off = data[skip:], p.pos
	}
	if p.known {
		if off >= p.size {
			return
		}
		if rest := p.size - off; int64(len(data)) > rest {
			data = data[:rest]
		}
	}
	p.zeros(off - p.pos)
	_, _ = p.h.Write(data)
	p.pos = off + int64(len(data))
}

func (p *payloadHash) zeros(n int64) {
	for n > 0 {
		chunk := min(n, int64(len(zeroPage)))
		_, _ = p.h.Write(zeroPage[:chunk])
		n -= chunk
	}
}

// sum pads to the declared size and returns the hex digest.
func (p *payloadHash) sum() string {
	if p.known && p.pos < p.size {
		p.zeros(p.size - p.pos)
		p.pos = p.size
	}
	return hex.EncodeToString(p.h.Sum(nil))
}
