package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compressors lists the filter names NewCompressor accepts.
var Compressors = []string{"none", "gzip", "zstd", "xz", "lz4", "s2"}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewCompressor wraps w with the encoder for the named filter. Closing the
// returned writer flushes the encoder but does not close w.
func NewCompressor(name string, w io.Writer) (io.WriteCloser, error) {
	switch name {
	case "", "none":
		return nopWriteCloser{w}, nil
	case "gzip":
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case "zstd":
		return zstd.NewWriter(w)
	case "xz":
		return xz.NewWriter(w)
	case "lz4":
		return lz4.NewWriter(w), nil
	case "s2":
		return s2.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("no compressor for %q", name)
	}
}

// CompressorForExt picks a filter from an archive file name suffix.
func CompressorForExt(name string) string {
	for _, s := range []struct{ ext, filter string }{
		{".gz", "gzip"}, {".tgz", "gzip"},
		{".zst", "zstd"}, {".tzst", "zstd"},
		{".xz", "xz"}, {".txz", "xz"},
		{".lz4", "lz4"},
		{".s2", "s2"}, {".sz", "s2"},
	} {
		if strings.HasSuffix(name, s.ext) {
			return s.filter
		}
	}
	return "none"
}
