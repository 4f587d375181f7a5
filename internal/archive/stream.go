package archive

import (
	"bufio"
	"errors"
	"io"
)

const streamBufferSize = 64 * 1024

var errNotSeekable = errors.New("stream is not seekable")

// Stream is one stage of the filter chain: the raw byte source or the
// output of a decompressor wrapping the previous stage. Bidders may Peek
// without consuming; formats consume with Read.
type Stream struct {
	name     string
	origName string
	br       *bufio.Reader
	src      io.Reader
	closer   io.Closer
	seeker   io.Seeker
	base     int64
	pos      int64
	up       *Stream
}

// namer is implemented by filter readers that know the original file name
// of their payload (gzip headers carry one).
type namer interface {
	OriginalName() string
}

func newRawStream(src io.Reader) *Stream {
	s := &Stream{name: "none", src: src}
	if sk, ok := src.(io.Seeker); ok {
		// Pipes implement Seeker but fail on use.
		if cur, err := sk.Seek(0, io.SeekCurrent); err == nil {
			s.seeker = sk
			s.base = cur
		}
	}
	s.br = bufio.NewReaderSize(src, streamBufferSize)
	return s
}

func newFilterStream(name string, up *Stream, rc io.ReadCloser) *Stream {
	s := &Stream{
		name:   name,
		src:    rc,
		closer: rc,
		br:     bufio.NewReaderSize(rc, streamBufferSize),
		up:     up,
	}
	if n, ok := rc.(namer); ok {
		s.origName = n.OriginalName()
	}
	if s.origName == "" && up != nil {
		s.origName = up.origName
	}
	return s
}

// Name returns the filter name of this stage ("none" for the raw source).
func (s *Stream) Name() string { return s.name }

// Filtered reports whether this stage is the output of a decompressor.
func (s *Stream) Filtered() bool { return s.up != nil }

// OriginalName returns the payload file name recorded by a filter, if any.
func (s *Stream) OriginalName() string { return s.origName }

// Peek returns the next n bytes without consuming them. Fewer bytes and an
// error are returned near the end of the stream.
func (s *Stream) Peek(n int) ([]byte, error) {
	return s.br.Peek(n)
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.br.Read(p)
	s.pos += int64(n)
	return n, err
}

// ReadByte lets decompressors that need an io.ByteReader avoid reading past
// the end of their own data.
func (s *Stream) ReadByte() (byte, error) {
	b, err := s.br.ReadByte()
	if err == nil {
		s.pos++
	}
	return b, err
}

// ReadFull reads exactly n bytes.
func (s *Stream) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(s, buf)
	return buf, err
}

// Skip discards n bytes and reports how many were discarded.
func (s *Stream) Skip(n int64) (int64, error) {
	var total int64
	for n > 0 {
		chunk := n
		if chunk > streamBufferSize {
			chunk = streamBufferSize
		}
		d, err := s.br.Discard(int(chunk))
		total += int64(d)
		s.pos += int64(d)
		n -= int64(d)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Position returns the number of bytes consumed from this stage.
func (s *Stream) Position() int64 { return s.pos }

// Seekable reports whether Seek is available. Only an unfiltered source
// that implements io.Seeker is seekable.
func (s *Stream) Seekable() bool { return s.seeker != nil }

// Seek repositions a seekable raw stage and drops buffered bytes. Offsets
// are relative to where the source was positioned when opened.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.seeker == nil {
		return 0, errNotSeekable
	}
	var abs int64
	var err error
	switch whence {
	case io.SeekStart:
		abs, err = s.seeker.Seek(s.base+offset, io.SeekStart)
	case io.SeekCurrent:
		abs, err = s.seeker.Seek(s.base+s.pos+offset, io.SeekStart)
	case io.SeekEnd:
		abs, err = s.seeker.Seek(offset, io.SeekEnd)
	default:
		return 0, errors.New("invalid whence")
	}
	if err != nil {
		return 0, err
	}
	s.br.Reset(s.src)
	s.pos = abs - s.base
	return s.pos, nil
}

// Close closes this stage and every stage beneath it. The raw source is
// owned by the caller and is not closed.
func (s *Stream) Close() error {
	var errs []error
	for st := s; st != nil; st = st.up {
		if st.closer != nil {
			errs = append(errs, st.closer.Close())
		}
	}
	return errors.Join(errs...)
}
