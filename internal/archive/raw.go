package archive

import (
	"errors"
	"io"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/status"
)

// rawEntryName is used when no filter recorded an original name.
const rawEntryName = "data"

// RawBidder presents a decompressed stream as a single file. It only bids
// on filtered input unless AllowUnfiltered is set, and always with the
// lowest positive bid.
type RawBidder struct {
	AllowUnfiltered bool
}

func (RawBidder) Name() string { return "raw" }

func (b RawBidder) Bid(head Peeker) int {
	if f, ok := head.(interface{ Filtered() bool }); ok && !f.Filtered() && !b.AllowUnfiltered {
		return 0
	}
	if p, _ := head.Peek(1); len(p) == 0 {
		return 0
	}
	return 1
}

func (RawBidder) Attach(s *Stream) (Format, error) {
	name := s.OriginalName()
	if name == "" {
		name = rawEntryName
	}
	return &rawFormat{s: s, name: name, buf: make([]byte, streamBufferSize)}, nil
}

type rawFormat struct {
	s      *Stream
	name   string
	buf    []byte
	served bool
	done   bool
	offset int64
}

func (r *rawFormat) NextHeader(e *entry.Entry) error {
	if r.served {
		return io.EOF
	}
	r.served = true
	e.Path = r.name
	e.SourcePath = r.name
	e.Type = entry.Regular
	e.Mode = 0o644
	e.UnsetSize()
	return nil
}

func (r *rawFormat) ReadBlock() (Block, error) {
	if r.done {
		return Block{}, io.EOF
	}
	n, err := r.s.Read(r.buf)
	if n > 0 {
		b := Block{Data: r.buf[:n], Offset: r.offset}
		r.offset += int64(n)
		return b, nil
	}
	if errors.Is(err, io.EOF) {
		r.done = true
		return Block{}, io.EOF
	}
	if err != nil {
		return Block{}, status.Wrap(status.Fatal, status.KindIO, "raw read", r.name, err)
	}
	return Block{Offset: r.offset}, nil
}

func (r *rawFormat) SkipData() error {
	if r.done {
		return nil
	}
	r.done = true
	if _, err := io.Copy(io.Discard, r.s); err != nil {
		return status.Wrap(status.Fatal, status.KindIO, "raw skip", r.name, err)
	}
	return nil
}

func (r *rawFormat) Close() error { return nil }
