package archive

import (
	"errors"
	"io"

	"github.com/bamsammich/unbox/internal/entry"
)

// EmptyBidder claims a zero-length stream, which holds no entries.
type EmptyBidder struct{}

func (EmptyBidder) Name() string { return "empty" }

func (EmptyBidder) Bid(head Peeker) int {
	p, err := head.Peek(1)
	if len(p) == 0 && errors.Is(err, io.EOF) {
		return 1
	}
	return 0
}

func (EmptyBidder) Attach(*Stream) (Format, error) { return emptyFormat{}, nil }

type emptyFormat struct{}

func (emptyFormat) NextHeader(*entry.Entry) error { return io.EOF }
func (emptyFormat) ReadBlock() (Block, error)     { return Block{}, io.EOF }
func (emptyFormat) SkipData() error               { return nil }
func (emptyFormat) Close() error                  { return nil }
