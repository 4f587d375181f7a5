package archive

import (
	"errors"
	"io"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/status"
)

// maxFilterDepth bounds how many decompression stages may be stacked.
const maxFilterDepth = 25

// Peeker exposes the unconsumed head of a stream. Bidders must not consume.
type Peeker interface {
	Peek(n int) ([]byte, error)
}

// FilterBidder recognizes a compression layer and attaches its decoder.
type FilterBidder interface {
	Name() string
	// Bid returns how many bits of the head it recognized; 0 declines.
	Bid(head Peeker) int
	Attach(up *Stream) (io.ReadCloser, error)
}

// FormatBidder recognizes a container format and attaches its reader.
type FormatBidder interface {
	Name() string
	Bid(head Peeker) int
	Attach(s *Stream) (Format, error)
}

// Format walks the entries of one container format.
type Format interface {
	// NextHeader fills e with the next entry or returns io.EOF.
	NextHeader(e *entry.Entry) error
	// ReadBlock returns the next chunk of payload or io.EOF.
	ReadBlock() (Block, error)
	// SkipData discards what is left of the current payload.
	SkipData() error
	Close() error
}

// Block is a chunk of decompressed payload placed at its logical offset in
// the entry. Holes between blocks are never materialized.
type Block struct {
	Data   []byte
	Offset int64
}

// Registry holds the bidders consulted when opening an archive. When two
// bidders return the same highest bid, the one registered first wins.
type Registry struct {
	filters []FilterBidder
	formats []FormatBidder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// RegisterFilter appends a filter bidder.
func (r *Registry) RegisterFilter(b FilterBidder) { r.filters = append(r.filters, b) }

// RegisterFormat appends a format bidder.
func (r *Registry) RegisterFormat(b FormatBidder) { r.formats = append(r.formats, b) }

// Options tune the default registry.
type Options struct {
	// ZipCharset names the charset of zip entry names that lack the UTF-8
	// flag. Empty means CP437.
	ZipCharset string
	// RawUnfiltered lets the raw format claim uncompressed input too.
	RawUnfiltered bool
}

// DefaultRegistry registers every built-in filter and format.
func DefaultRegistry(opts Options) (*Registry, error) {
	cs, err := lookupCharset(opts.ZipCharset)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	r.RegisterFilter(gzipBidder{})
	r.RegisterFilter(bzip2Bidder{})
	r.RegisterFilter(xzBidder{})
	r.RegisterFilter(zstdBidder{})
	r.RegisterFilter(lz4Bidder{})
	r.RegisterFilter(s2Bidder{})
	r.RegisterFormat(&ZipBidder{Charset: cs})
	r.RegisterFormat(TarBidder{})
	r.RegisterFormat(RawBidder{AllowUnfiltered: opts.RawUnfiltered})
	r.RegisterFormat(EmptyBidder{})
	return r, nil
}

func pickFilter(head Peeker, bidders []FilterBidder) FilterBidder {
	var best FilterBidder
	bestBid := 0
	for _, b := range bidders {
		if bid := b.Bid(head); bid > bestBid {
			best, bestBid = b, bid
		}
	}
	return best
}

func pickFormat(head Peeker, bidders []FormatBidder) FormatBidder {
	var best FormatBidder
	bestBid := 0
	for _, b := range bidders {
		if bid := b.Bid(head); bid > bestBid {
			best, bestBid = b, bid
		}
	}
	return best
}

// buildChain stacks filters on top of raw until no filter bids.
func (r *Registry) buildChain(raw *Stream) (*Stream, []string, error) {
	head := raw
	var names []string
	for depth := 0; ; depth++ {
		if _, err := head.Peek(1); err != nil && !errors.Is(err, io.EOF) {
			return head, names, status.Wrap(status.Fatal, status.KindIO, "bid", "", err)
		}
		b := pickFilter(head, r.filters)
		if b == nil {
			return head, names, nil
		}
		if depth == maxFilterDepth {
			return head, names, status.Fatalf(status.KindFormat, "bid", "", "more than %d stacked filters", maxFilterDepth)
		}
		rc, err := b.Attach(head)
		if err != nil {
			return head, names, status.Wrap(status.Fatal, status.KindFormat, "attach "+b.Name(), "", err)
		}
		head = newFilterStream(b.Name(), head, rc)
		names = append(names, b.Name())
	}
}

func (r *Registry) selectFormat(head *Stream) (Format, string, error) {
	b := pickFormat(head, r.formats)
	if b == nil {
		return nil, "", status.Fatalf(status.KindFormat, "bid", "", "unrecognized archive format")
	}
	f, err := b.Attach(head)
	if err != nil {
		return nil, "", status.Wrap(status.Fatal, status.KindFormat, "attach "+b.Name(), "", err)
	}
	return f, b.Name(), nil
}
