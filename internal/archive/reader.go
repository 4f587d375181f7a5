package archive

import (
	"errors"
	"io"
	"log/slog"

	"github.com/bamsammich/unbox/internal/entry"
	"github.com/bamsammich/unbox/internal/status"
)

type readerState int

const (
	stateNew readerState = iota
	stateHeader
	stateData
	stateEOF
	stateFatal
	stateClosed
)

// Reader discovers the filter chain and format of a byte stream and walks
// its entries forward-only.
type Reader struct {
	reg        *Registry
	head       *Stream
	format     Format
	formatName string
	filters    []string
	state      readerState
	fatal      error
	cur        entry.Entry
}

// NewReader returns a reader that bids with reg.
func NewReader(reg *Registry) *Reader {
	return &Reader{reg: reg}
}

// Open runs filter and format bidding on src. The caller keeps ownership
// of src.
func (r *Reader) Open(src io.Reader) error {
	if r.state != stateNew {
		return status.ErrMisuse
	}
	raw := newRawStream(src)
	head, names, err := r.reg.buildChain(raw)
	r.head = head
	r.filters = names
	if err != nil {
		return r.fail(err)
	}
	f, name, err := r.reg.selectFormat(head)
	if err != nil {
		return r.fail(err)
	}
	r.format = f
	r.formatName = name
	r.state = stateHeader
	slog.Debug("archive opened", "filters", names, "format", name)
	return nil
}

func (r *Reader) fail(err error) error {
	r.state = stateFatal
	r.fatal = err
	return err
}

// FilterNames returns the committed filters, outermost first.
func (r *Reader) FilterNames() []string { return r.filters }

// FormatName returns the committed format.
func (r *Reader) FormatName() string { return r.formatName }

// NextHeader advances to the next entry, skipping any unread payload of the
// current one. It returns io.EOF at the end of the archive. A Warn or Failed
// error may accompany a valid entry; a Failed entry's payload is unreadable.
func (r *Reader) NextHeader() (*entry.Entry, error) {
	switch r.state {
	case stateNew, stateClosed:
		return nil, status.ErrMisuse
	case stateFatal:
		return nil, r.fatal
	case stateEOF:
		return nil, io.EOF
	case stateData:
		if err := r.format.SkipData(); status.IsFatal(err) {
			return nil, r.fail(err)
		}
	}
	r.cur.Reset()
	err := r.format.NextHeader(&r.cur)
	switch {
	case errors.Is(err, io.EOF) && status.CodeOf(err) == status.EOF:
		r.state = stateEOF
		return nil, io.EOF
	case status.IsFatal(err):
		return nil, r.fail(err)
	}
	if verr := r.cur.Validate(); verr != nil && err == nil {
		err = status.Wrap(status.Failed, status.KindFormat, "header", r.cur.Path, verr)
	}
	r.state = stateData
	return &r.cur, err
}

// ReadBlock returns the next chunk of the current entry's payload, or
// io.EOF once it is exhausted.
func (r *Reader) ReadBlock() (Block, error) {
	switch r.state {
	case stateData:
	case stateFatal:
		return Block{}, r.fatal
	default:
		return Block{}, status.ErrMisuse
	}
	b, err := r.format.ReadBlock()
	if status.IsFatal(err) {
		return b, r.fail(err)
	}
	return b, err
}

// SkipData discards the rest of the current entry's payload.
func (r *Reader) SkipData() error {
	switch r.state {
	case stateData:
	case stateFatal:
		return r.fatal
	default:
		return status.ErrMisuse
	}
	err := r.format.SkipData()
	if status.IsFatal(err) {
		return r.fail(err)
	}
	return err
}

// Close releases the format and every filter stage.
func (r *Reader) Close() error {
	if r.state == stateClosed {
		return nil
	}
	var errs []error
	if r.format != nil {
		errs = append(errs, r.format.Close())
	}
	if r.head != nil {
		errs = append(errs, r.head.Close())
	}
	r.state = stateClosed
	return errors.Join(errs...)
}
