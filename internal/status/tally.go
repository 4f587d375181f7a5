package status

import "errors"

// Tally accumulates the errors of one unit of work (an entry, a fixup) so
// that later steps still run after an earlier one failed.
type Tally struct {
	errs  []error
	worst Code
}

// Add records err if it is non-nil and returns it unchanged.
func (t *Tally) Add(err error) error {
	if err == nil {
		return nil
	}
	t.errs = append(t.errs, err)
	t.worst = Worse(t.worst, CodeOf(err))
	return err
}

// Code returns the most severe code seen so far.
func (t *Tally) Code() Code { return t.worst }

// Len returns the number of recorded errors.
func (t *Tally) Len() int { return len(t.errs) }

// Errors returns the recorded errors in order.
func (t *Tally) Errors() []error { return t.errs }

// Err returns nil when nothing was recorded, the single error when one was,
// and otherwise a *Error with the worst code wrapping all of them.
func (t *Tally) Err() error {
	switch len(t.errs) {
	case 0:
		return nil
	case 1:
		return t.errs[0]
	}
	kind := KindIO
	for _, err := range t.errs {
		if CodeOf(err) == t.worst {
			kind = KindOf(err)
			break
		}
	}
	return &Error{Code: t.worst, Kind: kind, Op: "entry", Err: errors.Join(t.errs...)}
}

// Reset clears the tally for reuse.
func (t *Tally) Reset() {
	t.errs = t.errs[:0]
	t.worst = OK
}
