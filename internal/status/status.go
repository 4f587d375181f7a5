package status

import (
	"errors"
	"fmt"
	"io"
)

// Code is the outcome of an operation, ordered by severity. EOF marks
// normal exhaustion and is never treated as a failure.
type Code int

const (
	OK Code = iota
	Warn
	Failed
	Fatal
	EOF
)

var codeNames = [...]string{
	OK:     "ok",
	Warn:   "warn",
	Failed: "failed",
	Fatal:  "fatal",
	EOF:    "eof",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown"
}

// Worse returns the more severe of a and b. EOF counts as OK.
func Worse(a, b Code) Code {
	if a == EOF {
		a = OK
	}
	if b == EOF {
		b = OK
	}
	if b > a {
		return b
	}
	return a
}

// Kind classifies what went wrong.
type Kind int

const (
	KindIO Kind = iota
	KindFormat
	KindResource
	KindPolicy
	KindCapability
	KindMisuse
)

var kindNames = [...]string{
	KindIO:         "io",
	KindFormat:     "format",
	KindResource:   "resource",
	KindPolicy:     "policy",
	KindCapability: "capability",
	KindMisuse:     "misuse",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Error carries a status code alongside the usual error chain.
type Error struct {
	Code Code
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrMisuse is returned when the caller drives a reader or restorer out of
// order, e.g. reading data before a header was returned.
var ErrMisuse = &Error{Code: Fatal, Kind: KindMisuse, Op: "misuse", Err: errors.New("operation not valid in current state")}

func newError(code Code, kind Kind, op, path string, err error) *Error {
	return &Error{Code: code, Kind: kind, Op: op, Path: path, Err: err}
}

// Warnf builds a Warn-level error with a formatted cause.
func Warnf(kind Kind, op, path, format string, args ...any) *Error {
	return newError(Warn, kind, op, path, fmt.Errorf(format, args...))
}

// Failf builds a Failed-level error with a formatted cause.
func Failf(kind Kind, op, path, format string, args ...any) *Error {
	return newError(Failed, kind, op, path, fmt.Errorf(format, args...))
}

// Fatalf builds a Fatal-level error with a formatted cause.
func Fatalf(kind Kind, op, path, format string, args ...any) *Error {
	return newError(Fatal, kind, op, path, fmt.Errorf(format, args...))
}

// Wrap attaches code and kind to err. A nil err stays nil. An err that
// already carries a *Error keeps its own code if it is more severe.
func Wrap(code Code, kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) && se.Code > code && se.Code != EOF {
		code = se.Code
	}
	if errors.Is(err, errors.ErrUnsupported) && code > Warn {
		code, kind = Warn, KindCapability
	}
	return newError(code, kind, op, path, err)
}

// CodeOf reports the status code carried by err. Plain errors are Failed.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if errors.Is(err, io.EOF) {
		var se *Error
		if !errors.As(err, &se) {
			return EOF
		}
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Failed
}

// KindOf reports the kind carried by err, or KindIO for plain errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}

// IsFatal reports whether err must stop the whole session.
func IsFatal(err error) bool {
	return CodeOf(err) == Fatal
}
