package storage

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of them
// with errors.Is.
var (
	ErrNullArgument    = errors.New("storage: missing argument")
	ErrInvalidArgument = errors.New("storage: invalid argument")
	ErrNotFound        = errors.New("storage: not found")
	ErrIO              = errors.New("storage: i/o error")
	ErrEncode          = errors.New("storage: encode error")
	ErrDecode          = errors.New("storage: decode error")
	ErrTypeMismatch    = errors.New("storage: type mismatch")
)

// Error records a failed storage operation, the path it touched and its kind.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.Error() + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the error kind, so errors.Is(err, ErrNotFound) works alongside
// errors.Is(err, fs.ErrNotExist).
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func newError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

func errorf(op, path string, kind error, format string, args ...any) *Error {
	return newError(op, path, kind, fmt.Errorf(format, args...))
}
