package driver

import (
	"errors"
	"fmt"
)

// Error kinds. Every backend error wraps exactly one of these, so callers
// can classify failures with errors.Is regardless of backend.
var (
	ErrDeviceInit = errors.New("device initialization failed")
	ErrModuleLoad = errors.New("kernel module load failed")
	ErrAllocation = errors.New("device allocation failed")
	ErrTransfer   = errors.New("device transfer failed")
	ErrLaunch     = errors.New("kernel launch failed")
)

// Error is a classified backend failure.
type Error struct {
	Backend Backend
	Op      string
	Kind    error
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err as kind. It returns nil for a nil err.
func Wrap(backend Backend, kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Kind: kind, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(backend Backend, kind error, op, format string, args ...any) error {
	return &Error{Backend: backend, Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Kind returns the error kind err wraps, or nil when it wraps none.
func Kind(err error) error {
	for _, k := range []error{ErrDeviceInit, ErrModuleLoad, ErrAllocation, ErrTransfer, ErrLaunch} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
