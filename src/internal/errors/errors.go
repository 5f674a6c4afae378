// Package errors wraps github.com/pkg/errors so that every error leaving a
// package boundary carries a stack trace.
package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Frame is a single stack frame.
type Frame = errors.Frame

// StackTrace is a stack of frames, innermost first.
type StackTrace = errors.StackTrace

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New returns an error with the supplied message and a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and returns the string as an
// error with a stack trace.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap returns an error annotating err with a stack trace and message.
// Wrap returns nil if err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is Wrap with a format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with a stack trace at the point WithStack was called.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// EnsureStack adds a stack trace to err if no error in its chain already has one.
func EnsureStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if As(err, &st) {
		return err
	}
	return errors.WithStack(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join combines errs, dropping nils.
func Join(errs ...error) error {
	return multierr.Combine(errs...)
}

// JoinInto appends err to *into.  It is meant for deferred cleanup:
//
//	defer func() { errors.JoinInto(&retErr, f.Close()) }()
func JoinInto(into *error, err error) {
	multierr.AppendInto(into, err)
}

// ForEachStackFrame calls f on each frame of the first stack trace found in
// err's chain.
func ForEachStackFrame(err error, f func(Frame)) {
	var st stackTracer
	if !As(err, &st) {
		return
	}
	for _, frame := range st.StackTrace() {
		f(frame)
	}
}
