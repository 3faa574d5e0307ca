// Package errors provides functions to create and wrap errors, based on
// github.com/pkg/errors so that a stack trace can be recovered from any
// error passed through this package.
package errors

import "github.com/pkg/errors"

// New creates a new error based on a message.
func New(message string) error {
	return errors.New(message)
}

// Errorf creates a new error based on a format string and arguments.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap wraps an error and adds additional context.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error and adds additional context, formatted.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause returns the underlying cause of the error, if possible.
func Cause(err error) error {
	return errors.Cause(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// fatalError is an error that must abort the running command instead of
// being logged as a warning and skipped.
type fatalError struct {
	message string
}

func (e *fatalError) Error() string {
	return e.message
}

// Fatal returns an error that IsFatal reports as fatal, regardless of the
// component that produced it.
func Fatal(message string) error {
	return &fatalError{message}
}

// Fatalf is like Fatal but with a format string.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{errors.Errorf(format, args...).Error()}
}

// IsFatal returns true if err (or any error wrapped by it) was created by
// Fatal or Fatalf.
func IsFatal(err error) bool {
	for err != nil {
		if _, ok := err.(*fatalError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
