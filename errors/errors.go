package errors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is a wrapper around system errno codes, with a customizable error message.
type DriverError interface {
	error
	Errno() Errno
	Unwrap() error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type driverError struct {
	errno         Errno
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrError(e.errno)
}

func (e driverError) Errno() Errno {
	return e.errno
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// Is reports a match for any [DriverError] carrying the same errno, so that
// errors with custom messages still match the sentinel values.
func (e driverError) Is(target error) bool {
	other, ok := target.(DriverError)
	if !ok {
		return false
	}
	return other.Errno() == e.errno
}

// WithMessage returns a copy of the error with `message` appended to the
// current message. The errno is preserved.
func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e.originalError,
	}
}

// Wrap returns a copy of the error that also matches `err` with errors.Is and
// errors.As.
func (e driverError) Wrap(err error) DriverError {
	var parent error = err
	if e.originalError != nil {
		parent = multierror.Append(e.originalError, err)
	}
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: parent,
	}
}

// New creates a new [DriverError] with a default message derived from the
// system's error code.
func New(errnoCode Errno) DriverError {
	return driverError{
		errno:   errnoCode,
		message: StrError(errnoCode),
	}
}

func NewFromError(errnoCode Errno, originalError error) DriverError {
	return driverError{
		errno:         errnoCode,
		message:       fmt.Sprintf("%s: %s", StrError(errnoCode), originalError.Error()),
		originalError: originalError,
	}
}

// NewWithMessage creates a new DriverError from a system error code with a
// custom message.
func NewWithMessage(errnoCode Errno, message string) DriverError {
	return driverError{
		errno:   errnoCode,
		message: fmt.Sprintf("%s: %s", StrError(errnoCode), message),
	}
}

// Errorf is shorthand for NewWithMessage(errnoCode, fmt.Sprintf(format, args...)).
func Errorf(errnoCode Errno, format string, args ...any) DriverError {
	return NewWithMessage(errnoCode, fmt.Sprintf(format, args...))
}
