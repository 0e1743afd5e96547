package errors

import (
	stderrors "errors"
)

// Class groups errno codes by how a caller is expected to react to them.
type Class int

const (
	ClassNone Class = iota
	// ClassResourceExhausted covers fixed-size tables and the disk running out.
	ClassResourceExhausted
	// ClassLockViolation means a caller broke the locking protocol. These are
	// programming errors.
	ClassLockViolation
	ClassNotFound
	// ClassConsistency means on-disk or in-memory state contradicts itself.
	ClassConsistency
	ClassIOFailure
	ClassInvalid
)

var classNames = map[Class]string{
	ClassNone:              "none",
	ClassResourceExhausted: "resource exhausted",
	ClassLockViolation:     "lock violation",
	ClassNotFound:          "not found",
	ClassConsistency:       "consistency violation",
	ClassIOFailure:         "I/O failure",
	ClassInvalid:           "invalid",
}

func (c Class) String() string {
	return classNames[c]
}

// ClassOf returns the class an errno code belongs to.
func ClassOf(code Errno) Class {
	switch code {
	case EOK:
		return ClassNone
	case ENOSPC, ENFILE, EMFILE, ENOBUFS, EDQUOT:
		return ClassResourceExhausted
	case ENOLCK, EDEADLK:
		return ClassLockViolation
	case ENOENT, EBADF:
		return ClassNotFound
	case EUCLEAN, ESTALE:
		return ClassConsistency
	case EIO, ENODEV:
		return ClassIOFailure
	default:
		return ClassInvalid
	}
}

// ErrnoOf returns the errno of the first [DriverError] found in err's chain.
// Errors that don't carry an errno are treated as I/O failures, since they
// can only come from the underlying storage.
func ErrnoOf(err error) Errno {
	if err == nil {
		return EOK
	}

	var driverErr DriverError
	if stderrors.As(err, &driverErr) {
		return driverErr.Errno()
	}
	return EIO
}

// Classify returns the class of err's errno. See [ErrnoOf].
func Classify(err error) Class {
	return ClassOf(ErrnoOf(err))
}

// Is is [errors.Is] from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is [errors.As] from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
