package release

import (
	"errors"
	"fmt"
)

// Class partitions promotion failures by what the operator should do next.
// Every error crossing a package boundary carries exactly one class.
type Class string

// Failure classes.
const (
	// ClassNotFound: the channel has nothing staged, or a named object is absent.
	ClassNotFound Class = "not_found"
	// ClassIntegrityViolation: bytes do not match their declared checksum.
	ClassIntegrityViolation Class = "integrity_violation"
	// ClassSigningUnavailable: the signing backend cannot be reached.
	ClassSigningUnavailable Class = "signing_unavailable"
	// ClassSigningRejected: the signing backend refused the request.
	ClassSigningRejected Class = "signing_rejected"
	// ClassIncompleteRelease: staged artifact set fails completeness checks.
	ClassIncompleteRelease Class = "incomplete_release"
	// ClassStoreTransient: the store failed in a retryable way.
	ClassStoreTransient Class = "store_transient"
	// ClassCutoverConflict: the channel pointer changed under us.
	ClassCutoverConflict Class = "cutover_conflict"
	// ClassInternal: everything else.
	ClassInternal Class = "internal"
)

// retryableByDefault lists the classes whose errors are worth retrying
// unless the site that raised them says otherwise.
//
//nolint:gochecknoglobals // Shared immutable class table.
var retryableByDefault = map[Class]bool{
	ClassNotFound:           true,
	ClassStoreTransient:     true,
	ClassSigningUnavailable: true,
}

// Error is a classified promotion failure.
type Error struct {
	// Class routes the failure to an exit code and an operator action.
	Class Class
	// Retryable reports whether re-running the promotion may clear the error.
	Retryable bool
	// Err is the wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}

	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error with the class's default retryability.
func Errorf(class Class, format string, args ...any) *Error {
	return &Error{
		Class:     class,
		Retryable: retryableByDefault[class],
		Err:       fmt.Errorf(format, args...),
	}
}

// FatalErrorf builds a classified error that a retry cannot clear,
// regardless of the class default.
func FatalErrorf(class Class, format string, args ...any) *Error {
	return &Error{
		Class:     class,
		Retryable: false,
		Err:       fmt.Errorf(format, args...),
	}
}

// ChannelUnknownf reports a channel outside the configured set. It is
// NotFound by class but never retryable: re-running with the same name
// cannot succeed.
func ChannelUnknownf(channel string) *Error {
	return FatalErrorf(ClassNotFound, "channel %q is not configured", channel)
}

// ClassOf extracts the failure class from err, walking the wrap chain.
// Unclassified errors report ClassInternal.
func ClassOf(err error) Class {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}

	return ClassInternal
}

// IsTransient reports whether re-running the promotion may clear err.
func IsTransient(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Retryable
	}

	return false
}

// Exit codes for the promoter CLI. Zero means the promotion succeeded or
// was already complete; each failure class maps to its own nonzero code so
// wrappers can branch without parsing log text.
const (
	ExitOK                 = 0
	ExitInternal           = 1
	ExitNotFound           = 3
	ExitIntegrityViolation = 4
	ExitSigningUnavailable = 5
	ExitSigningRejected    = 6
	ExitIncompleteRelease  = 7
	ExitStoreTransient     = 8
	ExitCutoverConflict    = 9
)

// ExitCode maps err to the promoter's process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch ClassOf(err) {
	case ClassNotFound:
		return ExitNotFound
	case ClassIntegrityViolation:
		return ExitIntegrityViolation
	case ClassSigningUnavailable:
		return ExitSigningUnavailable
	case ClassSigningRejected:
		return ExitSigningRejected
	case ClassIncompleteRelease:
		return ExitIncompleteRelease
	case ClassStoreTransient:
		return ExitStoreTransient
	case ClassCutoverConflict:
		return ExitCutoverConflict
	case ClassInternal:
		return ExitInternal
	default:
		return ExitInternal
	}
}
