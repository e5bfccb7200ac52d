package rockyardtxn

// errors.go implements the status-coded error type returned by every
// operation.
//
// An *Error carries a Code, an optional SubCode and a message. errors.Is
// matches an *Error target by class: the codes must be equal, and the
// target's SubCode and Msg must either be unset or equal. That lets callers
// write errors.Is(err, ErrConflict) or errors.Is(err, ErrBusy) without
// caring about the message.

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies an error.
type Code uint8

const (
	// CodeNotFound reports a missing key or object.
	CodeNotFound Code = iota + 1
	// CodeCorruption reports damaged data.
	CodeCorruption
	// CodeNotSupported reports an operation the configuration does not allow.
	CodeNotSupported
	// CodeInvalidArgument reports bad input or misuse.
	CodeInvalidArgument
	// CodeIOError reports a filesystem failure.
	CodeIOError
	// CodeBusy reports contention, including commit conflicts.
	CodeBusy
)

// String returns the status prefix for the code.
func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "NotFound"
	case CodeCorruption:
		return "Corruption"
	case CodeNotSupported:
		return "Not implemented"
	case CodeInvalidArgument:
		return "Invalid argument"
	case CodeIOError:
		return "IO error"
	case CodeBusy:
		return "Resource busy"
	default:
		return fmt.Sprintf("Code(%d)", c)
	}
}

// SubCode refines a Code.
type SubCode uint8

const (
	// SubCodeNone means no refinement.
	SubCodeNone SubCode = iota
	// SubCodeConflict marks a commit that lost an optimistic validation.
	SubCodeConflict
	// SubCodeLockHeld marks a database whose LOCK file is held.
	SubCodeLockHeld
)

// String returns a description of the subcode.
func (s SubCode) String() string {
	switch s {
	case SubCodeConflict:
		return "write conflict"
	case SubCodeLockHeld:
		return "lock held"
	default:
		return ""
	}
}

// Error is the error type returned by the database.
type Error struct {
	Code    Code
	SubCode SubCode
	Msg     string
	cause   error
}

// Error formats the error as "<code>: <subcode>: <msg>".
func (e *Error) Error() string {
	s := e.Code.String()
	if sub := e.SubCode.String(); sub != "" {
		s += ": " + sub
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code &&
		(t.SubCode == SubCodeNone || t.SubCode == e.SubCode) &&
		(t.Msg == "" || t.Msg == e.Msg)
}

// Class sentinels. Match them with errors.Is.
var (
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrCorruption      = &Error{Code: CodeCorruption}
	ErrNotSupported    = &Error{Code: CodeNotSupported}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrIOError         = &Error{Code: CodeIOError}
	ErrBusy            = &Error{Code: CodeBusy}

	// ErrConflict is returned by Commit when validation fails.
	ErrConflict = &Error{Code: CodeBusy, SubCode: SubCodeConflict}
)

// Misuse sentinels.
var (
	ErrNoSavepoint         = &Error{Code: CodeNotFound, Msg: "no savepoint set"}
	ErrTransactionClosed   = &Error{Code: CodeInvalidArgument, Msg: "transaction is closed"}
	ErrSnapshotReleased    = &Error{Code: CodeInvalidArgument, Msg: "snapshot has been released"}
	ErrDBClosed            = &Error{Code: CodeInvalidArgument, Msg: "database is closed"}
	ErrColumnFamilyDropped = &Error{Code: CodeInvalidArgument, Msg: "column family has been dropped"}
	ErrMergeOperatorNotSet = &Error{Code: CodeNotSupported, Msg: "merge operator not set"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ioError wraps a filesystem failure, keeping its stack in the cause chain.
func ioError(err error, context string) *Error {
	wrapped := errors.Wrap(err, context)
	return &Error{Code: CodeIOError, Msg: wrapped.Error(), cause: wrapped}
}

// corruption wraps a decoding failure.
func corruption(err error, context string) *Error {
	wrapped := errors.Wrap(err, context)
	return &Error{Code: CodeCorruption, Msg: wrapped.Error(), cause: wrapped}
}

// IsConflict reports whether err is a commit conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err has the NotFound code.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
