package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide how to react to it
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindAuthorization
	KindNotFound
	KindExternal
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindExternal:
		return "external_dependency"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a user-visible failure with a stable machine-readable code.
// Current optionally carries the authoritative state a conflict was detected against.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Current any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on the stable code so wrapped copies of a sentinel still compare equal
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCurrent returns a copy of e that exposes the current state to the caller
func (e *Error) WithCurrent(current any) *Error {
	cp := *e
	cp.Current = current
	return &cp
}

// WithMessage returns a copy of e with a more specific message
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e that carries cause
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }

func Conflict(code, message string) *Error { return New(KindConflict, code, message) }

func Authorization(code, message string) *Error { return New(KindAuthorization, code, message) }

func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

func External(code, message string) *Error { return New(KindExternal, code, message) }

func Invariant(code, message string) *Error { return New(KindInvariant, code, message) }

// Common errors shared by every feature
var (
	ErrValidation = Validation("VALIDATION_FAILED", "invalid request")
	ErrForbidden  = Authorization("FORBIDDEN", "not allowed to perform this action")
	ErrNotFound   = NotFound("NOT_FOUND", "resource not found")
	ErrExternal   = External("EXTERNAL_DEPENDENCY", "external service call failed")
	ErrInvariant  = Invariant("INVARIANT_VIOLATION", "internal consistency check failed")
	ErrStale      = Conflict("STATE_CONFLICT", "resource was modified concurrently")

	// ErrStateConflict shares the STATE_CONFLICT code with ErrStale
	ErrStateConflict = Conflict("STATE_CONFLICT", "operation not allowed in the current state")
)

// As extracts an *Error from err
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, or 0 when err is not an *Error
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return 0
}
