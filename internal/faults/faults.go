// Package faults defines the typed failures returned by ledger operations.
//
// Every failure is a *Error whose Kind selects one of the sentinel errors, so
// callers can branch with errors.Is(err, faults.ErrConflict) and recover the
// entity context with errors.As.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindTemporal
	KindAuthorization
)

var (
	// ErrValidation marks malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a concurrent mutation collision or a uniqueness rule
	// (double-open segment, second active work order). The caller may retry
	// the whole operation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a missing entity or one not in the expected state.
	ErrNotFound = errors.New("not found")
	// ErrTemporal marks a timestamp ordering violation.
	ErrTemporal = errors.New("temporal ordering violation")
	// ErrAuthorization marks an unmet role or sign-off requirement.
	ErrAuthorization = errors.New("authorization error")
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindConflict:
		return "ConflictError"
	case KindNotFound:
		return "NotFoundError"
	case KindTemporal:
		return "TemporalError"
	case KindAuthorization:
		return "AuthorizationError"
	default:
		return "Error"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindTemporal:
		return ErrTemporal
	case KindAuthorization:
		return ErrAuthorization
	default:
		return nil
	}
}

// Error is a ledger failure with enough context to render a message.
type Error struct {
	Kind    Kind
	Entity  string // e.g. "component", "schedule"
	ID      string
	Field   string // offending field, if any
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Entity != "" {
		msg += ": " + e.Entity
		if e.ID != "" {
			msg += " " + e.ID
		}
	}
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind Kind, entity, id, field, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Entity:  entity,
		ID:      id,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func Validation(entity, id, field, format string, args ...any) *Error {
	return newError(KindValidation, entity, id, field, format, args...)
}

func Conflict(entity, id, format string, args ...any) *Error {
	return newError(KindConflict, entity, id, "", format, args...)
}

func NotFound(entity, id, format string, args ...any) *Error {
	return newError(KindNotFound, entity, id, "", format, args...)
}

func Temporal(entity, id, field, format string, args ...any) *Error {
	return newError(KindTemporal, entity, id, field, format, args...)
}

func Authorization(entity, id, field, format string, args ...any) *Error {
	return newError(KindAuthorization, entity, id, field, format, args...)
}

// WrapConflict returns a conflict carrying cause, used when the store reports a
// lock or constraint collision.
func WrapConflict(entity, id string, cause error) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Message: "concurrent modification", Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
