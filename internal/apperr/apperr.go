// Package apperr carries the error taxonomy shared by the store, the core
// services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindPermissionDenied
	KindInvalidState
	KindInvalidArgument
	KindTransientProvider
	KindPermanentProvider
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTransientProvider:
		return "transient_provider_error"
	case KindPermanentProvider:
		return "permanent_provider_error"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, fmt.Sprintf(format, args...))
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, fmt.Sprintf(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...))
}

func Unauthenticated(format string, args ...any) *Error {
	return New(KindUnauthenticated, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
