// Package apperr holds the error taxonomy shared by the CA validators and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Class string

const (
	ClassAuth     Class = "auth"
	ClassField    Class = "field"
	ClassProtocol Class = "protocol"
	ClassSystem   Class = "system"
)

type Kind string

const (
	// auth
	Unauthorized Kind = "unauthorized"
	InvalidToken Kind = "invalid_token"
	Forbidden    Kind = "forbidden"
	// field
	Missing       Kind = "missing"
	TooLong       Kind = "too_long"
	WrongType     Kind = "wrong_type"
	CountMismatch Kind = "count_mismatch"
	// protocol
	OutOfSequence Kind = "out_of_sequence"
	NotFound      Kind = "not_found"
	Throttled     Kind = "throttled"
	// system
	Unavailable Kind = "unavailable"
)

// Error is the single error type crossing the validator/handler boundary.
// Code selects the rsp_code reported to the caller.
type Error struct {
	Class Class
	Kind  Kind
	Code  Code
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	s := string(e.Class) + "." + string(e.Kind)
	if e.Field != "" {
		s += " " + e.Field
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on class and kind so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Kind == t.Kind
}

// HTTPStatus maps the error to its response status.
func (e *Error) HTTPStatus() int {
	switch e.Class {
	case ClassAuth:
		if e.Kind == Forbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case ClassField:
		return http.StatusBadRequest
	case ClassProtocol:
		switch e.Kind {
		case NotFound:
			return http.StatusNotFound
		case Throttled:
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request later.
func (e *Error) Retryable() bool {
	return e.Class == ClassSystem || (e.Class == ClassProtocol && (e.Kind == NotFound || e.Kind == Throttled))
}

var (
	ErrUnauthorized  = &Error{Class: ClassAuth, Kind: Unauthorized}
	ErrInvalidToken  = &Error{Class: ClassAuth, Kind: InvalidToken}
	ErrForbidden     = &Error{Class: ClassAuth, Kind: Forbidden}
	ErrMissing       = &Error{Class: ClassField, Kind: Missing}
	ErrTooLong       = &Error{Class: ClassField, Kind: TooLong}
	ErrWrongType     = &Error{Class: ClassField, Kind: WrongType}
	ErrCountMismatch = &Error{Class: ClassField, Kind: CountMismatch}
	ErrOutOfSequence = &Error{Class: ClassProtocol, Kind: OutOfSequence}
	ErrNotFound      = &Error{Class: ClassProtocol, Kind: NotFound}
	ErrThrottled     = &Error{Class: ClassProtocol, Kind: Throttled}
	ErrUnavailable   = &Error{Class: ClassSystem, Kind: Unavailable}
)

func Auth(kind Kind, msg string) *Error {
	code := CodeUnauthorized
	switch kind {
	case InvalidToken:
		code = CodeInvalidToken
	case Forbidden:
		code = CodeForbidden
	}
	return &Error{Class: ClassAuth, Kind: kind, Code: code, Msg: msg}
}

func Field(kind Kind, field string, code Code) *Error {
	if code == "" {
		code = CodeInvalidParameters
	}
	return &Error{Class: ClassField, Kind: kind, Code: code, Field: field}
}

func Protocol(kind Kind, code Code, format string, args ...any) *Error {
	if code == "" {
		switch kind {
		case NotFound:
			code = CodeNoCertificateFound
		case Throttled:
			code = CodeTooManyRequests
		default:
			code = CodeOutOfSequence
		}
	}
	return &Error{Class: ClassProtocol, Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func System(err error, msg string) *Error {
	return &Error{Class: ClassSystem, Kind: Unavailable, Code: CodeSystemUnavailable, Msg: msg, Err: err}
}

// From extracts the taxonomy error from err. Anything outside the taxonomy
// is reported as an unavailable system error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return System(err, "internal error")
}
