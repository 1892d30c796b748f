// Package errs defines the error kinds shared by the routing, cost and migration services.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindNotFound           Kind = "not_found"
	KindPersistence        Kind = "persistence"
	KindInvalid            Kind = "invalid"
	KindConflict           Kind = "conflict"
)

// Error carries a Kind and the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so errors.Is(err, errs.NotFound("", "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Configuration(op, format string, args ...any) *Error {
	return newError(KindConfiguration, op, fmt.Sprintf(format, args...), nil)
}

func BackendUnavailable(op string, err error) *Error {
	return newError(KindBackendUnavailable, op, "", err)
}

func BackendUnavailablef(op, format string, args ...any) *Error {
	return newError(KindBackendUnavailable, op, fmt.Sprintf(format, args...), nil)
}

func NotFound(op, format string, args ...any) *Error {
	return newError(KindNotFound, op, fmt.Sprintf(format, args...), nil)
}

func Persistence(op string, err error) *Error {
	return newError(KindPersistence, op, "", err)
}

func Invalid(op, format string, args ...any) *Error {
	return newError(KindInvalid, op, fmt.Sprintf(format, args...), nil)
}

// Conflict reports a write that lost against a concurrent change to the same record.
func Conflict(op, format string, args ...any) *Error {
	return newError(KindConflict, op, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsConfiguration(err error) bool      { return KindOf(err) == KindConfiguration }
func IsBackendUnavailable(err error) bool { return KindOf(err) == KindBackendUnavailable }
func IsNotFound(err error) bool           { return KindOf(err) == KindNotFound }
func IsPersistence(err error) bool        { return KindOf(err) == KindPersistence }
func IsInvalid(err error) bool            { return KindOf(err) == KindInvalid }
func IsConflict(err error) bool           { return KindOf(err) == KindConflict }

// Retryable reports whether a backend call that failed with err may succeed on another attempt.
func Retryable(err error) bool {
	return IsBackendUnavailable(err)
}
