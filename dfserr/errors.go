// Package dfserr defines the typed error kinds shared by every component of
// the DFS: the Coordinator, the Storage Worker, and the Client. Replies that
// travel over net/rpc carry these as plain string/kind fields rather than as
// Go error values (gob can't carry an interface), but callers that want to
// branch on failure rebuild an *Error from the reply's Kind and Message
// fields and inspect its Kind.
package dfserr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by rising severity, per the error handling design.
type Kind string

const (
	KindTransport            Kind = "transport"
	KindNotFound             Kind = "not_found"
	KindInsufficientCapacity Kind = "insufficient_capacity"
	KindIntegrity            Kind = "integrity"
	KindInternal             Kind = "internal"
)

// Error is the structured error value used internally; RPC replies flatten
// it to a Status/Message/Kind triple (see models.Status).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return new(KindNotFound, format, args...)
}

func InsufficientCapacity(format string, args ...interface{}) *Error {
	return new(KindInsufficientCapacity, format, args...)
}

func Transport(cause error, format string, args ...interface{}) *Error {
	e := new(KindTransport, format, args...)
	e.Cause = cause
	return e
}

func Integrity(format string, args ...interface{}) *Error {
	return new(KindIntegrity, format, args...)
}

func Internal(cause error, format string, args ...interface{}) *Error {
	e := new(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// As attempts to recover a *Error from a generic error chain.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
