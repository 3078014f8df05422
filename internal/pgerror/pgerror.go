// Package pgerror models the error taxonomy described in spec.md §7:
// Protocol, Auth, Transport, Resolve and Transform classes, plus helpers to
// build wire-level ErrorResponse bodies.
package pgerror

import (
	"errors"
	"fmt"

	"github.com/anonproxy/pganonproxy/internal/wire"
)

// Class identifies which of the five error families an error belongs to.
type Class string

const (
	ClassProtocol  Class = "protocol"
	ClassAuth      Class = "auth"
	ClassTransport Class = "transport"
	ClassResolve   Class = "resolve"
	ClassTransform Class = "transform"
)

// Error wraps an underlying cause with its taxonomy class.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newErr(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// Auth errors.
var (
	ErrIncorrectPassword    = errors.New("incorrect password")
	ErrMissingUserParameter = errors.New("missing user parameter in startup message")
	ErrFrontendRequestedTLS = errors.New("client requested TLS but none is configured")
)

func MissingPasswordInConfig(user string) error {
	return newErr(ClassAuth, "no password configured for user %q", user)
}

func IncorrectPassword() error { return &Error{Class: ClassAuth, Err: ErrIncorrectPassword} }

// Resolve errors.
var (
	ErrUpstreamClosed     = errors.New("upstream closed the connection")
	ErrUpstreamAuthFailed = errors.New("upstream authentication failed")
)

func ResolveIO(err error) error { return &Error{Class: ClassResolve, Err: err} }

// Transform errors.
func UnsupportedType(dtype string) error {
	return newErr(ClassTransform, "unsupported column type %q", dtype)
}

func UnsupportedProjection(reason string) error {
	return newErr(ClassTransform, "cannot trace projection origin: %s", reason)
}

func DowncastFailed(want, got string) error {
	return newErr(ClassTransform, "expected column kind %s, got %s", want, got)
}

// IsRecoverableTransform reports whether err indicates "cannot parse" or
// "cannot trace origin" (in which case the caller falls back to passthrough
// per spec.md §7), as opposed to an internal failure that must terminate
// the request.
func IsRecoverableTransform(err error) bool {
	return errors.Is(err, errCannotParse) || errors.Is(err, errCannotTrace)
}

var (
	errCannotParse = errors.New("cannot parse sql")
	errCannotTrace = errors.New("cannot trace projection origin")
)

func CannotParse(cause error) error {
	return &Error{Class: ClassTransform, Err: fmt.Errorf("%w: %v", errCannotParse, cause)}
}

func CannotTrace(cause error) error {
	return &Error{Class: ClassTransform, Err: fmt.Errorf("%w: %v", errCannotTrace, cause)}
}

// BuildErrorResponse constructs the wire ErrorResponse fields for severity
// "FATAL"/"ERROR", a SQLSTATE code, and a human message.
func BuildErrorResponse(severity, code, message string) wire.ErrorResponse {
	return wire.ErrorResponse{Fields: map[byte]string{
		'S': severity,
		'C': code,
		'M': message,
	}}
}
