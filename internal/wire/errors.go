package wire

import "errors"

// Protocol-level decode errors, recoverable only by dropping the connection
// at the session boundary (spec.md §4.1, §7).
var (
	ErrUnknownTag                 = errors.New("unknown message tag")
	ErrInvalidDescribeKind        = errors.New("invalid describe kind")
	ErrInvalidCloseKind           = errors.New("invalid close kind")
	ErrInvalidBindParameterFormat = errors.New("invalid bind parameter format")
	ErrInvalidUTF8                = errors.New("invalid utf-8")
	ErrUnexpectedEOF              = errors.New("unexpected eof")
)
