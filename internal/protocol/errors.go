package protocol

import (
	"errors"
	"fmt"
)

// ErrUnsupportedVersion is returned when the console speaks a protocol major
// version this decoder does not understand.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

// TransportError wraps a connect, read or write failure on the socket. The
// decoder stops; reconnecting is up to the caller.
type TransportError struct {
	Op   string // "dial", "read", "write"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a malformed message. The decoder logs it, skips the
// message and keeps the connection open.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
