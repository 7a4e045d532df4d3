package store

import "errors"

var (
	// ErrUnrecognizedFormat is returned when no loader recognizes a payload.
	ErrUnrecognizedFormat = errors.New("unrecognized session format")

	// ErrUnsupportedVersion is returned for an RFRS container written by a
	// newer version.
	ErrUnsupportedVersion = errors.New("unsupported container version")

	// ErrCorrupt is returned when a recognized payload fails to decode.
	ErrCorrupt = errors.New("corrupt session data")
)
