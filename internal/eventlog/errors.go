package eventlog

import "errors"

var (
	// ErrInvalidDevice indicates a non-positive device ID.
	ErrInvalidDevice = errors.New("eventlog: invalid device id")

	// ErrClosed indicates the recorder has been closed.
	ErrClosed = errors.New("eventlog: recorder closed")
)
