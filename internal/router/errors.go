package router

import "errors"

// Domain errors for the router package.
var (
	// ErrInvalidAddress is returned when net, subnet or universe is out of range.
	ErrInvalidAddress = errors.New("router: invalid universe address")

	// ErrUnknownDevice is returned when a fragment references an unconfigured device.
	ErrUnknownDevice = errors.New("router: fragment references unknown device")

	// ErrFragmentBounds is returned when a fragment overruns its universe or device buffer.
	ErrFragmentBounds = errors.New("router: fragment out of bounds")

	// ErrNoDevices is returned when the router is built without devices.
	ErrNoDevices = errors.New("router: no devices configured")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("router: already running")

	// ErrDriverPanic is returned when a device driver panics during a send.
	ErrDriverPanic = errors.New("router: driver panic")

	// ErrReporterPanic is returned when a status pass panics.
	ErrReporterPanic = errors.New("router: status reporter panic")
)
