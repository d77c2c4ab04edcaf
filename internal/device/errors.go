package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrSendFailed) {
//	    // transient, retried next cycle
//	}
var (
	// ErrInvalidDevice is returned when a device configuration is unusable.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when two devices share an ID.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrSendFailed is returned when pushing a frame to the controller fails.
	ErrSendFailed = errors.New("device: send failed")

	// ErrStopped is returned by Send after Stop has been called.
	ErrStopped = errors.New("device: stopped")

	// ErrConnectionFailed is returned when a driver cannot reach its controller.
	ErrConnectionFailed = errors.New("device: connection failed")

	// ErrReconnectBackoff is returned while a driver waits out its reconnect interval.
	ErrReconnectBackoff = errors.New("device: waiting to reconnect")

	// ErrDriverClosed is returned when sending through a closed driver.
	ErrDriverClosed = errors.New("device: driver closed")
)
